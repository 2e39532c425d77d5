package simulation

import (
	"context"
	"encoding/csv"
	"fmt"
	"io"
	"log/slog"
	"strconv"
	"time"
)

// Grid lists the values each swept parameter takes, every combination is run
type Grid struct {
	ProcessCounts  []int
	CrashProbs     []float64
	LeaderTimeouts []time.Duration
}

// Row aggregates the runs of one grid point
type Row struct {
	N             int
	F             int
	Alpha         float64
	LeaderTimeout time.Duration
	Runs          int
	Completed     int
	MeanLatency   time.Duration
}

// Sweep runs every grid point `runs` times, parameters missing from the grid are taken from base.
// F is lowered to the largest minority when base.F is too large for a given N
func Sweep(ctx context.Context, base Params, grid Grid, runs int) ([]Row, error) {
	if runs < 1 {
		return nil, fmt.Errorf("%w: at least one run per point is needed", ErrInvalidParams)
	}
	counts := grid.ProcessCounts
	if len(counts) == 0 {
		counts = []int{base.N}
	}
	alphas := grid.CrashProbs
	if len(alphas) == 0 {
		alphas = []float64{base.Alpha}
	}
	timeouts := grid.LeaderTimeouts
	if len(timeouts) == 0 {
		timeouts = []time.Duration{base.Timeout}
	}
	var rows []Row
	for _, n := range counts {
		for _, alpha := range alphas {
			for _, timeout := range timeouts {
				params := base
				params.N = n
				params.F = min(base.F, maxFaulty(n))
				params.Alpha = alpha
				params.Timeout = timeout
				row, err := sweepPoint(ctx, params, runs)
				if err != nil {
					return rows, err
				}
				slog.Info("Sweep point done", slog.Int("N", row.N), slog.Float64("alpha", row.Alpha), slog.Duration("tle", row.LeaderTimeout), slog.Duration("latency", row.MeanLatency), slog.Int("completed", row.Completed))
				rows = append(rows, row)
			}
		}
	}
	return rows, nil
}

func sweepPoint(ctx context.Context, params Params, runs int) (Row, error) {
	row := Row{N: params.N, F: params.F, Alpha: params.Alpha, LeaderTimeout: params.Timeout, Runs: runs}
	var total time.Duration
	baseSeed := params.Seed
	for run := 0; run < runs; run++ {
		if baseSeed != 0 {
			params.Seed = baseSeed + int64(run)*int64(params.N+1)
		}
		result, err := Run(ctx, params)
		if err != nil {
			return row, fmt.Errorf("run %d of N=%d alpha=%g tle=%s: %w", run, params.N, params.Alpha, params.Timeout, err)
		}
		if result.Completed {
			row.Completed++
			total += result.MeanLatency()
		}
	}
	if row.Completed > 0 {
		row.MeanLatency = total / time.Duration(row.Completed)
	}
	return row, nil
}

// WriteCSV writes the rows with a header, durations in milliseconds
func WriteCSV(w io.Writer, rows []Row) error {
	writer := csv.NewWriter(w)
	if err := writer.Write([]string{"n", "f", "alpha", "tle_ms", "runs", "completed", "mean_latency_ms"}); err != nil {
		return err
	}
	for _, row := range rows {
		record := []string{
			strconv.Itoa(row.N),
			strconv.Itoa(row.F),
			strconv.FormatFloat(row.Alpha, 'g', -1, 64),
			strconv.FormatInt(row.LeaderTimeout.Milliseconds(), 10),
			strconv.Itoa(row.Runs),
			strconv.Itoa(row.Completed),
			strconv.FormatFloat(float64(row.MeanLatency.Microseconds())/1000, 'f', 3, 64),
		}
		if err := writer.Write(record); err != nil {
			return err
		}
	}
	writer.Flush()
	return writer.Error()
}
