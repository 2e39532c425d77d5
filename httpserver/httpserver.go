/*
Package httpserver exposes the client API of a node over HTTP
*/
package httpserver

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"slices"
	"strconv"
	"strings"
	"time"

	"github.com/Hy3z/paxos/cluster"
	"github.com/Hy3z/paxos/paxos"
	"github.com/Hy3z/paxos/util"
)

// DefaultTimeout bounds a synchronous proposal when the request does not carry a timeout
const DefaultTimeout = 5 * time.Second

type decisionResponse struct {
	Instance uint64      `json:"instance"`
	Value    paxos.Value `json:"value"`
}

type statusResponse struct {
	ID        int  `json:"id"`
	Leader    int  `json:"leader"`
	OnHold    bool `json:"on_hold"`
	Crashed   bool `json:"crashed"`
	Instances int  `json:"instances"`
	Decided   int  `json:"decided"`
}

// Handler routes the endpoints of the client API to node
func Handler(node *cluster.Node) http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /instances/{id}", func(writer http.ResponseWriter, request *http.Request) { handleGet(writer, request, node) })
	mux.HandleFunc("PUT /instances/{id}", func(writer http.ResponseWriter, request *http.Request) { handlePut(writer, request, node) })
	mux.HandleFunc("GET /instances", func(writer http.ResponseWriter, request *http.Request) { listHandler(writer, request, node) })
	mux.HandleFunc("GET /status", func(writer http.ResponseWriter, request *http.Request) { statusHandler(writer, request, node) })
	return mux
}

// StartHTTPServer starts the http server
func StartHTTPServer(address string, node *cluster.Node) *http.Server {
	server := &http.Server{Addr: address, Handler: Handler(node)}
	go serveHTTP(server)
	return server
}

func serveHTTP(server *http.Server) {
	err := server.ListenAndServe()
	if !errors.Is(err, http.ErrServerClosed) {
		util.SlogPanic("Error serving HTTP", slog.String("error", err.Error()))
	}
}

func writeJSON(writer http.ResponseWriter, status int, body any) {
	writer.Header().Set("Content-Type", "application/json")
	writer.WriteHeader(status)
	err := json.NewEncoder(writer).Encode(body)
	if err != nil {
		slog.Error("Error writing HTTP response", slog.String("error", err.Error()))
	}
}

func parseInstance(request *http.Request) (uint64, bool) {
	instance, err := strconv.ParseUint(request.PathValue("id"), 10, 64)
	return instance, err == nil
}

// HTTP GET /instances endpoint, returns every decision learned by the node ordered by instance
func listHandler(writer http.ResponseWriter, request *http.Request, node *cluster.Node) {
	slog.Info("Received HTTP GET /instances", slog.String("url", request.URL.String()))
	decisions := node.Decisions()
	instances := make([]uint64, 0, len(decisions))
	for instance := range decisions {
		instances = append(instances, instance)
	}
	slices.Sort(instances)
	list := make([]decisionResponse, len(instances))
	for i, instance := range instances {
		list[i] = decisionResponse{Instance: instance, Value: decisions[instance]}
	}
	writeJSON(writer, http.StatusOK, list)
}

// HTTP GET /instances/{id} endpoint, returns the value decided in an instance, 404 while it is undecided
func handleGet(writer http.ResponseWriter, request *http.Request, node *cluster.Node) {
	slog.Info("Received HTTP GET", slog.String("url", request.URL.String()))
	instance, ok := parseInstance(request)
	if !ok {
		writer.WriteHeader(http.StatusBadRequest)
		return
	}
	value, decided := node.Decision(instance)
	if !decided {
		writer.WriteHeader(http.StatusNotFound)
		return
	}
	writeJSON(writer, http.StatusOK, decisionResponse{Instance: instance, Value: value})
}

// HTTP PUT /instances/{id} endpoint, proposes the integer in the body of the request
// Available Parameters:
// async - if supplied, this endpoint will reply 202 immediately and the decision can be read later
// timeout - how long to wait for the decision (Go duration, 5s by default), 504 when it elapses
func handlePut(writer http.ResponseWriter, request *http.Request, node *cluster.Node) {
	slog.Info("Received HTTP PUT", slog.String("url", request.URL.String()))
	instance, ok := parseInstance(request)
	if !ok {
		writer.WriteHeader(http.StatusBadRequest)
		return
	}
	body, err := io.ReadAll(request.Body)
	if err != nil {
		writer.WriteHeader(http.StatusBadRequest)
		return
	}
	parsed, err := strconv.ParseInt(strings.TrimSpace(string(body)), 10, 64)
	if err != nil {
		writer.WriteHeader(http.StatusBadRequest)
		return
	}
	value := paxos.Value(parsed)
	query := request.URL.Query()
	if query.Has("async") {
		node.Submit(instance, value)
		writer.WriteHeader(http.StatusAccepted)
		return
	}
	timeout := DefaultTimeout
	if timeoutStr := query.Get("timeout"); timeoutStr != "" {
		timeout, err = time.ParseDuration(timeoutStr)
		if err != nil || timeout <= 0 {
			writer.WriteHeader(http.StatusBadRequest)
			return
		}
	}
	ctx, cancel := context.WithTimeout(request.Context(), timeout)
	defer cancel()
	decided, err := node.Propose(ctx, instance, value)
	if err != nil {
		slog.Warn("Proposal not decided in time", slog.Uint64("instance", instance), slog.String("error", err.Error()))
		writer.WriteHeader(http.StatusGatewayTimeout)
		return
	}
	writeJSON(writer, http.StatusOK, decisionResponse{Instance: instance, Value: decided})
}

// HTTP GET /status endpoint, returns the state of the local process and the leader the node follows
func statusHandler(writer http.ResponseWriter, request *http.Request, node *cluster.Node) {
	status, err := node.Status(request.Context())
	if err != nil {
		writer.WriteHeader(http.StatusServiceUnavailable)
		return
	}
	writeJSON(writer, http.StatusOK, statusResponse{
		ID:        status.ID,
		Leader:    status.Leader,
		OnHold:    status.OnHold,
		Crashed:   status.Crashed,
		Instances: status.Instances,
		Decided:   status.Decided,
	})
}
