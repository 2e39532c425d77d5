/*
Package util contains utility functions for other packages
*/
package util

import (
	"log/slog"
	"strings"
)

func SlogPanic(s string, args ...any) {
	slog.Error(s, args...)
	panic(s)
}

// SplitList splits a comma separated flag value, ignoring blanks
func SplitList(s string) []string {
	var items []string
	for _, item := range strings.Split(s, ",") {
		item = strings.TrimSpace(item)
		if item != "" {
			items = append(items, item)
		}
	}
	return items
}
