//go:build linux

package main

import (
	"log/slog"

	"github.com/tapline/tapline/internal/tap"
)

func newDeviceSource(path string, logger *slog.Logger) (tap.Source, error) {
	return tap.NewRunLoopSource(func() tap.EventReader {
		return tap.NewEvdevReader(path)
	}, tap.WithLogger(logger)), nil
}
