//go:build !linux

package main

import (
	"fmt"
	"log/slog"
	"runtime"

	"github.com/tapline/tapline/internal/tap"
)

func newDeviceSource(path string, logger *slog.Logger) (tap.Source, error) {
	return nil, fmt.Errorf("device capture is not supported on %s", runtime.GOOS)
}
