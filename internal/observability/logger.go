package observability

import "log/slog"

// LogSourceToggle logs an event source enable/disable transition.
func LogSourceToggle(logger *slog.Logger, enabled bool, prerequisites string) {
	if logger == nil {
		return
	}
	logger.Info("event source toggled",
		slog.Bool("enabled", enabled),
		slog.String("prerequisites", prerequisites),
	)
}

// LogRestart logs a tap self-heal restart.
func LogRestart(logger *slog.Logger, reason string) {
	if logger == nil {
		return
	}
	logger.Warn("restarting event source",
		slog.String("reason", reason),
	)
}

// LogReceiverPanic logs a recovered receiver panic.
func LogReceiverPanic(logger *slog.Logger, recovered any) {
	if logger == nil {
		return
	}
	logger.Error("receiver panicked; treating as pass",
		slog.Any("panic", recovered),
	)
}
