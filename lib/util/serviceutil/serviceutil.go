package serviceutil

import (
	"errors"
	"log/slog"
	"os"
	"solwatch/internal/monitor"
)

const (
	ExitOK = iota
	// ExitFailure is a runtime failure: a storage error or a cycle that did
	// not complete.
	ExitFailure
	// ExitConfig is a configuration error, retrying will not help.
	ExitConfig
)

func Fatal(message string, err error) {
	slog.Error(message, "err", err.Error())
	os.Exit(ExitCode(err))
}

// ExitCode maps err onto the process exit code.
func ExitCode(err error) int {
	if err == nil {
		return ExitOK
	}
	var cfgErr *monitor.ConfigError
	if errors.As(err, &cfgErr) {
		return ExitConfig
	}
	return ExitFailure
}
