package main

import (
	"context"
	"errors"
	"fmt"
	"os"

	"go.opentelemetry.io/otel/exporters/stdout/stdoutlog"
	"go.opentelemetry.io/otel/log/global"
	sdklog "go.opentelemetry.io/otel/sdk/log"
)

// telemetry owns the log pipeline behind every package's otelslog logger.
type telemetry struct {
	provider *sdklog.LoggerProvider
	file     *os.File
}

// setupTelemetry routes logs to logFile. Without a file the global no-op
// provider stays in place and logs are dropped, which keeps the terminal
// free for the demo.
func setupTelemetry(logFile string) (*telemetry, error) {
	if logFile == "" {
		return nil, nil
	}

	file, err := os.OpenFile(logFile, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return nil, fmt.Errorf("failed to open log file: %w", err)
	}

	exporter, err := stdoutlog.New(stdoutlog.WithWriter(file))
	if err != nil {
		_ = file.Close()
		return nil, fmt.Errorf("failed to create log exporter: %w", err)
	}

	provider := sdklog.NewLoggerProvider(
		sdklog.WithProcessor(sdklog.NewBatchProcessor(exporter)),
	)
	global.SetLoggerProvider(provider)

	return &telemetry{provider: provider, file: file}, nil
}

func (t *telemetry) Shutdown(ctx context.Context) error {
	return errors.Join(t.provider.Shutdown(ctx), t.file.Close())
}
