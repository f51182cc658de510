package main

import (
	"context"
	"log/slog"

	"attendease-backend/lib/serviceutil"
	"attendease-backend/lib/telemetry"
)

func InitTelemetry(ctx context.Context, verbose bool) {
	telemetry.InitSlog(verbose)

	if verbose {
		slog.DebugContext(ctx, "verbose logging enabled")
	}

	tel, err := telemetry.SetupFromEnv(ctx, "attendease-server")
	if err != nil {
		serviceutil.Fatal("setup telemetry", err)
	}
	go func() {
		<-ctx.Done()
		if err := tel.Shutdown(context.Background()); err != nil {
			slog.Error("telemetry shutdown", "err", err)
		}
	}()
	telemetry.InstrumentPerfStats(ctx)
}
