package main

import (
	"context"

	"attendease-backend/cmd/attendease-cli/commands"
	"attendease-backend/lib/telemetry"
)

func main() {
	telemetry.SetupFromEnv(context.Background(), "attendease-cli")
	telemetry.InitSlog(true)
	commands.ExecuteContext(context.Background())
}
