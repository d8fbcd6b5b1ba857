package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/SanteonNL/fhirloader/cmd"
	"github.com/SanteonNL/fhirloader/lib/faults"
	"github.com/rs/zerolog/log"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	err := cmd.NewRootCommand().ExecuteContext(ctx)
	stop()
	if err != nil {
		log.Error().Err(err).Msg("fhirloader failed")
		os.Exit(faults.ExitCode(err))
	}
}
