package main

import (
	"os"

	"github.com/bnema/tether/internal/cli"
	"github.com/bnema/tether/internal/logging"
)

func main() {
	if err := cli.Execute(); err != nil {
		log := logging.NewFromEnv()
		log.Error().Err(err).Msg("command failed")
		os.Exit(1)
	}
}
