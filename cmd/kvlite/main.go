package main

import (
	"github.com/rs/zerolog/log"

	"github.com/dokzlo13/kvlite/internal/cli"
)

func main() {
	if err := cli.Execute(); err != nil {
		log.Fatal().Err(err).Msg("kvlite failed")
	}
}
