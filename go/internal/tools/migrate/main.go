package main

import (
	"os"

	"github.com/joho/godotenv"
	"github.com/mcdev12/tablematch/go/internal/db/migrations"
	"github.com/mcdev12/tablematch/go/internal/dbconfig"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

func main() {
	if err := godotenv.Load(); err != nil {
		log.Warn().Err(err).Msg("could not load .env file")
	}
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})

	cfg := dbconfig.NewConfigFromEnv()
	if err := migrations.Up(cfg.DSN()); err != nil {
		log.Fatal().Err(err).Str("database", cfg.Database).Msg("migration failed")
	}
}
