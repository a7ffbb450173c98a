package main

import (
	"database/sql"
	"fmt"

	_ "github.com/lib/pq"
	"github.com/mcdev12/tablematch/go/internal/db/migrations"
	"github.com/mcdev12/tablematch/go/internal/dbconfig"
	"github.com/rs/zerolog/log"
)

func setupDatabase(migrate bool) (*sql.DB, error) {
	dbConfig := dbconfig.NewConfigFromEnv()

	if migrate {
		if err := migrations.Up(dbConfig.DSN()); err != nil {
			return nil, err
		}
	}

	database, err := sql.Open("postgres", dbConfig.DSN())
	if err != nil {
		return nil, fmt.Errorf("failed to create database connection: %w", err)
	}
	dbConfig.Apply(database)

	if err := database.Ping(); err != nil {
		database.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	log.Info().
		Str("user", dbConfig.User).
		Str("host", dbConfig.Host).
		Int("port", dbConfig.Port).
		Str("database", dbConfig.Database).
		Msg("connected to database")
	return database, nil
}
