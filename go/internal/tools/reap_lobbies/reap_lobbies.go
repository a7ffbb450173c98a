package main

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/joho/godotenv"
	"github.com/mcdev12/tablematch/go/internal/dbconfig"
	"github.com/mcdev12/tablematch/go/internal/lobby/gate"
)

// expiredLobbies matches closed lobbies whose anchor is missing or older than the cutoff.
const expiredLobbies = `
	DELETE FROM lobbies
	WHERE joinable = FALSE
	  AND (anchor_timestamp IS NULL OR anchor_timestamp < $1)`

func main() {
	_ = godotenv.Load()

	maxAge := gate.DefaultMaxLobbyAge
	if raw := os.Getenv("LOBBY_MAX_AGE"); raw != "" {
		d, err := time.ParseDuration(raw)
		if err != nil {
			fmt.Fprintf(os.Stderr, "invalid LOBBY_MAX_AGE: %v\n", err)
			os.Exit(1)
		}
		maxAge = d
	}

	// 1) Connect using shared dbconfig
	cfg := dbconfig.NewConfigFromEnv()
	ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
	defer cancel()

	poolCfg, err := cfg.PoolConfig()
	if err != nil {
		fmt.Fprintf(os.Stderr, "%v\n", err)
		os.Exit(1)
	}
	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to connect: %v\n", err)
		os.Exit(1)
	}
	defer pool.Close()

	// 2) Delete and report
	cutoff := time.Now().UTC().Add(-maxAge)
	cmdTag, err := pool.Exec(ctx, expiredLobbies, cutoff)
	if err != nil {
		fmt.Fprintf(os.Stderr, "delete expired lobbies: %v\n", err)
		os.Exit(1)
	}

	fmt.Printf("Reaped %d lobbies closed before %s\n", cmdTag.RowsAffected(), cutoff.Format(time.RFC3339))
}
