// Command lobby runs a headless lobby participant against a tablematch server. It
// creates a lobby when LOBBY_ID is empty and hosts it, otherwise it joins LOBBY_ID.
// It likes every candidate rated at least LIKE_MIN_RATING and exits on results.
package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/mcdev12/tablematch/go/clients/fusion_client"
	"github.com/mcdev12/tablematch/go/internal/categories"
	"github.com/mcdev12/tablematch/go/internal/lobby"
	"github.com/mcdev12/tablematch/go/internal/lobby/orchestrator"
	"github.com/mcdev12/tablematch/go/internal/models"
	"github.com/mcdev12/tablematch/go/internal/notify"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

const pollInterval = 250 * time.Millisecond

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvAsFloat(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		if f, err := strconv.ParseFloat(value, 64); err == nil {
			return f
		}
	}
	return defaultValue
}

func main() {
	if err := godotenv.Load(); err != nil {
		log.Warn().Err(err).Msg("could not load .env file")
	}
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})
	zerolog.SetGlobalLevel(zerolog.InfoLevel)

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	client := lobby.NewClient(http.DefaultClient, getEnv("SERVER_URL", "http://localhost:8080"))

	natsCfg := notify.DefaultNATSConfig()
	natsCfg.URL = getEnv("NATS_URL", natsCfg.URL)
	bus, err := notify.NewNATSBus(ctx, natsCfg)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to connect to nats")
	}
	defer bus.Close()

	index, err := categories.NewDefaultIndex()
	if err != nil {
		log.Fatal().Err(err).Msg("failed to load category catalog")
	}

	var searcher orchestrator.Searcher
	if fc, err := fusion_client.NewClientFromEnv(); err == nil {
		searcher = fc
	} else {
		log.Warn().Err(err).Msg("place search disabled, hosted lobbies will return to setup")
	}

	session, err := client.CreateSession(ctx, getEnv("NICKNAME", "bot"))
	if err != nil {
		log.Fatal().Err(err).Msg("failed to create session")
	}

	lobbyID := os.Getenv("LOBBY_ID")
	hosting := lobbyID == ""
	if hosting {
		l, err := client.CreateLobby(ctx, session.ID)
		if err != nil {
			log.Fatal().Err(err).Msg("failed to create lobby")
		}
		lobbyID = l.ID
	}

	results := make(chan struct{}, 1)
	p, err := orchestrator.New(orchestrator.Config{
		Service:    client,
		Bus:        bus,
		Searcher:   searcher,
		Categories: index,
		Region:     getEnv("REGION", orchestrator.DefaultRegion),
		Navigate: func(path, message string) {
			log.Info().Str("path", path).Str("message", message).Msg("navigated")
			if strings.HasSuffix(path, "/"+string(models.PhaseResults)) {
				select {
				case results <- struct{}{}:
				default:
				}
			}
		},
		OnTick: func(phase models.Phase, remaining int) {
			log.Debug().Str("phase", string(phase)).Int("remaining", remaining).Msg("tick")
		},
	}, lobbyID, session.ID)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to create participant")
	}

	log.Info().Str("lobby_id", lobbyID).Str("session_id", session.ID).Bool("host", hosting).Msg("participant starting")

	go func() {
		if err := p.Run(ctx, models.PhaseSetup); err != nil && !errors.Is(err, context.Canceled) {
			log.Error().Err(err).Msg("participant stopped")
		}
	}()

	if hosting {
		if err := host(ctx, p); err != nil {
			log.Fatal().Err(err).Msg("failed to start lobby")
		}
	}

	minRating := getEnvAsFloat("LIKE_MIN_RATING", 4.0)
	ticker := time.NewTicker(pollInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-p.Done():
			return
		case <-results:
			printResults(ctx, client, lobbyID)
			return
		case <-ticker.C:
			swipeNext(ctx, p, minRating)
		}
	}
}

func host(ctx context.Context, p *orchestrator.Participant) error {
	prefs := models.DefaultPreferences()
	prefs.Coordinates = models.Coordinates{
		Latitude:  getEnvAsFloat("LATITUDE", 40.7128),
		Longitude: getEnvAsFloat("LONGITUDE", -74.0060),
	}
	if err := p.UpdatePreferences(ctx, prefs); err != nil {
		return err
	}
	for _, name := range strings.Split(os.Getenv("CATEGORIES"), ",") {
		if name = strings.TrimSpace(name); name == "" {
			continue
		}
		if err := p.AddCategory(ctx, name); err != nil {
			log.Warn().Err(err).Str("category", name).Msg("category rejected")
		}
	}
	return p.StartLobby(ctx)
}

func swipeNext(ctx context.Context, p *orchestrator.Participant, minRating float64) {
	v := p.View()
	if v.Page != models.PhaseSwiping || v.Lobby == nil {
		return
	}
	idx := v.Swipe.SwipeIndex
	if idx < 0 || idx >= len(v.Lobby.Candidates) {
		return
	}
	like := decide(v.Lobby.Candidates[idx], minRating)
	err := p.Swipe(ctx, like)
	switch {
	case err == nil:
		log.Info().Str("venue", v.Lobby.Candidates[idx].Name).Bool("like", like).Msg("swiped")
	case errors.Is(err, orchestrator.ErrSwipingDone), errors.Is(err, orchestrator.ErrNotSwiping):
	default:
		log.Warn().Err(err).Msg("swipe failed")
	}
}

func decide(v models.Venue, minRating float64) bool {
	return v.Rating >= minRating
}

func printResults(ctx context.Context, client *lobby.Client, lobbyID string) {
	ranked, err := client.RankedCandidates(ctx, lobbyID)
	if err != nil {
		log.Error().Err(err).Msg("failed to load results")
		return
	}
	for i, r := range ranked {
		log.Info().Int("rank", i+1).Str("venue", r.Venue.Name).Int("votes", r.Votes).Msg("result")
	}
}
