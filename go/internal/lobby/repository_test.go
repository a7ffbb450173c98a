package lobby

import (
	"context"
	"database/sql"
	"errors"
	"os"
	"sync"
	"testing"
	"time"

	_ "github.com/lib/pq"
	"github.com/mcdev12/tablematch/go/internal/db/migrations"
	"github.com/mcdev12/tablematch/go/internal/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func sampleLobby(id string) *models.Lobby {
	now := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	return &models.Lobby{
		ID:          id,
		Phase:       models.PhaseSetup,
		HostSession: "host",
		Joinable:    true,
		Preferences: models.DefaultPreferences(),
		Categories:  []models.Category{},
		Members:     []models.Member{{SessionID: "host", Nickname: "kai", JoinedAt: now}},
		CreatedAt:   now,
		UpdatedAt:   now,
	}
}

func runRepositoryContract(t *testing.T, repo Repository, id string) {
	ctx := context.Background()

	_, err := repo.GetLobby(ctx, id)
	require.ErrorIs(t, err, ErrLobbyNotFound)

	require.NoError(t, repo.CreateLobby(ctx, sampleLobby(id)))
	require.ErrorIs(t, repo.CreateLobby(ctx, sampleLobby(id)), ErrLobbyExists)

	got, err := repo.GetLobby(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, models.PhaseSetup, got.Phase)
	assert.Nil(t, got.AnchorTimestamp)
	assert.Nil(t, got.Candidates)
	assert.Equal(t, 10, got.Preferences.NumResults)

	anchor := time.Date(2024, 5, 1, 12, 5, 0, 0, time.UTC)
	updated, err := repo.UpdateLobby(ctx, id, func(l *models.Lobby) error {
		l.Phase = models.PhaseSwiping
		l.AnchorTimestamp = &anchor
		l.Candidates = []models.Venue{{ID: "v1", Name: "Sushi Ko"}, {ID: "v2", Name: "Taqueria"}}
		l.Votes = []int{0, 0}
		l.Categories = append(l.Categories, models.Category{Name: "Sushi", Sessions: []string{"host"}})
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, models.PhaseSwiping, updated.Phase)

	got, err = repo.GetLobby(ctx, id)
	require.NoError(t, err)
	require.NotNil(t, got.AnchorTimestamp)
	assert.True(t, anchor.Equal(*got.AnchorTimestamp))
	assert.Len(t, got.Candidates, 2)
	assert.Equal(t, []int{0, 0}, got.Votes)
	assert.Equal(t, []string{"Sushi"}, got.CategoryNames())

	// a failed closure writes nothing
	boom := errors.New("boom")
	_, err = repo.UpdateLobby(ctx, id, func(l *models.Lobby) error {
		l.Phase = models.PhaseResults
		return boom
	})
	require.ErrorIs(t, err, boom)
	got, err = repo.GetLobby(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, models.PhaseSwiping, got.Phase)

	// concurrent read-modify-write never loses an update
	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := repo.UpdateLobby(ctx, id, func(l *models.Lobby) error {
				l.Votes[0]++
				return nil
			})
			assert.NoError(t, err)
		}()
	}
	wg.Wait()
	got, err = repo.GetLobby(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, 10, got.Votes[0])

	ids, err := repo.ListLobbiesBySession(ctx, "host")
	require.NoError(t, err)
	assert.Contains(t, ids, id)
	ids, err = repo.ListLobbiesBySession(ctx, "nobody")
	require.NoError(t, err)
	assert.NotContains(t, ids, id)

	require.NoError(t, repo.DeleteLobby(ctx, id))
	require.ErrorIs(t, repo.DeleteLobby(ctx, id), ErrLobbyNotFound)
	_, err = repo.UpdateLobby(ctx, id, func(*models.Lobby) error { return nil })
	require.ErrorIs(t, err, ErrLobbyNotFound)
}

func TestMemoryRepository(t *testing.T) {
	runRepositoryContract(t, NewMemoryRepository(), "aB3x")
}

func TestMemoryRepositoryIsolatesCopies(t *testing.T) {
	ctx := context.Background()
	repo := NewMemoryRepository()
	l := sampleLobby("aB3x")
	require.NoError(t, repo.CreateLobby(ctx, l))

	l.Members[0].Nickname = "mutated"
	got, err := repo.GetLobby(ctx, "aB3x")
	require.NoError(t, err)
	assert.Equal(t, "kai", got.Members[0].Nickname)

	got.Members[0].Nickname = "mutated"
	again, err := repo.GetLobby(ctx, "aB3x")
	require.NoError(t, err)
	assert.Equal(t, "kai", again.Members[0].Nickname)
}

func TestPostgresRepository(t *testing.T) {
	dsn := os.Getenv("DATABASE_URL")
	if dsn == "" {
		t.Skip("DATABASE_URL not set")
	}
	require.NoError(t, migrations.Up(dsn))

	db, err := sql.Open("postgres", dsn)
	require.NoError(t, err)
	defer db.Close()

	id := "tst1"
	_, _ = db.Exec(`DELETE FROM lobbies WHERE id = $1`, id)
	runRepositoryContract(t, NewPostgresRepository(db), id)
}
