package lobby

import (
	"context"
	"sync"

	"github.com/mcdev12/tablematch/go/internal/models"
)

// Repository persists lobbies. UpdateLobby runs fn while holding the lobby's write
// lock, so read-modify-write sequences on one lobby never interleave. If fn returns
// an error nothing is written.
type Repository interface {
	CreateLobby(ctx context.Context, l *models.Lobby) error
	GetLobby(ctx context.Context, id string) (*models.Lobby, error)
	UpdateLobby(ctx context.Context, id string, fn func(*models.Lobby) error) (*models.Lobby, error)
	DeleteLobby(ctx context.Context, id string) error
	ListLobbiesBySession(ctx context.Context, sessionID string) ([]string, error)
}

type memoryEntry struct {
	mu    sync.Mutex
	lobby *models.Lobby
}

// MemoryRepository keeps lobbies in process memory with one lock per lobby.
type MemoryRepository struct {
	mu      sync.RWMutex
	lobbies map[string]*memoryEntry
}

// NewMemoryRepository creates an empty MemoryRepository.
func NewMemoryRepository() *MemoryRepository {
	return &MemoryRepository{lobbies: make(map[string]*memoryEntry)}
}

func (r *MemoryRepository) CreateLobby(_ context.Context, l *models.Lobby) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.lobbies[l.ID]; exists {
		return ErrLobbyExists
	}
	r.lobbies[l.ID] = &memoryEntry{lobby: l.Clone()}
	return nil
}

func (r *MemoryRepository) entry(id string) (*memoryEntry, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, ok := r.lobbies[id]
	return e, ok
}

func (r *MemoryRepository) GetLobby(_ context.Context, id string) (*models.Lobby, error) {
	e, ok := r.entry(id)
	if !ok {
		return nil, ErrLobbyNotFound
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.lobby == nil {
		return nil, ErrLobbyNotFound
	}
	return e.lobby.Clone(), nil
}

func (r *MemoryRepository) UpdateLobby(_ context.Context, id string, fn func(*models.Lobby) error) (*models.Lobby, error) {
	e, ok := r.entry(id)
	if !ok {
		return nil, ErrLobbyNotFound
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	// deleted while we waited for the lock
	if e.lobby == nil {
		return nil, ErrLobbyNotFound
	}
	working := e.lobby.Clone()
	if err := fn(working); err != nil {
		return nil, err
	}
	e.lobby = working
	return working.Clone(), nil
}

func (r *MemoryRepository) DeleteLobby(_ context.Context, id string) error {
	r.mu.Lock()
	e, ok := r.lobbies[id]
	if !ok {
		r.mu.Unlock()
		return ErrLobbyNotFound
	}
	delete(r.lobbies, id)
	r.mu.Unlock()

	e.mu.Lock()
	e.lobby = nil
	e.mu.Unlock()
	return nil
}

func (r *MemoryRepository) ListLobbiesBySession(_ context.Context, sessionID string) ([]string, error) {
	r.mu.RLock()
	entries := make([]*memoryEntry, 0, len(r.lobbies))
	for _, e := range r.lobbies {
		entries = append(entries, e)
	}
	r.mu.RUnlock()

	var ids []string
	for _, e := range entries {
		e.mu.Lock()
		if e.lobby != nil && e.lobby.IsMember(sessionID) {
			ids = append(ids, e.lobby.ID)
		}
		e.mu.Unlock()
	}
	return ids, nil
}
