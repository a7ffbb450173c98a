package lobby

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/lib/pq"
	"github.com/mcdev12/tablematch/go/internal/models"
	"github.com/mcdev12/tablematch/go/internal/sqlutil"
	"github.com/sqlc-dev/pqtype"
)

const uniqueViolation = "23505"

type dbtx interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// queries binds the lobby statements to a connection or a transaction.
type queries struct {
	db dbtx
}

func newQueries(tx *sql.Tx) *queries {
	return &queries{db: tx}
}

const lobbyColumns = `id, phase, host_session, joinable, anchor_timestamp, preferences,
	categories, members, candidates, votes, created_at, updated_at`

// lobbyRow mirrors the lobbies table.
type lobbyRow struct {
	ID              string
	Phase           string
	HostSession     string
	Joinable        bool
	AnchorTimestamp sql.NullTime
	Preferences     json.RawMessage
	Categories      json.RawMessage
	Members         json.RawMessage
	Candidates      pqtype.NullRawMessage
	Votes           pqtype.NullRawMessage
	CreatedAt       time.Time
	UpdatedAt       time.Time
}

func scanLobby(row interface{ Scan(...any) error }) (*lobbyRow, error) {
	var r lobbyRow
	err := row.Scan(
		&r.ID, &r.Phase, &r.HostSession, &r.Joinable, &r.AnchorTimestamp, &r.Preferences,
		&r.Categories, &r.Members, &r.Candidates, &r.Votes, &r.CreatedAt, &r.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return &r, nil
}

func (q *queries) getLobby(ctx context.Context, id string, forUpdate bool) (*lobbyRow, error) {
	query := `SELECT ` + lobbyColumns + ` FROM lobbies WHERE id = $1`
	if forUpdate {
		query += ` FOR UPDATE`
	}
	r, err := scanLobby(q.db.QueryRowContext(ctx, query, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrLobbyNotFound
	}
	return r, err
}

func (q *queries) insertLobby(ctx context.Context, r *lobbyRow) error {
	_, err := q.db.ExecContext(ctx, `INSERT INTO lobbies (`+lobbyColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)`,
		r.ID, r.Phase, r.HostSession, r.Joinable, r.AnchorTimestamp, r.Preferences,
		r.Categories, r.Members, r.Candidates, r.Votes, r.CreatedAt, r.UpdatedAt,
	)
	var pqErr *pq.Error
	if errors.As(err, &pqErr) && pqErr.Code == uniqueViolation {
		return ErrLobbyExists
	}
	return err
}

func (q *queries) updateLobby(ctx context.Context, r *lobbyRow) error {
	_, err := q.db.ExecContext(ctx, `UPDATE lobbies SET
		phase = $2, host_session = $3, joinable = $4, anchor_timestamp = $5, preferences = $6,
		categories = $7, members = $8, candidates = $9, votes = $10, updated_at = $11
		WHERE id = $1`,
		r.ID, r.Phase, r.HostSession, r.Joinable, r.AnchorTimestamp, r.Preferences,
		r.Categories, r.Members, r.Candidates, r.Votes, r.UpdatedAt,
	)
	return err
}

// PostgresRepository stores lobbies in Postgres. Updates lock the row with
// SELECT ... FOR UPDATE for the duration of the closure.
type PostgresRepository struct {
	db *sql.DB
}

// NewPostgresRepository creates a new lobby repository
func NewPostgresRepository(db *sql.DB) *PostgresRepository {
	return &PostgresRepository{db: db}
}

func (r *PostgresRepository) CreateLobby(ctx context.Context, l *models.Lobby) error {
	row, err := toRow(l)
	if err != nil {
		return err
	}
	q := &queries{db: r.db}
	if err := q.insertLobby(ctx, row); err != nil {
		if errors.Is(err, ErrLobbyExists) {
			return err
		}
		return fmt.Errorf("failed to insert lobby: %w", err)
	}
	return nil
}

func (r *PostgresRepository) GetLobby(ctx context.Context, id string) (*models.Lobby, error) {
	q := &queries{db: r.db}
	row, err := q.getLobby(ctx, id, false)
	if err != nil {
		return nil, err
	}
	return fromRow(row)
}

func (r *PostgresRepository) UpdateLobby(ctx context.Context, id string, fn func(*models.Lobby) error) (*models.Lobby, error) {
	var updated *models.Lobby
	err := sqlutil.Run(ctx, r.db, newQueries, func(q *queries) error {
		row, err := q.getLobby(ctx, id, true)
		if err != nil {
			return err
		}
		l, err := fromRow(row)
		if err != nil {
			return err
		}
		if err := fn(l); err != nil {
			return err
		}
		next, err := toRow(l)
		if err != nil {
			return err
		}
		if err := q.updateLobby(ctx, next); err != nil {
			return fmt.Errorf("failed to update lobby: %w", err)
		}
		updated = l
		return nil
	})
	if err != nil {
		return nil, err
	}
	return updated, nil
}

func (r *PostgresRepository) DeleteLobby(ctx context.Context, id string) error {
	res, err := r.db.ExecContext(ctx, `DELETE FROM lobbies WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("failed to delete lobby: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to delete lobby: %w", err)
	}
	if n == 0 {
		return ErrLobbyNotFound
	}
	return nil
}

func (r *PostgresRepository) ListLobbiesBySession(ctx context.Context, sessionID string) ([]string, error) {
	filter, err := json.Marshal([]map[string]string{{"session_id": sessionID}})
	if err != nil {
		return nil, err
	}
	rows, err := r.db.QueryContext(ctx, `SELECT id FROM lobbies WHERE members @> $1::jsonb ORDER BY id`, string(filter))
	if err != nil {
		return nil, fmt.Errorf("failed to list lobbies: %w", err)
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

func toRow(l *models.Lobby) (*lobbyRow, error) {
	prefs, err := json.Marshal(l.Preferences)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal preferences: %w", err)
	}
	categories := l.Categories
	if categories == nil {
		categories = []models.Category{}
	}
	cats, err := json.Marshal(categories)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal categories: %w", err)
	}
	members := l.Members
	if members == nil {
		members = []models.Member{}
	}
	mems, err := json.Marshal(members)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal members: %w", err)
	}
	candidates, err := sqlutil.ToNullJSON(l.Candidates)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal candidates: %w", err)
	}
	votes, err := sqlutil.ToNullJSON(l.Votes)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal votes: %w", err)
	}
	return &lobbyRow{
		ID:              l.ID,
		Phase:           string(l.Phase),
		HostSession:     l.HostSession,
		Joinable:        l.Joinable,
		AnchorTimestamp: sqlutil.ToSqlTime(l.AnchorTimestamp),
		Preferences:     prefs,
		Categories:      cats,
		Members:         mems,
		Candidates:      candidates,
		Votes:           votes,
		CreatedAt:       l.CreatedAt,
		UpdatedAt:       l.UpdatedAt,
	}, nil
}

func fromRow(r *lobbyRow) (*models.Lobby, error) {
	phase, ok := models.ParsePhase(r.Phase)
	if !ok {
		return nil, fmt.Errorf("lobby %s has unknown phase %q", r.ID, r.Phase)
	}
	l := &models.Lobby{
		ID:              r.ID,
		Phase:           phase,
		HostSession:     r.HostSession,
		Joinable:        r.Joinable,
		AnchorTimestamp: sqlutil.FromSqlTime(r.AnchorTimestamp),
		CreatedAt:       r.CreatedAt.UTC(),
		UpdatedAt:       r.UpdatedAt.UTC(),
	}
	if err := json.Unmarshal(r.Preferences, &l.Preferences); err != nil {
		return nil, fmt.Errorf("failed to decode preferences: %w", err)
	}
	if err := json.Unmarshal(r.Categories, &l.Categories); err != nil {
		return nil, fmt.Errorf("failed to decode categories: %w", err)
	}
	if err := json.Unmarshal(r.Members, &l.Members); err != nil {
		return nil, fmt.Errorf("failed to decode members: %w", err)
	}
	var err error
	if l.Candidates, err = sqlutil.FromNullJSON[models.Venue](r.Candidates); err != nil {
		return nil, fmt.Errorf("failed to decode candidates: %w", err)
	}
	if l.Votes, err = sqlutil.FromNullJSON[int](r.Votes); err != nil {
		return nil, fmt.Errorf("failed to decode votes: %w", err)
	}
	return l, nil
}
