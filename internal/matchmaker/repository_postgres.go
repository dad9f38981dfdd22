package matchmaker

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/lib/pq"
)

type pgRepo struct {
	db *sql.DB
}

func NewPostgresRepo(db *sql.DB) Repo {
	return &pgRepo{db: db}
}

const pgSchema = `
CREATE TABLE IF NOT EXISTS mm_queue_entries (
    id           TEXT PRIMARY KEY,
    lobby_id     TEXT NOT NULL,
    owner_id     TEXT NOT NULL DEFAULT '',
    members      JSONB NOT NULL,
    game_type    TEXT NOT NULL DEFAULT '',
    team_size    INTEGER NOT NULL DEFAULT 0,
    platform     TEXT NOT NULL DEFAULT '',
    mode         TEXT NOT NULL DEFAULT '',
    created_at   TIMESTAMPTZ NOT NULL,
    processed    BOOLEAN NOT NULL DEFAULT FALSE,
    processed_at TIMESTAMPTZ
);
CREATE UNIQUE INDEX IF NOT EXISTS mm_queue_entries_lobby_pending
    ON mm_queue_entries (lobby_id) WHERE NOT processed;
CREATE INDEX IF NOT EXISTS mm_queue_entries_fifo
    ON mm_queue_entries (created_at, id) WHERE NOT processed;

CREATE TABLE IF NOT EXISTS mm_matches (
    id         TEXT PRIMARY KEY,
    lobby_a    TEXT NOT NULL,
    lobby_b    TEXT NOT NULL,
    players    JSONB NOT NULL,
    game_type  TEXT NOT NULL,
    team_size  INTEGER NOT NULL,
    platform   TEXT NOT NULL,
    mode       TEXT NOT NULL,
    status     TEXT NOT NULL,
    created_at TIMESTAMPTZ NOT NULL
);

CREATE TABLE IF NOT EXISTS mm_notifications (
    id           TEXT PRIMARY KEY,
    recipient_id TEXT NOT NULL,
    type         TEXT NOT NULL,
    match_id     TEXT NOT NULL DEFAULT '',
    title        TEXT NOT NULL,
    message      TEXT NOT NULL,
    read         BOOLEAN NOT NULL DEFAULT FALSE,
    created_at   TIMESTAMPTZ NOT NULL
);
CREATE INDEX IF NOT EXISTS mm_notifications_inbox
    ON mm_notifications (recipient_id, created_at DESC);
`

// Migrate 建表（幂等）
func Migrate(ctx context.Context, db *sql.DB) error {
	if _, err := db.ExecContext(ctx, pgSchema); err != nil {
		return fmt.Errorf("migrate matchmaker schema: %w", err)
	}
	return nil
}

const uniqueViolation = "23505"

func (r *pgRepo) Enqueue(ctx context.Context, e *QueueEntry) error {
	members, err := json.Marshal(e.Members)
	if err != nil {
		return err
	}
	_, err = r.db.ExecContext(ctx, `
		INSERT INTO mm_queue_entries
		    (id, lobby_id, owner_id, members, game_type, team_size, platform, mode, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
		e.ID, e.LobbyID, e.OwnerID, string(members), e.GameType, e.TeamSize, e.Platform, e.Mode, e.CreatedAt)
	var pqErr *pq.Error
	if errors.As(err, &pqErr) && pqErr.Code == uniqueViolation {
		return ErrAlreadyQueued
	}
	return err
}

const entryColumns = `id, lobby_id, owner_id, members, game_type, team_size, platform, mode, created_at, processed, processed_at`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanEntry(row rowScanner) (*QueueEntry, error) {
	var (
		e           QueueEntry
		members     []byte
		processedAt sql.NullTime
	)
	if err := row.Scan(&e.ID, &e.LobbyID, &e.OwnerID, &members, &e.GameType, &e.TeamSize,
		&e.Platform, &e.Mode, &e.CreatedAt, &e.Processed, &processedAt); err != nil {
		return nil, err
	}
	if err := json.Unmarshal(members, &e.Members); err != nil {
		return nil, fmt.Errorf("decode members of %s: %w", e.ID, err)
	}
	e.CreatedAt = e.CreatedAt.UTC()
	if processedAt.Valid {
		t := processedAt.Time.UTC()
		e.ProcessedAt = &t
	}
	return &e, nil
}

func (r *pgRepo) Pending(ctx context.Context) ([]*QueueEntry, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT `+entryColumns+`
		FROM mm_queue_entries
		WHERE NOT processed
		ORDER BY created_at ASC, id ASC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make([]*QueueEntry, 0)
	for rows.Next() {
		e, err := scanEntry(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

func (r *pgRepo) PendingByLobby(ctx context.Context, lobbyID string) (*QueueEntry, error) {
	row := r.db.QueryRowContext(ctx, `
		SELECT `+entryColumns+`
		FROM mm_queue_entries
		WHERE lobby_id = $1 AND NOT processed`, lobbyID)
	e, err := scanEntry(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	return e, err
}

// Claim 在事务内条件更新，返回行数不等于 ids 数量时回滚
func (r *pgRepo) Claim(ctx context.Context, ids ...string) error {
	if len(ids) == 0 {
		return nil
	}
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback() //nolint:errcheck

	rows, err := tx.QueryContext(ctx, `
		UPDATE mm_queue_entries
		SET processed = TRUE, processed_at = $2
		WHERE id = ANY($1) AND NOT processed
		RETURNING id`, pq.Array(ids), time.Now().UTC())
	if err != nil {
		return err
	}
	claimed := 0
	for rows.Next() {
		claimed++
	}
	if err := rows.Err(); err != nil {
		rows.Close()
		return err
	}
	rows.Close()

	if claimed != len(ids) {
		return ErrAlreadyClaimed
	}
	return tx.Commit()
}

func (r *pgRepo) Release(ctx context.Context, ids ...string) error {
	if len(ids) == 0 {
		return nil
	}
	_, err := r.db.ExecContext(ctx, `
		UPDATE mm_queue_entries
		SET processed = FALSE, processed_at = NULL
		WHERE id = ANY($1) AND processed`, pq.Array(ids))
	return err
}

func (r *pgRepo) Delete(ctx context.Context, ids ...string) error {
	if len(ids) == 0 {
		return nil
	}
	_, err := r.db.ExecContext(ctx, `DELETE FROM mm_queue_entries WHERE id = ANY($1)`, pq.Array(ids))
	return err
}

func (r *pgRepo) Cancel(ctx context.Context, lobbyID string) error {
	res, err := r.db.ExecContext(ctx,
		`DELETE FROM mm_queue_entries WHERE lobby_id = $1 AND NOT processed`, lobbyID)
	if err != nil {
		return err
	}
	return checkAffectedRows(res, ErrNotFound)
}

func checkAffectedRows(res sql.Result, notFound error) error {
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to check affected rows: %w", err)
	}
	if n == 0 {
		return notFound
	}
	return nil
}

func (r *pgRepo) SaveMatch(ctx context.Context, m *Match) error {
	players, err := json.Marshal(m.Players)
	if err != nil {
		return err
	}
	_, err = r.db.ExecContext(ctx, `
		INSERT INTO mm_matches
		    (id, lobby_a, lobby_b, players, game_type, team_size, platform, mode, status, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`,
		m.ID, m.LobbyA, m.LobbyB, string(players), m.GameType, m.TeamSize, m.Platform, m.Mode, string(m.Status), m.CreatedAt)
	return err
}

func (r *pgRepo) GetMatch(ctx context.Context, id string) (*Match, error) {
	var (
		m       Match
		players []byte
		status  string
	)
	err := r.db.QueryRowContext(ctx, `
		SELECT id, lobby_a, lobby_b, players, game_type, team_size, platform, mode, status, created_at
		FROM mm_matches WHERE id = $1`, id).
		Scan(&m.ID, &m.LobbyA, &m.LobbyB, &players, &m.GameType, &m.TeamSize, &m.Platform, &m.Mode, &status, &m.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	if err := json.Unmarshal(players, &m.Players); err != nil {
		return nil, err
	}
	m.Status = MatchStatus(status)
	m.CreatedAt = m.CreatedAt.UTC()
	return &m, nil
}

func (r *pgRepo) SaveNotification(ctx context.Context, n *Notification) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO mm_notifications (id, recipient_id, type, match_id, title, message, read, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		n.ID, n.RecipientID, n.Type, n.MatchID, n.Title, n.Message, n.Read, n.CreatedAt)
	return err
}

func (r *pgRepo) Notifications(ctx context.Context, memberID string, limit int) ([]*Notification, error) {
	query := `
		SELECT id, recipient_id, type, match_id, title, message, read, created_at
		FROM mm_notifications
		WHERE recipient_id = $1
		ORDER BY created_at DESC, id DESC`
	args := []any{memberID}
	if limit > 0 {
		query += ` LIMIT $2`
		args = append(args, limit)
	}
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make([]*Notification, 0)
	for rows.Next() {
		var n Notification
		if err := rows.Scan(&n.ID, &n.RecipientID, &n.Type, &n.MatchID, &n.Title, &n.Message, &n.Read, &n.CreatedAt); err != nil {
			return nil, err
		}
		n.CreatedAt = n.CreatedAt.UTC()
		out = append(out, &n)
	}
	return out, rows.Err()
}

func (r *pgRepo) MarkRead(ctx context.Context, memberID, id string) error {
	res, err := r.db.ExecContext(ctx,
		`UPDATE mm_notifications SET read = TRUE WHERE id = $1 AND recipient_id = $2`, id, memberID)
	if err != nil {
		return err
	}
	return checkAffectedRows(res, ErrNotFound)
}
