// Package archive persists resolved matches to Postgres for history.
// Attaching it is optional; a nil repository is a no-op, and archive failures
// never fail the message that produced the result.
package archive

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	_ "github.com/lib/pq"
)

// Match is one resolved game, recorded from the requester's side.
type Match struct {
	ID               string
	UserID           string
	OpponentID       string
	Nickname         string
	OpponentNickname string
	Play             string
	OpponentPlay     string
	Outcome          string // win, loss, tie
	ResolvedAt       time.Time
}

type Repository struct {
	db *sql.DB
}

func New(databaseURL string) (*Repository, error) {
	if strings.TrimSpace(databaseURL) == "" {
		return nil, fmt.Errorf("DATABASE_URL is required")
	}
	db, err := sql.Open("postgres", databaseURL)
	if err != nil {
		return nil, err
	}
	db.SetMaxOpenConns(8)
	db.SetMaxIdleConns(4)
	db.SetConnMaxLifetime(30 * time.Minute)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := db.PingContext(ctx); err != nil {
		return nil, err
	}
	return &Repository{db: db}, nil
}

func (r *Repository) Close() error {
	if r == nil || r.db == nil {
		return nil
	}
	return r.db.Close()
}

// SaveMatch upserts one resolved match. Redelivered work may record the same
// match id twice; the conflict clause keeps the first row.
func (r *Repository) SaveMatch(ctx context.Context, m *Match) error {
	if r == nil || r.db == nil || m == nil {
		return nil
	}
	q := `INSERT INTO matches (
	    match_id, user_id, opponent_id, nickname, opponent_nickname,
	    play, opponent_play, outcome, resolved_at
	  ) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9)
	  ON CONFLICT (match_id) DO NOTHING`
	_, err := r.db.ExecContext(ctx, q,
		m.ID,
		m.UserID, m.OpponentID,
		m.Nickname, m.OpponentNickname,
		m.Play, m.OpponentPlay,
		strings.TrimSpace(m.Outcome), m.ResolvedAt,
	)
	return err
}
