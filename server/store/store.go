package store

import (
	"context"
	"embed"
	"encoding/json"
	"strings"
	"time"

	"card-arena/server/effects"
	"card-arena/server/txn"

	"github.com/decred/slog"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

//go:embed schema.sql
var schema embed.FS

type DB struct {
	*pgxpool.Pool
	Log slog.Logger

	// stamped on every journal row
	Network string
	Sender  string
}

func (db *DB) log() slog.Logger {
	if db.Log == nil {
		return slog.Disabled
	}
	return db.Log
}

func Open(dsn string) (*DB, error) {
	p, err := pgxpool.New(context.Background(), dsn)
	if err != nil {
		return nil, err
	}
	return &DB{Pool: p}, nil
}

func (db *DB) Close(ctx context.Context)      { db.Pool.Close() }
func (db *DB) Ping(ctx context.Context) error { return db.Pool.Ping(ctx) }

func Migrate(ctx context.Context, db *DB) error {
	sqlBytes, err := schema.ReadFile("schema.sql")
	if err != nil {
		return err
	}
	if _, err = db.Exec(ctx, string(sqlBytes)); err != nil {
		db.log().Errorf("migrate: %v", err)
		return err
	}
	db.log().Infof("schema applied")
	return nil
}

var _ txn.Journal = (*DB)(nil)

// RecordSubmission appends one dispatch attempt to tx_journal.
func (db *DB) RecordSubmission(ctx context.Context, s txn.Submission) error {
	var payload any
	if len(s.Payload.Calls) > 0 {
		b, err := json.Marshal(s.Payload)
		if err != nil {
			return err
		}
		payload = string(b)
	}
	at := s.At
	if at.IsZero() {
		at = time.Now().UTC()
	}
	_, err := db.Exec(ctx, `
        INSERT INTO tx_journal(op, digest, payload, error, network, sender, submitted_at)
        VALUES ($1,$2,$3,$4,$5,$6,$7)
    `, string(s.Op), nullable(s.Digest), payload, nullable(s.Err), db.Network, db.Sender, at)
	if err != nil {
		db.log().Warnf("insert tx_journal %s: %v", s.Op, err)
		return err
	}
	db.log().Tracef("journaled %s %s", s.Op, s.Digest)
	return nil
}

// RecordResolution stores the outcome for a digest, replacing any earlier
// outcome for the same digest.
func (db *DB) RecordResolution(ctx context.Context, res effects.Resolution, resolveErr error) error {
	var errText string
	if resolveErr != nil {
		errText = resolveErr.Error()
	}
	_, err := db.Exec(ctx, `
        INSERT INTO resolutions(digest, object_id, attempts, source, error)
        VALUES ($1,$2,$3,$4,$5)
        ON CONFLICT (digest) DO UPDATE
          SET object_id = EXCLUDED.object_id,
              attempts = EXCLUDED.attempts,
              source = EXCLUDED.source,
              error = EXCLUDED.error,
              resolved_at = now()
    `, res.Digest, nullable(res.ObjectID), res.Attempts, nullable(string(res.Source)), nullable(errText))
	if err != nil {
		db.log().Warnf("upsert resolution %s: %v", res.Digest, err)
	}
	return err
}

// HistoryEntry is one journaled submission with its resolution, if any.
type HistoryEntry struct {
	ID          int64     `json:"id"`
	Op          string    `json:"op"`
	Digest      string    `json:"digest,omitempty"`
	Error       string    `json:"error,omitempty"`
	Network     string    `json:"network"`
	SubmittedAt time.Time `json:"submitted_at"`

	ObjectID    string `json:"object_id,omitempty"`
	Attempts    int    `json:"attempts,omitempty"`
	ResolveErr  string `json:"resolve_error,omitempty"`
	ExplorerURL string `json:"explorer_url,omitempty"`
}

// History returns the newest submissions first.
func (db *DB) History(ctx context.Context, limit int) ([]HistoryEntry, error) {
	if limit <= 0 || limit > 500 {
		limit = 50
	}
	rows, err := db.Query(ctx, `
        SELECT j.id, j.op, j.digest, j.error, j.network, j.submitted_at,
               r.object_id, COALESCE(r.attempts, 0), r.error
          FROM tx_journal j
          LEFT JOIN resolutions r ON r.digest = j.digest
         WHERE ($2 = '' OR j.sender = $2)
         ORDER BY j.submitted_at DESC, j.id DESC
         LIMIT $1
    `, limit, db.Sender)
	if err != nil {
		db.log().Warnf("history: %v", err)
		return nil, err
	}
	return pgx.CollectRows(rows, func(row pgx.CollectableRow) (HistoryEntry, error) {
		var e HistoryEntry
		var digest, errText, objectID, resolveErr *string
		if err := row.Scan(&e.ID, &e.Op, &digest, &errText, &e.Network, &e.SubmittedAt,
			&objectID, &e.Attempts, &resolveErr); err != nil {
			return e, err
		}
		e.Digest, e.Error = deref(digest), deref(errText)
		e.ObjectID, e.ResolveErr = deref(objectID), deref(resolveErr)
		return e, nil
	})
}

func nullable(s string) any {
	if strings.TrimSpace(s) == "" {
		return nil
	}
	return s
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
