// Package store persists chat sessions to a local SQLite database so the
// terminal client can restore them on the next start.
package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"go.uber.org/zap"
	_ "modernc.org/sqlite"

	"github.com/zhouzirui/azmth/internal/logging"
	"github.com/zhouzirui/azmth/internal/model/chat"
)

const schema = `
CREATE TABLE IF NOT EXISTS sessions (
	id              INTEGER PRIMARY KEY,
	conversation_id TEXT NOT NULL DEFAULT '',
	created_at      TEXT NOT NULL
);
CREATE TABLE IF NOT EXISTS messages (
	session_id INTEGER NOT NULL REFERENCES sessions(id) ON DELETE CASCADE,
	position   INTEGER NOT NULL,
	id         TEXT NOT NULL,
	type       TEXT NOT NULL,
	content    TEXT NOT NULL,
	timestamp  TEXT NOT NULL,
	PRIMARY KEY (session_id, position)
);`

// History is the SQLite-backed session archive.
type History struct {
	db     *sql.DB
	logger *zap.Logger
}

// Open opens (creating if needed) the history database at path.
func Open(ctx context.Context, path string, logger *zap.Logger) (*History, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open history database: %w", err)
	}
	// SQLite allows a single writer.
	db.SetMaxOpenConns(1)

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("history database ping failed: %w", err)
	}
	if _, err := db.ExecContext(ctx, schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to create history schema: %w", err)
	}

	return &History{db: db, logger: logging.OrNop(logger).Named("history")}, nil
}

// Close releases the database.
func (h *History) Close() error {
	return h.db.Close()
}

// Save replaces the stored copy of session. Audio urls are dropped since
// recordings only live for the lifetime of the process.
func (h *History) Save(ctx context.Context, session chat.Session) error {
	tx, err := h.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin save: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx,
		`INSERT INTO sessions (id, conversation_id, created_at) VALUES (?, ?, ?)
		 ON CONFLICT(id) DO UPDATE SET conversation_id = excluded.conversation_id`,
		session.ID, session.ConversationID, session.CreatedAt.UTC().Format(time.RFC3339Nano)); err != nil {
		return fmt.Errorf("upsert session %d: %w", session.ID, err)
	}

	if _, err := tx.ExecContext(ctx, `DELETE FROM messages WHERE session_id = ?`, session.ID); err != nil {
		return fmt.Errorf("clear messages of session %d: %w", session.ID, err)
	}

	stmt, err := tx.PrepareContext(ctx,
		`INSERT INTO messages (session_id, position, id, type, content, timestamp) VALUES (?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return fmt.Errorf("prepare message insert: %w", err)
	}
	defer stmt.Close()

	for i, msg := range session.Messages {
		if _, err := stmt.ExecContext(ctx, session.ID, i, msg.ID, string(msg.Type), msg.Content,
			msg.Timestamp.UTC().Format(time.RFC3339Nano)); err != nil {
			return fmt.Errorf("insert message %d of session %d: %w", i, session.ID, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit session %d: %w", session.ID, err)
	}
	return nil
}

// Load returns every stored session ordered by id.
func (h *History) Load(ctx context.Context) ([]chat.Session, error) {
	rows, err := h.db.QueryContext(ctx, `SELECT id, conversation_id, created_at FROM sessions ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("query sessions: %w", err)
	}

	var sessions []chat.Session
	index := make(map[int]int)
	for rows.Next() {
		var (
			session chat.Session
			created string
		)
		if err := rows.Scan(&session.ID, &session.ConversationID, &created); err != nil {
			rows.Close()
			return nil, fmt.Errorf("scan session: %w", err)
		}
		session.CreatedAt, _ = time.Parse(time.RFC3339Nano, created)
		index[session.ID] = len(sessions)
		sessions = append(sessions, session)
	}
	if err := rows.Err(); err != nil {
		rows.Close()
		return nil, fmt.Errorf("sessions iteration error: %w", err)
	}
	rows.Close()

	msgRows, err := h.db.QueryContext(ctx,
		`SELECT session_id, id, type, content, timestamp FROM messages ORDER BY session_id, position`)
	if err != nil {
		return nil, fmt.Errorf("query messages: %w", err)
	}
	defer msgRows.Close()

	for msgRows.Next() {
		var (
			sessionID int
			msg       chat.Message
			msgType   string
			stamp     string
		)
		if err := msgRows.Scan(&sessionID, &msg.ID, &msgType, &msg.Content, &stamp); err != nil {
			return nil, fmt.Errorf("scan message: %w", err)
		}
		msg.Type = chat.MessageType(msgType)
		msg.Timestamp, _ = time.Parse(time.RFC3339Nano, stamp)

		i, ok := index[sessionID]
		if !ok {
			continue
		}
		sessions[i].Messages = append(sessions[i].Messages, msg)
	}
	if err := msgRows.Err(); err != nil {
		return nil, fmt.Errorf("messages iteration error: %w", err)
	}

	h.logger.Debug("history loaded", zap.Int("sessions", len(sessions)))
	return sessions, nil
}

// Persist saves session with a bounded timeout and logs failures. It matches
// the session store's listener signature.
func (h *History) Persist(session chat.Session) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := h.Save(ctx, session); err != nil {
		h.logger.Warn("failed to persist session", zap.Int("session", session.ID), zap.Error(err))
	}
}
