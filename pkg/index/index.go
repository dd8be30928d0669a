// Package index persists the mapping from a delivered chat message to the
// local file behind it, so later button presses can act on that file.
package index

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"

	"clipbot/pkg/media"

	_ "github.com/mutecomm/go-sqlcipher/v4"
)

const schema = `
CREATE TABLE IF NOT EXISTS messages (
    id          INTEGER PRIMARY KEY AUTOINCREMENT,
    message_id  INTEGER NOT NULL,
    chat_id     INTEGER NOT NULL,
    user_id     INTEGER NOT NULL DEFAULT 0,
    text        TEXT NOT NULL DEFAULT '',
    kind        TEXT NOT NULL DEFAULT 'unknown',
    media_info  TEXT NOT NULL DEFAULT '{}',
    created_at  TEXT NOT NULL,
    UNIQUE(message_id, chat_id)
);
CREATE INDEX IF NOT EXISTS idx_messages_chat_id ON messages (chat_id);
CREATE INDEX IF NOT EXISTS idx_messages_kind ON messages (kind);
CREATE INDEX IF NOT EXISTS idx_messages_created_at ON messages (created_at);
`

// Entry links one delivered message to its materialized file.
type Entry struct {
	ChatID    int64
	MessageID int
	UserID    int64
	Kind      media.Kind
	Text      string
	LocalPath string
	SizeBytes int64
	CreatedAt time.Time
}

// mediaInfo is the JSON document stored in messages.media_info.
type mediaInfo struct {
	FilePath  string `json:"file_path"`
	SizeBytes int64  `json:"size_bytes,omitempty"`
}

// Stats summarizes the index.
type Stats struct {
	Total  int
	ByKind map[media.Kind]int
}

// ListOptions filters List. A zero Limit returns every row.
type ListOptions struct {
	ChatID int64
	Kind   media.Kind
	Limit  int
}

// Store is the SQLite-backed file index. Writes go through a single
// connection, so upserts on distinct keys never interfere.
type Store struct {
	db   *sql.DB
	path string
}

// Open creates the parent directory, opens (and, with key set, decrypts)
// the database and applies the schema.
func Open(ctx context.Context, path string, key string) (*Store, error) {
	path = strings.TrimSpace(path)
	if path == "" {
		return nil, errors.New("index path is required")
	}

	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return nil, fmt.Errorf("create index directory: %w", err)
	}

	db, err := sql.Open("sqlite3", dsn(path, key))
	if err != nil {
		return nil, fmt.Errorf("open index: %w", err)
	}
	db.SetMaxOpenConns(1)

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("connect index: %w", err)
	}

	if _, err := db.ExecContext(ctx, schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("apply index schema: %w", err)
	}

	return &Store{db: db, path: path}, nil
}

func dsn(path string, key string) string {
	params := url.Values{}
	params.Set("_journal_mode", "WAL")
	params.Set("_busy_timeout", "5000")
	params.Set("_synchronous", "NORMAL")
	if key = strings.TrimSpace(key); key != "" {
		params.Set("_pragma_key", key)
	}
	return "file:" + path + "?" + params.Encode()
}

func (s *Store) Path() string {
	return s.path
}

// Ping checks the database is still reachable.
func (s *Store) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

func (s *Store) Close() error {
	return s.db.Close()
}

// Upsert writes e, replacing any row with the same (chat, message) key.
func (s *Store) Upsert(ctx context.Context, e Entry) error {
	info, err := json.Marshal(mediaInfo{FilePath: e.LocalPath, SizeBytes: e.SizeBytes})
	if err != nil {
		return fmt.Errorf("encode media info: %w", err)
	}

	createdAt := e.CreatedAt
	if createdAt.IsZero() {
		createdAt = time.Now()
	}
	kind := e.Kind
	if kind == "" {
		kind = media.KindUnknown
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO messages (message_id, chat_id, user_id, text, kind, media_info, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(message_id, chat_id) DO UPDATE SET
			user_id = excluded.user_id,
			text = excluded.text,
			kind = excluded.kind,
			media_info = excluded.media_info,
			created_at = excluded.created_at`,
		e.MessageID, e.ChatID, e.UserID, e.Text, string(kind), string(info), createdAt.UTC().Format(time.RFC3339Nano),
	)
	if err != nil {
		return fmt.Errorf("upsert message %d in chat %d: %w", e.MessageID, e.ChatID, err)
	}
	return nil
}

// Lookup returns the entry for (chatID, messageID). A miss is (Entry{}, false, nil).
func (s *Store) Lookup(ctx context.Context, chatID int64, messageID int) (Entry, bool, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT message_id, chat_id, user_id, text, kind, media_info, created_at
		FROM messages WHERE message_id = ? AND chat_id = ?`, messageID, chatID)

	entry, err := scanEntry(row)
	if errors.Is(err, sql.ErrNoRows) {
		return Entry{}, false, nil
	}
	if err != nil {
		return Entry{}, false, fmt.Errorf("lookup message %d in chat %d: %w", messageID, chatID, err)
	}
	return entry, true, nil
}

// Delete drops the row for (chatID, messageID) and reports whether it existed.
func (s *Store) Delete(ctx context.Context, chatID int64, messageID int) (bool, error) {
	res, err := s.db.ExecContext(ctx, `DELETE FROM messages WHERE message_id = ? AND chat_id = ?`, messageID, chatID)
	if err != nil {
		return false, fmt.Errorf("delete message %d in chat %d: %w", messageID, chatID, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("delete message %d in chat %d: %w", messageID, chatID, err)
	}
	return n > 0, nil
}

// List returns entries newest first.
func (s *Store) List(ctx context.Context, opts ListOptions) ([]Entry, error) {
	var (
		where []string
		args  []any
	)
	if opts.ChatID != 0 {
		where = append(where, "chat_id = ?")
		args = append(args, opts.ChatID)
	}
	if opts.Kind != "" {
		where = append(where, "kind = ?")
		args = append(args, string(opts.Kind))
	}

	query := `SELECT message_id, chat_id, user_id, text, kind, media_info, created_at FROM messages`
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	query += " ORDER BY created_at DESC, id DESC"
	if opts.Limit > 0 {
		query += " LIMIT ?"
		args = append(args, opts.Limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list messages: %w", err)
	}
	defer rows.Close()

	var entries []Entry
	for rows.Next() {
		entry, err := scanEntry(rows)
		if err != nil {
			return nil, fmt.Errorf("scan message: %w", err)
		}
		entries = append(entries, entry)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list messages: %w", err)
	}
	return entries, nil
}

// Stats counts entries per kind.
func (s *Store) Stats(ctx context.Context) (Stats, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT kind, COUNT(*) FROM messages GROUP BY kind`)
	if err != nil {
		return Stats{}, fmt.Errorf("count messages: %w", err)
	}
	defer rows.Close()

	stats := Stats{ByKind: make(map[media.Kind]int)}
	for rows.Next() {
		var (
			kind  string
			count int
		)
		if err := rows.Scan(&kind, &count); err != nil {
			return Stats{}, fmt.Errorf("scan count: %w", err)
		}
		stats.ByKind[media.ParseKind(kind)] += count
		stats.Total += count
	}
	if err := rows.Err(); err != nil {
		return Stats{}, fmt.Errorf("count messages: %w", err)
	}
	return stats, nil
}

type scanner interface {
	Scan(dest ...any) error
}

func scanEntry(row scanner) (Entry, error) {
	var (
		entry     Entry
		kind      string
		rawInfo   string
		createdAt string
	)
	if err := row.Scan(&entry.MessageID, &entry.ChatID, &entry.UserID, &entry.Text, &kind, &rawInfo, &createdAt); err != nil {
		return Entry{}, err
	}

	entry.Kind = media.ParseKind(kind)

	var info mediaInfo
	if strings.TrimSpace(rawInfo) != "" {
		if err := json.Unmarshal([]byte(rawInfo), &info); err != nil {
			return Entry{}, fmt.Errorf("decode media info: %w", err)
		}
	}
	entry.LocalPath = info.FilePath
	entry.SizeBytes = info.SizeBytes

	if parsed, err := time.Parse(time.RFC3339Nano, createdAt); err == nil {
		entry.CreatedAt = parsed
	}
	return entry, nil
}
