package main

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/rs/zerolog/log"
	_ "modernc.org/sqlite"
)

// Lookup outcome constants
const (
	OutcomeResolved    = "resolved"
	OutcomeVaccination = "vaccination"
	OutcomeNotFound    = "not_found"
	OutcomeLoading     = "loading"
)

const (
	// maxKeywordRunes caps the stored length of free-text keywords.
	maxKeywordRunes = 64
	// defaultMaxUnmatched is how many distinct keywords are kept per
	// free-text outcome; the least recently seen are pruned first.
	defaultMaxUnmatched = 1000

	// fixed width so last_seen_at sorts as text
	lastSeenLayout = "2006-01-02T15:04:05.000000000Z07:00"
)

// KeywordLookup is a per-keyword hit count by outcome.
type KeywordLookup struct {
	Keyword    string    `json:"keyword"`
	Outcome    string    `json:"outcome"`
	Count      int64     `json:"count"`
	LastSeenAt time.Time `json:"last_seen_at"`
}

// LookupLog counts offline query outcomes in SQLite.
type LookupLog struct {
	sql          *sql.DB
	maxUnmatched int
}

// OpenLookupLog opens (or creates) the lookup database and runs migrations.
func OpenLookupLog(path string) (*LookupLog, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, err
	}
	sqlDB, err := sql.Open("sqlite", path+"?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)")
	if err != nil {
		return nil, fmt.Errorf("open lookup db: %w", err)
	}
	if err := sqlDB.Ping(); err != nil {
		sqlDB.Close()
		return nil, fmt.Errorf("ping lookup db: %w", err)
	}
	l := &LookupLog{sql: sqlDB, maxUnmatched: defaultMaxUnmatched}
	if err := l.migrate(); err != nil {
		sqlDB.Close()
		return nil, fmt.Errorf("migrate lookup db: %w", err)
	}
	log.Info().Str("path", path).Msg("Opened lookup log")
	return l, nil
}

func (l *LookupLog) Close() error {
	return l.sql.Close()
}

func (l *LookupLog) migrate() error {
	version := 0
	l.sql.QueryRow("SELECT version FROM schema_version ORDER BY version DESC LIMIT 1").Scan(&version)

	if version < 1 {
		_, err := l.sql.Exec(`
			CREATE TABLE IF NOT EXISTS schema_version (version INTEGER PRIMARY KEY);

			CREATE TABLE IF NOT EXISTS keyword_lookups (
				keyword      TEXT NOT NULL,
				outcome      TEXT NOT NULL,
				count        INTEGER NOT NULL DEFAULT 0,
				last_seen_at TEXT NOT NULL,
				PRIMARY KEY (keyword, outcome)
			);
			CREATE INDEX IF NOT EXISTS idx_keyword_lookups_count ON keyword_lookups(count);

			INSERT OR IGNORE INTO schema_version (version) VALUES (1);
		`)
		if err != nil {
			return err
		}
	}
	return nil
}

// Record counts one lookup of keyword with the given outcome. Free-text
// outcomes (not found, loading) are capped at maxUnmatched rows each.
func (l *LookupLog) Record(ctx context.Context, keyword, outcome string) error {
	_, err := l.sql.ExecContext(ctx, `
		INSERT INTO keyword_lookups (keyword, outcome, count, last_seen_at)
		VALUES (?, ?, 1, ?)
		ON CONFLICT(keyword, outcome) DO UPDATE SET
			count = count + 1,
			last_seen_at = excluded.last_seen_at
	`, keyword, outcome, time.Now().UTC().Format(lastSeenLayout))
	if err != nil {
		return fmt.Errorf("record lookup: %w", err)
	}
	if outcome == OutcomeNotFound || outcome == OutcomeLoading {
		return l.pruneFreeText(ctx, outcome)
	}
	return nil
}

func (l *LookupLog) pruneFreeText(ctx context.Context, outcome string) error {
	_, err := l.sql.ExecContext(ctx, `
		DELETE FROM keyword_lookups
		WHERE outcome = ?1 AND rowid NOT IN (
			SELECT rowid FROM keyword_lookups
			WHERE outcome = ?1
			ORDER BY last_seen_at DESC, rowid DESC
			LIMIT ?2
		)
	`, outcome, l.maxUnmatched)
	if err != nil {
		return fmt.Errorf("prune %s lookups: %w", outcome, err)
	}
	return nil
}

// Top returns the most frequent lookups, highest count first.
func (l *LookupLog) Top(ctx context.Context, limit int) ([]KeywordLookup, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := l.sql.QueryContext(ctx, `
		SELECT keyword, outcome, count, last_seen_at
		FROM keyword_lookups
		ORDER BY count DESC, keyword ASC
		LIMIT ?
	`, limit)
	if err != nil {
		return nil, fmt.Errorf("query lookups: %w", err)
	}
	defer rows.Close()

	var out []KeywordLookup
	for rows.Next() {
		var (
			k    KeywordLookup
			seen string
		)
		if err := rows.Scan(&k.Keyword, &k.Outcome, &k.Count, &seen); err != nil {
			return nil, err
		}
		k.LastSeenAt, _ = time.Parse(time.RFC3339Nano, seen)
		out = append(out, k)
	}
	return out, rows.Err()
}

// lookupOutcome maps an offline response to the keyword and outcome recorded
// for it. Free-text keywords are truncated to maxKeywordRunes.
func lookupOutcome(query string, resp Response) (keyword, outcome string) {
	switch resp.Kind {
	case KindTopic:
		return resp.Topic, OutcomeResolved
	case KindVaccination:
		return "vaccination", OutcomeVaccination
	case KindLoading:
		return truncateKeyword(normalizeKey(query)), OutcomeLoading
	default:
		return truncateKeyword(normalizeKey(query)), OutcomeNotFound
	}
}

func truncateKeyword(s string) string {
	if utf8.RuneCountInString(s) <= maxKeywordRunes {
		return s
	}
	return strings.TrimSpace(string([]rune(s)[:maxKeywordRunes]))
}
