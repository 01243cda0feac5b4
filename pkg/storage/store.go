package storage

import (
	"database/sql"
	"encoding/json"
	"sync"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"github.com/Alb4don/RPGAgentArena/pkg/errors"
)

// Store is the durable persistence layer shared by every agent process.
// All access serializes through one store-wide lock; in-memory state held
// by callers is a cache that must be explicitly loaded and flushed.
type Store struct {
	db *sql.DB
	mu sync.Mutex

	initialized sync.Once
}

// Open creates a Store backed by the SQLite database at path.
// If path is ":memory:", state lives only for the process lifetime.
func Open(path string) (*Store, error) {
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, errors.WithFields(
			errors.Wrap(err, errors.StorageFailed, "failed to open SQLite database"),
			errors.Fields{"path": path},
		)
	}

	// A single connection keeps the in-process serialization honest and
	// avoids table-lock contention between pooled connections.
	db.SetMaxOpenConns(1)

	s := &Store{db: db}
	if err := s.ensureInitialized(); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *Store) ensureInitialized() error {
	var initErr error
	s.initialized.Do(func() {
		// Enable WAL mode for better concurrency
		if _, err := s.db.Exec("PRAGMA journal_mode=WAL;"); err != nil {
			initErr = errors.Wrap(err, errors.StorageFailed, "failed to enable WAL mode")
			return
		}
		if _, err := s.db.Exec("PRAGMA foreign_keys=ON;"); err != nil {
			initErr = errors.Wrap(err, errors.StorageFailed, "failed to enable foreign keys")
			return
		}

		query := `
        CREATE TABLE IF NOT EXISTS agents (
            agent_id     TEXT PRIMARY KEY,
            name         TEXT NOT NULL,
            char_class   TEXT NOT NULL,
            level        INTEGER DEFAULT 1,
            wins         INTEGER DEFAULT 0,
            losses       INTEGER DEFAULT 0,
            dmg_dealt    INTEGER DEFAULT 0,
            dmg_taken    INTEGER DEFAULT 0,
            pref_actions TEXT DEFAULT '{}',
            opp_models   TEXT DEFAULT '{}',
            ucb_stats    TEXT DEFAULT '{}',
            created_at   TEXT DEFAULT CURRENT_TIMESTAMP,
            updated_at   TEXT DEFAULT CURRENT_TIMESTAMP
        );

        CREATE TABLE IF NOT EXISTS games (
            game_id    TEXT PRIMARY KEY,
            agent1_id  TEXT NOT NULL,
            agent2_id  TEXT NOT NULL,
            winner_id  TEXT,
            rounds     INTEGER DEFAULT 0,
            env        TEXT,
            log        TEXT DEFAULT '[]',
            created_at TEXT DEFAULT CURRENT_TIMESTAMP
        );

        CREATE TABLE IF NOT EXISTS episodes (
            id          INTEGER PRIMARY KEY AUTOINCREMENT,
            agent_id    TEXT NOT NULL,
            situation   TEXT NOT NULL,
            embedding   TEXT NOT NULL,
            action      TEXT NOT NULL,
            outcome     REAL DEFAULT 0.0,
            opp_class   TEXT DEFAULT '',
            env         TEXT DEFAULT '',
            created_at  REAL DEFAULT 0.0
        );

        CREATE TABLE IF NOT EXISTS prompt_candidates (
            prompt_id   TEXT PRIMARY KEY,
            agent_id    TEXT NOT NULL,
            text        TEXT NOT NULL,
            wins        INTEGER DEFAULT 0,
            losses      INTEGER DEFAULT 0,
            avg_dmg     REAL DEFAULT 0.0,
            avg_rounds  REAL DEFAULT 0.0,
            generation  INTEGER DEFAULT 0,
            created_at  REAL DEFAULT 0.0
        );

        CREATE INDEX IF NOT EXISTS idx_episodes_agent ON episodes(agent_id);
        CREATE INDEX IF NOT EXISTS idx_games_agents   ON games(agent1_id, agent2_id);
        CREATE INDEX IF NOT EXISTS idx_prompt_agent   ON prompt_candidates(agent_id);
        `

		if _, err := s.db.Exec(query); err != nil {
			initErr = errors.Wrap(err, errors.StorageFailed, "failed to initialize schema")
			return
		}
	})
	return initErr
}

// Close closes the database connection.
func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.db.Close(); err != nil {
		return errors.Wrap(err, errors.StorageFailed, "failed to close database connection")
	}
	return nil
}

func marshalJSON(v interface{}) (string, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return "", errors.Wrap(err, errors.InvalidInput, "failed to marshal JSON column")
	}
	return string(data), nil
}

func nowUnix() float64 {
	return float64(time.Now().UnixNano()) / float64(time.Second)
}
