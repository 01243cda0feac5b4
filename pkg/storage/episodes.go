package storage

import (
	"encoding/json"

	"github.com/Alb4don/RPGAgentArena/pkg/errors"
)

// EpisodeRecord is one immutable (situation, action, outcome) tuple.
// The episodes table is append-only; rows are never rewritten.
type EpisodeRecord struct {
	ID            int64
	AgentID       string
	Situation     string
	Embedding     []float64
	Action        string
	Outcome       float64
	OpponentClass string
	Environment   string
	CreatedAt     float64
}

// AppendEpisode writes one episode row.
func (s *Store) AppendEpisode(rec *EpisodeRecord) error {
	embJSON, err := marshalJSON(rec.Embedding)
	if err != nil {
		return err
	}

	createdAt := rec.CreatedAt
	if createdAt == 0 {
		createdAt = nowUnix()
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	_, err = s.db.Exec(`
        INSERT INTO episodes
            (agent_id, situation, embedding, action, outcome, opp_class, env, created_at)
        VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		rec.AgentID, rec.Situation, embJSON, rec.Action, rec.Outcome,
		rec.OpponentClass, rec.Environment, createdAt)
	if err != nil {
		return errors.WithFields(
			errors.Wrap(err, errors.StorageFailed, "failed to append episode"),
			errors.Fields{"agent_id": rec.AgentID},
		)
	}
	return nil
}

// RecentEpisodes returns up to limit of the agent's most recent episodes,
// newest first. Rows with unreadable embeddings are skipped, not surfaced.
func (s *Store) RecentEpisodes(agentID string, limit int) ([]EpisodeRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	rows, err := s.db.Query(`
        SELECT id, situation, embedding, action, outcome, opp_class, env, created_at
        FROM episodes
        WHERE agent_id = ?
        ORDER BY created_at DESC
        LIMIT ?`, agentID, limit)
	if err != nil {
		return nil, errors.WithFields(
			errors.Wrap(err, errors.StorageFailed, "failed to query episodes"),
			errors.Fields{"agent_id": agentID},
		)
	}
	defer rows.Close()

	var episodes []EpisodeRecord
	for rows.Next() {
		rec := EpisodeRecord{AgentID: agentID}
		var embJSON string
		if err := rows.Scan(&rec.ID, &rec.Situation, &embJSON, &rec.Action,
			&rec.Outcome, &rec.OpponentClass, &rec.Environment, &rec.CreatedAt); err != nil {
			return nil, errors.Wrap(err, errors.StorageFailed, "failed to scan episode row")
		}
		if err := json.Unmarshal([]byte(embJSON), &rec.Embedding); err != nil {
			continue
		}
		episodes = append(episodes, rec)
	}

	if err := rows.Err(); err != nil {
		return nil, errors.Wrap(err, errors.StorageFailed, "error iterating episode rows")
	}

	return episodes, nil
}
