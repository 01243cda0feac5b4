package storage

import (
	"github.com/Alb4don/RPGAgentArena/pkg/errors"
)

// CandidateRecord is the persisted form of one prompt candidate.
type CandidateRecord struct {
	PromptID   string
	AgentID    string
	Text       string
	Wins       int
	Losses     int
	AvgDamage  float64
	AvgRounds  float64
	Generation int
	CreatedAt  float64
}

// LoadCandidates returns every candidate owned by agentID, newest
// generation first. Ordering is stable so UCB ties break deterministically.
func (s *Store) LoadCandidates(agentID string) ([]CandidateRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	rows, err := s.db.Query(`
        SELECT prompt_id, agent_id, text, wins, losses, avg_dmg, avg_rounds, generation, created_at
        FROM prompt_candidates
        WHERE agent_id = ?
        ORDER BY generation DESC, wins DESC, prompt_id ASC`, agentID)
	if err != nil {
		return nil, errors.WithFields(
			errors.Wrap(err, errors.StorageFailed, "failed to query prompt candidates"),
			errors.Fields{"agent_id": agentID},
		)
	}
	defer rows.Close()

	var candidates []CandidateRecord
	for rows.Next() {
		var rec CandidateRecord
		if err := rows.Scan(&rec.PromptID, &rec.AgentID, &rec.Text, &rec.Wins,
			&rec.Losses, &rec.AvgDamage, &rec.AvgRounds, &rec.Generation, &rec.CreatedAt); err != nil {
			return nil, errors.Wrap(err, errors.StorageFailed, "failed to scan candidate row")
		}
		candidates = append(candidates, rec)
	}

	if err := rows.Err(); err != nil {
		return nil, errors.Wrap(err, errors.StorageFailed, "error iterating candidate rows")
	}

	return candidates, nil
}

// UpsertCandidate inserts the candidate or, on conflict by primary key,
// overwrites only the mutable performance fields.
func (s *Store) UpsertCandidate(rec *CandidateRecord) error {
	createdAt := rec.CreatedAt
	if createdAt == 0 {
		createdAt = nowUnix()
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	_, err := s.db.Exec(`
        INSERT INTO prompt_candidates
            (prompt_id, agent_id, text, wins, losses, avg_dmg, avg_rounds, generation, created_at)
        VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
        ON CONFLICT(prompt_id) DO UPDATE SET
            wins=excluded.wins,
            losses=excluded.losses,
            avg_dmg=excluded.avg_dmg,
            avg_rounds=excluded.avg_rounds`,
		rec.PromptID, rec.AgentID, rec.Text, rec.Wins, rec.Losses,
		rec.AvgDamage, rec.AvgRounds, rec.Generation, createdAt)
	if err != nil {
		return errors.WithFields(
			errors.Wrap(err, errors.StorageFailed, "failed to upsert candidate"),
			errors.Fields{"prompt_id": rec.PromptID},
		)
	}
	return nil
}

// DeleteCandidateIfUnproven removes the row only when it has accumulated
// fewer than two evaluations. Candidates that already produced signal stay
// durable even after eviction from the in-memory pool.
func (s *Store) DeleteCandidateIfUnproven(promptID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, err := s.db.Exec(
		`DELETE FROM prompt_candidates WHERE prompt_id = ? AND wins + losses < 2`,
		promptID)
	if err != nil {
		return errors.WithFields(
			errors.Wrap(err, errors.StorageFailed, "failed to delete candidate"),
			errors.Fields{"prompt_id": promptID},
		)
	}
	return nil
}
