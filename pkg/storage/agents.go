package storage

import (
	"database/sql"
	"encoding/json"

	"github.com/Alb4don/RPGAgentArena/pkg/errors"
)

// UCBStat is one arm of the per-agent action bandit.
type UCBStat struct {
	Total float64 `json:"total"`
	Plays int     `json:"plays"`
}

// AgentRecord is the persisted form of an agent's policy state. The nested
// maps are stored as JSON blobs inside the row; keys are the wire names of
// actions and opponent ids.
type AgentRecord struct {
	AgentID     string
	Name        string
	Class       string
	Level       int
	Wins        int
	Losses      int
	DamageDealt int
	DamageTaken int
	PrefActions map[string]float64
	OppModels   map[string]map[string]int
	UCBStats    map[string]UCBStat
}

// LoadAgent returns the stored record for agentID, or nil if none exists.
func (s *Store) LoadAgent(agentID string) (*AgentRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	row := s.db.QueryRow(
		`SELECT agent_id, name, char_class, level, wins, losses,
		        dmg_dealt, dmg_taken, pref_actions, opp_models, ucb_stats
		 FROM agents WHERE agent_id = ?`, agentID)

	var rec AgentRecord
	var prefJSON, oppJSON, ucbJSON string
	err := row.Scan(
		&rec.AgentID, &rec.Name, &rec.Class, &rec.Level, &rec.Wins, &rec.Losses,
		&rec.DamageDealt, &rec.DamageTaken, &prefJSON, &oppJSON, &ucbJSON)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, errors.WithFields(
			errors.Wrap(err, errors.StorageFailed, "failed to load agent"),
			errors.Fields{"agent_id": agentID},
		)
	}

	if err := json.Unmarshal([]byte(prefJSON), &rec.PrefActions); err != nil {
		return nil, errors.Wrap(err, errors.InvalidResponse, "malformed pref_actions column")
	}
	if err := json.Unmarshal([]byte(oppJSON), &rec.OppModels); err != nil {
		return nil, errors.Wrap(err, errors.InvalidResponse, "malformed opp_models column")
	}
	if err := json.Unmarshal([]byte(ucbJSON), &rec.UCBStats); err != nil {
		return nil, errors.Wrap(err, errors.InvalidResponse, "malformed ucb_stats column")
	}

	return &rec, nil
}

// SaveAgent upserts the record, overwriting the mutable fields of an
// existing row. Last writer wins.
func (s *Store) SaveAgent(rec *AgentRecord) error {
	prefJSON, err := marshalJSON(orEmptyFloatMap(rec.PrefActions))
	if err != nil {
		return err
	}
	oppJSON, err := marshalJSON(orEmptyNestedMap(rec.OppModels))
	if err != nil {
		return err
	}
	ucbJSON, err := marshalJSON(orEmptyStatMap(rec.UCBStats))
	if err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	_, err = s.db.Exec(`
        INSERT INTO agents
            (agent_id, name, char_class, level, wins, losses,
             dmg_dealt, dmg_taken, pref_actions, opp_models, ucb_stats)
        VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
        ON CONFLICT(agent_id) DO UPDATE SET
            level=excluded.level,
            wins=excluded.wins,
            losses=excluded.losses,
            dmg_dealt=excluded.dmg_dealt,
            dmg_taken=excluded.dmg_taken,
            pref_actions=excluded.pref_actions,
            opp_models=excluded.opp_models,
            ucb_stats=excluded.ucb_stats,
            updated_at=CURRENT_TIMESTAMP`,
		rec.AgentID, rec.Name, rec.Class, rec.Level, rec.Wins, rec.Losses,
		rec.DamageDealt, rec.DamageTaken, prefJSON, oppJSON, ucbJSON)
	if err != nil {
		return errors.WithFields(
			errors.Wrap(err, errors.StorageFailed, "failed to save agent"),
			errors.Fields{"agent_id": rec.AgentID},
		)
	}
	return nil
}

func orEmptyFloatMap(m map[string]float64) map[string]float64 {
	if m == nil {
		return map[string]float64{}
	}
	return m
}

func orEmptyNestedMap(m map[string]map[string]int) map[string]map[string]int {
	if m == nil {
		return map[string]map[string]int{}
	}
	return m
}

func orEmptyStatMap(m map[string]UCBStat) map[string]UCBStat {
	if m == nil {
		return map[string]UCBStat{}
	}
	return m
}
