package storage

import (
	"github.com/Alb4don/RPGAgentArena/pkg/errors"
)

// TurnLogEntry is one resolved turn inside a game log.
type TurnLogEntry struct {
	Round     int    `json:"round"`
	Agent     string `json:"agent"`
	Action    string `json:"action"`
	Narration string `json:"narration"`
	Damage    int    `json:"damage"`
}

// GameRecord captures one completed game between two agents.
type GameRecord struct {
	GameID      string
	Agent1ID    string
	Agent2ID    string
	WinnerID    string // empty for a draw
	Rounds      int
	Environment string
	Log         []TurnLogEntry
}

// HeadToHead summarizes past games between two agents.
type HeadToHead struct {
	Total      int
	Agent1Wins int
	Agent2Wins int
	Draws      int
}

// SaveGame writes or replaces the game row.
func (s *Store) SaveGame(rec *GameRecord) error {
	logEntries := rec.Log
	if logEntries == nil {
		logEntries = []TurnLogEntry{}
	}
	logJSON, err := marshalJSON(logEntries)
	if err != nil {
		return err
	}

	var winner interface{}
	if rec.WinnerID != "" {
		winner = rec.WinnerID
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	_, err = s.db.Exec(`
        INSERT OR REPLACE INTO games
            (game_id, agent1_id, agent2_id, winner_id, rounds, env, log)
        VALUES (?, ?, ?, ?, ?, ?, ?)`,
		rec.GameID, rec.Agent1ID, rec.Agent2ID, winner, rec.Rounds,
		rec.Environment, logJSON)
	if err != nil {
		return errors.WithFields(
			errors.Wrap(err, errors.StorageFailed, "failed to save game"),
			errors.Fields{"game_id": rec.GameID},
		)
	}
	return nil
}

// LoadHeadToHead aggregates win counts across all games between the two
// agents, in either seat order.
func (s *Store) LoadHeadToHead(agent1ID, agent2ID string) (*HeadToHead, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	rows, err := s.db.Query(`
        SELECT winner_id, COUNT(*) AS cnt FROM games
        WHERE (agent1_id = ? AND agent2_id = ?)
           OR (agent1_id = ? AND agent2_id = ?)
        GROUP BY winner_id`,
		agent1ID, agent2ID, agent2ID, agent1ID)
	if err != nil {
		return nil, errors.Wrap(err, errors.StorageFailed, "failed to query head-to-head stats")
	}
	defer rows.Close()

	result := &HeadToHead{}
	for rows.Next() {
		var winner *string
		var count int
		if err := rows.Scan(&winner, &count); err != nil {
			return nil, errors.Wrap(err, errors.StorageFailed, "failed to scan head-to-head row")
		}
		result.Total += count
		switch {
		case winner == nil:
			result.Draws += count
		case *winner == agent1ID:
			result.Agent1Wins += count
		case *winner == agent2ID:
			result.Agent2Wins += count
		default:
			result.Draws += count
		}
	}

	if err := rows.Err(); err != nil {
		return nil, errors.Wrap(err, errors.StorageFailed, "error iterating head-to-head rows")
	}

	return result, nil
}
