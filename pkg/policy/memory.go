package policy

import (
	"sort"

	"github.com/Alb4don/RPGAgentArena/pkg/config"
	"github.com/Alb4don/RPGAgentArena/pkg/storage"
)

// maxStoredSituation caps how much situation text one episode row carries.
const maxStoredSituation = 500

// Recalled is one past episode surfaced by similarity search.
type Recalled struct {
	Situation  string
	Action     Action
	Outcome    float64
	Similarity float64
}

// Memory is the durable side of the policy layer: it loads and saves agent
// states and runs episodic recall over the append-only episode log.
type Memory struct {
	store *storage.Store
	cfg   config.MemoryConfig
}

// NewMemory wires the policy layer to its store.
func NewMemory(store *storage.Store, cfg config.MemoryConfig) *Memory {
	return &Memory{store: store, cfg: cfg}
}

// LoadState returns the agent's saved state, or nil if none exists yet.
func (m *Memory) LoadState(agentID string) (*State, error) {
	rec, err := m.store.LoadAgent(agentID)
	if err != nil {
		return nil, err
	}
	if rec == nil {
		return nil, nil
	}
	return stateFromRecord(rec), nil
}

// SaveState flushes the full state as one unit. Callers batch mutations
// and save once at the end of the batch.
func (m *Memory) SaveState(s *State) error {
	return m.store.SaveAgent(s.toRecord())
}

// RecordEpisode appends one (situation, action, outcome) tuple with its
// embedding. Episodes are immutable once written.
func (m *Memory) RecordEpisode(agentID, situation string, action Action, outcome float64, opponentClass, environment string) error {
	if len(situation) > maxStoredSituation {
		situation = situation[:maxStoredSituation]
	}
	return m.store.AppendEpisode(&storage.EpisodeRecord{
		AgentID:       agentID,
		Situation:     situation,
		Embedding:     EmbedText(situation),
		Action:        string(action),
		Outcome:       outcome,
		OpponentClass: opponentClass,
		Environment:   environment,
	})
}

// RecallSimilar finds past episodes resembling the current situation:
// the most recent window of episodes is scored by cosine similarity
// against the query embedding, filtered by the similarity floor, and the
// top k returned in descending similarity order. An empty log yields an
// empty result, never an error.
func (m *Memory) RecallSimilar(agentID, situation string) ([]Recalled, error) {
	episodes, err := m.store.RecentEpisodes(agentID, m.cfg.RecallWindow)
	if err != nil {
		return nil, err
	}

	query := EmbedText(situation)
	var scored []Recalled
	for _, ep := range episodes {
		sim := CosineSimilarity(query, ep.Embedding)
		if sim < m.cfg.MinSimilarity {
			continue
		}
		action, ok := ParseAction(ep.Action)
		if !ok {
			continue
		}
		scored = append(scored, Recalled{
			Situation:  ep.Situation,
			Action:     action,
			Outcome:    ep.Outcome,
			Similarity: sim,
		})
	}

	sort.SliceStable(scored, func(i, j int) bool {
		return scored[i].Similarity > scored[j].Similarity
	})
	if len(scored) > m.cfg.RecallTopK {
		scored = scored[:m.cfg.RecallTopK]
	}
	return scored, nil
}
