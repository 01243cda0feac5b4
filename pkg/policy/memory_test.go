package policy

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Alb4don/RPGAgentArena/pkg/config"
	"github.com/Alb4don/RPGAgentArena/pkg/storage"
)

func newTestMemory(t *testing.T) *Memory {
	t.Helper()
	store, err := storage.Open(filepath.Join(t.TempDir(), "arena.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })
	return NewMemory(store, config.Default().Memory)
}

func TestStateRoundTrip(t *testing.T) {
	mem := newTestMemory(t)

	s := NewState("a1", "Kara", "warrior")
	s.Level = 3
	s.Wins = 7
	s.Losses = 2
	s.DamageDealt = 412
	s.DamageTaken = 188
	s.RecordActionOutcome(ActionAttack, true)
	s.RecordActionOutcome(ActionDefend, false)
	s.UpdateBandit(ActionAttack, 0.7)
	s.UpdateBandit(ActionCastSpell, 0.3)
	s.UpdateOpponentModel("orc_brute", ActionCastSpell, true)
	s.UpdateOpponentModel("orc_brute", ActionNegotiate, false)

	require.NoError(t, mem.SaveState(s))

	loaded, err := mem.LoadState("a1")
	require.NoError(t, err)
	require.NotNil(t, loaded)
	assert.Equal(t, s, loaded)
}

func TestLoadStateMissingAgent(t *testing.T) {
	mem := newTestMemory(t)
	loaded, err := mem.LoadState("nobody")
	require.NoError(t, err)
	assert.Nil(t, loaded)
}

func TestRecallSimilarEmptyLog(t *testing.T) {
	mem := newTestMemory(t)
	recalled, err := mem.RecallSimilar("a1", "surrounded by wolves at night")
	require.NoError(t, err)
	assert.Empty(t, recalled)
}

func TestRecallSimilarRanksAndFilters(t *testing.T) {
	mem := newTestMemory(t)

	require.NoError(t, mem.RecordEpisode("a1",
		"cornered by an orc at low health in the swamp",
		ActionFlee, 0.8, "orc", "swamp"))
	require.NoError(t, mem.RecordEpisode("a1",
		"quiet negotiation with a merchant in town",
		ActionNegotiate, 0.4, "merchant", "town"))

	recalled, err := mem.RecallSimilar("a1", "cornered by an orc at low health in the swamp")
	require.NoError(t, err)
	require.NotEmpty(t, recalled)

	assert.Equal(t, ActionFlee, recalled[0].Action)
	assert.InDelta(t, 1.0, recalled[0].Similarity, 1e-9)
	for i := 1; i < len(recalled); i++ {
		assert.LessOrEqual(t, recalled[i].Similarity, recalled[i-1].Similarity)
	}
	for _, r := range recalled {
		assert.GreaterOrEqual(t, r.Similarity, 0.25)
	}
}

func TestRecallSimilarIsolatedPerAgent(t *testing.T) {
	mem := newTestMemory(t)

	require.NoError(t, mem.RecordEpisode("a1",
		"ambushed on the forest road", ActionDefend, 0.6, "bandit", "forest"))

	recalled, err := mem.RecallSimilar("a2", "ambushed on the forest road")
	require.NoError(t, err)
	assert.Empty(t, recalled)
}

func TestRecordEpisodeClipsLongSituation(t *testing.T) {
	mem := newTestMemory(t)

	long := make([]byte, 900)
	for i := range long {
		long[i] = 'x'
	}
	require.NoError(t, mem.RecordEpisode("a1", "ambush "+string(long),
		ActionObserve, 0.1, "bandit", "forest"))

	recalled, err := mem.RecallSimilar("a1", "ambush "+string(long))
	require.NoError(t, err)
	require.NotEmpty(t, recalled)
	assert.Len(t, recalled[0].Situation, maxStoredSituation)
}
