package arena

import (
	"fmt"
	"math/rand"
	"strings"

	"github.com/Alb4don/RPGAgentArena/pkg/agent"
	"github.com/Alb4don/RPGAgentArena/pkg/policy"
	"github.com/Alb4don/RPGAgentArena/pkg/storage"
)

// Fighter is an agent's in-game body: hit points, mana and items. The
// arena mutates it as turns resolve; the agent only ever sees the
// read-only Combatant view.
type Fighter struct {
	Agent *agent.Agent

	HP    int
	MaxHP int
	MP    int
	MaxMP int
	Items []string
}

// NewFighter gives the agent a standard body.
func NewFighter(a *agent.Agent) *Fighter {
	return &Fighter{Agent: a, HP: 100, MaxHP: 100, MP: 50, MaxMP: 50}
}

func (f *Fighter) Alive() bool { return f.HP > 0 }

// combatantView adapts a Fighter to the decision layer's read-only view.
type combatantView struct{ f *Fighter }

func (v combatantView) ID() string    { return v.f.Agent.ID }
func (v combatantView) Name() string  { return v.f.Agent.AgentName }
func (v combatantView) Class() string { return v.f.Agent.Class }
func (v combatantView) HPPercent() float64 {
	if v.f.MaxHP <= 0 {
		return 0
	}
	return float64(v.f.HP) / float64(v.f.MaxHP)
}
func (v combatantView) MP() (int, int)        { return v.f.MP, v.f.MaxMP }
func (v combatantView) UsableItems() []string { return v.f.Items }

// Battle tracks one game in progress and implements the decision layer's
// BattleState view.
type Battle struct {
	environment string
	weather     string
	round       int
	maxRounds   int
	log         []storage.TurnLogEntry
}

func NewBattle(environment, weather string, maxRounds int) *Battle {
	return &Battle{environment: environment, weather: weather, maxRounds: maxRounds}
}

func (b *Battle) Environment() string { return b.environment }
func (b *Battle) Weather() string     { return b.weather }
func (b *Battle) Round() (int, int)   { return b.round, b.maxRounds }

func (b *Battle) RecentSummary(turnsBack int) string {
	if len(b.log) == 0 {
		return "The battle has just begun."
	}
	recent := b.log
	if len(recent) > turnsBack {
		recent = recent[len(recent)-turnsBack:]
	}
	lines := make([]string, 0, len(recent))
	for _, e := range recent {
		lines = append(lines, fmt.Sprintf("Round %d -- %s: %s", e.Round, e.Agent, e.Narration))
	}
	return strings.Join(lines, "\n")
}

func (b *Battle) TurnLog() []storage.TurnLogEntry {
	return b.log
}

func (b *Battle) logTurn(agentName string, action policy.Action, narration string, damage int) {
	b.log = append(b.log, storage.TurnLogEntry{
		Round:     b.round,
		Agent:     agentName,
		Action:    string(action),
		Narration: narration,
		Damage:    damage,
	})
}

// Environment is one battlefield flavor pairing.
type Environment struct {
	Name    string
	Weather string
}

// Environments is the fixed battlefield roster.
var Environments = []Environment{
	{"ancient ruins", "stormy night"},
	{"enchanted forest", "misty dawn"},
	{"volcanic crater", "scorching noon"},
	{"frozen tundra", "blizzard"},
	{"haunted castle", "moonless midnight"},
	{"sky fortress", "thunderstorm"},
	{"sunken temple", "eerie calm"},
	{"desert canyon", "blazing heat"},
}

// RandomEnvironment picks a battlefield. The package-level source is safe
// for concurrent matches.
func RandomEnvironment() Environment {
	return Environments[rand.Intn(len(Environments))]
}
