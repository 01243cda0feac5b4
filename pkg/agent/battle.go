package agent

import (
	"github.com/Alb4don/RPGAgentArena/pkg/storage"
)

// Combatant is the read-only view of a fighter the decision layer needs.
// Combat resolution itself lives with the caller.
type Combatant interface {
	// ID is the stable identity used for opponent modeling; falls back
	// to the display name for characters without one.
	ID() string
	Name() string
	Class() string
	HPPercent() float64
	MP() (current, maximum int)
	UsableItems() []string
}

// BattleState is the read-only view of an in-progress game.
type BattleState interface {
	Environment() string
	Weather() string
	Round() (current, maximum int)

	// RecentSummary renders the last turnsBack log entries as prose,
	// newest last. With no entries it describes a fresh battle.
	RecentSummary(turnsBack int) string

	// TurnLog returns the full per-turn log of the game so far.
	TurnLog() []storage.TurnLogEntry
}
