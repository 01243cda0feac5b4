package policy

// Action is the closed set of moves an agent can take on its turn. Wire
// and storage formats use the string value directly.
type Action string

const (
	ActionAttack    Action = "attack"
	ActionDefend    Action = "defend"
	ActionCastSpell Action = "cast_spell"
	ActionUseItem   Action = "use_item"
	ActionNegotiate Action = "negotiate"
	ActionFlee      Action = "flee"
	ActionTaunt     Action = "taunt"
	ActionObserve   Action = "observe"
)

// AllActions returns every action in a fixed iteration order.
func AllActions() []Action {
	return []Action{
		ActionAttack, ActionDefend, ActionCastSpell, ActionUseItem,
		ActionNegotiate, ActionFlee, ActionTaunt, ActionObserve,
	}
}

// ParseAction maps a wire string onto the closed action set.
func ParseAction(s string) (Action, bool) {
	switch Action(s) {
	case ActionAttack, ActionDefend, ActionCastSpell, ActionUseItem,
		ActionNegotiate, ActionFlee, ActionTaunt, ActionObserve:
		return Action(s), true
	}
	return "", false
}

func (a Action) String() string { return string(a) }
