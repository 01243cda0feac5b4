package agent

import (
	"context"
	"fmt"
	"math/rand"
	"regexp"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/Alb4don/RPGAgentArena/pkg/config"
	"github.com/Alb4don/RPGAgentArena/pkg/errors"
	"github.com/Alb4don/RPGAgentArena/pkg/evolution"
	"github.com/Alb4don/RPGAgentArena/pkg/llm"
	"github.com/Alb4don/RPGAgentArena/pkg/logging"
	"github.com/Alb4don/RPGAgentArena/pkg/policy"
	"github.com/Alb4don/RPGAgentArena/pkg/storage"
)

const (
	// Conversation trimming: above maxConversation messages, keep the
	// most recent keepConversation.
	maxConversation  = 22
	keepConversation = 18

	// maxResponseLen clamps raw model output before parsing.
	maxResponseLen = 1200
	// maxNarrationLen clamps the narration handed back to the caller.
	maxNarrationLen = 450
	// maxEpisodeSituation caps how much situation text an episode keeps.
	maxEpisodeSituation = 400

	rateLimitCalls  = 20
	rateLimitWindow = 60 * time.Second
)

var (
	actionPattern = regexp.MustCompile(`(?i)ACTION:\s*(\w+)`)
	spacePattern  = regexp.MustCompile(`\s+`)
)

var pauses = []string{
	"...",
	"*steadies breathing*",
	"*reads the room*",
	"*narrows eyes*",
	"*rolls a shoulder*",
	"*watches carefully*",
	"*shifts weight*",
	"*jaw sets*",
}

// Agent is one self-improving fighter: it owns a policy state, an episodic
// memory, a prompt pool and a bounded conversation, and exposes the three
// operations the simulation layer drives it with. An Agent belongs to one
// decision loop and is not safe for concurrent use; the pool and store it
// shares with other agents are.
type Agent struct {
	ID          string
	AgentName   string
	Class       string
	UseThinking bool

	state     *policy.State
	memory    *policy.Memory
	engine    *evolution.Engine
	completer llm.Completer
	gen       config.GenerationConfig
	limiter   *rateLimiter
	rng       *rand.Rand

	conversation  []llm.Message
	baseSystem    string
	lastSituation string
	lastAction    policy.Action
}

// Options tunes agent construction.
type Options struct {
	// AgentID pins a stable identity; empty generates one.
	AgentID string
	// UseThinking switches decision calls to extended thinking mode.
	UseThinking bool
}

// New loads or creates the agent's durable state, builds its base system
// prompt from that state, and seeds the prompt pool if it is empty.
func New(store *storage.Store, completer llm.Completer, cfg *config.Config, name, class string, opts Options) (*Agent, error) {
	agentID := opts.AgentID
	if agentID == "" {
		agentID = uuid.NewString()[:12]
	}

	memory := policy.NewMemory(store, cfg.Memory)
	state, err := memory.LoadState(agentID)
	if err != nil {
		return nil, err
	}
	if state == nil {
		state = policy.NewState(agentID, name, class)
		if err := memory.SaveState(state); err != nil {
			return nil, err
		}
	}

	engine, err := evolution.NewEngine(store, completer, cfg.Evolution, agentID, name, class)
	if err != nil {
		return nil, err
	}

	a := &Agent{
		ID:          agentID,
		AgentName:   name,
		Class:       class,
		UseThinking: opts.UseThinking,
		state:       state,
		memory:      memory,
		engine:      engine,
		completer:   completer,
		gen:         cfg.LLM.Generation,
		limiter:     newRateLimiter(rateLimitCalls, rateLimitWindow),
		rng:         rand.New(rand.NewSource(time.Now().UnixNano())),
	}
	a.baseSystem = a.buildBaseSystem()

	if !engine.HasCandidates() {
		if err := engine.SeedInitial(a.baseSystem); err != nil {
			return nil, err
		}
	}
	return a, nil
}

// buildBaseSystem renders the agent's standing instruction prompt from its
// accumulated record. This is the generation-zero candidate; evolved
// variants replace it over time.
func (a *Agent) buildBaseSystem() string {
	prefs := a.state.PreferredActions()
	prefStr := "reading every situation fresh"
	if len(prefs) > 0 {
		names := make([]string, len(prefs))
		for i, p := range prefs {
			names[i] = string(p)
		}
		prefStr = strings.Join(names, ", ")
	}

	winRate := a.state.WinRate()
	games := a.state.Wins + a.state.Losses

	var mood string
	switch {
	case winRate > 0.65:
		mood = "You carry yourself with quiet confidence -- not arrogance. " +
			"Just the certainty of someone who has been here before and walked away."
	case winRate < 0.38 && games > 2:
		mood = "You have lost more than you have won lately. " +
			"There is an edge to you now -- something to prove, something to reclaim."
	default:
		mood = "You are unpredictable. That is your edge. " +
			"Every fight gets your complete attention. No assumptions."
	}

	return fmt.Sprintf(
		"You are %s, a %s locked in a fight for survival.\n\n"+
			"%s\n\n"+
			"Hard-won tendencies: %s\n"+
			"%s\n"+
			"Record: %dW / %dL\n\n"+
			"You think and speak like a person in danger -- not a game controller. "+
			"Your inner voice is raw, direct, alive. "+
			"You adapt mid-fight. You bluff when it makes sense. "+
			"You get rattled when you should, ruthless when you can.\n\n"+
			"VOICE:\n"+
			"- One or two sentences of real in-the-moment thought before you act\n"+
			"- Never say 'Certainly', 'Let me', 'As a', 'I will now'\n"+
			"- Translate game-feel into body-feel: not 'low HP' but 'everything hurts when I breathe'\n"+
			"- Rhythm: short hit. Something longer that earns it. Short again.\n"+
			"- When winning, don't crow. When hurting, don't whine. Just fight.\n\n"+
			"ACTIONS: attack, defend, cast_spell, use_item, negotiate, flee, taunt, observe\n\n"+
			"End every response with: ACTION: <action_name>\n\n"+
			"Play to win. But a fight can turn on anything.",
		a.AgentName, a.Class, mood, prefStr, a.state.UCBSummary(), a.state.Wins, a.state.Losses)
}

// activeSystem returns the evolved prompt when one is selectable, the base
// prompt otherwise.
func (a *Agent) activeSystem() string {
	prompt, err := a.engine.ActivePrompt()
	if err != nil {
		return a.baseSystem
	}
	return prompt
}

// Decide produces the agent's next action and in-character narration.
// Every failure mode degrades to a deterministic fallback; a bad model
// response never aborts a running episode.
func (a *Agent) Decide(ctx context.Context, self, opponent Combatant, battle BattleState) (policy.Action, string) {
	logger := logging.GetLogger()
	ctx = logging.WithAgentID(ctx, a.ID)

	if !a.limiter.Allow(a.ID) {
		fallback, ok := a.state.BestAction([]policy.Action{
			policy.ActionAttack, policy.ActionDefend, policy.ActionObserve,
		})
		if !ok {
			fallback = policy.ActionAttack
		}
		logger.Debug(ctx, "rate limited, falling back to %s", fallback)
		return fallback, fmt.Sprintf("%s %s trusts instinct.", a.pause(), a.AgentName)
	}

	situation := a.buildSituation(ctx, self, opponent, battle)
	a.conversation = append(a.conversation, llm.Message{Role: llm.RoleUser, Content: situation})
	if len(a.conversation) > maxConversation {
		a.conversation = a.conversation[len(a.conversation)-keepConversation:]
	}

	req := llm.Request{
		System:      a.activeSystem(),
		Messages:    a.conversation,
		MaxTokens:   a.gen.MaxTokens,
		Temperature: a.gen.Temperature,
	}
	if a.UseThinking {
		req.Thinking = true
		req.ThinkingBudget = a.gen.ThinkingBudget
	}

	var text string
	resp, err := a.completer.Complete(ctx, req)
	switch {
	case err == nil:
		text = sanitizeResponse(resp.Text)
	case errors.Code(err) == errors.InvalidResponse:
		logger.Warn(ctx, "unusable model response: %v", err)
		text = fmt.Sprintf("%s holds position. ACTION: defend", a.AgentName)
	default:
		logger.Warn(ctx, "decision call failed: %v", err)
		text = fmt.Sprintf("%s presses forward. ACTION: attack", a.AgentName)
	}

	a.conversation = append(a.conversation, llm.Message{Role: llm.RoleAssistant, Content: text})

	action := a.parseAction(text)
	narration := a.parseNarration(text)

	a.lastAction = action
	a.state.RecordActionOutcome(action, true)

	return action, narration
}

// buildSituation renders the current battlefield into the prose the model
// decides from: body-feel HP buckets, opponent read, recalled episodes,
// bandit hint and the recent log.
func (a *Agent) buildSituation(ctx context.Context, self, opponent Combatant, battle BattleState) string {
	var myFeel string
	switch pct := self.HPPercent(); {
	case pct > 0.78:
		myFeel = "Still strong. You have barely broken a sweat."
	case pct > 0.52:
		myFeel = "Taken some hits. Manageable, but you feel every one."
	case pct > 0.27:
		myFeel = "Hurting. Breathing costs something now."
	default:
		myFeel = "One bad moment from the ground. Everything is urgent."
	}

	var theirFeel string
	switch pct := opponent.HPPercent(); {
	case pct > 0.78:
		theirFeel = fmt.Sprintf("%s looks untouched. Still fully dangerous.", opponent.Name())
	case pct > 0.52:
		theirFeel = fmt.Sprintf("%s is bleeding but holding it together.", opponent.Name())
	case pct > 0.27:
		theirFeel = fmt.Sprintf("%s is flagging -- you can see it in the eyes.", opponent.Name())
	default:
		theirFeel = fmt.Sprintf("%s is almost done. Do not let up.", opponent.Name())
	}

	items := itemsLine(self.UsableItems())

	oppInsight := a.state.OpponentInsight(opponent.ID())
	insightLine := ""
	if oppInsight != "" {
		insightLine = "Known from past fights: " + oppInsight
	}

	recallQuery := fmt.Sprintf("%s opponent:%s env:%s", myFeel, theirFeel, battle.Environment())
	recalled, err := a.memory.RecallSimilar(a.ID, recallQuery)
	if err != nil {
		logging.GetLogger().Warn(ctx, "episodic recall failed for %s: %v", a.ID, err)
	}
	memoryHint := ""
	if len(recalled) > 0 {
		hints := make([]string, 0, len(recalled))
		for _, ep := range recalled {
			verdict := "backfired"
			if ep.Outcome > 0.3 {
				verdict = "worked"
			}
			hints = append(hints, fmt.Sprintf("%s %s in a similar spot", ep.Action, verdict))
		}
		memoryHint = "Memory: " + strings.Join(hints, "; ") + "."
	}

	ucbHint := ""
	if best, ok := a.state.BestAction(policy.AllActions()); ok {
		ucbHint = fmt.Sprintf("Your data says %s has the highest expected value.", best)
	}

	round, maxRounds := battle.Round()
	mp, maxMP := self.MP()

	situation := fmt.Sprintf(
		"Setting: %s -- %s\n"+
			"Round %d/%d\n\n"+
			"YOU: %s MP: %d/%d. Carrying: %s.\n"+
			"THEM: %s Class: %s.\n"+
			"%s\n%s\n%s\n\n"+
			"RECENT:\n%s\n\n"+
			"What do you do? Think briefly, then act. End with: ACTION: <action_name>",
		battle.Environment(), battle.Weather(),
		round, maxRounds,
		myFeel, mp, maxMP, items,
		theirFeel, opponent.Class(),
		insightLine, memoryHint, ucbHint,
		battle.RecentSummary(5))

	a.lastSituation = situation
	return situation
}

// RecordTurnOutcome feeds one resolved turn back into the bandit and the
// episodic log. Damage normalizes to a [0,1] reward at 30 damage.
func (a *Agent) RecordTurnOutcome(damageDealt int, opponentClass, environment string) {
	if a.lastAction == "" {
		return
	}

	outcome := min(1.0, float64(damageDealt)/30.0)
	a.state.UpdateBandit(a.lastAction, outcome)

	if a.lastSituation == "" {
		return
	}
	situation := a.lastSituation
	if len(situation) > maxEpisodeSituation {
		situation = situation[:maxEpisodeSituation]
	}
	if err := a.memory.RecordEpisode(a.ID, situation, a.lastAction, outcome, opponentClass, environment); err != nil {
		logging.GetLogger().Error(context.Background(), "failed to record episode for %s: %v", a.ID, err)
	}
}

// PostGameReflect closes out a finished game: tallies the result into the
// policy state, feeds the prompt pool, and asks the model for a short
// in-character reflection. The reflection is flavor; every learning path
// completes even when the call fails.
func (a *Agent) PostGameReflect(ctx context.Context, won bool, opponentID string, battle BattleState, totalDamageDealt int) string {
	logger := logging.GetLogger()
	ctx = logging.WithAgentID(ctx, a.ID)

	if won {
		a.state.Wins++
	} else {
		a.state.Losses++
	}

	for _, entry := range battle.TurnLog() {
		action, ok := policy.ParseAction(entry.Action)
		if !ok {
			continue
		}
		if entry.Agent == a.AgentName {
			a.state.RecordActionOutcome(action, entry.Damage > 15)
			a.state.DamageDealt += entry.Damage
			reward := min(1.0, float64(entry.Damage)/30.0)
			if won {
				reward += 0.3
			}
			a.state.UpdateBandit(action, reward)
		} else {
			a.state.DamageTaken += entry.Damage
			if entry.Damage > 0 {
				a.state.UpdateOpponentModel(opponentID, action, entry.Damage > 20)
			}
		}
	}

	if err := a.memory.SaveState(a.state); err != nil {
		logger.Error(ctx, "failed to save policy state for %s: %v", a.ID, err)
	}

	round, _ := battle.Round()
	summary := battle.RecentSummary(8)
	if err := a.engine.RecordGameResult(ctx, won, totalDamageDealt, round, summary); err != nil {
		logger.Error(ctx, "failed to record game result for %s: %v", a.ID, err)
	}

	outcome := "lost"
	if won {
		outcome = "won"
	}
	reflect := fmt.Sprintf(
		"The fight is over. You %s.\n\n"+
			"What happened:\n%s\n\n"+
			"Two sentences. What did you actually learn? "+
			"What shifts next time? Speak as yourself -- not a report. Real.",
		outcome, summary)

	a.conversation = append(a.conversation, llm.Message{Role: llm.RoleUser, Content: reflect})

	window := a.conversation
	if len(window) > 8 {
		window = window[len(window)-8:]
	}

	resp, err := a.completer.Complete(ctx, llm.Request{
		System:      a.activeSystem(),
		Messages:    window,
		MaxTokens:   150,
		Temperature: 0.92,
	})
	if err != nil {
		logger.Debug(ctx, "reflection call failed: %v", err)
		if won {
			return "Noted. Adjusting."
		}
		return "That cost me. Won't happen the same way."
	}

	text := sanitizeResponse(resp.Text)
	if len(text) > 600 {
		text = text[:600]
	}
	a.conversation = append(a.conversation, llm.Message{Role: llm.RoleAssistant, Content: text})
	return text
}

// parseAction extracts the action tag with deterministic fallbacks: the
// explicit tag, then any action name mentioned in the text, then the
// bandit's best arm, then attack.
func (a *Agent) parseAction(response string) policy.Action {
	if match := actionPattern.FindStringSubmatch(response); match != nil {
		if action, ok := policy.ParseAction(strings.ToLower(match[1])); ok {
			return action
		}
	}

	lower := strings.ToLower(response)
	for _, action := range policy.AllActions() {
		if strings.Contains(lower, string(action)) {
			return action
		}
	}

	if best, ok := a.state.BestAction(policy.AllActions()); ok {
		return best
	}
	return policy.ActionAttack
}

// parseNarration strips the action tag and collapses whitespace.
func (a *Agent) parseNarration(response string) string {
	cleaned := actionPattern.ReplaceAllString(response, "")
	cleaned = strings.TrimSpace(spacePattern.ReplaceAllString(cleaned, " "))
	if cleaned == "" {
		return a.AgentName + " moves."
	}
	if len(cleaned) > maxNarrationLen {
		cleaned = cleaned[:maxNarrationLen]
	}
	return cleaned
}

func (a *Agent) pause() string {
	return pauses[a.rng.Intn(len(pauses))]
}

// sanitizeResponse clamps length and strips control characters so the
// narration parser sees clean text.
func sanitizeResponse(text string) string {
	if len(text) > maxResponseLen {
		text = text[:maxResponseLen]
	}
	var sb strings.Builder
	sb.Grow(len(text))
	for _, r := range text {
		if r == '\n' || r == '\t' || r >= 0x20 && r != 0x7f {
			sb.WriteRune(r)
		}
	}
	return strings.TrimSpace(sb.String())
}

func itemsLine(items []string) string {
	if len(items) == 0 {
		return "nothing left in the bag"
	}
	return strings.Join(items, ", ")
}
