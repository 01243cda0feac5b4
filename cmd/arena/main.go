package main

import (
	"context"
	"flag"
	"fmt"
	"math/rand"
	"os"
	"os/signal"
	"syscall"

	"github.com/Alb4don/RPGAgentArena/pkg/agent"
	"github.com/Alb4don/RPGAgentArena/pkg/arena"
	"github.com/Alb4don/RPGAgentArena/pkg/config"
	"github.com/Alb4don/RPGAgentArena/pkg/credentials"
	"github.com/Alb4don/RPGAgentArena/pkg/llm"
	"github.com/Alb4don/RPGAgentArena/pkg/logging"
	"github.com/Alb4don/RPGAgentArena/pkg/policy"
	"github.com/Alb4don/RPGAgentArena/pkg/storage"
)

func main() {
	var (
		configPath = flag.String("config", "", "path to a YAML config file")
		name1      = flag.String("name1", "Kira", "agent 1 name")
		name2      = flag.String("name2", "Vorn", "agent 2 name")
		class1     = flag.String("class1", "Rogue", "agent 1 class")
		class2     = flag.String("class2", "Berserker", "agent 2 class")
		id1        = flag.String("id1", "", "resume agent 1 by saved ID")
		id2        = flag.String("id2", "", "resume agent 2 by saved ID")
		games      = flag.Int("games", 1, "number of games to play")
		maxRounds  = flag.Int("rounds", 20, "round cap per game")
		thinking   = flag.Bool("thinking", false, "extended thinking mode for both agents")
		status     = flag.Bool("status", false, "show credential status and exit")
	)
	flag.Parse()

	if err := run(*configPath, *name1, *name2, *class1, *class2, *id1, *id2,
		*games, *maxRounds, *thinking, *status); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func run(configPath, name1, name2, class1, class2, id1, id2 string, games, maxRounds int, thinking, statusOnly bool) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}

	outputs := []logging.Output{logging.NewConsoleOutput(true)}
	if cfg.Logging.FilePath != "" {
		fileOut, err := logging.NewFileOutput(cfg.Logging.FilePath)
		if err != nil {
			return err
		}
		outputs = append(outputs, fileOut)
	}
	logging.SetLogger(logging.NewLogger(logging.Config{
		Severity: logging.ParseSeverity(cfg.Logging.Level),
		Outputs:  outputs,
	}))

	pool, err := credentials.NewPool(cfg.Credentials)
	if err != nil {
		return err
	}
	printKeyStatus(pool)
	if statusOnly {
		return nil
	}

	store, err := storage.Open(cfg.Storage.Path)
	if err != nil {
		return err
	}
	defer store.Close()

	client := llm.NewClient(pool, cfg.LLM)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	agent1, err := agent.New(store, client, cfg, name1, class1,
		agent.Options{AgentID: id1, UseThinking: thinking})
	if err != nil {
		return err
	}
	agent2, err := agent.New(store, client, cfg, name2, class2,
		agent.Options{AgentID: id2, UseThinking: thinking})
	if err != nil {
		return err
	}

	h2h, err := store.LoadHeadToHead(agent1.ID, agent2.ID)
	if err != nil {
		return err
	}
	if h2h.Total > 0 {
		fmt.Printf("All-time H2H %s vs %s: %d-%d-%d (W-W-D)\n",
			agent1.AgentName, agent2.AgentName, h2h.Agent1Wins, h2h.Agent2Wins, h2h.Draws)
	}

	a := arena.New(store, basicResolver, maxRounds)
	series, err := a.RunSeries(ctx, agent1, agent2, games)
	if err != nil {
		return err
	}

	fmt.Println("\nSERIES RESULT")
	fmt.Printf("  %s: %d\n", agent1.AgentName, series.Wins[agent1.ID])
	fmt.Printf("  %s: %d\n", agent2.AgentName, series.Wins[agent2.ID])
	fmt.Printf("  Draws: %d\n", series.Draws)

	printCostSummary(pool)

	fmt.Println("\nAgent IDs (use -id1 / -id2 to resume in future sessions):")
	fmt.Printf("  %s: %s\n", agent1.AgentName, agent1.ID)
	fmt.Printf("  %s: %s\n", agent2.AgentName, agent2.ID)
	return nil
}

// basicResolver is a placeholder damage model so the binary runs
// end-to-end; serious simulations plug in their own.
func basicResolver(action policy.Action, _, _ *arena.Fighter, _ int) int {
	switch action {
	case policy.ActionAttack:
		return 10 + rand.Intn(13)
	case policy.ActionCastSpell:
		return 8 + rand.Intn(21)
	case policy.ActionTaunt:
		return rand.Intn(4)
	default:
		return 0
	}
}

func printKeyStatus(pool *credentials.Pool) {
	summaries := pool.Summaries()
	fmt.Printf("API keys loaded: %d\n", len(summaries))
	for _, s := range summaries {
		status := "ready"
		if !s.Available {
			status = "unavailable"
		}
		fmt.Printf("  [%s] health=%.2f budget_left=$%.2f status=%s\n",
			s.Alias, s.Health, s.BudgetRemainingUSD, status)
	}
}

func printCostSummary(pool *credentials.Pool) {
	total := pool.TotalCostUSD()
	if total <= 0.0001 {
		return
	}
	fmt.Printf("\nCost this session: ~$%.5f USD\n", total)
	for _, s := range pool.Summaries() {
		if s.TokensIn == 0 {
			continue
		}
		fmt.Printf("  [%s] in=%d out=%d cost=$%.5f budget_left=$%.5f\n",
			s.Alias, s.TokensIn, s.TokensOut, s.CostUSD, s.BudgetRemainingUSD)
	}
}
