// Command pilot is the process entrypoint: it wires every collaborator
// package into one internal/loop.Loop and drives it, either behind the
// bubbletea front end (default) or the scripted readline REPL (`pilot
// repl`), mirroring cmd/gateway/main.go's mode switch adapted onto a
// cobra command tree the way the rest of this pack's CLIs are built.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"gorm.io/driver/postgres"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"

	"github.com/contextpilot/pilot/internal/cache"
	"github.com/contextpilot/pilot/internal/config"
	"github.com/contextpilot/pilot/internal/infrastructure/llm"
	_ "github.com/contextpilot/pilot/internal/infrastructure/llm/anthropic"
	"github.com/contextpilot/pilot/internal/infrastructure/logger"
	"github.com/contextpilot/pilot/internal/infrastructure/monitoring"
	"github.com/contextpilot/pilot/internal/infrastructure/sandbox"
	"github.com/contextpilot/pilot/internal/loop"
	"github.com/contextpilot/pilot/internal/memory"
	"github.com/contextpilot/pilot/internal/panel"
	"github.com/contextpilot/pilot/internal/persistence"
	"github.com/contextpilot/pilot/internal/repl"
	"github.com/contextpilot/pilot/internal/session"
	"github.com/contextpilot/pilot/internal/stream"
	"github.com/contextpilot/pilot/internal/tool"
	"github.com/contextpilot/pilot/internal/tui"
	"github.com/contextpilot/pilot/internal/watch"
)

const (
	appName    = "pilot"
	appVersion = "0.1.0"
)

func main() {
	root := &cobra.Command{
		Use:     appName,
		Short:   "A terminal context workbench for agentic coding sessions",
		Version: appVersion,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runFrontend(cmd.Context(), newTUIFrontend)
		},
	}
	root.AddCommand(&cobra.Command{
		Use:   "repl",
		Short: "Run the scripted readline REPL instead of the full-screen TUI",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runFrontend(cmd.Context(), newREPLFrontend)
		},
	})

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	if err := root.ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// frontend wires whatever InputSource/Renderer pair a mode needs, plus
// a teardown func run once Loop.Run returns.
type frontend struct {
	Input    loop.InputSource
	Renderer loop.Renderer
	Close    func()
}

type frontendFactory func(cfg *config.PilotConfig, log *zap.Logger) (frontend, error)

func newTUIFrontend(*config.PilotConfig, *zap.Logger) (frontend, error) {
	p := tui.New()
	return frontend{Input: p, Renderer: p, Close: p.Quit}, nil
}

func newREPLFrontend(cfg *config.PilotConfig, log *zap.Logger) (frontend, error) {
	r, err := repl.New(repl.Config{Model: cfg.Agent.DefaultModel, UserName: os.Getenv("USER")})
	if err != nil {
		return frontend{}, err
	}
	return frontend{Input: r, Renderer: r, Close: r.Close}, nil
}

// runFrontend loads configuration, wires every collaborator, and drives
// the loop until ctx is cancelled (Ctrl-C/SIGTERM) or the frontend asks
// it to quit.
func runFrontend(ctx context.Context, newFrontend frontendFactory) error {
	workdir, err := os.Getwd()
	if err != nil {
		return fmt.Errorf("getwd: %w", err)
	}
	cfg, err := config.Load(workdir)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	logFormat := "json"
	if config.DebugEnabled() {
		logFormat = "console"
	}
	log, err := logger.NewLogger(logger.Config{Level: cfg.Log.Level, Format: logFormat, OutputPath: "stdout"})
	if err != nil {
		return fmt.Errorf("init logger: %w", err)
	}
	defer log.Sync()

	fe, err := newFrontend(cfg, log)
	if err != nil {
		return fmt.Errorf("init frontend: %w", err)
	}
	defer fe.Close()

	l, err := wireLoop(cfg, log, fe)
	if err != nil {
		return fmt.Errorf("wire loop: %w", err)
	}

	log.Info("starting", zap.String("app", appName), zap.String("version", appVersion))
	return l.Run(ctx)
}

// wireLoop builds every collaborator package and returns a ready
// *loop.Loop. This is the module's single composition root — every
// other package stays ignorant of how its siblings are constructed.
func wireLoop(cfg *config.PilotConfig, log *zap.Logger, fe frontend) (*loop.Loop, error) {
	layout := persistence.NewLayout(cfg.Workspace)
	lock, err := persistence.Claim(layout)
	if err != nil {
		return nil, fmt.Errorf("claim session lock: %w", err)
	}

	writer := persistence.NewWriter(layout, log, 100*time.Millisecond)

	state, err := persistence.LoadState(layout)
	if err != nil {
		return nil, fmt.Errorf("load state: %w", err)
	}
	seedFixedPanels(state)

	router := llm.NewRouter(log)
	providerConfigs := append([]llm.ProviderConfig(nil), cfg.Agent.Providers...)
	llm.SortByPriority(providerConfigs)
	for _, pc := range providerConfigs {
		p, err := llm.CreateProvider(pc, log)
		if err != nil {
			return nil, fmt.Errorf("create provider %s: %w", pc.Name, err)
		}
		router.AddProvider(p)
	}

	sb, err := sandbox.NewProcessSandbox(sandbox.DefaultConfig(), log)
	if err != nil {
		return nil, fmt.Errorf("init sandbox: %w", err)
	}

	registry := panel.NewRegistry()
	registry.Register(session.PanelLogs, panel.NewLogsHandler(layout))
	registry.Register(session.PanelGithubResult, panel.NewGithubResultHandler())
	registry.Register(session.PanelTmux, panel.NewTmuxHandler())

	var memStore *memory.Store
	if cfg.Memory.Enabled {
		memStore, err = wireMemory(cfg, log)
		if err != nil {
			return nil, fmt.Errorf("init memory: %w", err)
		}
		registry.Register(session.PanelMemory, panel.NewMemoryHandler(memStore, cfg.Memory.TopK))
	}

	cacheEngine := cache.NewEngine(log, 64)

	fsWatcher, err := watch.NewFSWatcher(log)
	if err != nil {
		return nil, fmt.Errorf("init fs watcher: %w", err)
	}
	pollers := watch.NewRegistry()
	conditions := watch.NewConditionRegistry()

	tools := tool.NewInMemoryRegistry()
	policy := &tool.Policy{
		Profile:   cfg.ToolPolicy.Profile,
		AllowList: cfg.ToolPolicy.AllowList,
		DenyList:  cfg.ToolPolicy.DenyList,
		AskMode:   cfg.ToolPolicy.AskMode,
	}
	enforcer := tool.NewPolicyEnforcer(policy, tools)

	monitor := monitoring.NewMonitor(log)
	summarizer := stream.NewLLMSummarizer(stream.NewTextGeneratorAdapter(router, cfg.Agent.DefaultModel), 0)
	pipeline := stream.NewPipeline(tools, summarizer).WithPolicy(enforcer).WithMonitor(monitor)

	l := loop.NewLoop(
		state, registry, cacheEngine, fsWatcher, pollers, conditions,
		writer, lock, layout,
		stream.NewProviderAdapter(router), pipeline, tools, cfg.Pricing.ToTable(),
		fe.Input, fe.Renderer, nil, log,
		cfg.Agent.DefaultModel, defaultSystemPrompt,
	)
	l.ToolPolicy = enforcer
	l.Callbacks = toLoopRules(cfg)
	l.Monitor = monitor
	registerBuiltinTools(tools, sb, l, log)

	return l, nil
}

func wireMemory(cfg *config.PilotConfig, log *zap.Logger) (*memory.Store, error) {
	embedder, err := memory.NewOllamaEmbedder(cfg.Memory.OllamaURL, cfg.Memory.EmbedModel, log)
	if err != nil {
		return nil, fmt.Errorf("init embedder: %w", err)
	}
	vectors, err := memory.NewLanceStore(cfg.Memory.StorePath, embedder.Dimension(), log)
	if err != nil {
		return nil, fmt.Errorf("init vector store: %w", err)
	}
	var dialector gorm.Dialector
	if cfg.Memory.DBDriver == "postgres" {
		dialector = postgres.Open(cfg.Memory.DBDSN)
	} else {
		dialector = sqlite.Open(cfg.Memory.DBDSN)
	}
	db, err := gorm.Open(dialector, &gorm.Config{})
	if err != nil {
		return nil, fmt.Errorf("open memory db: %w", err)
	}
	return memory.NewStore(vectors, db, embedder, log), nil
}

func toLoopRules(cfg *config.PilotConfig) []loop.CallbackRule {
	return cfg.CallbackRules()
}

// registerBuiltinTools registers every default tool, wiring the ones
// that need to reach back into the loop's collaborators through the
// narrow notifier/registrar/pager interfaces tool.builtins.go defines.
func registerBuiltinTools(tools *tool.InMemoryRegistry, sb *sandbox.ProcessSandbox, l *loop.Loop, log *zap.Logger) {
	_ = tools.Register(tool.ReadFileTool{})
	_ = tools.Register(tool.NewWriteFileTool(l))
	_ = tools.Register(tool.NewEditFileTool(l))
	_ = tools.Register(tool.NewBashTool(sb, log))
	_ = tools.Register(tool.NewAskUserTool(l))
	_ = tools.Register(tool.NewPanelGotoPageTool(l))
	_ = tools.Register(tool.NewConsoleWaitTool(l))
}

const defaultSystemPrompt = `You are an agentic coding assistant working inside a live, ` +
	`streaming context workbench. Panels in your context are refreshed on their own ` +
	`schedule; cite them by their bracketed id when you reference their content.`

// seedFixedPanels installs the singleton panels a brand-new session
// always carries (§3.1's fixed-panel invariant) when state.Context is
// still empty — a restart instead restores whatever panel set
// LoadState recovered verbatim.
func seedFixedPanels(s *session.State) {
	if len(s.Context) > 0 {
		return
	}
	for _, t := range []session.PanelType{
		session.PanelConversation,
		session.PanelOverview,
		session.PanelTodo,
		session.PanelSpine,
		session.PanelTools,
		session.PanelLogs,
		session.PanelScratchpad,
	} {
		id, uid := s.IDs.Next(session.KindPanel)
		s.Context = append(s.Context, session.NewPanel(id, uid, t, string(t)))
	}
}
