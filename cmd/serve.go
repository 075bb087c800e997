package cmd

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"strings"

	"github.com/google/uuid"

	"github.com/nextlevelbuilder/xbot/internal/agent"
	"github.com/nextlevelbuilder/xbot/internal/bus"
	"github.com/nextlevelbuilder/xbot/internal/config"
	"github.com/nextlevelbuilder/xbot/internal/heartbeat"
	"github.com/nextlevelbuilder/xbot/internal/mcp"
	"github.com/nextlevelbuilder/xbot/internal/prompt"
	"github.com/nextlevelbuilder/xbot/internal/providers"
	"github.com/nextlevelbuilder/xbot/internal/scheduler"
	"github.com/nextlevelbuilder/xbot/internal/skills"
	"github.com/nextlevelbuilder/xbot/internal/state"
	"github.com/nextlevelbuilder/xbot/internal/task"
	"github.com/nextlevelbuilder/xbot/internal/tools"
	"github.com/nextlevelbuilder/xbot/internal/tracing"
	"github.com/nextlevelbuilder/xbot/internal/transcripts"
	"github.com/nextlevelbuilder/xbot/internal/worker"
)

// runtime bundles every long-lived component the composition root
// wires together, mirroring the teacher's bootstrapStandaloneAgent
// shape (cmd/agent_chat_standalone.go) generalized from one CLI agent
// to the full Manager/Worker/Scheduler/Heartbeat system spec.md §4
// describes.
type runtime struct {
	cfg          *config.Config
	store        *state.Store
	inbox        *task.Inbox
	workers      *worker.Store
	taskLog      *worker.TaskLog
	msgBus       *bus.MessageBus
	orch         *agent.Orchestrator
	workerRT     *worker.Runtime
	collector    *tracing.Collector
	skillsLoader *skills.Loader
	mcpMgr       *mcp.Manager
}

func buildRuntime() (*runtime, error) {
	cfg, err := config.Load(resolveConfigPath())
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}

	store, err := state.New(cfg.DataDir)
	if err != nil {
		return nil, fmt.Errorf("open state store: %w", err)
	}

	inbox, err := task.New(store)
	if err != nil {
		return nil, fmt.Errorf("open task inbox: %w", err)
	}

	workers, err := worker.Open(store.DataDir())
	if err != nil {
		return nil, fmt.Errorf("open worker store: %w", err)
	}
	taskLog, err := worker.OpenTaskLog(store.DataDir())
	if err != nil {
		return nil, fmt.Errorf("open worker task log: %w", err)
	}

	msgBus := bus.New()

	sink, err := tracing.NewFileSink(store.DataDir())
	if err != nil {
		return nil, fmt.Errorf("open trace sink: %w", err)
	}
	collector := tracing.NewCollector(sink, verbose)

	registry, skillsLoader, err := buildToolRegistry(store, cfg)
	if err != nil {
		return nil, fmt.Errorf("build tool registry: %w", err)
	}
	policy := tools.NewPolicyEngine()

	if cfg.Providers.Anthropic.APIKey == "" && os.Getenv("ANTHROPIC_API_KEY") == "" {
		slog.Warn("no Anthropic credentials configured; LLM calls will fail")
	}
	provider := providers.NewAnthropicProvider(cfg.Providers.Anthropic.APIKey)

	history := agent.NewHistory(0)
	tWriter := transcripts.NewWriter(store.DataDir())

	orch := agent.NewOrchestrator(registry, policy, provider, history, tWriter, cfg.MaxTurns, cfg.Limits.GlobalSemaphore)
	workerRT := worker.New(workers, taskLog, msgBus, orch)
	registerWorkerTools(registry, workers, workerRT, inbox)

	mcpMgr := mcp.NewManager(mcpServerConfigFromEnv())
	if cfg.MCPMemoryEnabled {
		registerMemoryTools(registry, mcpMgr)
	}

	return &runtime{
		cfg:          cfg,
		store:        store,
		inbox:        inbox,
		workers:      workers,
		taskLog:      taskLog,
		msgBus:       msgBus,
		orch:         orch,
		workerRT:     workerRT,
		collector:    collector,
		skillsLoader: skillsLoader,
		mcpMgr:       mcpMgr,
	}, nil
}

// mcpServerConfigFromEnv reads the memory/graph MCP server's transport
// settings. No MCPServerConfig shape survived from the teacher's pack
// (see DESIGN.md), so these env vars are self-authored. They are read
// on every start; only the memory-tool registration is gated on
// MCP_MEMORY_ENABLED.
func mcpServerConfigFromEnv() mcp.ServerConfig {
	cfg := mcp.ServerConfig{
		Command:    os.Getenv("MCP_MEMORY_COMMAND"),
		URL:        os.Getenv("MCP_MEMORY_URL"),
		TimeoutSec: 30,
	}
	if args := os.Getenv("MCP_MEMORY_ARGS"); args != "" {
		cfg.Args = strings.Fields(args)
	}
	return cfg
}

func buildToolRegistry(store *state.Store, cfg *config.Config) (*tools.Registry, *skills.Loader, error) {
	registry := tools.NewRegistry()
	workspace := store.DataDir()

	registry.Register(tools.NewReadFileTool(workspace))
	registry.Register(tools.NewWriteFileTool(workspace))
	registry.Register(tools.NewEditTool(workspace))
	registry.Register(tools.NewBashTool(workspace, cfg.Limits.BashTimeoutSec, cfg.Limits.BashOutputCapBytes))

	skillsRoot := filepath.Join(store.DataDir(), "skills")
	loader, err := skills.NewLoader(skillsRoot)
	if err != nil {
		return nil, nil, fmt.Errorf("load skills: %w", err)
	}
	userExtRoot := func(userID, skillName string) string {
		return filepath.Join(store.DataDir(), "users", userID, "ext", skillName)
	}
	runner := skills.NewRunner(loader, cfg.Limits.SkillTimeoutSec, cfg.Limits.SkillTimeoutMaxSec,
		cfg.Limits.SkillOutputCapBytes, cfg.Limits.SkillMaxFiles, int64(cfg.Limits.SkillMaxFileBytes), userExtRoot)
	registerExtensionTools(registry, loader, runner)

	return registry, loader, nil
}

// runGateway is the root command's default action. It starts the
// Scheduler and Heartbeat Worker background ticks, registers the one
// concrete UnifiedContext adapter this module ships (a stdin/stdout
// cliChannel — spec.md §6's adapter boundary is a contract any channel
// implements; Telegram/Discord/etc. adapters are left to the deployer,
// matching the teacher's own cmd/agent_chat_standalone.go "standalone
// mode" carve-out), and runs the user_chat consume-dispatch-reply loop
// that turns its inbound messages into Task Inbox envelopes.
func runGateway() {
	rt, err := buildRuntime()
	if err != nil {
		fail(ExitUserError, "serve: %s", err)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt)
	defer cancel()

	sched := scheduler.New(rt.store, rt.inbox)
	go sched.Run(ctx)

	hb := heartbeat.New(rt.store, rt.inbox, rt.msgBus)
	go hb.Run(ctx)

	if rt.cfg.MCPMemoryEnabled {
		if err := rt.mcpMgr.Start(ctx); err != nil {
			slog.Warn("serve.mcp_start_failed", "error", err)
		}
		defer rt.mcpMgr.Stop()
	}

	if stopWatch, err := rt.skillsLoader.WatchLearned(); err != nil {
		slog.Warn("serve.skills_watch_failed", "error", err)
	} else {
		defer stopWatch()
	}

	soul, err := prompt.LoadSoul(rt.store, prompt.ManagerSoulPath, prompt.RoleManager)
	if err != nil {
		fail(ExitStateCorrupted, "serve: load manager soul: %s", err)
	}
	systemPrompt := prompt.NewComposer().Compose(soul, prompt.DefaultMemoryGuidance, prompt.DefaultToolHints)
	go runBackgroundTaskLoop(ctx, rt, hb, systemPrompt)

	cli := newCLIChannel(rt.msgBus, "local")
	if err := cli.Start(ctx); err != nil {
		fail(ExitUserError, "serve: start cli channel: %s", err)
	}

	runUserChatLoop(ctx, rt, cli, systemPrompt)
}

// runUserChatLoop is the Orchestrator's consumer side of the bus: each
// inbound UnifiedMessage becomes a source=user_chat Task Inbox
// envelope (spec.md §4.1), is run to completion synchronously (the
// cooperative single-process model of spec.md §5 — one task per
// (user_id, session_id) at a time), and its final text is handed back
// to the originating channel for delivery.
func runUserChatLoop(ctx context.Context, rt *runtime, cli *cliChannel, systemPrompt string) {
	for {
		msg, ok := rt.msgBus.ConsumeInbound(ctx)
		if !ok {
			return
		}

		env, err := rt.inbox.Submit(task.SourceUserChat, msg.Text, msg.UserID, map[string]interface{}{
			"chat_id": msg.ChatID,
		}, task.PriorityNormal, true)
		if err != nil {
			slog.Error("serve.submit_failed", "user_id", msg.UserID, "error", err)
			continue
		}
		if err := rt.inbox.UpdateStatus(env.TaskID, task.StatusRunning, "user_chat dispatch"); err != nil {
			slog.Error("serve.claim_failed", "task_id", env.TaskID, "error", err)
			continue
		}

		sessionKey := fmt.Sprintf("manager:%s:%s", msg.Platform, msg.UserID)
		runCtx := tracing.WithCollector(ctx, rt.collector)
		runCtx = tracing.WithTraceID(runCtx, uuid.New())

		result, runErr := rt.orch.RunTurn(runCtx, agent.TurnRequest{
			SessionKey:   sessionKey,
			UserID:       msg.UserID,
			Profile:      string(tools.ProfileManager),
			Workspace:    rt.store.DataDir(),
			SystemPrompt: systemPrompt,
			UserMessage:  msg.Text,
			TaskID:       env.TaskID,
		})

		if runErr != nil {
			_ = rt.inbox.Fail(env.TaskID, runErr)
			_ = cli.Send(ctx, bus.OutboundMessage{Platform: msg.Platform, ChatID: msg.ChatID, Text: fmt.Sprintf("error: %s", runErr)})
			continue
		}
		if !result.Ok {
			_ = rt.inbox.Fail(env.TaskID, fmt.Errorf("%s", result.Error))
			_ = cli.Send(ctx, bus.OutboundMessage{Platform: msg.Platform, ChatID: msg.ChatID, Text: fmt.Sprintf("task failed: %s", result.Error)})
			continue
		}

		_ = rt.inbox.Complete(env.TaskID, result, result.FinalText)
		if agent.IsHeartbeatSilent(result.FinalText) {
			continue
		}
		_ = cli.Send(ctx, bus.OutboundMessage{Platform: msg.Platform, ChatID: msg.ChatID, Text: result.FinalText})
	}
}
