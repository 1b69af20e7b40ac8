// Command forge runs a generation script against a workspace: it wires
// the model client (cloud via gollm or a local Ollama host), the tool
// registry, the orchestrator, and both specialized pipelines, then
// streams progress to stderr.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/google/uuid"

	"github.com/forgekit/forge/blueprint"
	"github.com/forgekit/forge/checkpoint"
	"github.com/forgekit/forge/interp"
	"github.com/forgekit/forge/llmkit"
	"github.com/forgekit/forge/metrics"
	"github.com/forgekit/forge/orchestrate"
	"github.com/forgekit/forge/progress"
	"github.com/forgekit/forge/script"
	"github.com/forgekit/forge/tooling"
	"github.com/forgekit/forge/upgrade"
)

func main() {
	var (
		workspaceDir = flag.String("workspace", ".", "project workspace root")
		scriptsDir   = flag.String("scripts", "scripts", "script directory")
		scriptName   = flag.String("script", "", "script to run (without .fs)")
		task         = flag.String("task", "", "inline task; used when no script is given")
		model        = flag.String("model", "claude-sonnet-4-5", "default model id")
		provider     = flag.String("provider", "anthropic", "cloud provider (anthropic, openai)")
		ollamaHost   = flag.String("ollama", "", "Ollama host URL; enables the local backend")
		checkpointDB = flag.String("checkpoints", "", "checkpoint database path (default <workspace>/.forge/checkpoints.db)")
		rateLimit    = flag.Int("rate-limit", 30, "max model calls per minute")
		callTimeout  = flag.Duration("call-timeout", 5*time.Minute, "hard timeout per model call")
		verbose      = flag.Bool("v", false, "verbose progress output")
	)
	flag.Parse()

	if *scriptName == "" && *task == "" {
		fmt.Fprintln(os.Stderr, "forge: need -script or -task")
		flag.Usage()
		os.Exit(2)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, config{
		workspaceDir: *workspaceDir,
		scriptsDir:   *scriptsDir,
		scriptName:   *scriptName,
		task:         *task,
		model:        *model,
		provider:     *provider,
		ollamaHost:   *ollamaHost,
		checkpointDB: *checkpointDB,
		rateLimit:    *rateLimit,
		callTimeout:  *callTimeout,
		verbose:      *verbose,
	}); err != nil {
		fmt.Fprintf(os.Stderr, "forge: %v\n", err)
		os.Exit(1)
	}
}

type config struct {
	workspaceDir string
	scriptsDir   string
	scriptName   string
	task         string
	model        string
	provider     string
	ollamaHost   string
	checkpointDB string
	rateLimit    int
	callTimeout  time.Duration
	verbose      bool
}

func run(ctx context.Context, cfg config) error {
	ws, err := tooling.NewWorkspace(cfg.workspaceDir)
	if err != nil {
		return err
	}

	client, err := buildClient(cfg)
	if err != nil {
		return err
	}
	defer client.Close()

	store, err := openStore(cfg, ws)
	if err != nil {
		return err
	}
	defer store.Close()
	if n, err := store.GC(checkpoint.DefaultRetention); err == nil && n > 0 && cfg.verbose {
		fmt.Fprintf(os.Stderr, "gc: removed %d stale checkpoints\n", n)
	}

	registry := tooling.NewRegistry()
	tooling.RegisterBuiltins(registry, ws)

	emitter := progress.NewEmitter(uuid.NewString(), 256)
	defer emitter.Close()
	go renderEvents(emitter.Events(), cfg.verbose)

	// The shared index is both pipelines' view of planned vs written files
	// and the orchestrator's stall-recovery gate.
	index := blueprint.NewIndex(nil)
	orch := &orchestrate.Orchestrator{
		Client:     client,
		Registry:   registry,
		Emitter:    emitter,
		Incomplete: index.Incomplete,
	}

	bpPipeline := &blueprint.Pipeline{
		Client:    client,
		Workspace: ws,
		Emitter:   emitter,
		Store:     store,
		Index:     index,
		Model:     cfg.model,
	}
	upPipeline := &upgrade.Pipeline{
		Client:       client,
		Workspace:    ws,
		Registry:     registry,
		Orchestrator: orch,
		Emitter:      emitter,
		Index:        index,
		Model:        cfg.model,
	}

	in := &interp.Interpreter{
		Client:       client,
		Loader:       script.NewLoader(cfg.scriptsDir),
		Registry:     registry,
		Workspace:    ws,
		Tools:        orch,
		Emitter:      emitter,
		DefaultModel: cfg.model,
		NewProject:   bpPipeline.Run,
		Upgrade:      upPipeline.Run,
	}

	sc, err := loadScript(cfg, in.Loader)
	if err != nil {
		return err
	}

	res := in.Run(ctx, sc, map[string]string{"task": cfg.task})
	if res.FinalText != "" {
		fmt.Println(res.FinalText)
	}
	if !res.Success {
		return res.Err
	}
	return nil
}

// defaultScript is the inline one-turn script used with -task.
const defaultScript = "user: {{task}} {{ai}}\n"

func loadScript(cfg config, loader *script.Loader) (*script.Script, error) {
	if cfg.scriptName != "" {
		return loader.Load(cfg.scriptName)
	}
	return script.Parse(defaultScript, "task")
}

func buildClient(cfg config) (*llmkit.Client, error) {
	limiter := llmkit.NewRateLimiter(cfg.rateLimit, time.Minute)
	opts := []llmkit.ClientOption{
		llmkit.WithMiddleware(
			metrics.LLMMiddleware(),
			llmkit.RateLimitMiddleware(limiter, func(wait time.Duration) {
				metrics.ObserveRateLimitWait("llm", wait)
			}),
			llmkit.RetryMiddleware(llmkit.DefaultRetryPolicy()),
			llmkit.TimeoutMiddleware(cfg.callTimeout),
		),
	}

	if cfg.ollamaHost != "" {
		backend := llmkit.NewOllamaBackend(cfg.ollamaHost, cfg.model)
		opts = append(opts, llmkit.WithBackend("ollama", backend), llmkit.WithDefaultBackend("ollama"))
		return llmkit.NewClient(opts...), nil
	}

	backend, err := llmkit.NewGollmBackend(cfg.provider, llmkit.WithModel(cfg.model))
	if err != nil {
		return nil, err
	}
	opts = append(opts, llmkit.WithBackend(cfg.provider, backend), llmkit.WithDefaultBackend(cfg.provider))
	return llmkit.NewClient(opts...), nil
}

func openStore(cfg config, ws *tooling.Workspace) (*checkpoint.Store, error) {
	path := cfg.checkpointDB
	if path == "" {
		dir := filepath.Join(ws.Root(), ".forge")
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, err
		}
		path = filepath.Join(dir, "checkpoints.db")
	}
	return checkpoint.Open(path)
}

func renderEvents(events <-chan progress.Event, verbose bool) {
	for ev := range events {
		switch ev.Kind {
		case progress.EventPhase:
			fmt.Fprintf(os.Stderr, "==> %s\n", ev.Message)
		case progress.EventFileOutcome:
			fmt.Fprintf(os.Stderr, "    %s\n", ev.Message)
		case progress.EventWarning:
			fmt.Fprintf(os.Stderr, "warning: %s\n", ev.Message)
		case progress.EventError:
			fmt.Fprintf(os.Stderr, "error: %s\n", ev.Message)
		case progress.EventLoopStop, progress.EventStallRecovery:
			fmt.Fprintf(os.Stderr, "note: %s\n", ev.Message)
		default:
			if verbose {
				fmt.Fprintf(os.Stderr, "[%s] %s\n", ev.Kind, ev.Message)
			}
		}
	}
}
