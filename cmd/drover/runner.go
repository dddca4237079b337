package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/droverhq/drover/internal/agent"
	"github.com/droverhq/drover/internal/config"
	"github.com/droverhq/drover/internal/events"
	"github.com/droverhq/drover/internal/providers"
	"github.com/droverhq/drover/internal/retry"
	"github.com/droverhq/drover/internal/tools"
)

type runOptions struct {
	cfg        *config.Config
	agentName  string
	task       string
	debugLog   string
	maxTurns   int
	approveAll bool
	stdout     io.Writer
	stderr     io.Writer
}

// runAgent assembles the runtime from config and drives one agent run to
// completion. The final text goes to stdout; everything else to stderr.
func runAgent(ctx context.Context, opts runOptions) error {
	cfg := opts.cfg

	def, err := cfg.Agent(opts.agentName)
	if err != nil {
		return err
	}
	if opts.maxTurns > 0 {
		clone := *def
		clone.MaxTurns = opts.maxTurns
		def = &clone
	}

	bus := events.NewBus()
	defer bus.Close()

	if opts.debugLog != "" {
		dl, err := events.OpenDebugLog(opts.debugLog)
		if err != nil {
			return fmt.Errorf("open debug log: %w", err)
		}
		defer dl.Close()
		bus.SetDebugSink(dl)
	}

	provider, err := buildProvider(cfg, def, bus)
	if err != nil {
		return err
	}

	gate := agent.NewGate()
	defer gate.Close()

	shared := sharedState{
		bus:       bus,
		gate:      gate,
		allowList: agent.NewAllowList(),
		stack:     agent.NewCallStack(),
		chunker:   agent.NewChunker(cfg.ChunkerSettings(), provider, resolveModel(cfg, def)),
	}

	registry, closeTools, err := buildRegistry(cfg, def, provider, shared)
	if err != nil {
		return err
	}
	defer closeTools()

	dispatcher := agent.NewDispatcher(registry, shared.gate, shared.allowList, shared.chunker, shared.bus, shared.stack, agent.DispatcherConfig{
		ToolTimeout: cfg.Runtime.ToolTimeout,
		Parallel:    cfg.Runtime.ParallelTools,
	}, slog.Default())

	loopOpts := []agent.LoopOption{
		agent.WithCallStack(shared.stack),
		agent.WithModel(resolveModel(cfg, def)),
	}
	if cfg.Runtime.MaxTokens > 0 {
		loopOpts = append(loopOpts, agent.WithMaxTokens(cfg.Runtime.MaxTokens))
	}

	compactor := agent.NewProviderCompactor(provider, resolveModel(cfg, def), def.CompactPrompt)
	loop := agent.NewLoop(provider, registry, dispatcher, compactor, bus, loopOpts...)

	// Renderer and approval responder run for the lifetime of the call.
	renderCtx, stopRender := context.WithCancel(ctx)
	defer stopRender()

	renderer := newRenderer(opts.stderr)
	sub, unsubscribe := bus.Subscribe()
	defer unsubscribe()
	renderDone := make(chan struct{})
	go func() {
		defer close(renderDone)
		renderer.run(renderCtx, sub)
	}()
	go respondApprovals(renderCtx, gate, opts.stderr, opts.approveAll)

	result, runErr := loop.Run(ctx, def, opts.task)

	stopRender()
	<-renderDone

	if result != nil {
		renderer.summary(result)
		switch result.Outcome {
		case agent.OutcomeSuccess:
			fmt.Fprintln(opts.stdout, result.Text)
			return nil
		case agent.OutcomeBudgetExhausted:
			if result.Summary != "" {
				fmt.Fprintln(opts.stdout, result.Summary)
			}
			return fmt.Errorf("agent %q exhausted its budget before finishing", def.Name)
		case agent.OutcomeCancelled:
			return fmt.Errorf("run cancelled")
		}
	}
	return runErr
}

func resolveModel(cfg *config.Config, def *agent.Definition) string {
	if def.Model != "" {
		return def.Model
	}
	name := def.ProviderName
	if name == "" {
		name = cfg.DefaultProvider
	}
	switch name {
	case "anthropic":
		if cfg.Providers.Anthropic.Model != "" {
			return cfg.Providers.Anthropic.Model
		}
	case "openai":
		if cfg.Providers.OpenAI.Model != "" {
			return cfg.Providers.OpenAI.Model
		}
	}
	return cfg.DefaultModel
}

func retryConfig(pc config.ProviderConfig) retry.Config {
	rc := retry.DefaultConfig()
	if pc.MaxRetries > 0 {
		rc.MaxAttempts = pc.MaxRetries
	}
	if pc.RetryDelay > 0 {
		rc.InitialDelay = pc.RetryDelay
	}
	return rc
}

// buildProvider constructs the backend named by the agent (falling back to
// the config default) and wires retry attempts into the event channel.
func buildProvider(cfg *config.Config, def *agent.Definition, bus *events.Bus) (agent.Provider, error) {
	name := def.ProviderName
	if name == "" {
		name = cfg.DefaultProvider
	}

	onRetry := func(attempt int, cause error) {
		bus.Publish(events.Retry(def.Name, attempt, cause))
	}

	switch name {
	case "anthropic":
		return providers.NewAnthropic(providers.AnthropicConfig{
			APIKey:       cfg.Providers.Anthropic.APIKey,
			BaseURL:      cfg.Providers.Anthropic.BaseURL,
			DefaultModel: cfg.Providers.Anthropic.Model,
			Retry:        retryConfig(cfg.Providers.Anthropic),
			OnRetry:      onRetry,
		})
	case "openai":
		return providers.NewOpenAI(providers.OpenAIConfig{
			APIKey:       cfg.Providers.OpenAI.APIKey,
			BaseURL:      cfg.Providers.OpenAI.BaseURL,
			DefaultModel: cfg.Providers.OpenAI.Model,
			Retry:        retryConfig(cfg.Providers.OpenAI),
			OnRetry:      onRetry,
		})
	default:
		return nil, fmt.Errorf("unknown provider %q", name)
	}
}

// sharedState is the process-wide runtime shared by the top-level agent and
// every delegated sub-agent: one event channel, one approval gate, one
// session allow-list, one display stack, one chunk processor.
type sharedState struct {
	bus       *events.Bus
	gate      *agent.Gate
	allowList *agent.AllowList
	stack     *agent.CallStack
	chunker   *agent.Chunker
}

// buildRegistry registers the built-in tools plus one delegate tool per
// other configured agent, so agents can hand off sub-tasks.
func buildRegistry(cfg *config.Config, def *agent.Definition, provider agent.Provider, shared sharedState) (*agent.Registry, func(), error) {
	registry := agent.NewRegistry()
	closers := []func(){}
	closeAll := func() {
		for _, c := range closers {
			c()
		}
	}

	builtins := []agent.Tool{
		&tools.ReadFile{},
		&tools.WriteFile{},
		&tools.Shell{},
		&tools.Fetch{},
	}

	if cfg.Memory.Path != "" {
		store, err := tools.OpenMemoryStore(cfg.Memory.Path)
		if err != nil {
			return nil, nil, err
		}
		closers = append(closers, func() { store.Close() })
		builtins = append(builtins, &tools.MemoryGet{Store: store}, &tools.MemorySet{Store: store})
	}

	for _, t := range builtins {
		if err := registry.Register(t); err != nil {
			closeAll()
			return nil, nil, err
		}
	}

	// Sub-agent delegation. Delegates get their own registry so budgets and
	// counters stay independent, but the gate, allow-list, bus, stack, and
	// chunker are the run's shared instances: a destructive call is gated
	// no matter which conversation issues it, and sub-agent progress stays
	// visible on the one event channel.
	for name, subDef := range cfg.Agents {
		if name == def.Name || !def.DeclaresTool(name) {
			continue
		}
		subRegistry := agent.NewRegistry()
		for _, t := range builtins {
			if err := subRegistry.Register(t); err != nil {
				closeAll()
				return nil, nil, err
			}
		}
		subDispatcher := agent.NewDispatcher(subRegistry, shared.gate, shared.allowList, shared.chunker, shared.bus, shared.stack, agent.DispatcherConfig{
			ToolTimeout: cfg.Runtime.ToolTimeout,
		}, slog.Default())
		subCompactor := agent.NewProviderCompactor(provider, resolveModel(cfg, subDef), subDef.CompactPrompt)
		subLoop := agent.NewLoop(provider, subRegistry, subDispatcher, subCompactor, shared.bus,
			agent.WithModel(resolveModel(cfg, subDef)),
			agent.WithCallStack(shared.stack))

		if err := registry.Register(agent.NewAgentTool(subDef, subLoop)); err != nil {
			closeAll()
			return nil, nil, err
		}
	}

	return registry, closeAll, nil
}

// respondApprovals prompts on stderr for each gated tool call. With
// approveAll set it answers allow without prompting.
func respondApprovals(ctx context.Context, gate *agent.Gate, w io.Writer, approveAll bool) {
	for {
		select {
		case <-ctx.Done():
			return
		case req, ok := <-gate.Requests():
			if !ok {
				return
			}
			if approveAll {
				req.Respond(agent.DecisionAllow)
				continue
			}
			fmt.Fprintf(w, "\nApproval required for %s: %s\n", req.Tool, req.Description)
			for _, trigger := range req.Triggers {
				fmt.Fprintf(w, "  triggered by: %s\n", trigger)
			}
			fmt.Fprint(w, "Allow? [y]es / [a]lways this session / [n]o: ")

			answer := readLine(ctx)
			switch answer {
			case "y", "yes":
				req.Respond(agent.DecisionAllow)
			case "a", "always":
				req.Respond(agent.DecisionAllowForSession)
			default:
				req.Respond(agent.DecisionDeny)
			}
		}
	}
}

// readLine reads one line from stdin without blocking forever on shutdown.
func readLine(ctx context.Context) string {
	lines := make(chan string, 1)
	go func() {
		var s string
		fmt.Scanln(&s)
		lines <- s
	}()
	select {
	case <-ctx.Done():
		return ""
	case s := <-lines:
		return s
	case <-time.After(10 * time.Minute):
		return ""
	}
}
