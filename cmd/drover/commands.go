package main

import (
	"fmt"
	"io"
	"os"
	"os/signal"
	"sort"
	"syscall"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/droverhq/drover/internal/config"
)

func buildRunCmd() *cobra.Command {
	var (
		configPath string
		agentName  string
		debugLog   string
		maxTurns   int
		approveAll bool
	)

	cmd := &cobra.Command{
		Use:   "run [task]",
		Short: "Run an agent on a task",
		Long: `Run the named agent until it finishes the task, exhausts its budget,
or fails. Progress streams to stderr; the final answer goes to stdout.`,
		Example: `  # Run the researcher agent
  drover run --agent researcher "summarize the open issues"

  # Capture the full event stream for debugging
  drover run --agent coder --debug-log events.jsonl "fix the failing test"`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(resolveConfigPath(configPath))
			if err != nil {
				return err
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			return runAgent(ctx, runOptions{
				cfg:        cfg,
				agentName:  agentName,
				task:       args[0],
				debugLog:   debugLog,
				maxTurns:   maxTurns,
				approveAll: approveAll,
				stdout:     cmd.OutOrStdout(),
				stderr:     cmd.ErrOrStderr(),
			})
		},
	}

	cmd.Flags().StringVarP(&configPath, "config", "c", "", "Path to config file (default: drover.yaml or DROVER_CONFIG)")
	cmd.Flags().StringVarP(&agentName, "agent", "a", "", "Agent name (required)")
	cmd.Flags().StringVar(&debugLog, "debug-log", "", "Append the full event stream to this JSONL file")
	cmd.Flags().IntVar(&maxTurns, "max-turns", 0, "Override the agent's iteration budget")
	cmd.Flags().BoolVarP(&approveAll, "yes", "y", false, "Approve all gated tool calls without prompting")
	cobra.CheckErr(cmd.MarkFlagRequired("agent"))

	return cmd
}

func buildAgentsCmd() *cobra.Command {
	var configPath string

	cmd := &cobra.Command{
		Use:   "agents",
		Short: "List configured agents",
		Long:  "Display the agents defined in the config file with their budgets and tools.",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(resolveConfigPath(configPath))
			if err != nil {
				return err
			}
			return printAgents(cmd.OutOrStdout(), cfg)
		},
	}

	cmd.Flags().StringVarP(&configPath, "config", "c", "", "Path to config file (default: drover.yaml or DROVER_CONFIG)")
	return cmd
}

func printAgents(w io.Writer, cfg *config.Config) error {
	names := make([]string, 0, len(cfg.Agents))
	for name := range cfg.Agents {
		names = append(names, name)
	}
	sort.Strings(names)

	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "NAME\tPROVIDER\tMAX TURNS\tCONTINUATIONS\tREAD-ONLY\tTOOLS")
	for _, name := range names {
		def := cfg.Agents[name]
		provider := def.ProviderName
		if provider == "" {
			provider = cfg.DefaultProvider
		}
		fmt.Fprintf(tw, "%s\t%s\t%d\t%d\t%v\t%d\n",
			name, provider, def.EffectiveMaxTurns(), def.EffectiveMaxContinuations(),
			def.ReadOnly, len(def.Tools))
	}
	return tw.Flush()
}
