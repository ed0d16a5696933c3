package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"time"

	"github.com/spf13/cobra"

	lyfe "github.com/metaconsciousgroup/lyfe-agent-paper"
	"github.com/metaconsciousgroup/lyfe-agent-paper/config"
)

var (
	configPath   string
	ticks        int
	agentCount   int
	tickInterval time.Duration
	verbose      bool
)

var rootCmd = &cobra.Command{
	Use:   "lyfe-sim",
	Short: "Run a small offline agent simulation.",
	Long: `lyfe-sim runs agents that observe each other in a shared square. ` +
		`Embeddings, summaries and option decisions come from deterministic ` +
		`stand-ins, so no model endpoint is needed.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		cmd.SilenceUsage = true

		level := slog.LevelInfo
		if verbose {
			level = slog.LevelDebug
		}
		logger := slog.New(slog.NewJSONHandler(cmd.OutOrStdout(), &slog.HandlerOptions{Level: level}))

		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt)
		defer stop()

		return run(ctx, logger)
	},
}

func init() {
	rootCmd.Flags().StringVar(&configPath, "config", "", "path to lyfe.yaml or a directory containing it")
	rootCmd.Flags().IntVar(&ticks, "ticks", 100, "number of ticks to simulate")
	rootCmd.Flags().IntVar(&agentCount, "agents", 3, "number of agents")
	rootCmd.Flags().DurationVar(&tickInterval, "tick-interval", 100*time.Millisecond, "wall time between ticks")
	rootCmd.Flags().BoolVarP(&verbose, "verbose", "v", false, "log at debug level")
}

// Execute adds all child commands to the root command and sets flags
// appropriately.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func run(ctx context.Context, logger *slog.Logger) error {
	if agentCount <= 0 || agentCount > len(residents) {
		return fmt.Errorf("--agents must be between 1 and %d", len(residents))
	}
	if ticks <= 0 {
		return fmt.Errorf("--ticks must be positive")
	}

	opts := []lyfe.Option{lyfe.WithLogger(logger)}
	if configPath != "" {
		cfg, err := config.Load(configPath)
		if err != nil {
			return err
		}
		opts = append(opts, lyfe.WithConfig(cfg))
	}

	rt, err := lyfe.New(ctx, hashEncode, opts...)
	if err != nil {
		return err
	}
	defer rt.Close()

	sq := newSquare(residents[:agentCount])
	for _, name := range sq.names {
		if _, err := rt.NewAgent(ctx, sq.agentConfig(name)); err != nil {
			return err
		}
	}

	ticker := time.NewTicker(tickInterval)
	defer ticker.Stop()
	for n := 1; n <= ticks; n++ {
		acts, err := rt.Tick(ctx, sq.observe(n))
		if err != nil {
			return err
		}
		for name, act := range acts {
			logger.Info("action", "tick", n, "agent", name, "action", act.String())
		}
		sq.apply(acts)

		select {
		case <-ctx.Done():
			logger.Info("simulation interrupted", "tick", n)
			return nil
		case <-ticker.C:
		}
	}

	status := rt.Health(ctx)
	logger.Info("simulation finished",
		"ticks", ticks,
		"tokens", rt.Ledger().Total().TotalTokens,
		"health", status.State,
	)
	return nil
}
