package commands

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/thisal-thulnith/agent-flow-sub001/internal/embedder"
	"github.com/thisal-thulnith/agent-flow-sub001/internal/logging"
	"github.com/thisal-thulnith/agent-flow-sub001/internal/server"
	"github.com/thisal-thulnith/agent-flow-sub001/internal/store"
)

// NewDiagnoseCmd constructs the `agentflow diagnose` command, which checks
// every configured dependency and reports what is reachable.
func NewDiagnoseCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "diagnose",
		Short: "Check connectivity to the model provider, Qdrant, and the database",
		Long: `Probe each configured dependency and print a pass/fail report.

Checks run in order: embedding configuration, model provider (a one-word
generate call), Qdrant, and the SQLite database. Use this after changing
environment variables or before first serving.

Examples:
  agentflow diagnose
  MODEL_PROVIDER=azure agentflow diagnose`,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			log := logging.New()
			ctx = logging.WithLogger(ctx, log)

			failures := 0
			check := func(name string, fn func() error) {
				if err := fn(); err != nil {
					failures++
					fmt.Printf("  FAIL  %-16s %v\n", name, err)
					return
				}
				fmt.Printf("  ok    %s\n", name)
			}

			fmt.Println("agentflow diagnose")

			check("embedding config", func() error {
				return embedder.ValidateForKnowledge(log)
			})

			check("model provider", func() error {
				_, chatModel, err := newCompleter(ctx)
				if err != nil {
					return err
				}
				probeCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
				defer cancel()
				return server.NewLLMPinger(chatModel, getEnvOrDefault("MODEL_PROVIDER", "ollama")).Ping(probeCtx)
			})

			check("qdrant", func() error {
				probeCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
				defer cancel()
				qstore, err := newVectorStore(probeCtx, log)
				if err != nil {
					return err
				}
				defer qstore.Close()
				return qstore.Ping(probeCtx)
			})

			check("database", func() error {
				path := getEnvOrDefault("AGENTFLOW_DB", "")
				if path == "disabled" {
					return nil
				}
				if path == "" {
					var err error
					path, err = store.DefaultDBPath()
					if err != nil {
						return err
					}
				}
				db, err := store.Open(path)
				if err != nil {
					return err
				}
				return db.Close()
			})

			if failures > 0 {
				return fmt.Errorf("diagnose: %d check(s) failed", failures)
			}
			fmt.Println("All checks passed.")
			return nil
		},
	}

	return cmd
}
