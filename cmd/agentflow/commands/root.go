// Package commands defines all Cobra CLI commands for the agentflow binary.
package commands

import (
	"github.com/spf13/cobra"

	"github.com/thisal-thulnith/agent-flow-sub001/internal/audit"
	"github.com/thisal-thulnith/agent-flow-sub001/internal/config"
	"github.com/thisal-thulnith/agent-flow-sub001/internal/logging"
)

// configPath holds the --config flag value for YAML config file override.
var configPath string

// loadedConfigPath stores the resolved config file path for audit logging.
var loadedConfigPath string

// NewRootCmd constructs the root Cobra command that all subcommands attach to.
func NewRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:   "agentflow",
		Short: "AgentFlow — build and run AI sales agents for your business",
		Long: `AgentFlow turns a short interview about your business into a working
AI sales agent.

The builder collects a ten-field business profile through conversation,
the ingestion pipeline indexes your documents, FAQs, and web pages into a
vector store, and the chat engine answers customer questions grounded in
that knowledge.

Model provider is selected via the MODEL_PROVIDER environment variable
or a YAML config file (~/.agentflow/config.yaml).
See 'agentflow --help' for available commands.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			log := logging.New()

			// Load YAML config (env vars always override YAML values).
			path, err := config.Load(configPath, log)
			if err != nil {
				return err
			}
			loadedConfigPath = path

			// Emit structured audit log for every command invocation.
			audit.LogCommandStart(log, cmd.Name(), loadedConfigPath)

			return nil
		},
	}

	root.PersistentFlags().StringVar(&configPath, "config", "", "Path to YAML config file (default: ~/.agentflow/config.yaml)")

	root.AddCommand(
		NewServeCmd(),
		NewBuildCmd(),
		NewIngestCmd(),
		NewChatCmd(),
		NewDiagnoseCmd(),
		NewVersionCmd(),
	)

	return root
}
