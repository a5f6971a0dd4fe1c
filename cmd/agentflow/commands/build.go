package commands

import (
	"bufio"
	"fmt"
	"os"
	"strings"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/thisal-thulnith/agent-flow-sub001/internal/builder"
	"github.com/thisal-thulnith/agent-flow-sub001/internal/logging"
	"github.com/thisal-thulnith/agent-flow-sub001/internal/schema"
)

// NewBuildCmd constructs the `agentflow build` command, which runs the agent
// builder interview interactively on the terminal.
func NewBuildCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "build",
		Short: "Build a sales agent through an interactive interview",
		Long: `Run the agent builder interview on the terminal.

The builder asks about your business one question at a time, fills in the
ten-field agent profile as you answer, and saves the finished agent once
every field is collected and you confirm.

Examples:
  agentflow build
  MODEL_PROVIDER=openai agentflow build`,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			log := logging.New()
			ctx = logging.WithLogger(ctx, log)

			completer, _, err := newCompleter(ctx)
			if err != nil {
				return fmt.Errorf("build: %w", err)
			}

			engine, err := builder.New(completer, 0)
			if err != nil {
				return fmt.Errorf("build: %w", err)
			}

			db := openDatabase(log)
			if db != nil {
				defer func() { _ = db.Close() }()
			}

			record := schema.NewExtractionRecord()
			var transcript schema.Transcript

			fmt.Println("Let's build your sales agent. Tell me about your business.")
			fmt.Println("(Ctrl+D to quit)")

			scanner := bufio.NewScanner(os.Stdin)
			for {
				fmt.Print("> ")
				if !scanner.Scan() {
					break
				}
				message := strings.TrimSpace(scanner.Text())
				if message == "" {
					continue
				}

				turn, err := engine.Step(ctx, record, transcript, message)
				if err != nil {
					return fmt.Errorf("build: %w", err)
				}
				record = turn.Record
				transcript = turn.Transcript

				fmt.Println()
				fmt.Println(turn.Reply)
				fmt.Println()

				if turn.Complete {
					agentID := uuid.NewString()
					if db != nil {
						if err := db.SaveAgent(ctx, agentID, record); err != nil {
							return fmt.Errorf("build: failed to save agent: %w", err)
						}
						fmt.Printf("Agent saved. ID: %s\n", agentID)
						fmt.Printf("Add knowledge with: agentflow ingest --agent %s --file <path>\n", agentID)
					} else {
						fmt.Println("Profile complete (database disabled — agent not persisted):")
						for _, f := range schema.Fields {
							fmt.Printf("  %-22s %s\n", f, record[f])
						}
					}
					return nil
				}
			}
			if err := scanner.Err(); err != nil {
				return fmt.Errorf("build: read input: %w", err)
			}

			fmt.Println("Interview ended before the profile was complete. Missing fields:")
			for _, f := range record.Missing() {
				fmt.Printf("  - %s\n", f)
			}
			return nil
		},
	}

	return cmd
}
