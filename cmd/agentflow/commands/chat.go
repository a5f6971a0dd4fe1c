package commands

import (
	"bufio"
	"fmt"
	"os"
	"strings"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/thisal-thulnith/agent-flow-sub001/internal/answer"
	"github.com/thisal-thulnith/agent-flow-sub001/internal/embedder"
	"github.com/thisal-thulnith/agent-flow-sub001/internal/leads"
	"github.com/thisal-thulnith/agent-flow-sub001/internal/logging"
	"github.com/thisal-thulnith/agent-flow-sub001/internal/rag"
	"github.com/thisal-thulnith/agent-flow-sub001/internal/schema"
)

// NewChatCmd constructs the `agentflow chat` command, which talks to a saved
// agent from the terminal the way a customer would.
func NewChatCmd() *cobra.Command {
	var agentID string
	var showSources bool

	cmd := &cobra.Command{
		Use:   "chat",
		Short: "Chat with a saved agent from the terminal",
		Long: `Open a terminal chat session with a saved agent.

Answers are grounded in the agent's ingested knowledge; when nothing
relevant is found the agent answers from its business profile alone and
says so rather than inventing facts.

Examples:
  agentflow chat --agent 42
  agentflow chat --agent 42 --sources`,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			log := logging.New()
			ctx = logging.WithLogger(ctx, log)

			if agentID == "" {
				return fmt.Errorf("chat: --agent is required")
			}

			db := openDatabase(log)
			if db == nil {
				return fmt.Errorf("chat: database is required to load the agent profile")
			}
			defer func() { _ = db.Close() }()

			profile, err := db.GetAgent(ctx, agentID)
			if err != nil {
				return fmt.Errorf("chat: %w", err)
			}

			completer, _, err := newCompleter(ctx)
			if err != nil {
				return fmt.Errorf("chat: %w", err)
			}

			if err := embedder.ValidateForKnowledge(log); err != nil {
				return fmt.Errorf("chat: %w", err)
			}
			emb, err := embedder.NewFromEnv()
			if err != nil {
				return fmt.Errorf("chat: %w", err)
			}

			qstore, err := newVectorStore(ctx, log)
			if err != nil {
				return fmt.Errorf("chat: %w", err)
			}
			defer qstore.Close()

			retriever, err := rag.NewRetriever(emb, qstore, retrievalTopK(), similarityThreshold())
			if err != nil {
				return fmt.Errorf("chat: %w", err)
			}

			var sink leads.Sink = db
			engine, err := answer.New(completer, retriever, sink, retrievalTopK(), 0)
			if err != nil {
				return fmt.Errorf("chat: %w", err)
			}

			sessionID := uuid.NewString()
			var history schema.Transcript

			name := profile[schema.FieldAgentName]
			if name == "" {
				name = "agent"
			}
			fmt.Printf("Chatting with %s (session %s). Ctrl+D to quit.\n", name, sessionID[:8])

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

				resp, err := engine.Chat(ctx, answer.Request{
					AgentID:   agentID,
					SessionID: sessionID,
					Message:   message,
					Profile:   profile,
					History:   history,
				})
				if err != nil {
					return fmt.Errorf("chat: %w", err)
				}
				history = history.Append(schema.RoleUser, message).Append(schema.RoleAssistant, resp.Reply)

				fmt.Println()
				fmt.Println(resp.Reply)
				if showSources && len(resp.Sources) > 0 {
					fmt.Printf("\n[sources: %s]\n", strings.Join(resp.Sources, ", "))
				}
				fmt.Println()

				_ = db.AppendTurn(ctx, agentID, sessionID, schema.RoleUser, message)
				_ = db.AppendTurn(ctx, agentID, sessionID, schema.RoleAssistant, resp.Reply)
			}
			return scanner.Err()
		},
	}

	cmd.Flags().StringVarP(&agentID, "agent", "a", "", "Agent ID to chat with (required)")
	cmd.Flags().BoolVar(&showSources, "sources", false, "Print the knowledge sources behind each answer")

	return cmd
}
