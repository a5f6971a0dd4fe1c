package commands

import (
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/cloudwego/eino/callbacks"
	"github.com/spf13/cobra"

	"github.com/thisal-thulnith/agent-flow-sub001/internal/answer"
	"github.com/thisal-thulnith/agent-flow-sub001/internal/builder"
	"github.com/thisal-thulnith/agent-flow-sub001/internal/embedder"
	"github.com/thisal-thulnith/agent-flow-sub001/internal/ingestion"
	"github.com/thisal-thulnith/agent-flow-sub001/internal/leads"
	"github.com/thisal-thulnith/agent-flow-sub001/internal/logging"
	"github.com/thisal-thulnith/agent-flow-sub001/internal/rag"
	"github.com/thisal-thulnith/agent-flow-sub001/internal/server"
	"github.com/thisal-thulnith/agent-flow-sub001/internal/tracing"
)

// NewServeCmd constructs the `agentflow serve` command, which starts the HTTP
// server exposing the builder, ingestion, and chat APIs.
func NewServeCmd() *cobra.Command {
	var host string
	var port int

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the AgentFlow HTTP server",
		Long: `Start the AgentFlow HTTP server on localhost.

The server exposes the builder interview (POST /api/builder/turn), knowledge
ingestion (POST /api/agents/{id}/ingest), customer chat
(POST /api/agents/{id}/chat), and knowledge management endpoints, plus
health, readiness, and Prometheus metrics.

Examples:
  agentflow serve
  agentflow serve --port 9090
  MODEL_PROVIDER=azure agentflow serve`,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			log := logging.New()
			ctx = logging.WithLogger(ctx, log)

			log.Info("serve starting", slog.String("provider", os.Getenv("MODEL_PROVIDER")))

			// Setup Langfuse tracing — opt-in, no-op if keys are absent.
			handler, flush, ok := tracing.Setup()
			if ok {
				callbacks.AppendGlobalHandlers(handler)
				defer flush()
				log.Info("langfuse tracing enabled")
			} else {
				log.Info("langfuse tracing disabled", slog.String("reason", "LANGFUSE_PUBLIC_KEY not set"))
			}

			completer, chatModel, err := newCompleter(ctx)
			if err != nil {
				return fmt.Errorf("serve: %w", err)
			}
			log.Info("provider initialised", slog.String("provider", getEnvOrDefault("MODEL_PROVIDER", "ollama")))

			if err := embedder.ValidateForKnowledge(log); err != nil {
				return fmt.Errorf("serve: %w", err)
			}
			emb, err := embedder.NewFromEnv()
			if err != nil {
				return fmt.Errorf("serve: failed to initialise embedder: %w", err)
			}

			qstore, err := newVectorStore(ctx, log)
			if err != nil {
				return fmt.Errorf("serve: %w", err)
			}
			defer qstore.Close()

			pipeline, err := ingestion.NewPipeline(emb, qstore, knowledgeConfigFromEnv())
			if err != nil {
				return fmt.Errorf("serve: failed to create ingestion pipeline: %w", err)
			}

			retriever, err := rag.NewRetriever(emb, qstore, retrievalTopK(), similarityThreshold())
			if err != nil {
				return fmt.Errorf("serve: failed to create retriever: %w", err)
			}

			db := openDatabase(log)
			if db != nil {
				defer func() { _ = db.Close() }()
			}

			builderEngine, err := builder.New(completer, 0)
			if err != nil {
				return fmt.Errorf("serve: failed to create builder engine: %w", err)
			}

			var sink leads.Sink
			if db != nil {
				sink = db
			}
			answerEngine, err := answer.New(completer, retriever, sink, retrievalTopK(), 0)
			if err != nil {
				return fmt.Errorf("serve: failed to create chat engine: %w", err)
			}

			pingers := []server.Pinger{
				server.NewLLMPinger(chatModel, getEnvOrDefault("MODEL_PROVIDER", "ollama")),
				server.NewStorePinger(qstore, "qdrant"),
			}

			deps := server.Deps{
				Builder:   builderEngine,
				Answerer:  answerEngine,
				Ingestor:  pipeline,
				Knowledge: qstore,
			}
			if db != nil {
				deps.DB = db
			}

			srv, err := server.New(deps, &server.Config{
				Host:    host,
				Port:    port,
				Logger:  log,
				Pingers: pingers,
				APIKey:  os.Getenv("AGENTFLOW_API_KEY"),
			})
			if err != nil {
				return fmt.Errorf("serve: failed to create server: %w", err)
			}

			return srv.Start(ctx)
		},
	}

	cmd.Flags().StringVar(&host, "host", getEnvOrDefault("SERVER_HOST", "127.0.0.1"), "Host address to bind to")
	cmd.Flags().IntVarP(&port, "port", "p", getEnvInt("SERVER_PORT", 8080), "TCP port to listen on")

	return cmd
}
