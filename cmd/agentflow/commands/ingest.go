package commands

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/thisal-thulnith/agent-flow-sub001/internal/embedder"
	"github.com/thisal-thulnith/agent-flow-sub001/internal/ingestion"
	"github.com/thisal-thulnith/agent-flow-sub001/internal/logging"
)

// NewIngestCmd constructs the `agentflow ingest` command, which runs the
// knowledge pipeline to populate an agent's vector store.
func NewIngestCmd() *cobra.Command {
	var agentID string
	var files []string
	var urls []string
	var faqFile string

	cmd := &cobra.Command{
		Use:   "ingest [source ...]",
		Short: "Ingest business knowledge into an agent's vector store",
		Long: `Chunk, embed, and index business knowledge for an agent.

Three source kinds are supported:
  --file      a plain-text document (repeatable)
  --url       a web page, scraped and cleaned (repeatable)
  --faq-file  a JSON file containing [{"question": ..., "answer": ...}, ...]

Positional arguments are accepted too: URLs are scraped, file paths are read
and treated as FAQ JSON when the content is a JSON document, plain text
otherwise.

Re-ingesting a source with the same name replaces its previous chunks, so
updating a price list never leaves stale knowledge behind.

Required environment variables:
  QDRANT_HOST          Qdrant server hostname (default: localhost)
  QDRANT_PORT          Qdrant gRPC port (default: 6334)
  QDRANT_COLLECTION    Collection name (default: agentflow-knowledge)
  MODEL_PROVIDER       Embedding backend: ollama, openai, azure (default: ollama)
  EMBEDDING_PROVIDER   Embedding backend override when it differs from the chat model
  EMBEDDING_MODEL      Embedding model name override

Examples:
  agentflow ingest --agent 42 --file pricing.txt --file returns-policy.txt
  agentflow ingest --agent 42 --url https://example.com/about
  agentflow ingest --agent 42 --faq-file faqs.json`,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			log := logging.New()
			ctx = logging.WithLogger(ctx, log)

			if agentID == "" {
				return fmt.Errorf("ingest: --agent is required")
			}
			if len(files) == 0 && len(urls) == 0 && faqFile == "" && len(args) == 0 {
				return fmt.Errorf("ingest: provide at least one source (--file, --url, --faq-file, or a positional argument)")
			}

			if err := embedder.ValidateForKnowledge(log); err != nil {
				return fmt.Errorf("ingest: %w", err)
			}

			emb, err := embedder.NewFromEnv()
			if err != nil {
				return fmt.Errorf("ingest: failed to initialise embedder: %w", err)
			}
			log.Info("embedder initialised", slog.String("provider", getEnvOrDefault("EMBEDDING_PROVIDER", getEnvOrDefault("MODEL_PROVIDER", "ollama"))))

			qstore, err := newVectorStore(ctx, log)
			if err != nil {
				return fmt.Errorf("ingest: %w", err)
			}
			defer qstore.Close()

			pipeline, err := ingestion.NewPipeline(emb, qstore, knowledgeConfigFromEnv())
			if err != nil {
				return fmt.Errorf("ingest: failed to create pipeline: %w", err)
			}

			var sources []ingestion.Source
			for _, arg := range args {
				if ingestion.InferKind(arg) == ingestion.KindURL {
					sources = append(sources, ingestion.Source{
						Kind: ingestion.KindURL,
						Name: arg,
						URL:  arg,
					})
					continue
				}
				data, err := os.ReadFile(arg)
				if err != nil {
					return fmt.Errorf("ingest: failed to read %q: %w", arg, err)
				}
				if ingestion.InferKind(string(data)) == ingestion.KindFAQ {
					var faqs []ingestion.FAQ
					if err := json.Unmarshal(data, &faqs); err != nil {
						return fmt.Errorf("ingest: %q looks like JSON but is not a valid FAQ file: %w", arg, err)
					}
					sources = append(sources, ingestion.Source{
						Kind: ingestion.KindFAQ,
						Name: filepath.Base(arg),
						FAQs: faqs,
					})
					continue
				}
				sources = append(sources, ingestion.Source{
					Kind: ingestion.KindDocument,
					Name: filepath.Base(arg),
					Text: string(data),
				})
			}
			for _, path := range files {
				data, err := os.ReadFile(path)
				if err != nil {
					return fmt.Errorf("ingest: failed to read %q: %w", path, err)
				}
				sources = append(sources, ingestion.Source{
					Kind: ingestion.KindDocument,
					Name: filepath.Base(path),
					Text: string(data),
				})
			}
			for _, u := range urls {
				sources = append(sources, ingestion.Source{
					Kind: ingestion.KindURL,
					Name: u,
					URL:  u,
				})
			}
			if faqFile != "" {
				data, err := os.ReadFile(faqFile)
				if err != nil {
					return fmt.Errorf("ingest: failed to read %q: %w", faqFile, err)
				}
				var faqs []ingestion.FAQ
				if err := json.Unmarshal(data, &faqs); err != nil {
					return fmt.Errorf("ingest: %q is not a valid FAQ file: %w", faqFile, err)
				}
				sources = append(sources, ingestion.Source{
					Kind: ingestion.KindFAQ,
					Name: filepath.Base(faqFile),
					FAQs: faqs,
				})
			}

			db := openDatabase(log)
			if db != nil {
				defer func() { _ = db.Close() }()
			}

			log.Info("starting ingestion", slog.Int("sources", len(sources)))

			for _, src := range sources {
				result, err := pipeline.Ingest(ctx, agentID, src)
				if err != nil {
					return fmt.Errorf("ingest: source %q failed: %w", src.Name, err)
				}
				for _, w := range result.Warnings {
					log.Warn("ingestion warning", slog.String("source", src.Name), slog.String("warning", w))
				}
				log.Info("source ingested",
					slog.String("source", src.Name),
					slog.String("source_id", result.SourceID),
					slog.Int("chunks", result.ChunkCount),
				)
				if db != nil {
					if err := db.UpsertSource(ctx, agentID, result.SourceID, string(src.Kind), src.Name, result.ChunkCount); err != nil {
						log.Warn("source ledger update failed", slog.Any("error", err))
					}
				}
			}

			log.Info("ingestion complete", slog.Int("sources", len(sources)))
			return nil
		},
	}

	cmd.Flags().StringVarP(&agentID, "agent", "a", "", "Agent ID to ingest knowledge for (required)")
	cmd.Flags().StringArrayVarP(&files, "file", "f", nil, "Plain-text document to ingest (repeatable)")
	cmd.Flags().StringArrayVarP(&urls, "url", "u", nil, "Web page URL to scrape and ingest (repeatable)")
	cmd.Flags().StringVar(&faqFile, "faq-file", "", "JSON file of question/answer pairs")

	return cmd
}
