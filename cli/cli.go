// Package cli exposes the knowledge base over a small command surface:
// ingest documents, ask grounded questions, search raw matches, and inspect
// index status.
package cli

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/cloudwego/eino/components/model"
	"github.com/spf13/cobra"

	"kbqa/kb"
	"kbqa/kb/engine"
	"kbqa/kb/parser"
	"kbqa/kb/providers"
	"kbqa/kb/vector"
)

var (
	configPath string

	ingestFile     string
	ingestFormat   string
	ingestID       string
	ingestTitle    string
	ingestCategory string
	ingestOrg      string
	ingestAuthor   string
	ingestTags     []string

	askOrg        string
	askCategory   string
	askTopK       int
	askSearchOnly bool
)

var rootCmd = &cobra.Command{
	Use:           "kbqa",
	Short:         "Retrieval-augmented knowledge base Q&A engine",
	SilenceUsage:  true,
	SilenceErrors: true,
}

var ingestCmd = &cobra.Command{
	Use:   "ingest",
	Short: "Ingest a document into the knowledge base",
	RunE: func(cmd *cobra.Command, args []string) error {
		svc, cleanup, err := buildService(cmd.Context(), false)
		if err != nil {
			return err
		}
		defer cleanup()

		f, err := os.Open(ingestFile)
		if err != nil {
			return fmt.Errorf("failed to open %s: %w", ingestFile, err)
		}
		defer f.Close()

		format := ingestFormat
		if format == "" {
			format = strings.TrimPrefix(filepath.Ext(ingestFile), ".")
		}

		meta := kb.DocumentMeta{
			DocumentID:     ingestID,
			Title:          ingestTitle,
			Category:       ingestCategory,
			OrganizationID: ingestOrg,
			Author:         ingestAuthor,
			Tags:           ingestTags,
		}
		if meta.Title == "" {
			meta.Title = filepath.Base(ingestFile)
		}

		result, err := svc.Ingest(cmd.Context(), f, parser.FileTypeFromString(format), meta)
		printJSON(result)
		return err
	},
}

var askCmd = &cobra.Command{
	Use:   "ask <question>",
	Short: "Ask a question answered from the knowledge base with citations",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		svc, cleanup, err := buildService(cmd.Context(), !askSearchOnly)
		if err != nil {
			return err
		}
		defer cleanup()

		filters := map[string]string{"organization_id": askOrg}
		if askCategory != "" {
			filters["category"] = askCategory
		}

		if askSearchOnly {
			results, err := svc.Search(cmd.Context(), args[0], askTopK, filters)
			if err != nil {
				return err
			}
			printJSON(results)
			return nil
		}

		answer, err := svc.Ask(cmd.Context(), args[0], askTopK, filters, nil)
		if err != nil {
			return err
		}
		printJSON(answer)
		return nil
	},
}

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show how many chunks the index holds",
	RunE: func(cmd *cobra.Command, args []string) error {
		svc, cleanup, err := buildService(cmd.Context(), false)
		if err != nil {
			return err
		}
		defer cleanup()

		count, err := svc.Count(cmd.Context())
		if err != nil {
			return err
		}
		fmt.Printf("indexed chunks: %d\n", count)
		return nil
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "config.yaml", "path to the YAML config file")

	ingestCmd.Flags().StringVar(&ingestFile, "file", "", "path to the document to ingest")
	ingestCmd.Flags().StringVar(&ingestFormat, "format", "", "document format (pdf, docx, txt); derived from the extension when omitted")
	ingestCmd.Flags().StringVar(&ingestID, "id", "", "stable document id; derived when omitted")
	ingestCmd.Flags().StringVar(&ingestTitle, "title", "", "document title")
	ingestCmd.Flags().StringVar(&ingestCategory, "category", "", "document category")
	ingestCmd.Flags().StringVar(&ingestOrg, "org", "", "owning organization id")
	ingestCmd.Flags().StringVar(&ingestAuthor, "author", "", "document author")
	ingestCmd.Flags().StringSliceVar(&ingestTags, "tags", nil, "document tags")
	ingestCmd.MarkFlagRequired("file")
	ingestCmd.MarkFlagRequired("category")
	ingestCmd.MarkFlagRequired("org")

	askCmd.Flags().StringVar(&askOrg, "org", "", "organization id to query within")
	askCmd.Flags().StringVar(&askCategory, "category", "", "restrict matches to a category")
	askCmd.Flags().IntVar(&askTopK, "top-k", 0, "number of matches to retrieve")
	askCmd.Flags().BoolVar(&askSearchOnly, "search-only", false, "return raw matches without generating an answer")
	askCmd.MarkFlagRequired("org")

	rootCmd.AddCommand(ingestCmd, askCmd, statusCmd)
}

// Execute runs the root command.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

// buildService assembles the engine from config, environment, and the
// external capabilities. The chat model is only constructed when the command
// generates answers; ingestion and raw search must not demand chat
// credentials. The returned cleanup closes the store connection.
func buildService(ctx context.Context, withChat bool) (*engine.Service, func(), error) {
	appCfg, err := LoadConfig(configPath)
	if err != nil {
		return nil, nil, err
	}
	cfg := appCfg.EngineConfig()
	log := slog.Default()

	embedder, err := providers.CreateEmbeddingModel(ctx)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to create embedding model: %w", err)
	}
	var chatModel model.ToolCallingChatModel
	if withChat {
		chatModel, err = providers.CreateChatModel(ctx)
		if err != nil {
			return nil, nil, fmt.Errorf("failed to create chat model: %w", err)
		}
	}

	var store vector.Store
	if appCfg.Store.Type == "memory" {
		store = vector.NewMemoryStore(cfg.EmbeddingDim)
	} else {
		redisStore, err := vector.NewRedisStore(ctx, appCfg.RedisConfig(cfg), log)
		if err != nil {
			return nil, nil, fmt.Errorf("failed to connect vector store: %w", err)
		}
		store = redisStore
	}

	embedSvc := vector.NewEmbeddingService(embedder, cfg.EmbeddingDim, cfg.EmbedBatchSize, log)
	svc := engine.New(cfg, parser.DefaultRegistry(), embedSvc, store, chatModel, log)
	cleanup := func() {
		svc.Shutdown()
		store.Close()
	}
	return svc, cleanup, nil
}

func printJSON(v any) {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		fmt.Println(v)
		return
	}
	fmt.Println(string(data))
}
