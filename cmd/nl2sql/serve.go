package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"

	"github.com/dshills/nl2sql-go/assistant"
	"github.com/dshills/nl2sql-go/flow"
	"github.com/dshills/nl2sql-go/flow/emit"
	"github.com/dshills/nl2sql-go/flow/store"
	"github.com/dshills/nl2sql-go/kb"
	"github.com/dshills/nl2sql-go/llm"
	"github.com/dshills/nl2sql-go/llm/anthropic"
	"github.com/dshills/nl2sql-go/llm/google"
	"github.com/dshills/nl2sql-go/llm/openai"
	"github.com/dshills/nl2sql-go/server"
	"github.com/dshills/nl2sql-go/sqldb"
)

func init() {
	var configPath string

	serveCmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(cmd.Context(), configPath)
		},
	}
	serveCmd.Flags().StringVarP(&configPath, "config", "c", "nl2sql.yml", "path to config file")
	rootCmd.AddCommand(serveCmd)
}

func runServe(ctx context.Context, configPath string) error {
	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg, err := LoadConfig(configPath)
	if err != nil {
		return err
	}
	logger := newLogger(cfg.Logging.Level, cfg.Logging.Format)

	db, err := sqldb.Open(cfg.Database.Driver, cfg.Database.DSN)
	if err != nil {
		return err
	}
	defer db.Close()

	model, cleanup, err := buildModel(ctx, cfg)
	if err != nil {
		return err
	}
	if cleanup != nil {
		defer cleanup()
	}

	searcher, schema, err := buildKnowledge(ctx, cfg)
	if err != nil {
		return err
	}

	checkpoints, closeStore, err := buildStore(ctx, cfg)
	if err != nil {
		return err
	}
	if closeStore != nil {
		defer closeStore()
	}

	asst, err := assistant.New(model, db, searcher, assistant.Config{Schema: schema})
	if err != nil {
		return err
	}
	graph, err := asst.Graph()
	if err != nil {
		return err
	}

	engine, err := flow.New(graph, checkpoints,
		flow.WithEmitter(emit.NewLogEmitter(logger)),
		flow.WithMetrics(flow.NewMetrics(prometheus.DefaultRegisterer)),
		flow.WithDefaultStepTimeout(2*time.Minute),
	)
	if err != nil {
		return err
	}

	mux := http.NewServeMux()
	mux.Handle("/", server.New(engine, logger).Router())
	mux.Handle("/metrics", promhttp.Handler())

	httpServer := &http.Server{
		Addr:              cfg.Server.Addr,
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("listening", "addr", cfg.Server.Addr)
		errCh <- httpServer.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
	case <-ctx.Done():
		logger.Info("shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		defer cancel()
		if err := httpServer.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("shutdown failed: %w", err)
		}
	}
	return nil
}

func buildModel(ctx context.Context, cfg Config) (llm.Model, func() error, error) {
	apiKey, err := cfg.APIKey()
	if err != nil {
		return nil, nil, err
	}

	switch cfg.LLM.Provider {
	case "openai":
		return openai.New(apiKey, cfg.LLM.Model), nil, nil
	case "anthropic":
		return anthropic.New(apiKey, cfg.LLM.Model), nil, nil
	case "google":
		model, err := google.New(ctx, apiKey, cfg.LLM.Model)
		if err != nil {
			return nil, nil, err
		}
		return model, model.Close, nil
	default:
		return nil, nil, fmt.Errorf("unknown llm provider %q", cfg.LLM.Provider)
	}
}

func buildKnowledge(ctx context.Context, cfg Config) (kb.Searcher, string, error) {
	var embedder kb.Embedder
	switch cfg.Knowledge.Embedder {
	case "hash":
		embedder = kb.NewHashEmbedder(0)
	case "openai":
		apiKey, err := cfg.APIKey()
		if err != nil {
			return nil, "", err
		}
		embedder = kb.NewOpenAIEmbedder(apiKey, "")
	default:
		return nil, "", fmt.Errorf("unknown embedder %q", cfg.Knowledge.Embedder)
	}

	schemaDocs, err := kb.LoadSchema(cfg.Knowledge.Schema)
	if err != nil {
		return nil, "", err
	}

	index := kb.NewIndex(embedder)
	if err := index.Add(ctx, schemaDocs...); err != nil {
		return nil, "", err
	}
	if cfg.Knowledge.Examples != "" {
		exampleDocs, err := kb.LoadExamples(cfg.Knowledge.Examples)
		if err != nil {
			return nil, "", err
		}
		if err := index.Add(ctx, exampleDocs...); err != nil {
			return nil, "", err
		}
	}
	return index, kb.FormatSchema(schemaDocs), nil
}

func buildStore(ctx context.Context, cfg Config) (store.Store[flow.State], func() error, error) {
	switch cfg.Store.Backend {
	case "memory":
		return store.NewMemoryStore[flow.State](), nil, nil
	case "sqlite":
		st, err := store.NewSQLiteStore[flow.State](cfg.Store.DSN)
		if err != nil {
			return nil, nil, err
		}
		return st, st.Close, nil
	case "mysql":
		st, err := store.NewMySQLStore[flow.State](cfg.Store.DSN)
		if err != nil {
			return nil, nil, err
		}
		return st, st.Close, nil
	case "redis":
		st, err := store.NewRedisStore[flow.State](ctx, cfg.Store.DSN)
		if err != nil {
			return nil, nil, err
		}
		return st, st.Close, nil
	default:
		return nil, nil, fmt.Errorf("unknown store backend %q", cfg.Store.Backend)
	}
}
