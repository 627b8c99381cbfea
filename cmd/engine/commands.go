package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"time"

	"github.com/joho/godotenv"
	"github.com/modelcontextprotocol/go-sdk/mcp"
	"github.com/redis/go-redis/v9"
	"github.com/spf13/cobra"

	"github.com/adverant/nexus/extraction-engine/internal/api"
	"github.com/adverant/nexus/extraction-engine/internal/app"
	"github.com/adverant/nexus/extraction-engine/internal/batch"
	"github.com/adverant/nexus/extraction-engine/internal/config"
	"github.com/adverant/nexus/extraction-engine/internal/engine"
	"github.com/adverant/nexus/extraction-engine/internal/logging"
	"github.com/adverant/nexus/extraction-engine/internal/mcpserver"
	"github.com/adverant/nexus/extraction-engine/internal/queue"
	"github.com/adverant/nexus/extraction-engine/internal/types"
)

type rootFlags struct {
	envFile    string
	configFile string
	logLevel   string
}

type extractFlags struct {
	mimeType     string
	output       string
	forceOCR     bool
	ocrBackend   string
	ocrLanguage  string
	chunkSize    int
	chunkOverlap int
	pages        bool
	noCache      bool
}

func newRootCmd() *cobra.Command {
	rf := &rootFlags{}
	root := &cobra.Command{
		Use:           "engine",
		Short:         "Document extraction engine",
		Version:       engine.Version,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVar(&rf.envFile, "env-file", ".env", "dotenv file to load before reading the environment")
	root.PersistentFlags().StringVar(&rf.configFile, "config", "", "extraction config file (JSON, YAML or TOML); overrides EXTRACTION_CONFIG")
	root.PersistentFlags().StringVar(&rf.logLevel, "log-level", "", "log level: debug, info, warn, error; overrides LOG_LEVEL")

	root.AddCommand(
		newExtractCmd(rf),
		newBatchCmd(rf),
		newDetectCmd(rf),
		newServeCmd(rf),
		newMCPCmd(rf),
		newCacheCmd(rf),
	)
	return root
}

// loadApp reads .env and the environment, then wires the engine.
func loadApp(cmd *cobra.Command, rf *rootFlags) (*app.App, error) {
	logger := logging.NewLogger("extraction-engine")
	if err := godotenv.Load(rf.envFile); err != nil && !errors.Is(err, fs.ErrNotExist) {
		logger.Warn("Failed to load env file", "path", rf.envFile, "error", err)
	}

	cfg, err := config.LoadConfig()
	if err != nil {
		return nil, fmt.Errorf("failed to load configuration: %w", err)
	}
	if rf.configFile != "" {
		cfg.ExtractionConfigFile = rf.configFile
	}
	if rf.logLevel != "" {
		cfg.LogLevel = rf.logLevel
	}
	return app.New(cmd.Context(), cfg, logger)
}

func addExtractFlags(cmd *cobra.Command, ef *extractFlags) {
	f := cmd.Flags()
	f.StringVarP(&ef.output, "output", "o", "json", "output format: json or text")
	f.BoolVar(&ef.forceOCR, "force-ocr", false, "OCR every page even when a text layer exists")
	f.StringVar(&ef.ocrBackend, "ocr-backend", "", "OCR backend name")
	f.StringVar(&ef.ocrLanguage, "ocr-language", "", "OCR language, e.g. eng or eng+deu")
	f.IntVar(&ef.chunkSize, "chunk-size", 0, "enable chunking with this many characters per chunk")
	f.IntVar(&ef.chunkOverlap, "chunk-overlap", 0, "characters shared by consecutive chunks")
	f.BoolVar(&ef.pages, "pages", false, "extract per-page content and insert page markers")
	f.BoolVar(&ef.noCache, "no-cache", false, "bypass the result cache")
}

// extractionConfig layers the command flags over the loaded defaults.
func (ef *extractFlags) extractionConfig(defaults config.ExtractionConfig) config.ExtractionConfig {
	cfg := defaults.Clone()
	var opts []config.Option
	if ef.forceOCR {
		opts = append(opts, config.WithForceOCR(true))
	}
	if ef.ocrBackend != "" {
		opts = append(opts, config.WithOCRBackend(ef.ocrBackend))
	}
	if ef.ocrLanguage != "" {
		opts = append(opts, config.WithOCRLanguage(ef.ocrLanguage))
	}
	if ef.chunkSize > 0 {
		opts = append(opts, config.WithChunking(ef.chunkSize, ef.chunkOverlap))
	}
	if ef.pages {
		opts = append(opts, config.WithPageExtraction(true))
	}
	if ef.noCache {
		opts = append(opts, config.WithCache(false))
	}
	for _, opt := range opts {
		opt(&cfg)
	}
	return cfg
}

func newExtractCmd(rf *rootFlags) *cobra.Command {
	ef := &extractFlags{}
	cmd := &cobra.Command{
		Use:   "extract <path>",
		Short: "Extract one document",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := loadApp(cmd, rf)
			if err != nil {
				return err
			}
			defer a.Close()

			cfg := ef.extractionConfig(a.Defaults)
			result, err := a.Engine.ExtractFile(cmd.Context(), args[0], ef.mimeType, &cfg)
			if err != nil && result == nil {
				return err
			}
			if err != nil {
				a.Logger.Warn("Post-processing failed, output is partial", "error", err)
			}
			return printResults(cmd.OutOrStdout(), ef.output, []*types.ExtractionResult{result}, false)
		},
	}
	addExtractFlags(cmd, ef)
	cmd.Flags().StringVar(&ef.mimeType, "mime-type", "", "MIME type hint")
	return cmd
}

func newBatchCmd(rf *rootFlags) *cobra.Command {
	ef := &extractFlags{}
	cmd := &cobra.Command{
		Use:   "batch <path>...",
		Short: "Extract several documents concurrently",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := loadApp(cmd, rf)
			if err != nil {
				return err
			}
			defer a.Close()

			cfg := ef.extractionConfig(a.Defaults)
			results, err := batch.New(a.Engine, a.Logger).ExtractFiles(cmd.Context(), args, &cfg)
			if err != nil {
				return err
			}
			return printResults(cmd.OutOrStdout(), ef.output, results, true)
		},
	}
	addExtractFlags(cmd, ef)
	return cmd
}

func newDetectCmd(rf *rootFlags) *cobra.Command {
	var hint string
	cmd := &cobra.Command{
		Use:   "detect <path>",
		Short: "Print the MIME type of a document",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := loadApp(cmd, rf)
			if err != nil {
				return err
			}
			defer a.Close()

			mimeType, err := a.Engine.DetectFile(args[0], hint)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), mimeType)
			return nil
		},
	}
	cmd.Flags().StringVar(&hint, "mime-type", "", "MIME type hint")
	return cmd
}

func newServeCmd(rf *rootFlags) *cobra.Command {
	var (
		addr     string
		withJobs bool
	)
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve the HTTP API",
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := loadApp(cmd, rf)
			if err != nil {
				return err
			}
			defer a.Close()

			opts := api.Options{
				Engine:         a.Engine,
				Defaults:       &a.Defaults,
				MaxUploadBytes: a.Config.MaxUploadBytes,
				Logger:         a.Logger,
			}
			for _, d := range a.Dependencies {
				opts.Checks = append(opts.Checks, d)
			}
			if a.Storage.Qdrant != nil {
				opts.Index = a.Storage.Qdrant
			}
			a.CheckDependencies(cmd.Context())
			if withJobs {
				producer, status, closeJobs, err := openJobQueue(a)
				if err != nil {
					return err
				}
				defer closeJobs()
				opts.Jobs = producer
				opts.Status = status
			}

			srv, err := api.NewServer(opts)
			if err != nil {
				return err
			}
			if addr == "" {
				addr = a.Config.HTTPAddr
			}
			return srv.ListenAndServe(cmd.Context(), addr)
		},
	}
	cmd.Flags().StringVar(&addr, "addr", "", "listen address; overrides HTTP_ADDR")
	cmd.Flags().BoolVar(&withJobs, "jobs", false, "enable the async /jobs routes backed by REDIS_URL")
	return cmd
}

// openJobQueue connects the producer and the status store to REDIS_URL.
func openJobQueue(a *app.App) (*queue.Producer, *queue.StatusStore, func(), error) {
	opt, err := redis.ParseURL(a.Config.RedisURL)
	if err != nil {
		return nil, nil, nil, fmt.Errorf("failed to parse Redis URL: %w", err)
	}
	client := redis.NewClient(opt)
	status := queue.NewStatusStore(client, a.Config.QueueName, a.Logger)

	// asynq's own deadline sits above the worker's processing timeout
	timeout := time.Duration(a.Config.ProcessingTimeout)*time.Millisecond + time.Minute
	producer, err := queue.NewProducer(a.Config.RedisURL, a.Config.QueueName, timeout, status, a.Logger)
	if err != nil {
		client.Close()
		return nil, nil, nil, err
	}
	return producer, status, func() {
		producer.Close()
		client.Close()
	}, nil
}

func newMCPCmd(rf *rootFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "mcp",
		Short: "Serve the extraction tools over MCP on stdio",
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := loadApp(cmd, rf)
			if err != nil {
				return err
			}
			defer a.Close()
			return mcpserver.New(a.Engine, &a.Defaults, a.Logger).Run(cmd.Context(), &mcp.StdioTransport{})
		},
	}
}

func newCacheCmd(rf *rootFlags) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "cache",
		Short: "Inspect or clear the result cache",
	}
	cmd.AddCommand(
		&cobra.Command{
			Use:   "stats",
			Short: "Print cache statistics",
			Args:  cobra.NoArgs,
			RunE: func(cmd *cobra.Command, args []string) error {
				a, err := loadApp(cmd, rf)
				if err != nil {
					return err
				}
				defer a.Close()
				c := a.Engine.Cache()
				if c == nil {
					return writeJSON(cmd.OutOrStdout(), map[string]interface{}{"backend": "none", "entries": 0})
				}
				stats, err := c.Stats(cmd.Context())
				if err != nil {
					return err
				}
				return writeJSON(cmd.OutOrStdout(), stats)
			},
		},
		&cobra.Command{
			Use:   "clear",
			Short: "Remove every cached result",
			Args:  cobra.NoArgs,
			RunE: func(cmd *cobra.Command, args []string) error {
				a, err := loadApp(cmd, rf)
				if err != nil {
					return err
				}
				defer a.Close()
				c := a.Engine.Cache()
				if c == nil {
					fmt.Fprintln(cmd.OutOrStdout(), "cache disabled")
					return nil
				}
				n, err := c.Clear(cmd.Context())
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "removed %d entries\n", n)
				return nil
			},
		},
	)
	return cmd
}

// printResults writes JSON (an array when many) or the plain content of
// each result separated by a form feed.
func printResults(w io.Writer, output string, results []*types.ExtractionResult, many bool) error {
	switch output {
	case "json", "":
		if many {
			return writeJSON(w, results)
		}
		return writeJSON(w, results[0])
	case "text":
		for i, r := range results {
			if i > 0 {
				fmt.Fprint(w, "\f\n")
			}
			if r.Metadata.Error != nil && !r.Success {
				fmt.Fprintf(w, "[%s] %s\n", r.Metadata.Error.ErrorType, r.Metadata.Error.Message)
				continue
			}
			fmt.Fprintln(w, r.Content)
		}
		return nil
	}
	return fmt.Errorf("unknown output format %q (want json or text)", output)
}

func writeJSON(w io.Writer, v interface{}) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
