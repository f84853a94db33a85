package main

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"xrayd/internal/cache"
	"xrayd/internal/config"
	"xrayd/internal/httpapi"
	"xrayd/internal/pipeline"
	"xrayd/internal/registry"
	"xrayd/internal/store"
)

func main() {
	// Best-effort .env for local development
	_ = godotenv.Load()

	if err := rootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err.Error())
		os.Exit(1)
	}
}

// rootCmd wires flags with environment variable defaults. Precedence is
// explicit flag, then config file, then environment, then built-in default.
func rootCmd() *cobra.Command {
	var configPath string
	cmd := &cobra.Command{
		Use:           "xrayd",
		Short:         "Chest radiograph classification and saliency service",
		Long:          "xrayd serves multi-label chest X-ray classification with CAM saliency heatmaps over HTTP.",
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := resolveConfig(cmd, configPath)
			if err != nil {
				return err
			}
			return serve(cfg)
		},
	}

	fl := cmd.Flags()
	fl.StringVar(&configPath, "config", os.Getenv("XRAYD_CONFIG"), "Path to a yaml/json/toml config file")
	fl.String("addr", envStr("XRAYD_ADDR", ":8080"), "HTTP listen address, e.g. :8080")
	fl.String("model-dir", envStr("XRAYD_MODEL_DIR", "~/models/chest_xray"), "Directory holding the model checkpoint and threshold/label artifacts")
	fl.String("results-dir", envStr("XRAYD_RESULTS_DIR", "results"), "Directory for rendered result PNGs")
	fl.String("redis-url", os.Getenv("XRAYD_REDIS_URL"), "Redis URL for the prediction cache (empty = in-memory)")
	fl.Int("workers", envInt("XRAYD_WORKERS", 0), "Concurrent prediction workers (0 = per-CPU default)")
	fl.Int("max-queue-depth", envInt("XRAYD_MAX_QUEUE_DEPTH", 0), "Admission queue depth (0 = default)")
	fl.Int("max-wait-seconds", envInt("XRAYD_MAX_WAIT_SECONDS", 0), "Seconds a request may wait for a slot (0 = default)")
	fl.Int("cam-workers", envInt("XRAYD_CAM_WORKERS", 0), "Workers for Score-CAM channel passes (0 = per-CPU default)")
	fl.Int("cache-ttl-seconds", envInt("XRAYD_CACHE_TTL_SECONDS", 0), "Prediction cache TTL in seconds (0 = default)")
	fl.Int("max-body-mb", envInt("XRAYD_MAX_BODY_MB", 0), "Maximum upload size in MiB (0 = default)")
	fl.String("cors-origins", os.Getenv("XRAYD_CORS_ORIGINS"), "Comma-separated allowed CORS origins (empty disables CORS)")
	fl.String("log-level", envStr("XRAYD_LOG_LEVEL", "info"), "Log level: trace|debug|info|warn|error")
	fl.String("log-format", envStr("XRAYD_LOG_FORMAT", "json"), "Log format: json|console")

	cmd.AddCommand(doctorCmd())
	return cmd
}

// resolveConfig merges the optional config file with flag values. A flag the
// user set explicitly always wins; otherwise file values fill in, and flag
// defaults (environment-backed) cover the rest.
func resolveConfig(cmd *cobra.Command, configPath string) (config.Config, error) {
	var cfg config.Config
	if configPath != "" {
		var err error
		cfg, err = config.Load(configPath)
		if err != nil {
			return cfg, fmt.Errorf("load config %s: %w", configPath, err)
		}
	}

	fl := cmd.Flags()
	if v, _ := fl.GetString("addr"); fl.Changed("addr") || cfg.Addr == "" {
		cfg.Addr = v
	}
	if v, _ := fl.GetString("model-dir"); fl.Changed("model-dir") || cfg.ModelDir == "" {
		cfg.ModelDir = v
	}
	if v, _ := fl.GetString("results-dir"); fl.Changed("results-dir") || cfg.ResultsDir == "" {
		cfg.ResultsDir = v
	}
	if v, _ := fl.GetString("redis-url"); fl.Changed("redis-url") || cfg.RedisURL == "" {
		cfg.RedisURL = v
	}
	if v, _ := fl.GetInt("workers"); fl.Changed("workers") || cfg.Workers == 0 {
		cfg.Workers = v
	}
	if v, _ := fl.GetInt("max-queue-depth"); fl.Changed("max-queue-depth") || cfg.MaxQueueDepth == 0 {
		cfg.MaxQueueDepth = v
	}
	if v, _ := fl.GetInt("max-wait-seconds"); fl.Changed("max-wait-seconds") || cfg.MaxWaitSeconds == 0 {
		cfg.MaxWaitSeconds = v
	}
	if v, _ := fl.GetInt("cam-workers"); fl.Changed("cam-workers") || cfg.CAMWorkers == 0 {
		cfg.CAMWorkers = v
	}
	if v, _ := fl.GetInt("cache-ttl-seconds"); fl.Changed("cache-ttl-seconds") || cfg.CacheTTLSeconds == 0 {
		cfg.CacheTTLSeconds = v
	}
	if v, _ := fl.GetInt("max-body-mb"); fl.Changed("max-body-mb") || cfg.MaxBodyMB == 0 {
		cfg.MaxBodyMB = v
	}
	if v, _ := fl.GetString("cors-origins"); fl.Changed("cors-origins") || len(cfg.CORSOrigins) == 0 {
		cfg.CORSOrigins = splitCSV(v)
	}
	if v, _ := fl.GetString("log-level"); fl.Changed("log-level") || cfg.LogLevel == "" {
		cfg.LogLevel = v
	}
	if v, _ := fl.GetString("log-format"); fl.Changed("log-format") || cfg.LogFormat == "" {
		cfg.LogFormat = v
	}
	return cfg, nil
}

func serve(cfg config.Config) error {
	logger := buildLogger(cfg.LogLevel, cfg.LogFormat)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	bundle, err := registry.Load(cfg.ModelDir, logger)
	if err != nil {
		return fmt.Errorf("load model bundle: %w", err)
	}
	logger.Info().
		Str("dir", bundle.Dir).
		Int("classes", len(bundle.Labels)).
		Str("target_layer", bundle.Model.TargetLayer()).
		Msg("model bundle loaded")

	st, err := store.New(cfg.ResultsDir)
	if err != nil {
		return fmt.Errorf("open results dir: %w", err)
	}

	var c cache.Cache
	if cfg.RedisURL != "" {
		c = cache.NewRedis(ctx, cfg.RedisURL, logger)
	} else {
		c = cache.NewMemory()
	}

	p, err := pipeline.New(pipeline.Config{
		Bundle:        bundle,
		Store:         st,
		Cache:         c,
		Logger:        logger,
		Workers:       cfg.Workers,
		MaxQueueDepth: cfg.MaxQueueDepth,
		MaxWait:       time.Duration(cfg.MaxWaitSeconds) * time.Second,
		CAMWorkers:    cfg.CAMWorkers,
		CacheTTL:      time.Duration(cfg.CacheTTLSeconds) * time.Second,
	})
	if err != nil {
		return err
	}

	httpapi.SetLogger(logger)
	httpapi.SetBaseContext(ctx)
	httpapi.SetMaxBodyBytes(int64(cfg.MaxBodyMB) << 20)
	httpapi.SetCORSOptions(len(cfg.CORSOrigins) > 0, cfg.CORSOrigins, nil, nil)

	srv := &http.Server{
		Addr:              cfg.Addr,
		Handler:           httpapi.NewMux(p),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info().Str("addr", cfg.Addr).Str("model_dir", cfg.ModelDir).Msg("xrayd listening")
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	logger.Info().Msg("shutting down")
	shutCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutCtx); err != nil {
		logger.Error().Err(err).Msg("graceful shutdown error")
		return err
	}
	return nil
}

func buildLogger(level, format string) zerolog.Logger {
	lvl, err := zerolog.ParseLevel(strings.ToLower(level))
	if err != nil || lvl == zerolog.NoLevel {
		lvl = zerolog.InfoLevel
	}
	var w io.Writer = os.Stderr
	if format == "console" {
		w = zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339}
	}
	return zerolog.New(w).Level(lvl).With().Timestamp().Str("service", "xrayd").Logger()
}

func envStr(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func envInt(key string, def int) int {
	if v := os.Getenv(key); v != "" {
		var n int
		if _, err := fmt.Sscanf(v, "%d", &n); err == nil {
			return n
		}
	}
	return def
}

func splitCSV(s string) []string {
	var out []string
	for _, p := range strings.Split(s, ",") {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}
