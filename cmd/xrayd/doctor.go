package main

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"xrayd/internal/cache"
	"xrayd/internal/config"
	"xrayd/internal/registry"
	"xrayd/internal/store"
)

// doctorCmd checks the artifact bundle, results directory and cache backend
// without starting the server.
func doctorCmd() *cobra.Command {
	var configPath string
	cmd := &cobra.Command{
		Use:           "doctor",
		Short:         "Check model artifacts, results directory and cache connectivity",
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := resolveDoctorConfig(cmd, configPath)
			if err != nil {
				return err
			}
			return doctor(cmd, cfg)
		},
	}
	fl := cmd.Flags()
	fl.StringVar(&configPath, "config", os.Getenv("XRAYD_CONFIG"), "Path to a yaml/json/toml config file")
	fl.String("model-dir", envStr("XRAYD_MODEL_DIR", "~/models/chest_xray"), "Directory holding the model checkpoint and threshold/label artifacts")
	fl.String("results-dir", envStr("XRAYD_RESULTS_DIR", "results"), "Directory for rendered result PNGs")
	fl.String("redis-url", os.Getenv("XRAYD_REDIS_URL"), "Redis URL for the prediction cache (empty = in-memory)")
	return cmd
}

func resolveDoctorConfig(cmd *cobra.Command, configPath string) (config.Config, error) {
	var cfg config.Config
	if configPath != "" {
		var err error
		cfg, err = config.Load(configPath)
		if err != nil {
			return cfg, fmt.Errorf("load config %s: %w", configPath, err)
		}
	}
	fl := cmd.Flags()
	if v, _ := fl.GetString("model-dir"); fl.Changed("model-dir") || cfg.ModelDir == "" {
		cfg.ModelDir = v
	}
	if v, _ := fl.GetString("results-dir"); fl.Changed("results-dir") || cfg.ResultsDir == "" {
		cfg.ResultsDir = v
	}
	if v, _ := fl.GetString("redis-url"); fl.Changed("redis-url") || cfg.RedisURL == "" {
		cfg.RedisURL = v
	}
	return cfg, nil
}

// doctor prints one line per subsystem. The model bundle and a writable
// results directory are required; an unreachable cache is only a warning
// since the daemon degrades to uncached serving.
func doctor(cmd *cobra.Command, cfg config.Config) error {
	out := cmd.OutOrStdout()
	failed := false

	logger := buildLogger("error", "console")
	bundle, err := registry.Load(cfg.ModelDir, logger)
	if err != nil {
		fmt.Fprintf(out, "model:  FAIL %v\n", err)
		failed = true
	} else {
		shape := bundle.Model.InputShape()
		fmt.Fprintf(out, "model:  ok (%s; %d findings; target layer %s; input %dx%d)\n",
			bundle.Dir, len(bundle.Labels), bundle.Model.TargetLayer(), shape[2], shape[1])
	}

	st, err := store.New(cfg.ResultsDir)
	if err != nil {
		fmt.Fprintf(out, "store:  FAIL %v\n", err)
		failed = true
	} else if probe, err := os.CreateTemp(st.Dir(), ".doctor-*"); err != nil {
		fmt.Fprintf(out, "store:  FAIL results dir not writable: %v\n", err)
		failed = true
	} else {
		_ = probe.Close()
		_ = os.Remove(probe.Name())
		fmt.Fprintf(out, "store:  ok (%s)\n", st.Dir())
	}

	if cfg.RedisURL == "" {
		fmt.Fprintf(out, "cache:  ok (in-memory)\n")
	} else {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		c := cache.NewRedis(ctx, cfg.RedisURL, logger)
		cancel()
		if c.Enabled() {
			fmt.Fprintf(out, "cache:  ok (redis reachable)\n")
		} else {
			fmt.Fprintf(out, "cache:  WARN redis unreachable, the daemon would serve uncached\n")
		}
	}

	if failed {
		return fmt.Errorf("doctor found problems")
	}
	fmt.Fprintln(out, "all checks passed")
	return nil
}
