package xrayctl

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

// Config carries the persistent CLI settings.
type Config struct {
	Server string
	LogLvl string
}

func defaultCLIConfig() *Config {
	return &Config{
		Server: envStr("XRAYD_SERVER", "http://localhost:8080"),
		LogLvl: envStr("XRAYCTL_LOG_LEVEL", "info"),
	}
}

// buildRootCmdWith constructs the command tree wired to the fn* actions.
func buildRootCmdWith(cfg *Config) *cobra.Command {
	root := &cobra.Command{
		Use:           "xrayctl",
		Short:         "Client utilities for a running xrayd server",
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	// Persistent flags -> Config
	root.PersistentFlags().String("server", cfg.Server, "Base URL of the xrayd server (defaults XRAYD_SERVER or http://localhost:8080)")
	root.PersistentFlags().String("log-level", cfg.LogLvl, "Log level: debug|info|warn|error (defaults XRAYCTL_LOG_LEVEL or info)")
	root.PersistentPreRun = func(cmd *cobra.Command, args []string) {
		if f := cmd.InheritedFlags().Lookup("server"); f != nil {
			if v := f.Value.String(); v != "" {
				cfg.Server = v
			}
		}
		if f := cmd.InheritedFlags().Lookup("log-level"); f != nil {
			if v := f.Value.String(); v != "" {
				cfg.LogLvl = v
			}
		}
		SetLogLevel(cfg.LogLvl)
	}

	var method, predictOut string
	var fetch bool
	predictCmd := &cobra.Command{
		Use:     "predict <image>",
		Short:   "Upload a radiograph and print the prediction",
		Example: "  xrayctl predict scan.png --method gradcam++ --fetch --out results",
		Args:    cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return fnPredict(cfg, args[0], method, fetch, predictOut)
		},
	}
	predictCmd.Flags().StringVar(&method, "method", "gradcam", "CAM method: gradcam|gradcam++|scorecam")
	predictCmd.Flags().BoolVar(&fetch, "fetch", false, "Download the rendered images after predicting")
	predictCmd.Flags().StringVar(&predictOut, "out", ".", "Directory for downloaded images")
	root.AddCommand(predictCmd)

	var imageOut string
	imageCmd := &cobra.Command{
		Use:   "image <name>",
		Short: "Download one result image by its server name",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return fnFetchImage(cfg, args[0], imageOut)
		},
	}
	imageCmd.Flags().StringVar(&imageOut, "out", ".", "Directory for the downloaded image")
	root.AddCommand(imageCmd)

	root.AddCommand(&cobra.Command{
		Use:   "status",
		Short: "Print server status",
		RunE: func(cmd *cobra.Command, args []string) error {
			return fnStatus(cfg)
		},
	})

	root.AddCommand(&cobra.Command{
		Use:   "health",
		Short: "Probe server liveness",
		RunE: func(cmd *cobra.Command, args []string) error {
			return fnHealth(cfg)
		},
	})

	return root
}

// MainWithArgs is a testable variant of Main that accepts args explicitly.
// It returns an exit code (0 for success, non-zero on error).
func MainWithArgs(args []string) int {
	root := buildRootCmdWith(defaultCLIConfig())
	root.SetArgs(args)
	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err.Error())
		return 1
	}
	return 0
}

// Main returns an exit code for use by cmd/xrayctl.
func Main() int { return MainWithArgs(os.Args[1:]) }
