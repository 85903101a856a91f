package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

func main() {
	if err := buildRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}

func buildRootCmd() *cobra.Command {
	opts := &cliOptions{}
	root := &cobra.Command{
		Use:           "litertd",
		Short:         "Local LiteRT model daemon: pull, serve and run models",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVar(&opts.configPath, "config", "", "Config file (yaml/json/toml); flags and env override it")
	root.PersistentFlags().StringVar(&opts.modelsDir, "models-dir", "", "Directory holding model artifacts (defaults LITERTD_MODELS_DIR or ~/models/litert)")
	root.PersistentFlags().StringVar(&opts.workerBin, "binary", "", "Worker executable path (defaults LITERTD_BINARY or the cached release asset)")
	root.PersistentFlags().StringVar(&opts.logLevel, "log-level", "", "Log level: debug|info|warn|error")

	root.AddCommand(
		buildServeCmd(opts),
		buildPullCmd(opts),
		buildListCmd(opts),
		buildRmCmd(opts),
		buildRunCmd(opts),
	)
	return root
}
