package main

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/maceip/rlitert-lm/internal/manager"
	"github.com/maceip/rlitert-lm/pkg/types"
)

// withManager resolves config, builds the coordinator, runs fn, and tears
// everything down. SIGINT cancels the context so pulls and generations stop.
func withManager(opts *cliOptions, fn func(ctx context.Context, mgr *manager.Manager) error) error {
	cfg, err := opts.resolve()
	if err != nil {
		return err
	}
	log := newLogger(cfg.LogLevel)
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	mgr, err := buildManager(ctx, cfg, log)
	if err != nil {
		return err
	}
	defer mgr.Close()
	return fn(ctx, mgr)
}

func buildPullCmd(opts *cliOptions) *cobra.Command {
	var alias, token string
	cmd := &cobra.Command{
		Use:   "pull <model-id-or-url>",
		Short: "Download a model artifact",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withManager(opts, func(ctx context.Context, mgr *manager.Manager) error {
				lastLine := false
				err := mgr.PullWithProgress(ctx, args[0], alias, token, func(ev types.DownloadEvent) {
					switch ev.State {
					case types.DownloadInProgress:
						fmt.Fprintf(os.Stderr, "\r%s: %5.1f%%", ev.Model, ev.Progress)
						lastLine = true
					case types.DownloadComplete:
						if lastLine {
							fmt.Fprintln(os.Stderr)
						}
						fmt.Fprintf(os.Stderr, "%s: complete\n", ev.Model)
					case types.DownloadFailed:
						if lastLine {
							fmt.Fprintln(os.Stderr)
						}
						fmt.Fprintf(os.Stderr, "%s: failed: %s\n", ev.Model, ev.Error)
					}
				})
				return err
			})
		},
	}
	cmd.Flags().StringVar(&alias, "alias", "", "Register a URL pull under this model id")
	cmd.Flags().StringVar(&token, "hf-token", "", "Access token for gated artifacts")
	return cmd
}

func buildListCmd(opts *cliOptions) *cobra.Command {
	var all bool
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List models",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withManager(opts, func(ctx context.Context, mgr *manager.Manager) error {
				tw := tabwriter.NewWriter(os.Stdout, 2, 4, 2, ' ', 0)
				fmt.Fprintln(tw, "ID\tNAME\tDOWNLOADED\tPATH")
				for _, m := range mgr.ListModels(all) {
					fmt.Fprintf(tw, "%s\t%s\t%v\t%s\n", m.ID, m.Name, m.Downloaded, m.Path)
				}
				return tw.Flush()
			})
		},
	}
	cmd.Flags().BoolVar(&all, "all", false, "Include catalog entries that are not downloaded")
	return cmd
}

func buildRmCmd(opts *cliOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "rm <model-id>",
		Short: "Remove a model artifact (and its worker, if running)",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withManager(opts, func(ctx context.Context, mgr *manager.Manager) error {
				return mgr.RemoveModel(args[0])
			})
		},
	}
}

func buildRunCmd(opts *cliOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "run <model-id>",
		Short: "Interactive prompt loop against a local model",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withManager(opts, func(ctx context.Context, mgr *manager.Manager) error {
				model := args[0]
				sc := bufio.NewScanner(os.Stdin)
				for {
					fmt.Print("> ")
					if !sc.Scan() {
						return sc.Err()
					}
					prompt := strings.TrimSpace(sc.Text())
					if prompt == "" {
						continue
					}
					if prompt == "/bye" {
						return nil
					}
					ch, err := mgr.RunCompletionStream(ctx, model, prompt)
					if err != nil {
						return err
					}
					for c := range ch {
						if c.Err != nil {
							fmt.Println()
							return c.Err
						}
						fmt.Print(c.Text)
					}
					fmt.Println()
					if ctx.Err() != nil {
						return ctx.Err()
					}
				}
			})
		},
	}
}
