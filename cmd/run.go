package cmd

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"

	jsoniter "github.com/json-iterator/go"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/xkilldash9x/scalpel-driver/internal/browser/htmldoc"
	"github.com/xkilldash9x/scalpel-driver/internal/browser/netidle"
	"github.com/xkilldash9x/scalpel-driver/internal/browser/resolver"
	"github.com/xkilldash9x/scalpel-driver/internal/browser/session"
	"github.com/xkilldash9x/scalpel-driver/internal/config"
	"github.com/xkilldash9x/scalpel-driver/internal/flow"
	"github.com/xkilldash9x/scalpel-driver/internal/observability"
)

// flowOutcome is one entry of the run command's JSON output.
type flowOutcome struct {
	File    string            `json:"file"`
	Flow    string            `json:"flow,omitempty"`
	Outputs map[string]string `json:"outputs,omitempty"`
	Error   string            `json:"error,omitempty"`
}

type runOptions struct {
	htmlFile string
	output   string
	parallel int
}

func newRunCmd() *cobra.Command {
	var opts runOptions
	runCmd := &cobra.Command{
		Use:   "run [flow.yaml...]",
		Short: "Runs interaction flows, each in its own browser session",
		Long: `Runs every flow file concurrently, each in a fresh browser session, and
prints the values the flows saved as JSON.

With --html the flows run offline against a static HTML file instead of a
browser. Same-document iframes (srcdoc) can be entered in that mode.`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := configFrom(cmd.Context())
			if err != nil {
				return err
			}
			if err := applyBrowserFlags(cmd.Flags(), cfg); err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			if opts.output != "" {
				f, err := os.Create(opts.output)
				if err != nil {
					return fmt.Errorf("create output file: %w", err)
				}
				defer f.Close()
				out = f
			}
			return runFlows(cmd.Context(), cfg, args, opts, out)
		},
	}

	runCmd.Flags().StringVar(&opts.htmlFile, "html", "", "run offline against this HTML file instead of a browser")
	runCmd.Flags().StringVarP(&opts.output, "output", "o", "", "write results to this file instead of stdout")
	runCmd.Flags().IntVarP(&opts.parallel, "parallel", "p", 4, "maximum number of flows running at once")
	runCmd.Flags().Bool("headless", true, "run the browser without a window")
	runCmd.Flags().Bool("cdp-debug", false, "log every DevTools protocol message")
	runCmd.Flags().String("download-dir", "", "directory the browser saves downloads into")
	runCmd.Flags().Duration("step-timeout", 0, "bound for each flow step (0 waits indefinitely)")
	bindFlagToConfig(runCmd.Flags(), "step-timeout", "resolver.step_timeout")
	return runCmd
}

// applyBrowserFlags overrides the browser settings given on the command line.
// Flags left unset keep the configured values.
func applyBrowserFlags(flags *pflag.FlagSet, cfg config.Interface) error {
	if flags.Changed("headless") {
		headless, err := flags.GetBool("headless")
		if err != nil {
			return err
		}
		cfg.SetBrowserHeadless(headless)
	}
	if flags.Changed("cdp-debug") {
		debug, err := flags.GetBool("cdp-debug")
		if err != nil {
			return err
		}
		cfg.SetBrowserDebug(debug)
	}
	if flags.Changed("download-dir") {
		dir, err := flags.GetString("download-dir")
		if err != nil {
			return err
		}
		cfg.SetBrowserDownloadDir(dir)
	}
	return nil
}

// runFlows loads every flow up front, runs them concurrently and writes one
// outcome per file, in argument order. Flow failures are reported in the
// output and joined into the returned error.
func runFlows(ctx context.Context, cfg *config.Config, files []string, opts runOptions, out io.Writer) error {
	logger := observability.GetLogger()

	flows := make([]*flow.Flow, len(files))
	for i, path := range files {
		f, err := flow.Load(path)
		if err != nil {
			return err
		}
		flows[i] = f
	}

	var page []byte
	if opts.htmlFile != "" {
		data, err := os.ReadFile(opts.htmlFile)
		if err != nil {
			return fmt.Errorf("read html: %w", err)
		}
		page = data
	}

	runner := flow.NewRunner(logger, cfg.Resolver().StepTimeout)
	outcomes := make([]flowOutcome, len(flows))
	errs := make([]error, len(flows))

	var g errgroup.Group
	if opts.parallel > 0 {
		g.SetLimit(opts.parallel)
	}
	for i, f := range flows {
		g.Go(func() error {
			var res *flow.Result
			var err error
			if page != nil {
				res, err = runOffline(ctx, cfg, runner, page, f)
			} else {
				res, err = runInBrowser(ctx, cfg, runner, logger, f)
			}

			outcomes[i] = flowOutcome{File: files[i], Flow: f.Name}
			if res != nil && len(res.Outputs) > 0 {
				outcomes[i].Outputs = res.Outputs
			}
			if err != nil {
				outcomes[i].Error = err.Error()
				errs[i] = fmt.Errorf("%s: %w", files[i], err)
			}
			return nil
		})
	}
	_ = g.Wait()

	enc := jsoniter.ConfigCompatibleWithStandardLibrary.NewEncoder(out)
	enc.SetIndent("", "  ")
	if err := enc.Encode(outcomes); err != nil {
		return fmt.Errorf("write results: %w", err)
	}
	return errors.Join(errs...)
}

func resolverOptions(cfg *config.Config) []resolver.Option {
	return []resolver.Option{
		resolver.WithPollInterval(cfg.Resolver().PollInterval),
		resolver.WithIdleWindow(cfg.Resolver().IdleWindow),
	}
}

func runInBrowser(ctx context.Context, cfg *config.Config, runner *flow.Runner, logger *zap.Logger, f *flow.Flow) (*flow.Result, error) {
	s := session.New(cfg.Browser(), logger, session.WithResolverOptions(resolverOptions(cfg)...))
	defer s.Close()

	if err := s.Init(ctx); err != nil {
		return nil, err
	}
	if f.URL != "" {
		if err := s.Navigate(ctx, f.URL); err != nil {
			return nil, err
		}
	}
	root, err := s.Resolver()
	if err != nil {
		return nil, err
	}
	return runner.Run(ctx, root, f)
}

// runOffline gives every flow its own parsed copy of the page so that typing
// in one flow is invisible to the others.
func runOffline(ctx context.Context, cfg *config.Config, runner *flow.Runner, page []byte, f *flow.Flow) (*flow.Result, error) {
	doc, err := htmldoc.ParseString(string(page))
	if err != nil {
		return nil, err
	}
	opts := append(resolverOptions(cfg),
		resolver.WithLogger(observability.GetLogger()),
		resolver.WithIdleTracker(netidle.NewTracker(nil)),
	)
	return runner.Run(ctx, resolver.New(doc, ctx, opts...), f)
}
