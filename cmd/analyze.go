package cmd

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/bytedance/sonic"
	"github.com/smazurov/detectnode/internal/config"
	"github.com/smazurov/detectnode/internal/events"
	"github.com/smazurov/detectnode/internal/logging"
	"github.com/smazurov/detectnode/internal/pipeline"
	"github.com/smazurov/detectnode/internal/process"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"
)

// ErrAnalysisFailed is returned when a local run ends with an error event.
var ErrAnalysisFailed = errors.New("analysis failed")

// AnalyzeOptions are the flags of the analyze command.
type AnalyzeOptions struct {
	WorkersFile string
	Audio       bool
	Quick       bool
	Motion      bool
	Night       bool
	Enable      []string
	Only        []string
	LogLevel    string
	LogJSON     bool
}

// CreateAnalyzeCmd creates the analyze command.
func CreateAnalyzeCmd() *cobra.Command {
	var opts AnalyzeOptions

	cmd := &cobra.Command{
		Use:   "analyze <file>",
		Short: "Run an analysis pipeline locally",
		Long: `Runs the file (or, with --audio, the audio) pipeline against a local file ` +
			`and prints every event as a JSON line on stdout. Logs go to stderr.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cmd.SilenceUsage = true

			format := "text"
			if opts.LogJSON {
				format = "json"
			}
			logging.Initialize(logging.Config{Level: opts.LogLevel, Format: format})

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return RunAnalyze(ctx, args[0], opts, cmd.OutOrStdout())
		},
	}

	cmd.Flags().StringVarP(&opts.WorkersFile, "workers", "w", config.WorkersFile, "Worker definitions file")
	cmd.Flags().BoolVar(&opts.Audio, "audio", false, "Run the audio pipeline")
	cmd.Flags().BoolVarP(&opts.Quick, "quick", "q", false, "Stop at the first hazard")
	cmd.Flags().BoolVar(&opts.Motion, "motion-detection", false, "Enable motion detection")
	cmd.Flags().BoolVar(&opts.Night, "night-mode", false, "Enable night mode")
	cmd.Flags().StringSliceVar(&opts.Enable, "enable", nil, "Optional stages to run")
	cmd.Flags().StringSliceVar(&opts.Only, "only", nil, "Run only these stages")
	cmd.Flags().StringVar(&opts.LogLevel, "log-level", "warn", "Log level (debug, info, warn, error)")
	cmd.Flags().BoolVar(&opts.LogJSON, "log-json", false, "Log in JSON format")
	return cmd
}

// RunAnalyze runs one pipeline over source and writes its events to out as
// JSON lines. Cancelling ctx stops the running worker.
func RunAnalyze(ctx context.Context, source string, opts AnalyzeOptions, out io.Writer) error {
	if _, err := os.Stat(source); err != nil {
		return fmt.Errorf("source: %w", err)
	}
	w, err := config.LoadWorkers(opts.WorkersFile)
	if err != nil {
		return err
	}

	planner := pipeline.NewPlanner(func() config.Workers { return w })
	var run pipeline.Run
	if opts.Audio {
		run, err = planner.Audio(source)
	} else {
		run, err = planner.File(pipeline.FileRequest{
			Source:          source,
			Quick:           opts.Quick,
			MotionDetection: opts.Motion,
			NightMode:       opts.Night,
			Enable:          opts.Enable,
			Only:            opts.Only,
		})
		if err == nil {
			_, err = pipeline.PrepareResults(w.ResultsRoot)
		}
	}
	if err != nil {
		return err
	}

	registry := process.NewRegistry(nil)
	orch := pipeline.New(pipeline.Options{Registry: registry})
	evCh := make(chan events.Analysis, 64)

	g, gctx := errgroup.WithContext(ctx)
	var terminal events.Analysis
	g.Go(func() error {
		defer close(evCh)
		terminal = orch.Run(gctx, run, func(ev events.Analysis) { evCh <- ev })
		return nil
	})
	g.Go(func() error {
		bw := bufio.NewWriter(out)
		enc := sonic.ConfigDefault.NewEncoder(bw)
		var werr error
		for ev := range evCh {
			if werr != nil {
				continue
			}
			if werr = enc.Encode(ev); werr == nil {
				werr = bw.Flush()
			}
		}
		if werr != nil {
			return fmt.Errorf("write events: %w", werr)
		}
		return nil
	})
	if err := g.Wait(); err != nil {
		return err
	}

	if terminal.Status == events.StatusError {
		return fmt.Errorf("%w: %s", ErrAnalysisFailed, terminal.Error)
	}
	return nil
}
