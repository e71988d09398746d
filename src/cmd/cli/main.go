package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"os"
	"time"

	"github.com/spf13/cobra"

	"screen-solver-llm/src/config"
	"screen-solver-llm/src/events"
	"screen-solver-llm/src/llm"
	"screen-solver-llm/src/pipeline"
	"screen-solver-llm/src/screenshot"
	"screen-solver-llm/src/store"
)

type cliOptions struct {
	files      []string
	capture    bool
	jsonOutput bool
	verbose    bool
	apiKeyPath string
	language   string
}

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	opts := &cliOptions{}
	cmd := newRootCmd(opts)
	cmd.SetArgs(os.Args[1:])
	return cmd.Execute()
}

func newRootCmd(opts *cliOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:           "solver-cli",
		Short:         "Run one screenshot-to-solution pass headlessly",
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runWithOptions(*opts)
		},
	}

	cmd.Flags().StringArrayVar(&opts.files, "file", nil, "PNG screenshot of the problem (repeatable)")
	cmd.Flags().BoolVar(&opts.capture, "capture", false, "Capture the screen now instead of reading files")
	cmd.Flags().BoolVar(&opts.jsonOutput, "json", false, "Output the full result as JSON")
	cmd.Flags().BoolVarP(&opts.verbose, "verbose", "v", false, "Verbose output to stderr")
	cmd.Flags().StringVar(&opts.apiKeyPath, "api-key-path", "", "Path to API key file (highest precedence)")
	cmd.Flags().StringVar(&opts.language, "language", "", "Override the solution language")

	return cmd
}

func runWithOptions(opts cliOptions) error {
	// Configure logging BEFORE any other operations.
	if !opts.verbose {
		log.SetOutput(io.Discard)
	} else {
		log.SetOutput(os.Stderr)
	}

	if !opts.capture && len(opts.files) == 0 {
		return fmt.Errorf("provide --file at least once, or --capture")
	}

	cfg, err := config.LoadWithOptions(config.LoadOptions{APIKeyPathOverride: opts.apiKeyPath})
	if err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}
	if opts.language != "" {
		cfg.Language = opts.language
	}

	client, err := llm.NewClient(llm.Config{
		APIKey:       cfg.APIKey,
		Model:        cfg.Model,
		ExtractModel: cfg.ExtractModel,
		Language:     cfg.Language,
		Providers:    cfg.Providers,
		Timeout:      time.Duration(cfg.APIDeadlineSec) * time.Second,
	})
	if err != nil {
		return err
	}

	st, err := store.New("", cfg.MainQueueLimit, cfg.ExtraQueueLimit)
	if err != nil {
		return err
	}
	defer st.Close()

	if err := fillQueue(st, opts); err != nil {
		return err
	}

	bus := events.NewBus()
	evCh, unsub := bus.Subscribe(16)
	defer unsub()

	pipe := pipeline.New(st, client, bus)
	ctx, cancel := context.WithTimeout(context.Background(),
		time.Duration(cfg.APIDeadlineSec)*time.Second)
	defer cancel()

	_ = pipe.Run(ctx, store.QueueMain)

	return report(evCh, opts.jsonOutput)
}

func fillQueue(st *store.Store, opts cliOptions) error {
	if opts.capture {
		data, err := screenshot.Capture()
		if err != nil {
			return fmt.Errorf("capture failed: %w", err)
		}
		_, err = st.Add(store.QueueMain, data)
		return err
	}
	for _, path := range opts.files {
		data, err := os.ReadFile(path)
		if err != nil {
			return fmt.Errorf("failed to read %s: %w", path, err)
		}
		if _, err := st.Add(store.QueueMain, data); err != nil {
			return err
		}
	}
	return nil
}

// report drains the buffered lifecycle events of the completed run and
// prints the outcome.
func report(evCh <-chan events.Event, jsonOutput bool) error {
	var problem *llm.ProblemInfo
	for {
		select {
		case ev := <-evCh:
			switch ev.Kind {
			case events.KindProblemExtracted:
				problem = ev.Problem
			case events.KindSolutionSuccess:
				return printSolution(problem, ev.Solutions, jsonOutput)
			case events.KindNoScreenshots:
				return fmt.Errorf("no screenshots to process")
			case events.KindOutOfCredits:
				return fmt.Errorf("API key out of credits")
			case events.KindInvalidKey:
				return fmt.Errorf("API key invalid")
			case events.KindInitialSolutionError:
				return fmt.Errorf("processing failed: %s", ev.Message)
			}
		default:
			return fmt.Errorf("run ended without a terminal event")
		}
	}
}

func printSolution(problem *llm.ProblemInfo, sol *llm.Solutions, jsonOutput bool) error {
	if jsonOutput {
		out := struct {
			Problem  *llm.ProblemInfo `json:"problem"`
			Solution *llm.Solutions   `json:"solution"`
		}{problem, sol}
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(out)
	}
	_, err := fmt.Fprintln(os.Stdout, sol.Code)
	return err
}
