// Command quotecli runs a quoting conversation in the terminal against an
// in-memory session store.
package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strings"

	"github.com/spf13/cobra"

	"quote-agent/internal/assistant"
	"quote-agent/internal/certificate"
	"quote-agent/internal/integrations/openai"
	"quote-agent/internal/policy"
	"quote-agent/internal/repository"
	"quote-agent/internal/speech"
	"quote-agent/internal/usecase"
	"quote-agent/internal/valuation"
	"quote-agent/internal/workflow"
)

type options struct {
	ratesFile   string
	audioDir    string
	visionModel string
	maxSteps    int
	verbose     bool
}

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	opts := options{}
	cmd := &cobra.Command{
		Use:   "quotecli",
		Short: "Chat with the insurance quoting assistant",
		Long: `Start an interactive quoting session in the terminal.

The OpenAI key is read from OPENAI_API_KEY. Sessions live in memory and
end with the process. Type /ayuda for the list of commands.`,
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt)
			defer stop()
			return run(ctx, cmd, opts)
		},
	}
	cmd.Flags().StringVar(&opts.ratesFile, "rates", "", "YAML rate table (defaults to the embedded one)")
	cmd.Flags().StringVar(&opts.audioDir, "audio-dir", "audio", "directory for synthesized audio summaries")
	cmd.Flags().StringVar(&opts.visionModel, "vision-model", "gpt-4o-mini", "model for certificate and photo analysis")
	cmd.Flags().IntVar(&opts.maxSteps, "max-steps", 10, "handler runs allowed per turn")
	cmd.Flags().BoolVarP(&opts.verbose, "verbose", "v", false, "log step trails to stderr")
	return cmd
}

func run(ctx context.Context, cmd *cobra.Command, opts options) error {
	level := slog.LevelWarn
	if opts.verbose {
		level = slog.LevelDebug
	}
	slog.SetDefault(slog.New(slog.NewTextHandler(cmd.ErrOrStderr(), &slog.HandlerOptions{Level: level})))

	svc, err := buildService(opts)
	if err != nil {
		return err
	}
	return newREPL(svc, cmd.InOrStdin(), cmd.OutOrStdout()).Run(ctx)
}

func buildService(opts options) (*usecase.QuoteService, error) {
	key := strings.TrimSpace(os.Getenv("OPENAI_API_KEY"))
	if key == "" {
		return nil, errors.New("OPENAI_API_KEY is not set")
	}
	client, err := openai.NewClient(nil, "", openai.WithAPIKey(key))
	if err != nil {
		return nil, fmt.Errorf("create OpenAI client: %w", err)
	}

	extractor, err := certificate.NewExtractor(client, opts.visionModel)
	if err != nil {
		return nil, err
	}
	images, err := certificate.NewClassifier(client, opts.visionModel)
	if err != nil {
		return nil, err
	}
	rates, err := valuation.LoadRates(opts.ratesFile)
	if err != nil {
		return nil, err
	}
	valuator := valuation.NewEngine(rates)
	renderer, err := policy.NewRenderer(valuator)
	if err != nil {
		return nil, err
	}
	synth, err := speech.NewSynthesizer(client, opts.audioDir)
	if err != nil {
		return nil, err
	}
	sales, err := assistant.NewResponder(envParams{
		localPrefix + "/sales/pinned_prompt":  "QUOTE_PERSONA",
		localPrefix + "/config/openai_model": "OPENAI_MODEL",
	}, client, localPrefix, 0)
	if err != nil {
		return nil, err
	}

	engine, err := workflow.NewEngine(workflow.Dependencies{
		Extractor: extractor,
		Images:    images,
		Valuator:  valuator,
		Renderer:  renderer,
		Speech:    synth,
		Sales:     sales,
	}, workflow.WithMaxSteps(opts.maxSteps))
	if err != nil {
		return nil, err
	}
	return usecase.NewQuoteService(engine, repository.NewMemoryStore(), 0, 0)
}

const localPrefix = "/quotecli"

// envParams serves parameter names from environment variables, mapping
// each name to the variable holding its value. Unset variables are absent.
type envParams map[string]string

func (p envParams) GetParameters(_ context.Context, names ...string) (map[string]string, error) {
	out := make(map[string]string, len(names))
	for _, name := range names {
		if v := strings.TrimSpace(os.Getenv(p[name])); p[name] != "" && v != "" {
			out[name] = v
		}
	}
	return out, nil
}
