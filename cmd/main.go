package main

import (
	"context"
	"log/slog"
	"os"
	"strconv"
	"time"
	_ "time/tzdata"

	"github.com/aws/aws-lambda-go/lambda"
	"github.com/aws/aws-sdk-go-v2/config"
	awsdynamodb "github.com/aws/aws-sdk-go-v2/service/dynamodb"
	awsssm "github.com/aws/aws-sdk-go-v2/service/ssm"

	"quote-agent/handler"
	"quote-agent/internal/assistant"
	"quote-agent/internal/certificate"
	"quote-agent/internal/integrations/openai"
	"quote-agent/internal/integrations/paramstore"
	"quote-agent/internal/policy"
	"quote-agent/internal/repository"
	"quote-agent/internal/speech"
	"quote-agent/internal/usecase"
	"quote-agent/internal/valuation"
	"quote-agent/internal/workflow"
)

func main() {
	ctx := context.Background()
	slog.SetDefault(slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: logLevel()})))

	// ---- Configuration (read only here) ----
	stateTable := mustEnv("STATE_TABLE")
	paramPrefix := mustEnv("PARAM_PREFIX")
	ratesFile := envString("RATES_FILE", "")
	audioDir := envString("AUDIO_DIR", "/tmp/audio")
	visionModel := envString("VISION_MODEL", "gpt-4o-mini")
	ttsModel := envString("TTS_MODEL", speech.DefaultModel)
	ttsVoice := envString("TTS_VOICE", speech.DefaultVoice)
	company := envString("COMPANY_NAME", "")
	timezone := envString("TIMEZONE", "America/Lima")
	maxSteps := envInt("MAX_STEPS", 10)
	maxHistory := envInt("MAX_HISTORY", 12)
	maxMessageLen := envInt("MAX_MESSAGE_LENGTH", 1000)
	maxUploads := envInt("MAX_UPLOADS", 10)

	// ---- AWS SDK config ----
	cfg, err := config.LoadDefaultConfig(ctx)
	if err != nil {
		slog.Error("failed to load AWS config", "err", err)
		os.Exit(1)
	}

	// ---- Clients ----
	ssmClient, err := paramstore.New(awsssm.NewFromConfig(cfg))
	if err != nil {
		slog.Error("failed to create SSM client", "err", err)
		os.Exit(1)
	}
	store, err := repository.New(awsdynamodb.NewFromConfig(cfg), stateTable)
	if err != nil {
		slog.Error("failed to create session store", "err", err)
		os.Exit(1)
	}
	openaiClient, err := openai.NewClient(ssmClient, paramPrefix)
	if err != nil {
		slog.Error("failed to create OpenAI client", "err", err)
		os.Exit(1)
	}

	// ---- Collaborators ----
	extractor, err := certificate.NewExtractor(openaiClient, visionModel)
	if err != nil {
		slog.Error("failed to create certificate extractor", "err", err)
		os.Exit(1)
	}
	images, err := certificate.NewClassifier(openaiClient, visionModel)
	if err != nil {
		slog.Error("failed to create image classifier", "err", err)
		os.Exit(1)
	}
	rates, err := valuation.LoadRates(ratesFile)
	if err != nil {
		slog.Error("failed to load rate tables", "err", err, "path", ratesFile)
		os.Exit(1)
	}
	valuator := valuation.NewEngine(rates)
	renderer, err := policy.NewRenderer(valuator, policy.WithCompany(company), policy.WithLocation(location(timezone)))
	if err != nil {
		slog.Error("failed to create policy renderer", "err", err)
		os.Exit(1)
	}
	synth, err := speech.NewSynthesizer(openaiClient, audioDir, speech.WithModel(ttsModel), speech.WithVoice(ttsVoice))
	if err != nil {
		slog.Error("failed to create speech synthesizer", "err", err)
		os.Exit(1)
	}
	sales, err := assistant.NewResponder(ssmClient, openaiClient, paramPrefix, maxHistory)
	if err != nil {
		slog.Error("failed to create sales responder", "err", err)
		os.Exit(1)
	}

	engine, err := workflow.NewEngine(workflow.Dependencies{
		Extractor: extractor,
		Images:    images,
		Valuator:  valuator,
		Renderer:  renderer,
		Speech:    synth,
		Sales:     sales,
	}, workflow.WithMaxSteps(maxSteps))
	if err != nil {
		slog.Error("failed to create conversation engine", "err", err)
		os.Exit(1)
	}

	// ---- Handler ----
	quoteService, err := usecase.NewQuoteService(engine, store, maxMessageLen, maxUploads)
	if err != nil {
		slog.Error("failed to create quote service", "err", err)
		os.Exit(1)
	}

	h, err := handler.NewHandler(quoteService)
	if err != nil {
		slog.Error("failed to create handler", "err", err)
		os.Exit(1)
	}

	lambda.Start(h.Handle)
}

func mustEnv(key string) string {
	v := os.Getenv(key)
	if v == "" {
		slog.Error("required environment variable is not set", "key", key)
		os.Exit(1)
	}
	return v
}

func envString(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func envInt(key string, def int) int {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return def
	}
	return n
}

func logLevel() slog.Level {
	var level slog.Level
	if err := level.UnmarshalText([]byte(envString("LOG_LEVEL", "INFO"))); err != nil {
		return slog.LevelInfo
	}
	return level
}

func location(name string) *time.Location {
	loc, err := time.LoadLocation(name)
	if err != nil {
		slog.Warn("unknown time zone, using UTC", "timezone", name, "err", err)
		return time.UTC
	}
	return loc
}
