package main

import (
	"context"
	"log/slog"
	"os"
	"strconv"

	"github.com/aws/aws-lambda-go/lambda"
	"github.com/aws/aws-sdk-go-v2/config"
	awsdynamodb "github.com/aws/aws-sdk-go-v2/service/dynamodb"
	awsssm "github.com/aws/aws-sdk-go-v2/service/ssm"

	"leadflow-agent/handler"
	"leadflow-agent/internal/detect"
	"leadflow-agent/internal/integrations/openai"
	"leadflow-agent/internal/integrations/paramstore"
	"leadflow-agent/internal/repository"
	"leadflow-agent/internal/usecase"
)

func main() {
	ctx := context.Background()

	// ---- Configuration (read only here) ----
	stateTable := mustEnv("STATE_TABLE")
	paramPrefix := mustEnv("PARAM_PREFIX")
	historyLimit := envInt("HISTORY_LIMIT", 20)
	maxMessageLen := envInt("MAX_MESSAGE_LENGTH", 1000)
	detectorParam := os.Getenv("DETECTOR_CONFIG_PARAM")

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
	dynamoClient := awsdynamodb.NewFromConfig(cfg)
	stateClient, err := repository.New(dynamoClient, stateTable)
	if err != nil {
		slog.Error("failed to create state client", "err", err)
		os.Exit(1)
	}

	openaiClient, err := openai.NewClient(ssmClient, paramPrefix)
	if err != nil {
		slog.Error("failed to create OpenAI client", "err", err)
		os.Exit(1)
	}

	// ---- Detector keyword tables (optional SSM override) ----
	detectCfg := detect.DefaultConfig()
	if detectorParam != "" {
		raw, err := ssmClient.GetParameter(ctx, detectorParam)
		if err != nil {
			slog.Error("failed to load detector config", "err", err, "param", detectorParam)
			os.Exit(1)
		}
		detectCfg, err = detect.ParseConfig([]byte(raw))
		if err != nil {
			slog.Error("failed to parse detector config", "err", err, "param", detectorParam)
			os.Exit(1)
		}
	}

	// ---- Services ----
	chatService, err := usecase.NewChatService(ssmClient, openaiClient, stateClient, detectCfg, paramPrefix, historyLimit, maxMessageLen)
	if err != nil {
		slog.Error("failed to create chat service", "err", err)
		os.Exit(1)
	}

	reportService, err := usecase.NewReportService(ssmClient, openaiClient, stateClient, paramPrefix)
	if err != nil {
		slog.Error("failed to create report service", "err", err)
		os.Exit(1)
	}

	h, err := handler.NewHandler(chatService, reportService)
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
