package main

import (
	"context"
	"log/slog"
	"os"

	"github.com/aws/aws-lambda-go/lambda"
	"github.com/aws/aws-sdk-go-v2/config"
	awsdynamodb "github.com/aws/aws-sdk-go-v2/service/dynamodb"
	awsssm "github.com/aws/aws-sdk-go-v2/service/ssm"

	"llm-chat-api/handler"
	"llm-chat-api/internal/integrations/ollama"
	"llm-chat-api/internal/integrations/paramstore"
	"llm-chat-api/internal/repository"
	"llm-chat-api/internal/usecase"
)

func main() {
	ctx := context.Background()
	logger := slog.New(slog.NewJSONHandler(os.Stderr, nil))

	// ---- Configuration (read only here) ----
	threadTable := mustEnv(logger, "THREAD_TABLE")
	paramPrefix := mustEnv(logger, "PARAM_PREFIX")
	ollamaBaseURL := os.Getenv("OLLAMA_BASE_URL") // optional; SSM otherwise

	// ---- AWS SDK config ----
	cfg, err := config.LoadDefaultConfig(ctx)
	if err != nil {
		logger.Error("failed to load AWS config", "err", err)
		os.Exit(1)
	}

	// ---- Clients ----
	ssmClient, err := paramstore.New(awsssm.NewFromConfig(cfg))
	if err != nil {
		logger.Error("failed to create SSM client", "err", err)
		os.Exit(1)
	}
	threadStore, err := repository.New(awsdynamodb.NewFromConfig(cfg), threadTable)
	if err != nil {
		logger.Error("failed to create thread store", "err", err)
		os.Exit(1)
	}

	var ollamaOpts []ollama.Option
	if ollamaBaseURL != "" {
		ollamaOpts = append(ollamaOpts, ollama.WithBaseURL(ollamaBaseURL))
	}
	ollamaClient, err := ollama.NewClient(ssmClient, paramPrefix, ollamaOpts...)
	if err != nil {
		logger.Error("failed to create Ollama client", "err", err)
		os.Exit(1)
	}

	// ---- Handler ----
	chatService, err := usecase.NewChatService(ssmClient, ollamaClient, threadStore, logger, paramPrefix)
	if err != nil {
		logger.Error("failed to create chat service", "err", err)
		os.Exit(1)
	}

	h, err := handler.NewHandler(chatService, logger)
	if err != nil {
		logger.Error("failed to create handler", "err", err)
		os.Exit(1)
	}

	lambda.Start(h.Handle)
}

func mustEnv(logger *slog.Logger, key string) string {
	v := os.Getenv(key)
	if v == "" {
		logger.Error("required environment variable is not set", "key", key)
		os.Exit(1)
	}
	return v
}
