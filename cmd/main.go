package main

import (
	"context"
	"log/slog"
	"os"
	"strconv"
	"time"

	"github.com/aws/aws-lambda-go/lambda"
	"github.com/aws/aws-sdk-go-v2/config"
	awsdynamodb "github.com/aws/aws-sdk-go-v2/service/dynamodb"
	awsssm "github.com/aws/aws-sdk-go-v2/service/ssm"

	"chat-relay/handler"
	"chat-relay/internal/integrations/fastapi"
	"chat-relay/internal/integrations/paramstore"
	"chat-relay/internal/relay"
	"chat-relay/internal/repository"
)

func main() {
	ctx := context.Background()

	// ---- Configuration (read only here) ----
	endpoint := os.Getenv("FASTAPI_ENDPOINT_URL")
	timeoutSeconds := envInt("REQUEST_TIMEOUT_SECONDS", 20)
	paramPrefix := os.Getenv("PARAM_PREFIX")
	auditTable := os.Getenv("AUDIT_TABLE")

	// ---- AWS SDK config ----
	cfg, err := config.LoadDefaultConfig(ctx)
	if err != nil {
		slog.Error("failed to load AWS config", "err", err)
		os.Exit(1)
	}

	// ---- Clients ----
	var backendOpts []fastapi.Option
	if paramPrefix != "" {
		ssmClient, err := paramstore.New(awsssm.NewFromConfig(cfg))
		if err != nil {
			slog.Error("failed to create SSM client", "err", err)
			os.Exit(1)
		}
		backendOpts = append(backendOpts, fastapi.WithParamStore(ssmClient, paramPrefix))
	}
	if endpoint == "" && paramPrefix == "" {
		// Not fatal: every request gets a structured configuration error.
		slog.Warn("FASTAPI_ENDPOINT_URL is not set and no PARAM_PREFIX fallback is configured")
	}
	backend := fastapi.NewClient(endpoint, time.Duration(timeoutSeconds)*time.Second, backendOpts...)

	var audit relay.TurnAuditor
	if auditTable != "" {
		auditClient, err := repository.New(awsdynamodb.NewFromConfig(cfg), auditTable)
		if err != nil {
			slog.Error("failed to create audit client", "err", err)
			os.Exit(1)
		}
		audit = auditClient
	}

	// ---- Handler ----
	chatService, err := relay.NewChatService(backend, audit)
	if err != nil {
		slog.Error("failed to create chat service", "err", err)
		os.Exit(1)
	}

	h, err := handler.NewHandler(chatService)
	if err != nil {
		slog.Error("failed to create handler", "err", err)
		os.Exit(1)
	}

	lambda.Start(h.Handle)
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
