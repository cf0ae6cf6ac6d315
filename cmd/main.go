package main

import (
	"context"
	"log/slog"
	"net/http"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/aws/aws-lambda-go/lambda"
	"github.com/aws/aws-sdk-go-v2/config"
	awsdynamodb "github.com/aws/aws-sdk-go-v2/service/dynamodb"
	awssqs "github.com/aws/aws-sdk-go-v2/service/sqs"
	awsssm "github.com/aws/aws-sdk-go-v2/service/ssm"
	"golang.org/x/time/rate"

	"travel-time-bot/handler"
	"travel-time-bot/internal/dialog"
	"travel-time-bot/internal/integrations/connector"
	"travel-time-bot/internal/integrations/identity"
	"travel-time-bot/internal/integrations/paramstore"
	"travel-time-bot/internal/integrations/queue"
	"travel-time-bot/internal/repository"
	"travel-time-bot/internal/usecase"
)

func main() {
	ctx := context.Background()

	// ---- Configuration (read only here) ----
	listenAddr := os.Getenv("LISTEN_ADDR")
	stateTable := os.Getenv("STATE_TABLE")
	if stateTable == "" && listenAddr == "" {
		stateTable = mustEnv("STATE_TABLE")
	}
	paramPrefix := mustEnv("PARAM_PREFIX")
	baseURL := publicBaseURL(mustEnv("WEBSITE_HOSTNAME"))
	microsoftAppID := os.Getenv("MICROSOFT_APP_ID")
	azureADAppID := mustEnv("AZUREAD_APP_ID")
	azureADRealm := os.Getenv("AZUREAD_APP_REALM")
	queuePrefix := os.Getenv("QUEUE_NAME_PREFIX")
	stateTTLDays := envInt("STATE_TTL_DAYS", 30)
	sendRate := envInt("SEND_RATE_PER_SECOND", 8)
	trustedServiceURLs := envList("TRUSTED_SERVICE_URLS")

	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: logLevel(os.Getenv("LOG_LEVEL"))}))
	slog.SetDefault(logger)

	// ---- AWS SDK config ----
	cfg, err := config.LoadDefaultConfig(ctx)
	if err != nil {
		slog.Error("failed to load AWS config", "err", err)
		os.Exit(1)
	}

	// ---- Secrets ----
	ssmClient, err := paramstore.New(awsssm.NewFromConfig(cfg))
	if err != nil {
		slog.Error("failed to create SSM client", "err", err)
		os.Exit(1)
	}
	secrets, err := paramstore.LoadSecrets(ctx, ssmClient, paramPrefix, microsoftAppID != "")
	if err != nil {
		slog.Error("failed to load secrets", "err", err)
		os.Exit(1)
	}

	// ---- Clients ----
	var store dialog.Store
	if stateTable == "" {
		slog.Warn("STATE_TABLE not set, keeping conversation state in memory")
		store = dialog.NewMemoryStore()
	} else {
		store, err = repository.New(awsdynamodb.NewFromConfig(cfg), stateTable,
			repository.WithTTL(time.Duration(stateTTLDays)*24*time.Hour))
		if err != nil {
			slog.Error("failed to create state client", "err", err)
			os.Exit(1)
		}
	}

	queueClient, err := queue.New(awssqs.NewFromConfig(cfg), queue.WithNamePrefix(queuePrefix))
	if err != nil {
		slog.Error("failed to create queue client", "err", err)
		os.Exit(1)
	}

	provider, err := identity.NewProvider(identity.Config{
		ClientID:     azureADAppID,
		ClientSecret: secrets.AzureADAppPassword,
		Tenant:       azureADRealm,
		RedirectURL:  baseURL + "/auth/" + identity.ProviderAADv2 + "/callback",
	})
	if err != nil {
		slog.Error("failed to create identity provider", "err", err)
		os.Exit(1)
	}
	states, err := identity.NewStateSigner(secrets.BotAuthSecret)
	if err != nil {
		slog.Error("failed to create state signer", "err", err)
		os.Exit(1)
	}

	sender, err := connector.NewClient(microsoftAppID, secrets.MicrosoftAppPassword,
		connector.WithSendRate(rate.Limit(sendRate), sendRate),
		connector.WithTrustedServiceURLs(trustedServiceURLs...))
	if err != nil {
		slog.Error("failed to create connector client", "err", err)
		os.Exit(1)
	}
	handlerOpts := []handler.Option{handler.WithLogger(logger)}
	if sender.Emulator() {
		slog.Warn("MICROSOFT_APP_ID not set, inbound activities are not authenticated and replies carry no credentials")
	} else {
		verifier, err := connector.NewVerifier(microsoftAppID, connector.OnTrustedServiceURL(sender.TrustServiceURL))
		if err != nil {
			slog.Error("failed to create channel verifier", "err", err)
			os.Exit(1)
		}
		handlerOpts = append(handlerOpts, handler.WithAuthenticator(verifier))
	}

	// ---- Bot ----
	engine, err := dialog.New(store, sender, dialog.WithLogger(logger))
	if err != nil {
		slog.Error("failed to create dialog engine", "err", err)
		os.Exit(1)
	}
	bot, err := usecase.NewBot(engine, sender, queueClient, provider, states, baseURL, usecase.WithLogger(logger))
	if err != nil {
		slog.Error("failed to create bot", "err", err)
		os.Exit(1)
	}

	h, err := handler.NewHandler(bot, handlerOpts...)
	if err != nil {
		slog.Error("failed to create handler", "err", err)
		os.Exit(1)
	}

	if listenAddr != "" {
		slog.Info("listening", "addr", listenAddr)
		srv := &http.Server{Addr: listenAddr, Handler: h, ReadHeaderTimeout: 10 * time.Second}
		if err := srv.ListenAndServe(); err != nil {
			slog.Error("server stopped", "err", err)
			os.Exit(1)
		}
		return
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

// envList splits a comma separated variable, dropping empty entries.
func envList(key string) []string {
	var out []string
	for _, v := range strings.Split(os.Getenv(key), ",") {
		if v = strings.TrimSpace(v); v != "" {
			out = append(out, v)
		}
	}
	return out
}

func logLevel(v string) slog.Level {
	var l slog.Level
	if err := l.UnmarshalText([]byte(strings.TrimSpace(v))); err != nil {
		return slog.LevelInfo
	}
	return l
}

// publicBaseURL accepts a bare host name or a full origin.
func publicBaseURL(host string) string {
	host = strings.TrimRight(strings.TrimSpace(host), "/")
	if strings.Contains(host, "://") {
		return host
	}
	return "https://" + host
}
