package app

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/jun/sealedletter/internal/attempt"
	"github.com/jun/sealedletter/internal/notify"
	"github.com/jun/sealedletter/internal/secret"
	"github.com/jun/sealedletter/internal/store/dynamo"
)

// Config is the process configuration, read from the environment.
type Config struct {
	DevMode     bool
	FrontendURL string

	Tables        dynamo.Tables
	AttemptsTable string
	AccountsTable string

	KMSKeyID string

	JWTSecretParam          string
	GoogleClientSecretParam string
	APIGatewaySecretParam   string

	GoogleClientID    string
	GoogleRedirectURL string

	MaxUnlockAttempts int
	UnlockWindow      time.Duration

	NotifyDelivery notify.Delivery

	LogLevel string
	Port     string
}

// LoadConfig reads Config from the environment.
func LoadConfig() (Config, error) {
	return loadConfig(os.Getenv)
}

func loadConfig(getenv func(string) string) (Config, error) {
	get := func(key, fallback string) string {
		if v := strings.TrimSpace(getenv(key)); v != "" {
			return v
		}
		return fallback
	}

	cfg := Config{
		DevMode:     get("DEV_MODE", "false") == "true",
		FrontendURL: strings.TrimRight(get("FRONTEND_URL", "http://localhost:3000"), "/"),
		Tables: dynamo.Tables{
			Letters:     get("LETTERS_TABLE", dynamo.DefaultTables.Letters),
			Tokens:      get("LETTER_TOKENS_TABLE", dynamo.DefaultTables.Tokens),
			Challenges:  get("LETTER_CHALLENGES_TABLE", dynamo.DefaultTables.Challenges),
			SenderIndex: get("LETTERS_SENDER_INDEX", dynamo.DefaultTables.SenderIndex),
		},
		AttemptsTable:           get("UNLOCK_ATTEMPTS_TABLE", "UnlockAttempts"),
		AccountsTable:           get("SENDER_ACCOUNTS_TABLE", "SenderAccounts"),
		KMSKeyID:                get("KMS_KEY_ID", "alias/sealedletter-key"),
		JWTSecretParam:          get("JWT_SECRET_PARAM", secret.JWTSecretParam),
		GoogleClientSecretParam: get("GOOGLE_CLIENT_SECRET_PARAM", secret.GoogleClientSecretParam),
		APIGatewaySecretParam:   get("API_GATEWAY_SECRET_PARAM", secret.APIGatewaySecretParam),
		GoogleClientID:          get("GOOGLE_CLIENT_ID", ""),
		LogLevel:                get("LOG_LEVEL", "info"),
		Port:                    get("PORT", "8080"),
	}

	cfg.GoogleRedirectURL = get("GOOGLE_REDIRECT_URL", "")
	if cfg.GoogleRedirectURL == "" {
		if cfg.DevMode {
			cfg.GoogleRedirectURL = "http://localhost:" + cfg.Port + "/auth/callback"
		} else {
			cfg.GoogleRedirectURL = cfg.FrontendURL + "/api/auth/callback"
		}
	}

	maxAttempts, err := strconv.Atoi(get("MAX_UNLOCK_ATTEMPTS", strconv.Itoa(attempt.DefaultMaxFailures)))
	if err != nil {
		return Config{}, fmt.Errorf("invalid MAX_UNLOCK_ATTEMPTS: %w", err)
	}
	cfg.MaxUnlockAttempts = maxAttempts

	window, err := time.ParseDuration(get("UNLOCK_WINDOW", attempt.DefaultWindow.String()))
	if err != nil {
		return Config{}, fmt.Errorf("invalid UNLOCK_WINDOW: %w", err)
	}
	if window <= 0 {
		return Config{}, fmt.Errorf("invalid UNLOCK_WINDOW: must be positive, got %s", window)
	}
	cfg.UnlockWindow = window

	if cfg.NotifyDelivery, err = notify.ParseDelivery(get("NOTIFY_DELIVERY", string(notify.DeliverInline))); err != nil {
		return Config{}, fmt.Errorf("invalid NOTIFY_DELIVERY: %w", err)
	}

	return cfg, nil
}
