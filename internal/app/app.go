package app

import (
	"context"
	"fmt"
	"net/http"
	"strings"

	"github.com/aws/aws-lambda-go/events"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/kms"
	"github.com/aws/aws-sdk-go-v2/service/ssm"

	"github.com/jun/sealedletter/core/markdown"
	"github.com/jun/sealedletter/internal/attempt"
	"github.com/jun/sealedletter/internal/auth"
	"github.com/jun/sealedletter/internal/crypto"
	"github.com/jun/sealedletter/internal/handler"
	"github.com/jun/sealedletter/internal/letter"
	"github.com/jun/sealedletter/internal/logging"
	"github.com/jun/sealedletter/internal/notify"
	"github.com/jun/sealedletter/internal/secret"
	"github.com/jun/sealedletter/internal/store/dynamo"
)

const devJWTSecret = "default-dev-secret"

// Clients are the AWS collaborators. A nil DynamoDB client keeps every
// table in memory; a nil KMS client uses the mock encryptor.
type Clients struct {
	DynamoDB *dynamodb.Client
	KMS      crypto.KMSClient
	Secrets  secret.Resolver
}

// App holds the dependencies for the Lambda function.
type App struct {
	cfg              Config
	logger           logging.Logger
	authHandler      *handler.AuthHandler
	letterHandler    *handler.LetterHandler
	notifier         *notify.Notifier
	apiGatewaySecret string
}

// NewApp initializes the application from the environment and the default
// AWS config. It panics if either cannot be loaded.
func NewApp(ctx context.Context) *App {
	cfg, err := LoadConfig()
	if err != nil {
		panic(fmt.Sprintf("unable to load config, %v", err))
	}
	// Lambda logs are collected as JSON; the local server prints text.
	logger := logging.New(cfg.LogLevel, !cfg.DevMode)

	awsCfg, err := config.LoadDefaultConfig(ctx)
	if err != nil {
		panic(fmt.Sprintf("unable to load SDK config, %v", err))
	}

	clients := Clients{DynamoDB: dynamodb.NewFromConfig(awsCfg)}
	if cfg.DevMode {
		clients.Secrets = secret.NewEnvResolver()
		logger.Info(ctx, "using mock encryptor and env secrets", "dev_mode", true)
	} else {
		clients.KMS = kms.NewFromConfig(awsCfg)
		clients.Secrets = secret.NewCachingResolver(secret.NewSSMResolver(ssm.NewFromConfig(awsCfg)))
	}

	app, err := Build(ctx, cfg, clients, logger)
	if err != nil {
		panic(err.Error())
	}
	return app
}

// Build wires the application from explicit collaborators.
func Build(ctx context.Context, cfg Config, clients Clients, logger logging.Logger) (*App, error) {
	if clients.Secrets == nil {
		clients.Secrets = secret.NewEnvResolver()
	}

	var encryptor crypto.Encryptor = crypto.NewMockEncryptor()
	if clients.KMS != nil {
		encryptor = crypto.NewKMSService(clients.KMS, cfg.KMSKeyID)
	}

	jwtSecret, err := clients.Secrets.GetSecret(ctx, cfg.JWTSecretParam)
	if err != nil {
		if !cfg.DevMode {
			return nil, fmt.Errorf("failed to resolve JWT secret: %w", err)
		}
		logger.Warn(ctx, "JWT secret not set, using development default", "error", err)
		jwtSecret = devJWTSecret
	}

	googleClientSecret, err := clients.Secrets.GetSecret(ctx, cfg.GoogleClientSecretParam)
	if err != nil {
		// Demo login still works without Google credentials.
		logger.Warn(ctx, "failed to resolve Google client secret", "error", err)
	}

	var apiGatewaySecret string
	if !cfg.DevMode {
		if apiGatewaySecret, err = clients.Secrets.GetSecret(ctx, cfg.APIGatewaySecretParam); err != nil {
			return nil, fmt.Errorf("failed to resolve API gateway secret: %w", err)
		}
	}

	// Typed nil clients must not reach the stores as non-nil interfaces.
	var (
		storeClient   dynamo.API
		limiterClient attempt.API
		accountClient auth.DynamoAPI
	)
	if clients.DynamoDB != nil {
		storeClient, limiterClient, accountClient = clients.DynamoDB, clients.DynamoDB, clients.DynamoDB
	}

	letterStore := dynamo.NewStore(storeClient, cfg.Tables, encryptor)

	var limiter attempt.Limiter
	if limiterClient != nil {
		limiter = attempt.NewDynamoLimiter(limiterClient, cfg.AttemptsTable, cfg.MaxUnlockAttempts, cfg.UnlockWindow)
	} else {
		limiter = attempt.NewMockLimiter(cfg.MaxUnlockAttempts, cfg.UnlockWindow)
	}

	oauthConfig := auth.OAuthConfig(cfg.GoogleClientID, googleClientSecret, cfg.GoogleRedirectURL)
	authService := auth.NewAuthService(oauthConfig, accountClient, cfg.AccountsTable, encryptor)

	logMailer := notify.NewLogMailer(logger)
	var primary notify.Mailer = notify.NewGmailMailer(authService)
	if cfg.DevMode {
		primary = logMailer
	}
	notifier := notify.NewNotifier(notify.NewHybridMailer(primary, logMailer), authService, letterStore, logger, cfg.FrontendURL)
	switch {
	case cfg.NotifyDelivery == notify.DeliverStream && clients.DynamoDB == nil:
		// In-memory tables have no stream to deliver from.
		logger.Warn(ctx, "stream delivery needs DynamoDB, sending inline")
	case cfg.NotifyDelivery != "":
		notifier.SetDelivery(cfg.NotifyDelivery)
	}

	letters := letter.NewService(letterStore, limiter, notifier, markdown.NewRenderer(), logger, cfg.FrontendURL)

	return &App{
		cfg:              cfg,
		logger:           logger,
		authHandler:      handler.NewAuthHandler(authService, letters, jwtSecret, cfg.FrontendURL, cfg.DevMode, logger),
		letterHandler:    handler.NewLetterHandler(letters, jwtSecret, logger),
		notifier:         notifier,
		apiGatewaySecret: apiGatewaySecret,
	}, nil
}

// Wait blocks until background notifications have finished. With inline
// delivery that includes the Gmail sends, so a caller that waits per request
// pays their latency.
func (app *App) Wait() {
	app.notifier.Wait()
}

// HandleStream consumes the Letters table stream and sends the emails held
// back by stream delivery.
func (app *App) HandleStream(ctx context.Context, ev events.DynamoDBEvent) error {
	return app.notifier.HandleStream(ctx, ev)
}

// HandleRequest routes API Gateway requests to the appropriate handler.
func (app *App) HandleRequest(ctx context.Context, req events.APIGatewayProxyRequest) (events.APIGatewayProxyResponse, error) {
	method := req.HTTPMethod
	// Strip /api prefix if present (for CloudFront proxying)
	path := strings.TrimPrefix(req.Path, "/api")

	app.logger.Debug(ctx, "request", "method", method, "path", redactPath(path))

	// CORS Preflight
	if method == http.MethodOptions {
		return app.corsResponse(events.APIGatewayProxyResponse{StatusCode: http.StatusNoContent}), nil
	}

	// Only CloudFront knows the origin secret.
	if !app.cfg.DevMode && handler.Header(req, "X-Origin-Verify") != app.apiGatewaySecret {
		app.logger.Warn(ctx, "missing or invalid X-Origin-Verify header", "path", redactPath(path))
		return app.corsResponse(events.APIGatewayProxyResponse{
			StatusCode: http.StatusForbidden,
			Body:       "Forbidden: Access denied",
		}), nil
	}

	if req.PathParameters == nil {
		req.PathParameters = make(map[string]string)
	}

	// /auth
	if strings.HasPrefix(path, "/auth/") {
		switch {
		case path == "/auth/login" && method == http.MethodGet:
			return app.corsResponse(app.must(app.authHandler.Login(ctx, req))), nil
		case path == "/auth/callback" && method == http.MethodGet:
			return app.corsResponse(app.must(app.authHandler.Callback(ctx, req))), nil
		case path == "/auth/demo-login" && method == http.MethodGet:
			return app.corsResponse(app.must(app.authHandler.DemoLogin(ctx, req))), nil
		case path == "/auth/logout" && method == http.MethodPost:
			return app.corsResponse(app.must(app.authHandler.Logout(ctx, req))), nil
		case path == "/auth/user" && method == http.MethodGet:
			return app.corsResponse(app.must(app.authHandler.GetUser(ctx, req))), nil
		case path == "/auth/user" && method == http.MethodPatch:
			return app.corsResponse(app.must(app.authHandler.UpdateUser(ctx, req))), nil
		}
	}

	// /letters/resolve/{token}[/validate-security] must match before /letters/{senderId}.
	if rest, ok := strings.CutPrefix(path, "/letters/resolve/"); ok {
		parts := strings.Split(strings.Trim(rest, "/"), "/")
		req.PathParameters[handler.ParamToken] = parts[0]
		switch {
		case len(parts) == 1 && method == http.MethodGet:
			return app.corsResponse(app.must(app.letterHandler.ResolveLetter(ctx, req))), nil
		case len(parts) == 2 && parts[1] == "validate-security" && method == http.MethodPost:
			return app.corsResponse(app.must(app.letterHandler.ValidateByToken(ctx, req))), nil
		}
	} else if rest, ok := strings.CutPrefix(path, "/letters/"); ok {
		parts := strings.Split(strings.Trim(rest, "/"), "/")
		req.PathParameters[handler.ParamSenderID] = parts[0]
		if len(parts) > 1 {
			req.PathParameters[handler.ParamLetterID] = parts[1]
		}
		switch {
		case parts[0] == "":
		case len(parts) == 1 && method == http.MethodGet:
			return app.corsResponse(app.must(app.letterHandler.ListLetters(ctx, req))), nil
		case len(parts) == 1 && method == http.MethodPost:
			return app.corsResponse(app.must(app.letterHandler.CreateLetter(ctx, req))), nil
		case len(parts) == 2 && method == http.MethodGet:
			return app.corsResponse(app.must(app.letterHandler.GetLetter(ctx, req))), nil
		case len(parts) == 2 && method == http.MethodPut:
			return app.corsResponse(app.must(app.letterHandler.UpdateLetter(ctx, req))), nil
		case len(parts) == 3 && parts[2] == "validate-security" && method == http.MethodPost:
			return app.corsResponse(app.must(app.letterHandler.ValidateSecurity(ctx, req))), nil
		}
	}

	return app.corsResponse(events.APIGatewayProxyResponse{
		StatusCode: http.StatusNotFound,
		Body:       fmt.Sprintf("Not Found: %s %s", method, redactPath(path)),
	}), nil
}

// redactPath hides access tokens from logs and error bodies.
func redactPath(path string) string {
	if strings.HasPrefix(path, "/letters/resolve/") {
		rest := strings.TrimPrefix(path, "/letters/resolve/")
		_, tail, _ := strings.Cut(rest, "/")
		if tail != "" {
			return "/letters/resolve/{token}/" + tail
		}
		return "/letters/resolve/{token}"
	}
	return path
}

// corsResponse adds CORS headers to an API Gateway response.
func (app *App) corsResponse(resp events.APIGatewayProxyResponse) events.APIGatewayProxyResponse {
	if resp.Headers == nil {
		resp.Headers = make(map[string]string)
	}
	resp.Headers["Access-Control-Allow-Origin"] = app.cfg.FrontendURL
	resp.Headers["Access-Control-Allow-Credentials"] = "true"
	resp.Headers["Access-Control-Allow-Methods"] = "GET,POST,PUT,OPTIONS,PATCH"
	resp.Headers["Access-Control-Allow-Headers"] = "Content-Type,Authorization,If-Match"
	resp.Headers["Access-Control-Expose-Headers"] = "ETag"
	return resp
}

// must unwraps a handler response, mapping an error to a 500.
func (app *App) must(resp events.APIGatewayProxyResponse, err error) events.APIGatewayProxyResponse {
	if err != nil {
		app.logger.Error(context.Background(), "handler error", "error", err)
		return events.APIGatewayProxyResponse{StatusCode: http.StatusInternalServerError, Body: "Internal Server Error"}
	}
	return resp
}
