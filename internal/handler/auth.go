package handler

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/aws/aws-lambda-go/events"
	"github.com/google/uuid"
	"github.com/jun/sealedletter/core/challenge"
	"github.com/jun/sealedletter/internal/auth"
	"github.com/jun/sealedletter/internal/letter"
	"github.com/jun/sealedletter/internal/logging"
	"github.com/jun/sealedletter/internal/model"
	"github.com/jun/sealedletter/internal/notify"
	"google.golang.org/api/oauth2/v2"
	"google.golang.org/api/option"
)

const (
	stateCookie     = "oauth_state"
	sessionTTL      = 24 * time.Hour
	demoSessionTTL  = time.Hour
	maxDisplayName  = 100
	demoSenderEmail = "demo@sealedletter.local"
)

// AuthHandler handles sender authentication requests.
type AuthHandler struct {
	authService *auth.AuthService
	letters     *letter.Service
	jwtSecret   string
	frontendURL string
	devMode     bool
	logger      logging.Logger

	// userinfoOpts are extra options for the Google userinfo client.
	userinfoOpts []option.ClientOption
}

// NewAuthHandler creates a new AuthHandler.
func NewAuthHandler(s *auth.AuthService, letters *letter.Service, jwtSecret, frontendURL string, devMode bool, logger logging.Logger, userinfoOpts ...option.ClientOption) *AuthHandler {
	return &AuthHandler{
		authService:  s,
		letters:      letters,
		jwtSecret:    jwtSecret,
		frontendURL:  strings.TrimRight(frontendURL, "/"),
		devMode:      devMode,
		logger:       logger,
		userinfoOpts: userinfoOpts,
	}
}

func (h *AuthHandler) stateCookieHeader(state string) string {
	maxAge := 600
	if state == "" {
		maxAge = 0
	}
	return fmt.Sprintf("%s=%s; HttpOnly; Path=/; Max-Age=%d; SameSite=Lax; Secure", stateCookie, state, maxAge)
}

// Login initiates the Google OAuth2 flow.
func (h *AuthHandler) Login(ctx context.Context, req events.APIGatewayProxyRequest) (events.APIGatewayProxyResponse, error) {
	state := uuid.NewString()

	return events.APIGatewayProxyResponse{
		StatusCode: http.StatusFound,
		Headers: map[string]string{
			"Location": h.authService.GenerateAuthURL(state),
		},
		MultiValueHeaders: map[string][]string{
			"Set-Cookie": {h.stateCookieHeader(state)},
		},
	}, nil
}

// Callback handles the OAuth2 callback from Google.
func (h *AuthHandler) Callback(ctx context.Context, req events.APIGatewayProxyRequest) (events.APIGatewayProxyResponse, error) {
	code := req.QueryStringParameters["code"]
	if code == "" {
		return errorResponse(http.StatusBadRequest, "Missing code"), nil
	}
	state := req.QueryStringParameters["state"]
	if state == "" || state != Cookie(req, stateCookie) {
		h.logger.Warn(ctx, "oauth state mismatch")
		return errorResponse(http.StatusBadRequest, "Invalid state"), nil
	}

	tok, err := h.authService.ExchangeCode(ctx, code)
	if err != nil {
		h.logger.Error(ctx, "code exchange failed", "error", err)
		return errorResponse(http.StatusInternalServerError, "Failed to exchange code"), nil
	}

	opts := append([]option.ClientOption{option.WithTokenSource(h.authService.Config().TokenSource(ctx, tok))}, h.userinfoOpts...)
	oauth2Service, err := oauth2.NewService(ctx, opts...)
	if err != nil {
		h.logger.Error(ctx, "failed to create oauth2 service", "error", err)
		return errorResponse(http.StatusInternalServerError, "Failed to create oauth2 service"), nil
	}

	userinfo, err := oauth2Service.Userinfo.Get().Context(ctx).Do()
	if err != nil {
		h.logger.Error(ctx, "userinfo request failed", "error", err)
		return errorResponse(http.StatusInternalServerError, "Failed to get user info"), nil
	}

	// The Google subject ID is the sender ID.
	userID := userinfo.Id
	if err := h.authService.SaveAccount(ctx, userID, userinfo.Email, userinfo.Name, tok); err != nil {
		// Without a stored account the sender can still compose; only email
		// notifications are lost.
		h.logger.Error(ctx, "failed to save sender account", "user_id", userID, "error", err)
	}

	signed, err := SignSession(h.jwtSecret, userID, userinfo.Email, userinfo.Name, sessionTTL)
	if err != nil {
		return errorResponse(http.StatusInternalServerError, "Failed to sign token"), nil
	}

	h.logger.Info(ctx, "sender logged in", "user_id", userID)
	return events.APIGatewayProxyResponse{
		StatusCode: http.StatusFound,
		Headers: map[string]string{
			"Location": h.frontendURL + "/?success=true",
		},
		MultiValueHeaders: map[string][]string{
			"Set-Cookie": {
				sessionCookieHeader(signed, sessionTTL, h.devMode),
				h.stateCookieHeader(""),
			},
		},
	}, nil
}

type profileResponse struct {
	ID    string `json:"id"`
	Email string `json:"email"`
	Name  string `json:"name"`
}

func profileOf(a *model.SenderAccount) profileResponse {
	return profileResponse{ID: a.UserID, Email: a.Email, Name: a.Name}
}

// GetUser returns the current sender's profile.
func (h *AuthHandler) GetUser(ctx context.Context, req events.APIGatewayProxyRequest) (events.APIGatewayProxyResponse, error) {
	userID, err := GetUserID(req, h.jwtSecret)
	if err != nil {
		return errorResponse(http.StatusUnauthorized, "Unauthorized"), nil
	}

	account, err := h.authService.GetAccount(ctx, userID)
	if errors.Is(err, auth.ErrAccountNotFound) {
		return errorResponse(http.StatusNotFound, "Account not found"), nil
	}
	if err != nil {
		h.logger.Error(ctx, "failed to get sender account", "user_id", userID, "error", err)
		return errorResponse(http.StatusServiceUnavailable, "Failed to get user profile"), nil
	}

	return jsonResponse(http.StatusOK, profileOf(account)), nil
}

// UpdateUser changes the sender's display name.
func (h *AuthHandler) UpdateUser(ctx context.Context, req events.APIGatewayProxyRequest) (events.APIGatewayProxyResponse, error) {
	userID, err := GetUserID(req, h.jwtSecret)
	if err != nil {
		return errorResponse(http.StatusUnauthorized, "Unauthorized"), nil
	}

	var body struct {
		Name string `json:"name"`
	}
	if err := json.Unmarshal([]byte(req.Body), &body); err != nil {
		return errorResponse(http.StatusBadRequest, "Invalid request body"), nil
	}
	name := strings.TrimSpace(body.Name)
	if name == "" || utf8.RuneCountInString(name) > maxDisplayName {
		return errorResponse(http.StatusBadRequest, fmt.Sprintf("Name must be 1 to %d characters", maxDisplayName)), nil
	}

	err = h.authService.UpdateDisplayName(ctx, userID, name)
	if errors.Is(err, auth.ErrAccountNotFound) {
		return errorResponse(http.StatusNotFound, "Account not found"), nil
	}
	if err != nil {
		h.logger.Error(ctx, "failed to update display name", "user_id", userID, "error", err)
		return errorResponse(http.StatusServiceUnavailable, "Failed to update user settings"), nil
	}

	return jsonResponse(http.StatusOK, map[string]bool{"success": true}), nil
}

// demoWelcome is the letter every demo sender starts with. Its answer is
// "true".
var demoWelcome = letter.Input{
	Title:         "Welcome to Sealed Letter!",
	RecipientName: "Future reader",
	Sections: []model.Section{
		{
			Heading: "Hello",
			Body: `This is a demo letter. Share its link and only someone who
can answer the question will be able to read it.

## What you can do
- **Write** sections in Markdown
- **Seal** a letter with a quiz or a date only the recipient knows
- **Share** the link: it is the only key to the letter`,
		},
		{
			Heading: "Code looks nice too",
			Body: "```go\npackage main\n\nimport \"fmt\"\n\nfunc main() {\n    fmt.Println(\"Hello, reader!\")\n}\n```",
		},
	},
	Style:        model.Style{Theme: "classic", Animation: "envelope"},
	SecurityType: string(challenge.KindQuiz),
	SecurityConfig: &challenge.Config{
		QuestionType:  challenge.TrueFalse,
		Question:      "Is the Go mascot a gopher?",
		CorrectAnswer: "true",
	},
}

// DemoLogin issues a temporary session without Google OAuth.
func (h *AuthHandler) DemoLogin(ctx context.Context, req events.APIGatewayProxyRequest) (events.APIGatewayProxyResponse, error) {
	userID := notify.DemoSenderPrefix + uuid.NewString()
	const name = "Demo User"

	// Demo senders have no refresh token; their mail goes to the log mailer.
	if err := h.authService.SaveAccount(ctx, userID, demoSenderEmail, name, nil); err != nil {
		h.logger.Error(ctx, "failed to save demo account", "user_id", userID, "error", err)
		return errorResponse(http.StatusInternalServerError, "Failed to create demo user"), nil
	}

	if _, err := h.letters.Create(ctx, userID, demoWelcome); err != nil {
		h.logger.Warn(ctx, "failed to create welcome letter", "user_id", userID, "error", err)
	}

	signed, err := SignSession(h.jwtSecret, userID, demoSenderEmail, name, demoSessionTTL)
	if err != nil {
		return errorResponse(http.StatusInternalServerError, "Failed to sign token"), nil
	}

	return events.APIGatewayProxyResponse{
		StatusCode: http.StatusFound,
		Headers: map[string]string{
			"Location": fmt.Sprintf("%s/?token=%s", h.frontendURL, signed),
		},
		MultiValueHeaders: map[string][]string{
			"Set-Cookie": {sessionCookieHeader(signed, demoSessionTTL, h.devMode)},
		},
	}, nil
}

// Logout clears the session cookie.
func (h *AuthHandler) Logout(ctx context.Context, req events.APIGatewayProxyRequest) (events.APIGatewayProxyResponse, error) {
	resp := jsonResponse(http.StatusOK, map[string]bool{"success": true})
	resp.MultiValueHeaders = map[string][]string{
		"Set-Cookie": {sessionCookieHeader("", 0, h.devMode)},
	}
	return resp, nil
}
