package handler

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	"github.com/aws/aws-lambda-go/events"
	"github.com/jun/sealedletter/internal/attempt"
	"github.com/jun/sealedletter/internal/letter"
	"github.com/jun/sealedletter/internal/logging"
	"github.com/jun/sealedletter/internal/model"
	"github.com/jun/sealedletter/internal/token"
)

// Path parameter names filled in by the router.
const (
	ParamSenderID = "senderId"
	ParamLetterID = "letterId"
	ParamToken    = "token"
)

// notFoundBody is returned for every failed resolve, whatever the cause.
const notFoundBody = "Letter not found"

// LetterHandler serves the sender and receiver letter routes.
type LetterHandler struct {
	letters   *letter.Service
	jwtSecret string
	logger    logging.Logger
}

func NewLetterHandler(letters *letter.Service, jwtSecret string, logger logging.Logger) *LetterHandler {
	return &LetterHandler{letters: letters, jwtSecret: jwtSecret, logger: logger}
}

// owner checks that the session belongs to the sender named in the path.
func (h *LetterHandler) owner(req events.APIGatewayProxyRequest) (string, *events.APIGatewayProxyResponse) {
	userID, err := GetUserID(req, h.jwtSecret)
	if err != nil {
		resp := errorResponse(http.StatusUnauthorized, "Unauthorized")
		return "", &resp
	}
	if senderID := req.PathParameters[ParamSenderID]; senderID != userID {
		resp := errorResponse(http.StatusForbidden, "Forbidden")
		return "", &resp
	}
	return userID, nil
}

func (h *LetterHandler) writeError(ctx context.Context, err error) events.APIGatewayProxyResponse {
	switch {
	case errors.Is(err, letter.ErrInvalidInput):
		return errorResponse(http.StatusBadRequest, err.Error())
	case errors.Is(err, letter.ErrUnauthorized):
		return errorResponse(http.StatusForbidden, "Forbidden")
	case errors.Is(err, letter.ErrNotFound):
		return errorResponse(http.StatusNotFound, notFoundBody)
	case errors.Is(err, letter.ErrConflict):
		return errorResponse(http.StatusPreconditionFailed, "Letter was modified, reload and try again")
	default:
		h.logger.Error(ctx, "letter write failed", "error", err)
		return errorResponse(http.StatusServiceUnavailable, "Letter storage is unavailable, nothing was saved")
	}
}

type createResponse struct {
	Success     bool   `json:"success"`
	ID          string `json:"id"`
	AccessToken string `json:"accessToken"`
	ShareURL    string `json:"shareUrl"`
	Letter      any    `json:"letter"`
}

// CreateLetter handles POST /letters/{senderId}.
func (h *LetterHandler) CreateLetter(ctx context.Context, req events.APIGatewayProxyRequest) (events.APIGatewayProxyResponse, error) {
	senderID, deny := h.owner(req)
	if deny != nil {
		return *deny, nil
	}

	var in letter.Input
	if err := json.Unmarshal([]byte(req.Body), &in); err != nil {
		return errorResponse(http.StatusBadRequest, "Invalid request body"), nil
	}

	created, err := h.letters.Create(ctx, senderID, in)
	if err != nil {
		return h.writeError(ctx, err), nil
	}

	return jsonResponse(http.StatusCreated, createResponse{
		Success:     true,
		ID:          created.Letter.ID,
		AccessToken: created.AccessToken,
		ShareURL:    created.ShareURL,
		Letter:      created.Letter,
	}), nil
}

// ListLetters handles GET /letters/{senderId}.
func (h *LetterHandler) ListLetters(ctx context.Context, req events.APIGatewayProxyRequest) (events.APIGatewayProxyResponse, error) {
	senderID, deny := h.owner(req)
	if deny != nil {
		return *deny, nil
	}

	letters, err := h.letters.List(ctx, senderID)
	if err != nil {
		return h.writeError(ctx, err), nil
	}
	if letters == nil {
		letters = []model.Letter{}
	}
	return jsonResponse(http.StatusOK, letters), nil
}

// GetLetter handles GET /letters/{senderId}/{letterId}.
func (h *LetterHandler) GetLetter(ctx context.Context, req events.APIGatewayProxyRequest) (events.APIGatewayProxyResponse, error) {
	senderID, deny := h.owner(req)
	if deny != nil {
		return *deny, nil
	}

	view, err := h.letters.Get(ctx, senderID, req.PathParameters[ParamLetterID])
	if err != nil {
		return h.writeError(ctx, err), nil
	}
	resp := jsonResponse(http.StatusOK, view)
	resp.Headers["ETag"] = view.ETag
	return resp, nil
}

// UpdateLetter handles PUT /letters/{senderId}/{letterId}.
func (h *LetterHandler) UpdateLetter(ctx context.Context, req events.APIGatewayProxyRequest) (events.APIGatewayProxyResponse, error) {
	senderID, deny := h.owner(req)
	if deny != nil {
		return *deny, nil
	}

	var p letter.Patch
	if err := json.Unmarshal([]byte(req.Body), &p); err != nil {
		return errorResponse(http.StatusBadRequest, "Invalid request body"), nil
	}

	l, err := h.letters.Update(ctx, senderID, req.PathParameters[ParamLetterID], p, Header(req, "If-Match"))
	if err != nil {
		return h.writeError(ctx, err), nil
	}
	resp := jsonResponse(http.StatusOK, l)
	resp.Headers["ETag"] = l.ETag
	return resp, nil
}

// ResolveLetter handles GET /letters/resolve/{token}. Every failure is the
// same 404.
func (h *LetterHandler) ResolveLetter(ctx context.Context, req events.APIGatewayProxyRequest) (events.APIGatewayProxyResponse, error) {
	tok := req.PathParameters[ParamToken]
	p, err := h.letters.Resolve(ctx, tok)
	if err != nil {
		h.logger.Debug(ctx, "resolve failed", "token", token.Short(tok))
		return errorResponse(http.StatusNotFound, notFoundBody), nil
	}
	resp := jsonResponse(http.StatusOK, p)
	resp.Headers["Cache-Control"] = "no-store"
	return resp, nil
}

type validateRequest struct {
	Answer string `json:"answer"`
}

type validateResponse struct {
	Success   bool   `json:"success"`
	IsCorrect bool   `json:"isCorrect"`
	Error     string `json:"error,omitempty"`
}

// ValidateSecurity handles POST /letters/{senderId}/{letterId}/validate-security.
func (h *LetterHandler) ValidateSecurity(ctx context.Context, req events.APIGatewayProxyRequest) (events.APIGatewayProxyResponse, error) {
	var body validateRequest
	if err := json.Unmarshal([]byte(req.Body), &body); err != nil {
		return jsonResponse(http.StatusBadRequest, validateResponse{Error: "Invalid request body"}), nil
	}
	ok, err := h.letters.Validate(ctx, req.PathParameters[ParamSenderID], req.PathParameters[ParamLetterID], body.Answer)
	return validationResponse(ok, err), nil
}

// ValidateByToken handles POST /letters/resolve/{token}/validate-security.
func (h *LetterHandler) ValidateByToken(ctx context.Context, req events.APIGatewayProxyRequest) (events.APIGatewayProxyResponse, error) {
	var body validateRequest
	if err := json.Unmarshal([]byte(req.Body), &body); err != nil {
		return jsonResponse(http.StatusBadRequest, validateResponse{Error: "Invalid request body"}), nil
	}
	ok, err := h.letters.ValidateByToken(ctx, req.PathParameters[ParamToken], body.Answer)
	return validationResponse(ok, err), nil
}

func validationResponse(ok bool, err error) events.APIGatewayProxyResponse {
	switch {
	case err == nil:
		return jsonResponse(http.StatusOK, validateResponse{Success: true, IsCorrect: ok})
	case errors.Is(err, attempt.ErrTooManyAttempts):
		return jsonResponse(http.StatusTooManyRequests, validateResponse{Error: "Too many attempts, try again later"})
	default:
		return jsonResponse(http.StatusOK, validateResponse{})
	}
}
