package unlock

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// DefaultTimeout bounds a single validation call.
const DefaultTimeout = 15 * time.Second

// HTTPVerifier calls a validate-security endpoint.
type HTTPVerifier struct {
	Client   *http.Client
	Endpoint string
}

// TokenEndpoint is the token-addressed validate route.
func TokenEndpoint(baseURL, token string) string {
	return strings.TrimRight(baseURL, "/") + "/api/letters/resolve/" + url.PathEscape(token) + "/validate-security"
}

// LetterEndpoint is the id-addressed validate route.
func LetterEndpoint(baseURL, senderID, letterID string) string {
	return strings.TrimRight(baseURL, "/") + "/api/letters/" + url.PathEscape(senderID) + "/" + url.PathEscape(letterID) + "/validate-security"
}

type validateResponse struct {
	Success   bool `json:"success"`
	IsCorrect bool `json:"isCorrect"`
}

// Verify posts the answer and reads back isCorrect.
func (v *HTTPVerifier) Verify(ctx context.Context, answer string) (bool, error) {
	client := v.Client
	if client == nil {
		client = &http.Client{Timeout: DefaultTimeout}
	}

	payload, err := json.Marshal(map[string]string{"answer": answer})
	if err != nil {
		return false, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, v.Endpoint, bytes.NewReader(payload))
	if err != nil {
		return false, err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := client.Do(req)
	if err != nil {
		return false, fmt.Errorf("validate request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusTooManyRequests {
		return false, ErrTooManyAttempts
	}

	var out validateResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return false, fmt.Errorf("decode validate response (status %d): %w", resp.StatusCode, err)
	}
	if !out.Success {
		return false, fmt.Errorf("validate failed with status %d", resp.StatusCode)
	}
	return out.IsCorrect, nil
}
