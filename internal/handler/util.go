package handler

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/aws/aws-lambda-go/events"
	"github.com/golang-jwt/jwt/v5"
)

const sessionCookie = "session_token"

var ErrNoSession = errors.New("no authorization token found")

// Header returns a request header, ignoring case.
func Header(req events.APIGatewayProxyRequest, name string) string {
	for k, v := range req.Headers {
		if strings.EqualFold(k, name) {
			return v
		}
	}
	return ""
}

// Cookie returns a cookie value from the Cookie header.
func Cookie(req events.APIGatewayProxyRequest, name string) string {
	for _, part := range strings.Split(Header(req, "Cookie"), ";") {
		part = strings.TrimSpace(part)
		if v, ok := strings.CutPrefix(part, name+"="); ok {
			return v
		}
	}
	return ""
}

// GetUserID extracts the sender ID from the Authorization header or session cookie.
func GetUserID(req events.APIGatewayProxyRequest, jwtSecret string) (string, error) {
	tokenString := ""
	if authHeader := Header(req, "Authorization"); strings.HasPrefix(authHeader, "Bearer ") {
		tokenString = strings.TrimPrefix(authHeader, "Bearer ")
	}
	if tokenString == "" {
		tokenString = Cookie(req, sessionCookie)
	}
	if tokenString == "" {
		return "", ErrNoSession
	}

	token, err := jwt.Parse(tokenString, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return []byte(jwtSecret), nil
	})
	if err != nil {
		return "", fmt.Errorf("invalid token: %w", err)
	}

	if claims, ok := token.Claims.(jwt.MapClaims); ok && token.Valid {
		if sub, ok := claims["sub"].(string); ok && sub != "" {
			return sub, nil
		}
	}

	return "", fmt.Errorf("invalid token claims")
}

// SignSession issues the HS256 session JWT.
func SignSession(jwtSecret, userID, email, name string, ttl time.Duration) (string, error) {
	claims := jwt.MapClaims{
		"sub":   userID,
		"email": email,
		"name":  name,
		"exp":   time.Now().Add(ttl).Unix(),
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(jwtSecret))
}

// sessionCookieHeader builds the Set-Cookie value. An empty token clears it.
func sessionCookieHeader(token string, ttl time.Duration, devMode bool) string {
	// Production serves the frontend and API from different origins.
	sameSite := "None"
	if devMode {
		sameSite = "Lax"
	}
	maxAge := int(ttl.Seconds())
	if token == "" {
		maxAge = 0
	}
	return fmt.Sprintf("%s=%s; HttpOnly; Path=/; Max-Age=%d; SameSite=%s; Secure", sessionCookie, token, maxAge, sameSite)
}

func jsonResponse(status int, v any) events.APIGatewayProxyResponse {
	body, err := json.Marshal(v)
	if err != nil {
		status = http.StatusInternalServerError
		body = []byte(`{"success":false,"error":"Internal Server Error"}`)
	}
	return events.APIGatewayProxyResponse{
		StatusCode: status,
		Body:       string(body),
		Headers: map[string]string{
			"Content-Type": "application/json",
		},
	}
}

type errorBody struct {
	Success bool   `json:"success"`
	Error   string `json:"error"`
}

func errorResponse(status int, msg string) events.APIGatewayProxyResponse {
	return jsonResponse(status, errorBody{Success: false, Error: msg})
}
