package jwt

import (
	"time"

	"github.com/go-chi/jwtauth/v5"
	"github.com/lestrrat-go/jwx/v2/jwt"
)

// Token types carried in the "type" claim.
const (
	TokenTypeAccess = "access"
	TokenTypeStream = "sse"
)

// streamTokenTTL keeps stream tokens short-lived; they travel in URLs.
const streamTokenTTL = 5 * time.Minute

type Service interface {
	JWTAuth() *jwtauth.JWTAuth
	GenerateStreamToken(userID, employeeID string) (token string, expiresIn int, err error)
}

type JWTService struct {
	tokenAuth *jwtauth.JWTAuth
}

// NewJWTService verifies HS256 tokens signed with the HRIS secret.
func NewJWTService(secretKey string) Service {
	return &JWTService{
		tokenAuth: jwtauth.New("HS256", []byte(secretKey), nil, jwt.WithAcceptableSkew(30*time.Second)),
	}
}

func (j *JWTService) JWTAuth() *jwtauth.JWTAuth {
	return j.tokenAuth
}

// GenerateStreamToken generates a short-lived token for SSE connections
func (j *JWTService) GenerateStreamToken(userID, employeeID string) (token string, expiresIn int, err error) {
	expiresAt := time.Now().Add(streamTokenTTL).Unix()

	_, tokenString, err := j.tokenAuth.Encode(map[string]interface{}{
		"user_id":     userID,
		"employee_id": employeeID,
		"type":        TokenTypeStream,
		"exp":         expiresAt,
	})
	if err != nil {
		return "", 0, err
	}

	return tokenString, int(streamTokenTTL.Seconds()), nil
}
