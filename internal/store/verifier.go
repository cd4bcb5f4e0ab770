package store

import (
	"context"
	"fmt"

	"github.com/krevetka-D/conecta-realtime/internal/domain"
	"github.com/krevetka-D/conecta-realtime/pkg/jwt"
)

// JWTVerifier implements CredentialVerifier over HS256 tokens issued by the
// main application backend.
type JWTVerifier struct {
	verifier *jwt.Verifier
}

// NewJWTVerifier wraps a pkg/jwt verifier.
func NewJWTVerifier(v *jwt.Verifier) *JWTVerifier {
	return &JWTVerifier{verifier: v}
}

func (j *JWTVerifier) Verify(ctx context.Context, token string) (string, error) {
	claims, err := j.verifier.Verify(token)
	if err != nil {
		return "", fmt.Errorf("%w: %v", domain.ErrAuthentication, err)
	}
	userID := claims.UserID
	if userID == "" {
		userID = claims.Subject
	}
	if userID == "" {
		return "", fmt.Errorf("%w: token carries no user id", domain.ErrAuthentication)
	}
	return userID, nil
}

var _ CredentialVerifier = (*JWTVerifier)(nil)

// PermissiveVerifier accepts any non-empty token as the user id itself.
// Local development only; never enable in production.
type PermissiveVerifier struct{}

func (PermissiveVerifier) Verify(ctx context.Context, token string) (string, error) {
	if token == "" {
		return "", fmt.Errorf("%w: empty token", domain.ErrAuthentication)
	}
	return token, nil
}

var _ CredentialVerifier = PermissiveVerifier{}
