package auth

import (
	"crypto/rsa"
	"fmt"
	"strings"

	"github.com/golang-jwt/jwt/v5"
	"github.com/xela07ax/capgate/internal/domain"
)

// OperatorValidator проверяет RS256-токены операторов, выписанные консолью.
// Кроме подписи валидируются издатель и срок жизни, а токен без
// operator_id отбрасывается: ID оператора уходит в Override.SetBy,
// и действие без идентичности в аудите недопустимо.
type OperatorValidator struct {
	parser    *jwt.Parser
	publicKey *rsa.PublicKey
}

func NewOperatorValidator(pubKey *rsa.PublicKey) *OperatorValidator {
	return &OperatorValidator{
		parser: jwt.NewParser(
			jwt.WithValidMethods([]string{jwt.SigningMethodRS256.Alg()}),
			jwt.WithIssuer(domain.TokenIssuer),
			jwt.WithExpirationRequired(),
		),
		publicKey: pubKey,
	}
}

// VerifyToken реализует интерфейс auth.TokenValidator.
func (v *OperatorValidator) VerifyToken(tokenStr string) (*domain.OperatorClaims, error) {
	tokenStr = strings.TrimPrefix(tokenStr, "Bearer ")
	tokenStr = strings.TrimSpace(tokenStr)

	token, err := v.parser.ParseWithClaims(tokenStr, &domain.OperatorClaims{}, func(*jwt.Token) (interface{}, error) {
		return v.publicKey, nil
	})
	if err != nil || !token.Valid {
		return nil, fmt.Errorf("invalid token: %w", err)
	}

	claims, ok := token.Claims.(*domain.OperatorClaims)
	if !ok {
		return nil, fmt.Errorf("invalid claims")
	}
	if claims.OperatorID == "" {
		return nil, fmt.Errorf("token carries no operator identity")
	}

	return claims, nil
}

// ParseRSAPublicKey превращает []byte в объект для проверки подписи
func ParseRSAPublicKey(data []byte) (*rsa.PublicKey, error) {
	if len(data) == 0 {
		return nil, fmt.Errorf("public key data is empty")
	}
	key, err := jwt.ParseRSAPublicKeyFromPEM(data)
	if err != nil {
		return nil, fmt.Errorf("failed to parse public key: %w", err)
	}
	return key, nil
}

// ParseRSAPrivateKey превращает []byte в объект для подписи (только для Console)
func ParseRSAPrivateKey(data []byte) (*rsa.PrivateKey, error) {
	if len(data) == 0 {
		return nil, fmt.Errorf("private key data is empty")
	}
	key, err := jwt.ParseRSAPrivateKeyFromPEM(data)
	if err != nil {
		return nil, fmt.Errorf("failed to parse private key: %w", err)
	}
	return key, nil
}
