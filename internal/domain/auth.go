package domain

import (
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// TokenIssuer — значение iss во всех токенах консоли; валидатор
// отбрасывает токены с чужим издателем до проверки подписи клеймов.
const TokenIssuer = "capgate-console"

// Права оператора. Admin покрывает все остальные.
const (
	ScopeAdmin          = "admin"
	ScopeOverridesWrite = "overrides.write" // Создание и отзыв оверрайдов
	ScopePanicWrite     = "panic.write"     // Ручной kill-switch интеграций
)

type OperatorClaims struct {
	OperatorID string          `json:"operator_id"`
	Scopes     map[string]bool `json:"scopes"` // "admin": true или "overrides.write": true
	jwt.RegisteredClaims
}

// Allowed отвечает, покрывает ли набор прав оператора требуемый scope.
func (c *OperatorClaims) Allowed(scope string) bool {
	return c.Scopes[ScopeAdmin] || c.Scopes[scope]
}

// Secure Token Issuing
type LoginRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

type TokenResponse struct {
	AccessToken string `json:"access_token"`
	TokenType   string `json:"token_type"` // Всегда "Bearer"
	ExpiresIn   int64  `json:"expires_in"`
}

// Operator — учетная запись человека, управляющего оверрайдами через консоль/CLI.
// Его ID попадает в Override.SetBy — аудит ручных действий.
type Operator struct {
	ID           string          `json:"id"`
	Email        string          `json:"email"`
	Username     string          `json:"username"`
	PasswordHash string          `json:"-"` // Никогда не отправляем на фронт
	Role         string          `json:"role"`
	Scopes       map[string]bool `json:"scopes"`
	CreatedAt    time.Time       `json:"created_at"`
	UpdatedAt    time.Time       `json:"updated_at"`
}
