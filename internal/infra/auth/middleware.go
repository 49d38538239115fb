package auth

import (
	"context"
	"net/http"

	"github.com/xela07ax/capgate/internal/domain"
	"go.uber.org/zap"
)

// TokenValidator — интерфейс проверки токена оператора (реализуется консолью)
type TokenValidator interface {
	VerifyToken(tokenStr string) (*domain.OperatorClaims, error)
}

type ctxKey string

const (
	CtxOperatorID ctxKey = "operator_id"
	CtxClaims     ctxKey = "operator_claims"
)

func NewMiddleware(v TokenValidator, logger *zap.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			authHeader := r.Header.Get("Authorization")
			if authHeader == "" {
				http.Error(w, "Unauthorized", http.StatusUnauthorized)
				return
			}

			claims, err := v.VerifyToken(authHeader)
			if err != nil {
				logger.Warn("auth failure", zap.Error(err))
				http.Error(w, "Unauthorized", http.StatusUnauthorized)
				return
			}

			// Прокидываем данные оператора в контекст
			ctx := context.WithValue(r.Context(), CtxClaims, claims)
			ctx = context.WithValue(ctx, CtxOperatorID, claims.OperatorID)

			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// RequireScope пускает дальше только операторов с нужным правом
// (admin покрывает все). Вешается на мутирующие роуты поверх NewMiddleware.
func RequireScope(scope string, logger *zap.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			claims := ClaimsFromContext(r.Context())
			if claims == nil || !claims.Allowed(scope) {
				logger.Warn("operator lacks required scope",
					zap.String("operator_id", OperatorFromContext(r.Context())),
					zap.String("scope", scope),
				)
				http.Error(w, "Forbidden", http.StatusForbidden)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// OperatorFromContext достает ID оператора, положенный middleware'ом.
func OperatorFromContext(ctx context.Context) string {
	if id, ok := ctx.Value(CtxOperatorID).(string); ok {
		return id
	}
	return ""
}

// ClaimsFromContext достает полные клеймы оператора.
func ClaimsFromContext(ctx context.Context) *domain.OperatorClaims {
	if claims, ok := ctx.Value(CtxClaims).(*domain.OperatorClaims); ok {
		return claims
	}
	return nil
}
