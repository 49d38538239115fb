package auth

import (
	"crypto/rand"
	"crypto/rsa"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/xela07ax/capgate/internal/domain"
	"go.uber.org/zap"
)

func newKeyPair(t *testing.T) *rsa.PrivateKey {
	t.Helper()
	key, err := rsa.GenerateKey(rand.Reader, 2048)
	if err != nil {
		t.Fatalf("generate key: %v", err)
	}
	return key
}

func signToken(t *testing.T, key *rsa.PrivateKey, claims *domain.OperatorClaims) string {
	t.Helper()
	signed, err := jwt.NewWithClaims(jwt.SigningMethodRS256, claims).SignedString(key)
	if err != nil {
		t.Fatalf("sign token: %v", err)
	}
	return signed
}

func consoleClaims(operatorID string, scopes map[string]bool) *domain.OperatorClaims {
	return &domain.OperatorClaims{
		OperatorID: operatorID,
		Scopes:     scopes,
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    domain.TokenIssuer,
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
		},
	}
}

func TestOperatorValidatorVerifyToken(t *testing.T) {
	key := newKeyPair(t)
	v := NewOperatorValidator(&key.PublicKey)

	t.Run("valid token passes with claims intact", func(t *testing.T) {
		token := signToken(t, key, consoleClaims("op-1", map[string]bool{domain.ScopeAdmin: true}))

		claims, err := v.VerifyToken("Bearer " + token)
		if err != nil {
			t.Fatalf("VerifyToken: %v", err)
		}
		if claims.OperatorID != "op-1" || !claims.Allowed(domain.ScopeOverridesWrite) {
			t.Errorf("claims = %+v", claims)
		}
	})

	t.Run("foreign issuer rejected", func(t *testing.T) {
		claims := consoleClaims("op-1", nil)
		claims.Issuer = "somebody-else"

		if _, err := v.VerifyToken(signToken(t, key, claims)); err == nil {
			t.Error("expected error for foreign issuer")
		}
	})

	t.Run("token without expiration rejected", func(t *testing.T) {
		claims := consoleClaims("op-1", nil)
		claims.ExpiresAt = nil

		if _, err := v.VerifyToken(signToken(t, key, claims)); err == nil {
			t.Error("expected error for missing exp")
		}
	})

	t.Run("token without operator identity rejected", func(t *testing.T) {
		// Без operator_id нечего писать в SetBy — такой токен бесполезен для аудита
		if _, err := v.VerifyToken(signToken(t, key, consoleClaims("", nil))); err == nil {
			t.Error("expected error for empty operator_id")
		}
	})

	t.Run("symmetric signing method rejected", func(t *testing.T) {
		token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, consoleClaims("op-1", nil)).
			SignedString([]byte("shared-secret"))
		if err != nil {
			t.Fatalf("sign token: %v", err)
		}
		if _, err := v.VerifyToken(token); err == nil {
			t.Error("expected error for HS256 token")
		}
	})
}

func TestRequireScope(t *testing.T) {
	key := newKeyPair(t)
	v := NewOperatorValidator(&key.PublicKey)

	// Цепочка как в роутере консоли: аутентификация, затем проверка права
	protected := NewMiddleware(v, zap.NewNop())(
		RequireScope(domain.ScopeOverridesWrite, zap.NewNop())(
			http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(http.StatusNoContent)
			}),
		),
	)

	call := func(t *testing.T, claims *domain.OperatorClaims) int {
		t.Helper()
		req := httptest.NewRequest(http.MethodPost, "/v1/overrides", nil)
		req.Header.Set("Authorization", "Bearer "+signToken(t, key, claims))
		rec := httptest.NewRecorder()
		protected.ServeHTTP(rec, req)
		return rec.Code
	}

	t.Run("exact scope admitted", func(t *testing.T) {
		got := call(t, consoleClaims("op-1", map[string]bool{domain.ScopeOverridesWrite: true}))
		if got != http.StatusNoContent {
			t.Errorf("status = %d, want 204", got)
		}
	})

	t.Run("admin covers any scope", func(t *testing.T) {
		got := call(t, consoleClaims("op-1", map[string]bool{domain.ScopeAdmin: true}))
		if got != http.StatusNoContent {
			t.Errorf("status = %d, want 204", got)
		}
	})

	t.Run("missing scope forbidden", func(t *testing.T) {
		got := call(t, consoleClaims("op-1", map[string]bool{domain.ScopePanicWrite: true}))
		if got != http.StatusForbidden {
			t.Errorf("status = %d, want 403", got)
		}
	})
}
