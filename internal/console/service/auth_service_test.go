package service

import (
	"context"
	"crypto/rand"
	"crypto/rsa"
	"testing"
	"time"

	"github.com/xela07ax/capgate/internal/domain"
	"github.com/xela07ax/capgate/internal/infra/auth"
	"golang.org/x/crypto/bcrypt"
)

type fakeOperatorRepo struct {
	operators map[string]*domain.Operator
}

func (r *fakeOperatorRepo) GetOperatorByUsername(_ context.Context, username string) (*domain.Operator, error) {
	return r.operators[username], nil
}

func newAuthFixture(t *testing.T) (*AuthService, *auth.OperatorValidator) {
	t.Helper()
	key, err := rsa.GenerateKey(rand.Reader, 2048)
	if err != nil {
		t.Fatalf("generate key: %v", err)
	}

	hash, err := bcrypt.GenerateFromPassword([]byte("s3cret"), bcrypt.MinCost)
	if err != nil {
		t.Fatalf("bcrypt: %v", err)
	}
	repo := &fakeOperatorRepo{operators: map[string]*domain.Operator{
		"alex": {
			ID:           "op-1",
			Username:     "alex",
			PasswordHash: string(hash),
			Scopes:       map[string]bool{"admin": true},
		},
	}}

	return NewAuthService(repo, key, time.Hour), auth.NewOperatorValidator(&key.PublicKey)
}

func TestAuthServiceGenerateToken(t *testing.T) {
	ctx := context.Background()

	t.Run("valid credentials produce verifiable token", func(t *testing.T) {
		svc, validator := newAuthFixture(t)

		resp, err := svc.GenerateToken(ctx, "alex", "s3cret")
		if err != nil {
			t.Fatalf("GenerateToken: %v", err)
		}
		if resp.TokenType != "Bearer" || resp.AccessToken == "" {
			t.Fatalf("response = %+v", resp)
		}

		claims, err := validator.VerifyToken("Bearer " + resp.AccessToken)
		if err != nil {
			t.Fatalf("VerifyToken: %v", err)
		}
		if claims.OperatorID != "op-1" || !claims.Scopes["admin"] {
			t.Errorf("claims = %+v", claims)
		}
	})

	t.Run("wrong password rejected", func(t *testing.T) {
		svc, _ := newAuthFixture(t)
		if _, err := svc.GenerateToken(ctx, "alex", "wrong"); err == nil {
			t.Error("expected error for wrong password")
		}
	})

	t.Run("unknown user rejected", func(t *testing.T) {
		svc, _ := newAuthFixture(t)
		if _, err := svc.GenerateToken(ctx, "ghost", "s3cret"); err == nil {
			t.Error("expected error for unknown user")
		}
	})
}

func TestValidatorRejectsForeignToken(t *testing.T) {
	svc, _ := newAuthFixture(t)
	_, foreignValidator := newAuthFixture(t) // Другая пара ключей

	resp, err := svc.GenerateToken(context.Background(), "alex", "s3cret")
	if err != nil {
		t.Fatalf("GenerateToken: %v", err)
	}
	if _, err := foreignValidator.VerifyToken(resp.AccessToken); err == nil {
		t.Error("token signed with another key must not verify")
	}
}
