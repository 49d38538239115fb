package handler

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"

	"github.com/xela07ax/capgate/internal/domain"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

// TokenIssuer выписывает токен по логину и паролю оператора.
type TokenIssuer interface {
	GenerateToken(ctx context.Context, username, password string) (*domain.TokenResponse, error)
}

// AuthHandler обслуживает /auth/token. Попытки логина троттлятся
// по имени пользователя: перебор пароля упирается в 429 задолго до
// того, как bcrypt станет узким местом.
type AuthHandler struct {
	service TokenIssuer
	logger  *zap.Logger

	mu       sync.Mutex
	attempts map[string]*rate.Limiter
}

func NewAuthHandler(s TokenIssuer, logger *zap.Logger) *AuthHandler {
	return &AuthHandler{
		service:  s,
		logger:   logger.Named("auth"),
		attempts: make(map[string]*rate.Limiter),
	}
}

// limiterFor — лимитер попыток конкретного логина: всплеск из 5,
// дальше не чаще одной попытки в секунду.
func (h *AuthHandler) limiterFor(username string) *rate.Limiter {
	h.mu.Lock()
	defer h.mu.Unlock()

	lim, ok := h.attempts[username]
	if !ok {
		lim = rate.NewLimiter(rate.Limit(1), 5)
		h.attempts[username] = lim
	}
	return lim
}

func (h *AuthHandler) Login(w http.ResponseWriter, r *http.Request) {
	var req domain.LoginRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "bad request", http.StatusBadRequest)
		return
	}
	if req.Username == "" || req.Password == "" {
		http.Error(w, "username and password are required", http.StatusBadRequest)
		return
	}

	if !h.limiterFor(req.Username).Allow() {
		h.logger.Warn("login throttled",
			zap.String("username", req.Username),
			zap.String("remote", r.RemoteAddr),
		)
		http.Error(w, "too many attempts", http.StatusTooManyRequests)
		return
	}

	resp, err := h.service.GenerateToken(r.Context(), req.Username, req.Password)
	if err != nil {
		// не уточняем, что именно неверно (логин или пароль) для защиты от перебора
		h.logger.Warn("login rejected",
			zap.String("username", req.Username),
			zap.String("remote", r.RemoteAddr),
		)
		http.Error(w, "Unauthorized", http.StatusUnauthorized)
		return
	}

	h.logger.Info("operator logged in", zap.String("username", req.Username))
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(resp)
}
