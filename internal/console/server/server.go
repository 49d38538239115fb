package server

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/xela07ax/capgate/internal/console/handler"
	"github.com/xela07ax/capgate/internal/domain"
	"github.com/xela07ax/capgate/internal/infra"
	"github.com/xela07ax/capgate/internal/infra/auth"
	"go.uber.org/zap"
)

type ConsoleServer struct {
	router *chi.Mux
	logger *zap.Logger
	cfg    *infra.Config

	// Проверка RS256 токенов операторов
	authValidator auth.TokenValidator

	// Обработчики бизнес-доменов
	authHandler     *handler.AuthHandler     // /auth/token
	overrideHandler *handler.OverrideHandler // /v1/overrides, /v1/audit, snapshot
	panicHandler    *handler.PanicHandler    // /v1/panic
	statusHandler   *handler.StatusHandler   // /v1/queues, /api/v1/dashboard
}

// NewConsoleServer инициализирует сервер админки со всеми зависимостями
func NewConsoleServer(
	cfg *infra.Config,
	logger *zap.Logger,
	validator auth.TokenValidator,
	authH *handler.AuthHandler,
	overrideH *handler.OverrideHandler,
	panicH *handler.PanicHandler,
	statusH *handler.StatusHandler,
) *ConsoleServer {
	s := &ConsoleServer{
		router:          chi.NewRouter(),
		logger:          logger.Named("console-api"),
		cfg:             cfg,
		authValidator:   validator,
		authHandler:     authH,
		overrideHandler: overrideH,
		panicHandler:    panicH,
		statusHandler:   statusH,
	}

	s.routes()
	return s
}

func (s *ConsoleServer) routes() {
	r := s.router

	// --- 1. Глобальные инфраструктурные Middleware (для всех) ---
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)

	// --- 2. ПУБЛИЧНЫЕ РОУТЫ (Открыты для всех) ---
	r.Group(func(r chi.Router) {
		// Логин должен быть доступен без токена
		r.Post("/auth/token", s.authHandler.Login)

		// Healthcheck для мониторинга
		r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusOK)
		})
	})

	// --- 3. ЗАЩИЩЕННЫЙ ПЕРИМЕТР (Требуют RS256 токен) ---
	r.Group(func(r chi.Router) {
		r.Use(auth.NewMiddleware(s.authValidator, s.logger))

		// Dashboard & Stats
		r.Get("/api/v1/dashboard/stats", s.statusHandler.GetStats)

		// Управление оверрайдами способностей.
		// Чтение доступно любому оператору, запись требует scope.
		r.Route("/v1/overrides", func(r chi.Router) {
			r.Get("/", s.overrideHandler.List) // Действующие оверрайды
			r.Group(func(r chi.Router) {
				r.Use(auth.RequireScope(domain.ScopeOverridesWrite, s.logger))
				r.Post("/", s.overrideHandler.Create)   // Создание/замена
				r.Delete("/", s.overrideHandler.Delete) // Отзыв (?path=&org_id=)
			})
		})

		// Полный резолв способностей для тенанта
		r.Get("/v1/capabilities/snapshot", s.overrideHandler.Snapshot)

		// Паник-контроллер (Kill-Switch интеграций)
		r.Route("/v1/panic", func(r chi.Router) {
			r.Get("/", s.panicHandler.List) // Фазы всех интеграций
			r.Route("/{integration}", func(r chi.Router) {
				r.Use(auth.RequireScope(domain.ScopePanicWrite, s.logger))
				r.Post("/disable", s.panicHandler.Disable) // Ручной kill-switch
				r.Post("/enable", s.panicHandler.Enable)   // Ручное восстановление
			})
		})

		// Очереди планировщика
		r.Get("/v1/queues/{queue}", s.statusHandler.Queue)

		// Аудит: история оверрайдов
		r.Get("/v1/audit", s.overrideHandler.History)
	})
}

// ServeHTTP позволяет использовать ConsoleServer как стандартный http.Handler
func (s *ConsoleServer) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}
