package api

import (
	"net/http"

	"filippo.io/csrf"
	"github.com/julienschmidt/httprouter"
	"github.com/rs/cors"
	"github.com/rs/zerolog/log"

	"clientportal/internal/api/handlers"
	"clientportal/internal/api/middleware"
	"clientportal/internal/pkg/errors"
	"clientportal/internal/platform/config"
)

type Dependencies struct {
	AuthHandler       *handlers.AuthHandler
	PortalHandler     *handlers.PortalHandler
	ActivityHandler   *handlers.ActivityHandler
	HealthHandler     *handlers.HealthHandler
	SessionMiddleware *middleware.SessionMiddleware
	RateLimiter       *middleware.RateLimiter
	CORS              config.CORSConfig
	TrustProxy        bool
}

func NewRouter(deps *Dependencies) http.Handler {
	router := httprouter.New()
	router.NotFound = http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		errors.WriteError(w, http.StatusNotFound, errors.ErrCodeInvalidInput, "Not found", nil)
	})
	router.MethodNotAllowed = http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		errors.WriteError(w, http.StatusMethodNotAllowed, errors.ErrCodeInvalidInput, "Method not allowed", nil)
	})

	router.GET("/healthz", wrap(deps.HealthHandler.Check))

	// Login
	limiter := deps.RateLimiter
	router.POST("/auth/request-link",
		chain(deps.AuthHandler.RequestLink, limiter.Limit(middleware.LimitRequestLink)))
	router.GET("/auth/verify",
		chain(deps.AuthHandler.Verify, limiter.Limit(middleware.LimitVerify)))
	router.POST("/auth/logout", wrap(deps.AuthHandler.Logout))

	// Session-gated portal
	sessionMid := deps.SessionMiddleware
	router.GET("/me", chain(deps.PortalHandler.Me, sessionMid.Handle))
	router.GET("/me/activity", chain(deps.ActivityHandler.List, sessionMid.Handle))
	router.GET("/tasks", chain(deps.PortalHandler.ListTasks, sessionMid.Handle))
	router.POST("/tasks", chain(deps.PortalHandler.CreateTask, sessionMid.Handle))
	router.GET("/deals", chain(deps.PortalHandler.ListDeals, sessionMid.Handle))

	var handler http.Handler = router
	handler = withCrossOriginProtection(deps.CORS.AllowedOrigins, handler)
	handler = withCORS(deps.CORS, handler)
	handler = middleware.RequestLogger(handler)
	handler = middleware.ClientIP(deps.TrustProxy)(handler)
	handler = middleware.Recover(handler)
	return handler
}

// Helper function to chain middlewares
func chain(handler http.HandlerFunc, middlewares ...func(http.HandlerFunc) http.HandlerFunc) httprouter.Handle {
	for i := len(middlewares) - 1; i >= 0; i-- {
		handler = middlewares[i](handler)
	}
	return wrap(handler)
}

// Convert http.HandlerFunc to httprouter.Handle
func wrap(handler http.HandlerFunc) httprouter.Handle {
	return func(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
		handler(w, r)
	}
}

// withCORS lets the portal front-end call the API with its session cookie.
func withCORS(cfg config.CORSConfig, h http.Handler) http.Handler {
	if len(cfg.AllowedOrigins) == 0 {
		return h
	}
	return cors.New(cors.Options{
		AllowedOrigins:   cfg.AllowedOrigins,
		AllowedMethods:   []string{http.MethodGet, http.MethodPost, http.MethodOptions},
		AllowedHeaders:   []string{"Content-Type", "Accept"},
		AllowCredentials: true,
		MaxAge:           cfg.MaxAge,
	}).Handler(h)
}

// withCrossOriginProtection rejects cross-origin state-changing requests
// except from the configured front-end origins.
func withCrossOriginProtection(origins []string, h http.Handler) http.Handler {
	protection := csrf.New()
	for _, origin := range origins {
		if err := protection.AddTrustedOrigin(origin); err != nil {
			log.Warn().Err(err).Str("origin", origin).Msg("ignoring invalid trusted origin")
		}
	}
	protection.SetDenyHandler(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		errors.WriteError(w, http.StatusForbidden, errors.ErrCodeForbidden, "Cross-origin request rejected", nil)
	}))
	return protection.Handler(h)
}
