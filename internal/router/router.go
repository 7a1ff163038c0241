package router

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/henna-boutique/api/internal/config"
	"github.com/henna-boutique/api/internal/database"
	"github.com/henna-boutique/api/internal/handler"
	mw "github.com/henna-boutique/api/internal/middleware"
	"github.com/henna-boutique/api/internal/notify"
	"github.com/henna-boutique/api/internal/payment"
	"github.com/henna-boutique/api/internal/session"
	"github.com/henna-boutique/api/internal/totals"
	"github.com/henna-boutique/api/internal/ws"
	"go.uber.org/zap"
)

// Deps holds everything the routes are built from.
type Deps struct {
	Config     *config.Config
	Queries    *database.Queries
	Sessions   session.Store
	Orders     handler.OrderCreator
	Reconciler handler.PaymentReconciler
	Intents    handler.IntentSyncer
	Provider   payment.Provider
	Calc       totals.Calculator
	Notifier   notify.Notifier
	Hub        *ws.Hub
	Logger     *zap.Logger
}

// stater is implemented by providers guarded by a circuit breaker.
type stater interface {
	State() string
}

// New creates a Chi router with all application routes wired up.
// The webhook sits outside the session group: the provider has no cookie.
func New(d Deps) chi.Router {
	cfg := d.Config
	r := chi.NewRouter()

	// Standard middleware
	r.Use(middleware.RequestID)
	r.Use(mw.RequestLogger(d.Logger))
	r.Use(middleware.Recoverer)

	// CORS configuration
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   cfg.AllowedOrigins,
		AllowedMethods:   []string{"GET", "POST", "PATCH", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", "X-CSRFToken"},
		ExposedHeaders:   []string{"Link"},
		AllowCredentials: true, // session cookie
		MaxAge:           300,  // 5 minutes
	}))

	// Public routes
	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		payments := "ok"
		if s, ok := d.Provider.(stater); ok {
			payments = s.State()
		}
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"status":"ok","payments":"` + payments + `"}`))
	})

	// Provider webhook (signature-verified, no session)
	webhookHandler := handler.NewWebhookHandler(d.Provider, d.Reconciler, d.Notifier, d.Logger)
	r.Route("/checkout/wh", webhookHandler.RegisterRoutes)

	// Staff order feed (handles auth internally via query param)
	r.Method(http.MethodGet, "/ws/orders", ws.NewFeedHandler(d.Hub, cfg.JWTSecret, cfg.AllowedOrigins, d.Logger))

	// Shopper routes (session cookie, login optional)
	r.Group(func(r chi.Router) {
		r.Use(mw.Session(cfg.SessionTTL, cfg.CookieSecure))
		r.Use(mw.OptionalAuthenticate(cfg.JWTSecret))

		cartHandler := handler.NewCartHandler(d.Sessions, d.Queries, d.Calc, d.Logger)
		r.Route("/cart", cartHandler.RegisterRoutes)

		checkoutHandler := handler.NewCheckoutHandler(
			d.Queries,
			d.Sessions,
			d.Orders,
			d.Intents,
			d.Calc,
			cfg.Stripe.PublicKey,
			d.Notifier,
			d.Logger,
		)
		r.Route("/checkout", checkoutHandler.RegisterRoutes)
	})

	d.Logger.Info("router initialized with all handlers")
	return r
}
