package http

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/telecare/signaling-service/internal/domain"
	httpmw "github.com/telecare/signaling-service/internal/transport/http/middleware"
	"github.com/telecare/signaling-service/pkg/httputil"

	"github.com/go-chi/chi/v5"
	middlewareChi "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
)

type RouterDeps struct {
	Handler        *Handler
	WS             http.HandlerFunc
	Verifier       httpmw.TokenVerifier
	AllowedOrigins []string
	Logger         *slog.Logger
}

func NewRouter(d RouterDeps) http.Handler {
	if d.Logger == nil {
		d.Logger = slog.Default()
	}
	origins := d.AllowedOrigins
	if len(origins) == 0 {
		origins = []string{"*"}
	}

	r := chi.NewRouter()
	r.Use(httputil.MiddlewareRequestID)
	r.Use(middlewareChi.RealIP)
	r.Use(middlewareChi.Recoverer)
	r.Use(httputil.MiddlewareLogging(d.Logger))
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   origins,
		AllowedMethods:   []string{"GET", "OPTIONS"},
		AllowedHeaders:   []string{"Authorization", "Content-Type", httputil.HeaderRequestID},
		ExposedHeaders:   []string{httputil.HeaderRequestID},
		AllowCredentials: true,
		MaxAge:           300,
	}))

	// health
	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})

	// WS: токен проверяет сам ws.Server до апгрейда
	r.Get("/ws", d.WS)

	r.Group(func(pr chi.Router) {
		pr.Use(httpmw.Auth(d.Verifier))
		pr.Use(httpmw.RequireRole(domain.RoleDoctor, domain.RoleAdmin))
		pr.Use(middlewareChi.Timeout(10 * time.Second))

		pr.Route("/rooms", func(rm chi.Router) {
			rm.Get("/", d.Handler.ListRooms)
			rm.Get("/{id}", d.Handler.GetRoom)
		})
	})

	return r
}
