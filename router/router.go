package router

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"

	docHandler "docsync/internal/document"
	"docsync/middleware"
	"docsync/pkg/metrics"
	"docsync/socket"
)

type Options struct {
	JWTSecret       []byte
	AllowedOrigins  []string
	MaxMessageBytes int64
	SaveTimeout     time.Duration
}

func Setup(hub *socket.Hub, gate socket.Gate, opts Options) http.Handler {
	r := chi.NewRouter()
	r.Use(
		chimw.RequestID,
		chimw.RealIP,
		chimw.Recoverer,
		metrics.Middleware,
		cors.Handler(cors.Options{
			AllowedOrigins:   opts.AllowedOrigins,
			AllowedMethods:   []string{http.MethodGet, http.MethodPost, http.MethodOptions},
			AllowedHeaders:   []string{"Authorization", "Content-Type"},
			AllowCredentials: false,
			MaxAge:           300,
		}),
	)

	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) { _, _ = w.Write([]byte("ok")) })
	r.Handle("/metrics", metrics.Handler())

	// WebSocket, addressed as a sub-resource of the document
	upgrader := socket.NewUpgrader(opts.AllowedOrigins)
	serveOpts := socket.ServeOptions{MaxMessageBytes: opts.MaxMessageBytes}
	ws := func(w http.ResponseWriter, r *http.Request) {
		socket.ServeWs(hub, upgrader, serveOpts, w, r, chi.URLParam(r, "docID"))
	}
	r.Get("/ws/doc/{docID}", ws)
	r.Get("/ws/doc/{docID}/", ws)

	// REST API
	h := docHandler.NewDocumentHandler(hub, gate, opts.SaveTimeout)
	r.Route("/api/documents/{docID}", func(r chi.Router) {
		r.Use(middleware.AuthMiddleware(opts.JWTSecret))
		r.Post("/save", h.SaveDocument)
		r.Get("/session", h.GetSession)
	})

	return r
}
