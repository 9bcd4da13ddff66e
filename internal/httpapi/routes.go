package httpapi

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"

	"github.com/ethanchen143/LoopBop-sub001/internal/ws"
)

func SetupRoutes(b Battles, q Questions, log *zap.Logger) http.Handler {
	if log == nil {
		log = zap.NewNop()
	}
	h := handlers{battles: b, questions: q, log: log.Named("http")}

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Use(requestLogger(h.log))

	// Public routes
	r.Get("/healthz", Healthz)
	r.Get("/battle", h.SoloBattle)

	r.Route("/battles", func(r chi.Router) {
		r.Post("/", h.CreateBattle)
		r.Route("/{code}", func(r chi.Router) {
			r.Get("/", h.GetBattle)
			r.Get("/ws", ws.Handler(b, log))
			r.Post("/players", h.JoinBattle)
			r.Post("/ready", h.SetReady)
			r.Post("/start", h.StartBattle)
			r.Post("/rounds", h.StartRound)
			r.Post("/rounds/{round}/selections", h.SubmitSelection)
		})
	})
	return r
}

func requestLogger(log *zap.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
			start := time.Now()
			next.ServeHTTP(ww, r)
			log.Debug("request",
				zap.String("method", r.Method),
				zap.String("path", r.URL.Path),
				zap.Int("status", ww.Status()),
				zap.Duration("took", time.Since(start)),
				zap.String("request_id", middleware.GetReqID(r.Context())),
			)
		})
	}
}
