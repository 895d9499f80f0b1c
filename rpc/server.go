package rpc

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"

	"github.com/electoral-net/votepipeline/log"
)

// MetaVoterID is the call-level metadata key used to carry a voter id
// alongside a vote without persisting it on the envelope. It travels as an
// HTTP header on this transport.
const MetaVoterID = "X-Vote-Meta-VoterId"

// NewRouter returns a chi.Mux with the standard middleware stack (CORS,
// request logging, panic recovery, throttling, timeout) shared by every
// component's HTTP surface.
func NewRouter(component string, requestTimeout time.Duration) *chi.Mux {
	r := chi.NewRouter()
	r.Use(cors.New(cors.Options{
		AllowedOrigins:   []string{"*"},
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Content-Type", MetaVoterID},
		AllowCredentials: true,
		MaxAge:           300,
	}).Handler)
	r.Use(loggingMiddleware(component))
	r.Use(middleware.Recoverer)
	r.Use(middleware.Throttle(100))
	r.Use(middleware.Timeout(requestTimeout))

	r.Get("/ping", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
	return r
}

func loggingMiddleware(component string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
			next.ServeHTTP(ww, r)
			log.Infow("request",
				"component", component,
				"method", r.Method,
				"path", r.URL.Path,
				"status", ww.Status(),
				"duration", time.Since(start).String())
		})
	}
}

// DecodeJSON decodes the request body into v, returning ErrMalformedBody on
// failure.
func DecodeJSON(r *http.Request, v any) error {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		return ErrMalformedBody
	}
	return nil
}

// WriteJSON writes v as a JSON response with the given status.
func WriteJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// VoterID extracts the voterId metadata carried on the request, defaulting
// to "UNKNOWN" .
func VoterID(r *http.Request) string {
	if v := r.Header.Get(MetaVoterID); v != "" {
		return v
	}
	return "UNKNOWN"
}
