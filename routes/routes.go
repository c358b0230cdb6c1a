package routes

// HTTP routing setup for the hpkebridge binding API.

import (
	"log"
	"net/http"

	"github.com/justinas/alice"

	"github.com/collapsinghierarchy/hpkebridge/handler"
	"github.com/collapsinghierarchy/hpkebridge/service"
)

// SetupRoutes wires the binding endpoints plus the health check behind the
// middleware chain.
func SetupRoutes(svc *service.Service) http.Handler {
	mux := http.NewServeMux()
	mux.Handle("/hb/v1/", handler.SetupHBRoutes(svc))

	// Health check
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("ok"))
	})

	// Middleware chain (logging)
	chain := alice.New(logRequest)
	return chain.Then(mux)
}

// logRequest logs basic request information. Never log bodies here: every
// payload on this API is key material or ciphertext.
func logRequest(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		log.Printf("%s %s", r.Method, r.URL.Path)
		next.ServeHTTP(w, r)
	})
}
