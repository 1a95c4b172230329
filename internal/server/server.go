package server

import (
	"context"
	"crypto/subtle"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5/middleware"

	"github.com/zombor/billcheck/internal/billing"
)

// Reconciler runs one reconciliation for an invoice owner.
type Reconciler interface {
	Reconcile(ctx context.Context, invoiceID, userID string) (*billing.Comparison, error)
}

// BasicAuth holds basic authentication credentials. The username is the
// owner of every record created through the server.
type BasicAuth struct {
	Username string
	Password string
}

func (a BasicAuth) enabled() bool {
	return a.Username != "" || a.Password != ""
}

// Server handles HTTP requests for invoices, measurements and comparisons
type Server struct {
	service     *billing.Service
	reconciler  Reconciler
	basicAuth   BasicAuth
	defaultUser string
	mux         *http.ServeMux
	handler     http.Handler
}

type userKey struct{}

// NewServer creates a new Server with default mux
func NewServer(service *billing.Service, reconciler Reconciler, basicAuth BasicAuth, defaultUser string) *Server {
	return NewServerWithMux(service, reconciler, basicAuth, defaultUser, http.NewServeMux())
}

// NewServerWithMux creates a new Server with a custom mux for testing
func NewServerWithMux(service *billing.Service, reconciler Reconciler, basicAuth BasicAuth, defaultUser string, mux *http.ServeMux) *Server {
	s := &Server{
		service:     service,
		reconciler:  reconciler,
		basicAuth:   basicAuth,
		defaultUser: defaultUser,
		mux:         mux,
	}
	s.registerRoutes()
	s.handler = middleware.RequestID(middleware.Recoverer(s.corsMiddleware(s.mux)))
	return s
}

// authenticate checks basic auth credentials and returns the owner they
// identify. Without configured credentials every request acts as the
// default user.
func (s *Server) authenticate(r *http.Request) (string, bool) {
	if !s.basicAuth.enabled() {
		return s.defaultUser, true
	}

	user, pass, ok := r.BasicAuth()
	if !ok {
		return "", false
	}
	userOK := subtle.ConstantTimeCompare([]byte(user), []byte(s.basicAuth.Username)) == 1
	passOK := subtle.ConstantTimeCompare([]byte(pass), []byte(s.basicAuth.Password)) == 1
	if !userOK || !passOK {
		return "", false
	}
	return user, true
}

// corsMiddleware adds CORS headers and answers preflight requests
func (s *Server) corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		setCORSHeaders(w)
		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// requireAuth middleware
func (s *Server) requireAuth(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		user, ok := s.authenticate(r)
		if !ok {
			w.Header().Set("WWW-Authenticate", `Basic realm="Billcheck"`)
			writeError(w, http.StatusUnauthorized, "Unauthorized")
			return
		}
		next(w, r.WithContext(context.WithValue(r.Context(), userKey{}, user)))
	}
}

// userFrom returns the owner requireAuth attached to the request
func userFrom(r *http.Request) string {
	user, _ := r.Context().Value(userKey{}).(string)
	return user
}

// setCORSHeaders sets CORS headers on a response
func setCORSHeaders(w http.ResponseWriter) {
	w.Header().Set("Access-Control-Allow-Origin", "*")
	w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
	w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")
	w.Header().Set("Access-Control-Max-Age", "3600")
}

// registerRoutes registers all API routes on the server's mux
func (s *Server) registerRoutes() {
	// invoices
	s.mux.HandleFunc("GET /api/invoices/{id}/documents/{page}", s.requireAuth(s.handleGetInvoiceDocument))
	s.mux.HandleFunc("GET /api/invoices/{id}/comparisons", s.requireAuth(s.handleListInvoiceComparisons))
	s.mux.HandleFunc("POST /api/invoices/{id}/reconcile", s.requireAuth(s.handleReconcileInvoice))
	s.mux.HandleFunc("GET /api/invoices/{id}", s.requireAuth(s.handleGetInvoice))
	s.mux.HandleFunc("POST /api/invoices/text", s.requireAuth(s.handleSubmitText))
	s.mux.HandleFunc("GET /api/invoices", s.requireAuth(s.handleListInvoices))
	s.mux.HandleFunc("POST /api/invoices", s.requireAuth(s.handleUploadInvoice))

	// comparisons
	s.mux.HandleFunc("GET /api/comparisons/{id}", s.requireAuth(s.handleGetComparison))
	s.mux.HandleFunc("GET /api/comparisons", s.requireAuth(s.handleListComparisons))
	s.mux.HandleFunc("POST /api/comparisons", s.requireAuth(s.handleCreateComparison))

	// measurements
	s.mux.HandleFunc("GET /api/measurements/{id}", s.requireAuth(s.handleGetMeasurement))
	s.mux.HandleFunc("GET /api/measurements", s.requireAuth(s.handleListMeasurements))
	s.mux.HandleFunc("POST /api/measurements", s.requireAuth(s.handleImportMeasurements))
}

// Start starts the HTTP server
func (s *Server) Start(addr string) error {
	slog.Info("Starting server", "address", addr)
	return http.ListenAndServe(addr, s.handler)
}

// ServeHTTP implements http.Handler with the full middleware chain
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.handler.ServeHTTP(w, r)
}
