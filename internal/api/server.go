package api

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/gorilla/mux"
	cmap "github.com/orcaman/concurrent-map/v2"
	"github.com/rs/zerolog"

	"github.com/ryanhale/tracksync/internal/models"
	"github.com/ryanhale/tracksync/internal/services"
	"github.com/ryanhale/tracksync/internal/store"
)

type contextKey string

const principalKey contextKey = "principal"

// Server is the HTTP presentation boundary: account entry, tracking
// control, the live location feed and device pairing. Every data route
// resolves a principal first; the tracker and the feed are never touched
// without one.
type Server struct {
	listenAddr string
	store      store.Store
	tracker    *services.TrackerService
	feed       *services.FeedService
	pairing    *services.PairingService
	logger     zerolog.Logger

	sessions   cmap.ConcurrentMap[string, models.Principal]
	httpServer *http.Server
}

// NewServer creates the API server.
func NewServer(listenAddr string, st store.Store, tracker *services.TrackerService, feed *services.FeedService,
	pairing *services.PairingService, logger zerolog.Logger) *Server {
	return &Server{
		listenAddr: listenAddr,
		store:      st,
		tracker:    tracker,
		feed:       feed,
		pairing:    pairing,
		logger:     logger,
		sessions:   cmap.New[models.Principal](),
	}
}

// Start begins serving in a separate goroutine.
func (s *Server) Start() error {
	if s.httpServer != nil {
		return errors.New("api server is already running")
	}

	s.httpServer = &http.Server{
		Addr:         s.listenAddr,
		Handler:      s.routes(),
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 0, // streaming responses stay open
	}

	go func() {
		if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error().Err(err).Msg("API server failed")
		}
	}()

	s.logger.Info().Str("address", s.listenAddr).Msg("API server started")
	return nil
}

// Stop shuts the server down gracefully.
func (s *Server) Stop() error {
	if s.httpServer == nil {
		return errors.New("api server is not running")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	err := s.httpServer.Shutdown(ctx)
	s.httpServer = nil

	s.logger.Info().Msg("API server stopped")
	return err
}

func (s *Server) routes() http.Handler {
	r := mux.NewRouter()

	api := r.PathPrefix("/api").Subrouter()
	api.HandleFunc("/auth/signup", s.handleSignup).Methods(http.MethodPost)
	api.HandleFunc("/auth/login", s.handleLogin).Methods(http.MethodPost)

	protected := api.NewRoute().Subrouter()
	protected.Use(s.authMiddleware)
	protected.HandleFunc("/tracking/start", s.handleTrackingStart).Methods(http.MethodPost)
	protected.HandleFunc("/tracking/stop", s.handleTrackingStop).Methods(http.MethodPost)
	protected.HandleFunc("/tracking/status", s.handleTrackingStatus).Methods(http.MethodGet)
	protected.HandleFunc("/locations", s.handleLocations).Methods(http.MethodGet)
	protected.HandleFunc("/locations/stream", s.handleLocationStream).Methods(http.MethodGet)
	protected.HandleFunc("/devices", s.handlePairDevice).Methods(http.MethodPost)
	protected.HandleFunc("/devices", s.handleListDevices).Methods(http.MethodGet)

	return r
}

// authMiddleware resolves the principal from the bearer token. Requests
// without one never reach the tracker or the feed.
func (s *Server) authMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		token := extractBearerToken(r)
		if token == "" {
			writeError(w, http.StatusUnauthorized, models.ErrUnauthenticated)
			return
		}

		principal, ok := s.sessions.Get(token)
		if !ok {
			writeError(w, http.StatusUnauthorized, models.ErrUnauthenticated)
			return
		}

		ctx := context.WithValue(r.Context(), principalKey, principal)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func extractBearerToken(r *http.Request) string {
	authHeader := r.Header.Get("Authorization")
	if !strings.HasPrefix(authHeader, "Bearer ") {
		return ""
	}
	return strings.TrimPrefix(authHeader, "Bearer ")
}

func principalFromContext(ctx context.Context) models.Principal {
	principal, _ := ctx.Value(principalKey).(models.Principal)
	return principal
}
