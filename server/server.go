package server

import (
	"context"
	"log"
	"net/http"
	"net/url"
	"os"
	"strings"
	"time"

	"github.com/gorilla/handlers"
	"github.com/gorilla/mux"

	"github.com/openhabits/flexical/auth"
	"github.com/openhabits/flexical/breaks"
	"github.com/openhabits/flexical/cache"
	"github.com/openhabits/flexical/completion"
	"github.com/openhabits/flexical/entries"
	"github.com/openhabits/flexical/habits"
	"github.com/openhabits/flexical/queue"
	"github.com/openhabits/flexical/storage"
)

// contextKey is the private type for values this package stores on request
// contexts.
type contextKey string

// sessionKey carries the verified *auth.Session for authenticated requests.
const sessionKey contextKey = "session"

// Server wires the core services behind the HTTP boundary. Handlers stay
// thin: decode, gate, delegate, map errors to statuses.
type Server struct {
	store      storage.StorageInterface
	cache      cache.CacheInterface
	queue      *queue.Queue
	entries    *entries.Store
	breaks     *breaks.Registry
	habits     *habits.Service
	aggregator *completion.Aggregator
}

// NewServer builds a Server over the given backends. The queue may be nil;
// completion re-evaluation is then skipped rather than failing entry writes.
func NewServer(store storage.StorageInterface, c cache.CacheInterface, q *queue.Queue) *Server {
	return &Server{
		store:      store,
		cache:      c,
		queue:      q,
		entries:    entries.NewStore(store),
		breaks:     breaks.NewRegistry(store),
		habits:     habits.NewService(store),
		aggregator: completion.NewAggregator(store),
	}
}

// sessionMiddleware performs bearer-token validation.
//
// It reads the token from the Authorization header. A valid token's session
// is injected into the request context under sessionKey. The middleware never
// rejects the request itself; handlers that need a session check for its
// presence and answer 401, so unauthenticated reads can still be routed if a
// handler allows them.
func sessionMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		authHeader := r.Header.Get("Authorization")
		if authHeader != "" {
			splitToken := strings.Split(authHeader, "Bearer ")
			if len(splitToken) == 2 {
				session, err := auth.VerifyToken(splitToken[1])
				if err != nil {
					log.Println("session token rejected:", err)
				} else {
					ctx := context.WithValue(r.Context(), sessionKey, session)
					r = r.WithContext(ctx)
				}
			}
		}
		next.ServeHTTP(w, r)
	})
}

// recoveryMiddleware is a middleware function that recovers from panics and provides a generic error message to the client.
func recoveryMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			if err := recover(); err != nil {
				log.Printf("Panic recovered: %s\n", err)
				http.Error(w, "Internal server error", http.StatusInternalServerError)
			}
		}()
		next.ServeHTTP(w, r)
	})
}

// Router builds the route table with the middleware chain applied.
func (s *Server) Router() http.Handler {
	r := mux.NewRouter()

	r.HandleFunc("/entries", s.handleUpsertEntry).Methods(http.MethodPost)
	r.HandleFunc("/calendar", s.handleCalendar).Methods(http.MethodGet)
	r.HandleFunc("/completion", s.handleCompletion).Methods(http.MethodGet)

	r.HandleFunc("/breaks", s.handleListBreaks).Methods(http.MethodGet)
	r.HandleFunc("/breaks", s.handleAddBreak).Methods(http.MethodPost)
	r.HandleFunc("/breaks/skip", s.handleSkipPeriod).Methods(http.MethodPost)
	r.HandleFunc("/breaks/{id}", s.handleDeleteBreak).Methods(http.MethodDelete)

	r.HandleFunc("/habits", s.handleListHabits).Methods(http.MethodGet)
	r.HandleFunc("/habits", s.handleAddHabit).Methods(http.MethodPost)
	r.HandleFunc("/habits/{id}", s.handleUpdateHabit).Methods(http.MethodPut)
	r.HandleFunc("/habits/{id}/publish", s.handlePublishHabit).Methods(http.MethodPost)
	r.HandleFunc("/habits/{id}", s.handleDeleteHabit).Methods(http.MethodDelete)

	// Apply the CORS middleware to the router
	corsOrigins := handlers.AllowedOrigins([]string{"*"})
	corsMethods := handlers.AllowedMethods([]string{"GET", "HEAD", "POST", "PUT", "DELETE", "OPTIONS"})
	corsHeaders := handlers.AllowedHeaders([]string{"X-Requested-With", "Content-Type", "Authorization", "X-CSRF-Token"})

	corsRouter := handlers.CORS(corsOrigins, corsMethods, corsHeaders)(recoveryMiddleware(sessionMiddleware(r)))

	// Apply the logging middleware
	return handlers.LoggingHandler(os.Stdout, corsRouter)
}

// Start runs the HTTP server at the given URL until it fails.
func (s *Server) Start(serverURL string) {
	u, err := url.Parse(serverURL)
	if err != nil {
		panic(err)
	}

	server := &http.Server{
		Handler:      s.Router(),
		Addr:         u.Host,
		WriteTimeout: 15 * time.Second,
		ReadTimeout:  15 * time.Second,
	}

	log.Fatal(server.ListenAndServe())
}
