package dms

import (
	"log/slog"
	"net/http"

	"github.com/gorilla/mux"

	"github.com/Vasu1712/scenyx-messaging/internal/middleware"
)

// RouterConfig configures NewRouter.
type RouterConfig struct {
	// Secret verifies session tokens.
	Secret []byte
	// AllowedOrigin is passed to the CORS middleware.
	AllowedOrigin string
	Logger        *slog.Logger
}

// NewRouter builds the full HTTP surface: CORS on everything, bearer auth
// on the API and the push channel, public media.
func NewRouter(handler *DMHandler, config RouterConfig) *mux.Router {
	logger := config.Logger
	if logger == nil {
		logger = slog.Default()
	}
	router := mux.NewRouter()
	router.Use(middleware.CORS(config.AllowedOrigin, logger))

	auth := middleware.Auth(config.Secret, func(w http.ResponseWriter, r *http.Request) {
		writeError(w, http.StatusUnauthorized, "Not authorized, token failed")
	})
	api := router.PathPrefix("/api/messages").Subrouter()
	api.Use(auth)
	RegisterDMRoutes(api, handler, logger)

	router.HandleFunc("/media/{id}", handler.ServeMedia).Methods(http.MethodGet)
	router.Handle("/ws", auth(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		logger.Info("[DM] WebSocket", "remote", r.RemoteAddr)
		handler.ServeWS(w, r)
	})))
	return router
}

// RegisterDMRoutes registers the DM REST routes on a router mounted at
// /api/messages.
func RegisterDMRoutes(router *mux.Router, handler *DMHandler, logger *slog.Logger) {
	logged := func(next http.HandlerFunc) http.HandlerFunc {
		return func(w http.ResponseWriter, r *http.Request) {
			logger.Info("[DM] "+r.Method+" "+r.URL.Path, "user_id", currentUser(r))
			next(w, r)
		}
	}

	router.HandleFunc("/conversations", logged(handler.ListConversations)).Methods(http.MethodGet, http.MethodOptions)
	router.HandleFunc("/conversations", logged(handler.StartOrGetConversation)).Methods(http.MethodPost, http.MethodOptions)
	router.HandleFunc("/conversations/{id}/messages", logged(handler.GetMessages)).Methods(http.MethodGet, http.MethodOptions)
	router.HandleFunc("/messages", logged(handler.SendMessage)).Methods(http.MethodPost, http.MethodOptions)
	router.HandleFunc("/messages/{id}/read", logged(handler.MarkRead)).Methods(http.MethodPut, http.MethodOptions)
	router.HandleFunc("/unread-count", logged(handler.UnreadCount)).Methods(http.MethodGet, http.MethodOptions)
}
