package server

import (
	"net/http"
	"strings"

	"github.com/grantforge/go-grant-server/auth"
	"github.com/grantforge/go-grant-server/ciba"
	"github.com/grantforge/go-grant-server/clients"
	"github.com/grantforge/go-grant-server/internal/config"
	"github.com/grantforge/go-grant-server/token"
	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
)

// Server is the HTTP surface of the grant engine: the token and authorize
// endpoints, the CIBA intake and callback, and the OIDC discovery documents.
type Server struct {
	env         string
	mux         *http.ServeMux
	routes      []string
	config      config.Config
	clientRepo  clients.Repo
	auth        *auth.AuthorizationService
	coordinator *ciba.Coordinator
	keySet      *token.KeySet // nil when signing with a shared secret
	algorithm   string
}

// ServerOption modifies the Server instance.
type ServerOption func(*Server)

// WithKeySet exposes the key set's public JWKS at the well-known endpoint.
func WithKeySet(keySet *token.KeySet) ServerOption {
	return func(s *Server) {
		s.keySet = keySet
	}
}

func New(
	cfg config.Config,
	clientRepo clients.Repo,
	authService *auth.AuthorizationService,
	coordinator *ciba.Coordinator,
	algorithm string,
	options ...ServerOption,
) (*Server, error) {
	if clientRepo == nil {
		return nil, errors.New("[server.New] client repo is required")
	}
	if authService == nil {
		return nil, errors.New("[server.New] authorization service is required")
	}
	if coordinator == nil {
		return nil, errors.New("[server.New] backchannel coordinator is required")
	}

	s := &Server{
		env:         cfg.GetEnv(),
		mux:         http.NewServeMux(),
		config:      cfg,
		clientRepo:  clientRepo,
		auth:        authService,
		coordinator: coordinator,
		algorithm:   algorithm,
	}
	for _, opt := range options {
		opt(s)
	}

	s.initRoutes()
	s.logRoutes()
	return s, nil
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.mux.ServeHTTP(w, r)
}

func (s *Server) RegisterRouteFunc(pattern string, handler func(http.ResponseWriter, *http.Request)) {
	s.routes = append(s.routes, pattern)
	s.mux.HandleFunc(pattern, handler)
}

func (s *Server) initRoutes() {
	s.RegisterRouteFunc("GET "+RouteWellKnownOpenIDConfig, s.WellKnownOpenIDConfig())
	s.RegisterRouteFunc("GET "+RouteWellKnownJWKS, s.JWKS())

	s.RegisterRouteFunc("POST "+RouteOAuth2Authorize, s.Authorize())
	s.RegisterRouteFunc("POST "+RouteOAuth2Token, s.Token())

	s.RegisterRouteFunc("POST "+RouteBackchannelAuthorize, s.BackchannelAuthorize())
	s.RegisterRouteFunc("POST "+RouteCIBACallback, s.CIBACallback())
}

func (s *Server) logRoutes() {
	if s.env != "DEV" {
		return
	}
	for _, route := range s.routes {
		parts := strings.SplitN(route, " ", 2)
		if len(parts) > 1 {
			log.Info().Str("method", parts[0]).Str("path", parts[1]).Msg("route registered")
		} else {
			log.Info().Str("path", parts[0]).Msg("route registered")
		}
	}
}
