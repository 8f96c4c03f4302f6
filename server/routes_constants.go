package server

// Route path constants
// All routes are defined here to ensure consistency and prevent typos
const (
	// OAuth2 / OIDC Routes
	RouteWellKnownOpenIDConfig = "/.well-known/openid-configuration"
	RouteWellKnownJWKS         = "/.well-known/jwks.json"
	RouteOAuth2Authorize       = "/oauth2/authorize"
	RouteOAuth2Token           = "/oauth2/token"

	// CIBA Routes
	RouteBackchannelAuthorize = "/oauth2/bc-authorize"
	RouteCIBACallback         = "/ciba/callback"
)
