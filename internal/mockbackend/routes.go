package mockbackend

// Route path constants
const (
	RouteAuthLogin   = "/auth/login"
	RouteAuthLogout  = "/auth/logout"
	RouteAuthMe      = "/auth/me"
	RouteAuthRefresh = "/auth/refresh"
	RouteOAuth2Token = "/oauth2/token"
	RouteTenants     = "/tenants"
	RouteOrgResource = "/orgs/{id}/{resource}"

	RouteWellKnownOpenIDConfig = "/.well-known/openid-configuration"
)

func (s *Server) initRoutes() {
	s.RegisterRouteFunc("POST "+RouteAuthLogin, ChainMiddleware(s.LoginHandler(), s.APIMiddleware()...))
	s.RegisterRouteFunc("POST "+RouteAuthLogout, ChainMiddleware(s.LogoutHandler(), s.APIMiddleware()...))
	s.RegisterRouteFunc("POST "+RouteAuthRefresh, ChainMiddleware(s.RefreshHandler(), s.APIMiddleware()...))
	s.RegisterRouteFunc("POST "+RouteOAuth2Token, ChainMiddleware(s.TokenHandler(), s.APIMiddleware()...))
	s.RegisterRouteFunc("GET "+RouteWellKnownOpenIDConfig, ChainMiddleware(s.WellKnownOpenIDConfig(), s.APIMiddleware()...))

	// Protected routes (require a valid bearer access token)
	s.RegisterRouteFunc("GET "+RouteAuthMe, ChainMiddleware(s.MeHandler(), s.APIMiddleware(s.RequireAuth())...))
	s.RegisterRouteFunc("GET "+RouteTenants, ChainMiddleware(s.TenantsHandler(), s.APIMiddleware(s.RequireAuth())...))
	s.RegisterRouteFunc("GET "+RouteOrgResource, ChainMiddleware(s.OrgResourceHandler(), s.APIMiddleware(s.RequireAuth())...))
}
