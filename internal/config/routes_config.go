package config

type RoutesConfig interface {
	GetPublicPaths() []string
	GetProtectedAPIPaths() []string
	GetProtectedBrowserPaths() []string
	GetRoutesFile() string
}

type Routes struct{}

var _ RoutesConfig = Routes{}

// GetPublicPaths lists static assets reachable without a session.
func (Routes) GetPublicPaths() []string {
	return GetList("PUBLIC_PATHS", []string{"/manifest.json", "/favicon.ico", "/*.png", "/*.css", "/*.js"})
}

// GetProtectedAPIPaths answer 401 to anonymous callers.
func (Routes) GetProtectedAPIPaths() []string {
	return GetList("PROTECTED_API_PREFIXES", []string{"/v2/*"})
}

// GetProtectedBrowserPaths redirect anonymous callers to sign-in.
func (Routes) GetProtectedBrowserPaths() []string {
	return GetList("PROTECTED_BROWSER_PATHS", []string{"/", "/index.html", "/users/*"})
}

// GetRoutesFile points at an optional YAML routing table that replaces the lists above.
func (Routes) GetRoutesFile() string {
	return GetEnv("ROUTES_FILE", "")
}
