package server

import "github.com/jrsteele09/go-auth-gate/gate"

// Route path constants
const (
	// Auth Routes, served behind the gate's built-in public rules
	RouteSignIn   = gate.SignInPath
	RouteCallback = gate.CallbackPath
	RouteSignOut  = gate.SignOutPath
	RouteError    = gate.ErrorPath

	// Application Routes
	RouteIndex     = "/"
	RouteIndexHTML = "/index.html"
	RouteUsersID   = "/users/id"
	RouteProfile   = "/v2/profile"

	// Operational Routes, not gated
	RouteHealth  = "/healthz"
	RouteMetrics = "/metrics"
)
