package config

import "time"

type SecurityConfig interface {
	GetRefreshCooldown() time.Duration
	GetPendingFlowTTL() time.Duration
}

type Security struct{}

var _ SecurityConfig = Security{}

// GetRefreshCooldown is the window after a refresh during which a cached
// access token is reused without contacting the identity provider.
func (Security) GetRefreshCooldown() time.Duration {
	return GetDuration("REFRESH_COOLDOWN", 30*time.Minute)
}

// GetPendingFlowTTL bounds how long a started sign-in may wait for its callback.
func (Security) GetPendingFlowTTL() time.Duration {
	return GetDuration("PENDING_FLOW_TTL", 10*time.Minute)
}
