package distance

import (
	"strings"
	"time"
)

// RoutingConfig selects the routing backend used for the routed method.
type RoutingConfig struct {
	Backend  string // "mapbox" or "osrm"
	Endpoint string
	Timeout  time.Duration
}

// Router builds the router for one run. The token only matters for Mapbox;
// a Mapbox router without one reports ErrNoCredential on every lookup.
func (c RoutingConfig) Router(token string) Router {
	timeout := c.Timeout
	if timeout <= 0 {
		timeout = 2 * time.Second
	}
	switch strings.ToLower(c.Backend) {
	case "osrm":
		if c.Endpoint == "" {
			return nil
		}
		return NewOSRMRouter(c.Endpoint, timeout)
	default:
		return NewMapboxRouter(c.Endpoint, token, timeout)
	}
}
