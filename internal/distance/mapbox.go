package distance

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"time"

	"github.com/example/journey-matching/internal/models"
)

const DefaultMapboxEndpoint = "https://api.mapbox.com"

// MapboxRouter calls the Mapbox Directions API with an access token.
type MapboxRouter struct {
	Endpoint string
	Token    string
	Client   *http.Client
}

func NewMapboxRouter(endpoint, token string, timeout time.Duration) *MapboxRouter {
	if endpoint == "" {
		endpoint = DefaultMapboxEndpoint
	}
	return &MapboxRouter{Endpoint: endpoint, Token: token, Client: &http.Client{Timeout: timeout}}
}

func (m *MapboxRouter) DrivingMeters(ctx context.Context, from, to models.Coord) (float64, error) {
	if m.Token == "" {
		return 0, ErrNoCredential
	}
	q := url.Values{}
	q.Set("access_token", m.Token)
	q.Set("overview", "false")
	q.Set("steps", "false")
	// Directions API path coordinates are {lon},{lat}
	u := fmt.Sprintf("%s/directions/v5/mapbox/driving/%.6f,%.6f;%.6f,%.6f?%s", m.Endpoint, from.Lon, from.Lat, to.Lon, to.Lat, q.Encode())
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return 0, err
	}
	resp, err := m.Client.Do(req)
	if err != nil {
		return 0, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return 0, fmt.Errorf("mapbox http %d", resp.StatusCode)
	}
	var out struct {
		Routes []struct {
			Distance float64 `json:"distance"`
		} `json:"routes"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return 0, fmt.Errorf("mapbox decode: %w", err)
	}
	if len(out.Routes) == 0 {
		return 0, ErrNoRoute
	}
	return out.Routes[0].Distance, nil
}
