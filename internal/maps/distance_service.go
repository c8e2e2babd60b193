// README: Distance collaborator backed by the Google Maps Distance Matrix API
// with a Redis read-through cache keyed by address pair.
package maps

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
	"googlemaps.github.io/maps"

	"routescc/internal/observability"
)

// Distances between the same two addresses do not change; the TTL only bounds
// cache growth.
const cacheTTL = 30 * 24 * time.Hour

// DistanceService resolves the driving distance in kilometres between two
// street addresses.
type DistanceService struct {
	client *maps.Client
	cache  *redis.Client
}

// NewDistanceService creates a DistanceService with the given API key. The
// cache client is optional; with a nil cache every call hits the API.
func NewDistanceService(apiKey string, cache *redis.Client) (*DistanceService, error) {
	client, err := maps.NewClient(maps.WithAPIKey(apiKey))
	if err != nil {
		return nil, fmt.Errorf("failed to create maps client: %w", err)
	}
	return &DistanceService{client: client, cache: cache}, nil
}

// DistanceKm returns the driving distance from origin to destination.
func (s *DistanceService) DistanceKm(ctx context.Context, origin, destination string) (float64, error) {
	if v, ok := s.cached(ctx, origin, destination); ok {
		observability.DistanceLookupsTotal.WithLabelValues("cache_hit").Inc()
		return v, nil
	}

	r := &maps.DistanceMatrixRequest{
		Origins:      []string{origin},
		Destinations: []string{destination},
		Mode:         maps.TravelModeDriving,
	}
	resp, err := s.client.DistanceMatrix(ctx, r)
	if err != nil {
		observability.DistanceLookupsTotal.WithLabelValues("error").Inc()
		return 0, fmt.Errorf("maps api error: %w", err)
	}
	if len(resp.Rows) == 0 || len(resp.Rows[0].Elements) == 0 {
		observability.DistanceLookupsTotal.WithLabelValues("error").Inc()
		return 0, fmt.Errorf("no route between %q and %q", origin, destination)
	}
	elem := resp.Rows[0].Elements[0]
	if elem.Status != "OK" {
		observability.DistanceLookupsTotal.WithLabelValues("error").Inc()
		return 0, fmt.Errorf("no route between %q and %q: %s", origin, destination, elem.Status)
	}

	km := float64(elem.Distance.Meters) / 1000.0
	observability.DistanceLookupsTotal.WithLabelValues("api").Inc()
	s.store(ctx, origin, destination, km)
	return km, nil
}

func (s *DistanceService) cached(ctx context.Context, origin, destination string) (float64, bool) {
	if s.cache == nil {
		return 0, false
	}
	val, err := s.cache.Get(ctx, cacheKey(origin, destination)).Result()
	if err != nil {
		return 0, false
	}
	km, err := strconv.ParseFloat(val, 64)
	if err != nil {
		return 0, false
	}
	return km, true
}

func (s *DistanceService) store(ctx context.Context, origin, destination string, km float64) {
	if s.cache == nil {
		return
	}
	// Cache failures are not the caller's problem.
	_ = s.cache.Set(ctx, cacheKey(origin, destination), strconv.FormatFloat(km, 'f', -1, 64), cacheTTL).Err()
}

func cacheKey(origin, destination string) string {
	return fmt.Sprintf("distance:%s|%s", origin, destination)
}
