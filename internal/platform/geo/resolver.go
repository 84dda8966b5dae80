package geo

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/rs/zerolog"
	"golang.org/x/sync/singleflight"
	"golang.org/x/time/rate"
)

// ErrUnresolved is returned when no coordinate can be produced for a location.
var ErrUnresolved = errors.New("location unresolved")

// Geocoder turns a postal address into a coordinate.
type Geocoder interface {
	Geocode(ctx context.Context, address string) (Coord, error)
}

// Location is something that may be placed on the map: a patient or the home
// base. Key is the cache key (patient id, or "home").
type Location struct {
	Key     string
	Address string
	Stored  *Coord
}

// Resolver resolves locations through stored coordinates, the session cache,
// and finally the geocoder. Concurrent lookups for the same key share one
// geocoder call.
type Resolver struct {
	cache    CoordCache
	geocoder Geocoder
	limiter  *rate.Limiter
	group    singleflight.Group
	logger   zerolog.Logger
}

// ResolverOption configures a Resolver.
type ResolverOption func(*Resolver)

// WithGeocoder sets the geocoder used on cache misses.
func WithGeocoder(g Geocoder) ResolverOption {
	return func(r *Resolver) { r.geocoder = g }
}

// WithRateLimit caps outbound geocoder requests per second.
func WithRateLimit(rps float64, burst int) ResolverOption {
	return func(r *Resolver) {
		if rps > 0 {
			r.limiter = rate.NewLimiter(rate.Limit(rps), max(burst, 1))
		}
	}
}

// WithLogger sets the resolver logger.
func WithLogger(l zerolog.Logger) ResolverOption {
	return func(r *Resolver) { r.logger = l }
}

// NewResolver creates a Resolver. A nil cache gets a MemoryCache.
func NewResolver(cache CoordCache, opts ...ResolverOption) *Resolver {
	if cache == nil {
		cache = NewMemoryCache()
	}
	r := &Resolver{cache: cache, logger: zerolog.Nop()}
	for _, o := range opts {
		o(r)
	}
	return r
}

// Cached returns a coordinate without contacting the geocoder.
func (r *Resolver) Cached(ctx context.Context, loc Location) (Coord, bool) {
	if loc.Stored != nil && loc.Stored.Valid() {
		return *loc.Stored, true
	}
	if loc.Key == "" {
		return Coord{}, false
	}
	return r.cache.Get(ctx, loc.Key)
}

// Resolve returns the coordinate for loc. Geocoding failures are not errors
// for callers; the location is simply unresolved.
func (r *Resolver) Resolve(ctx context.Context, loc Location) (Coord, bool) {
	c, err := r.resolve(ctx, loc)
	if err != nil {
		r.logger.Debug().Err(err).Str("key", loc.Key).Msg("coordinate unresolved")
		return Coord{}, false
	}
	return c, true
}

// Forget drops a cached coordinate, e.g. after an address edit.
func (r *Resolver) Forget(ctx context.Context, key string) error {
	return r.cache.Delete(ctx, key)
}

func (r *Resolver) resolve(ctx context.Context, loc Location) (Coord, error) {
	if c, ok := r.Cached(ctx, loc); ok {
		return c, nil
	}
	address := strings.TrimSpace(loc.Address)
	if r.geocoder == nil || address == "" {
		return Coord{}, ErrUnresolved
	}

	key := loc.Key
	if key == "" {
		key = "addr:" + address
	}
	v, err, _ := r.group.Do(key, func() (interface{}, error) {
		if c, ok := r.cache.Get(ctx, key); ok {
			return c, nil
		}
		if r.limiter != nil {
			if err := r.limiter.Wait(ctx); err != nil {
				return nil, err
			}
		}
		c, err := r.geocoder.Geocode(ctx, address)
		if err != nil {
			return nil, fmt.Errorf("geocode %q: %w", address, err)
		}
		if !c.Valid() {
			return nil, fmt.Errorf("geocode %q: %w", address, ErrUnresolved)
		}
		if err := r.cache.Set(ctx, key, c); err != nil {
			r.logger.Warn().Err(err).Str("key", key).Msg("failed to cache coordinate")
		}
		return c, nil
	})
	if err != nil {
		return Coord{}, err
	}
	return v.(Coord), nil
}
