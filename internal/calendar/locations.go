package calendar

import (
	"errors"
	"fmt"
	"strings"
	"time"

	gocache "github.com/patrickmn/go-cache"
)

// ErrUnknownTimezone indicates an IANA name that cannot be loaded.
var ErrUnknownTimezone = errors.New("calendar: unknown timezone")

// Locations resolves IANA timezone names, caching loaded locations.
type Locations struct {
	fallback string
	cache    *gocache.Cache
}

// NewLocations builds a resolver that uses fallback when a name is empty.
func NewLocations(fallback string) (*Locations, error) {
	l := &Locations{fallback: strings.TrimSpace(fallback), cache: gocache.New(gocache.NoExpiration, 0)}
	if l.fallback == "" {
		l.fallback = "UTC"
	}
	if _, err := l.load(l.fallback); err != nil {
		return nil, err
	}
	return l, nil
}

// Default returns the fallback timezone name.
func (l *Locations) Default() string {
	return l.fallback
}

// Resolve returns the location for name, or the fallback when name is blank.
// The returned string is the name that was actually used.
func (l *Locations) Resolve(name string) (*time.Location, string, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		name = l.fallback
	}
	loc, err := l.load(name)
	if err != nil {
		return nil, "", err
	}
	return loc, name, nil
}

func (l *Locations) load(name string) (*time.Location, error) {
	if cached, ok := l.cache.Get(name); ok {
		return cached.(*time.Location), nil
	}
	loc, err := time.LoadLocation(name)
	if err != nil {
		return nil, fmt.Errorf("%w: %s", ErrUnknownTimezone, name)
	}
	l.cache.Set(name, loc, gocache.NoExpiration)
	return loc, nil
}
