// Package cache implements TTL cache buckets over a size-limited host store.
//
// A Registry owns one default bucket and any number of named buckets. Every
// logical entry is stored as a value record and, when it has a TTL, an
// expiration record holding its expiry in time units. When the host store runs
// out of space, a write evicts the soonest-expiring entries of its bucket and
// is retried once.
package cache

import (
	"sync"
	"time"

	"github.com/jmgilman/go/errors"

	"github.com/leonardcser/kvcache/internal/keys"
	"github.com/leonardcser/kvcache/internal/store"
	"github.com/leonardcser/kvcache/internal/ttl"
)

const supportTestKey = "__kvcachetest__"

// Options configures a Registry. Zero values select the defaults.
type Options struct {
	// TimeUnitMillis is the length of one TTL unit. Defaults to one minute.
	TimeUnitMillis int64
	// Warnings enables Diagnostics output.
	Warnings bool
	// Diagnostics receives warnings. Defaults to a no-op zap logger.
	Diagnostics Diagnostics
	// Now overrides the wall clock.
	Now func() time.Time
	// Keys overrides the physical key layout.
	Keys *keys.Codec
}

type support int

const (
	supportUnknown support = iota
	supportYes
	supportNo
)

// environment is the part of the registry a bucket reads.
type environment interface {
	supported() bool
	clock() ttl.Clock
	maxExpiration() int64
	warn(message string, err error)
}

// Registry routes calls to buckets and holds process-wide cache settings.
// Its methods are safe for concurrent use; the buckets it returns are not.
type Registry struct {
	store store.HostStore
	keys  keys.Codec
	now   func() time.Time
	diag  Diagnostics

	mu         sync.Mutex
	unitMillis int64
	maxDate    int64
	warnings   bool
	support    support
	global     *Bucket
	buckets    map[string]*Bucket
}

// New creates a registry over hs.
func New(hs store.HostStore, opts Options) *Registry {
	if opts.TimeUnitMillis <= 0 {
		opts.TimeUnitMillis = ttl.DefaultUnitMillis
	}
	if opts.Diagnostics == nil {
		opts.Diagnostics = NewZapDiagnostics(nil)
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	codec := keys.Default()
	if opts.Keys != nil {
		codec = *opts.Keys
	}
	r := &Registry{
		store:      hs,
		keys:       codec,
		now:        opts.Now,
		diag:       opts.Diagnostics,
		unitMillis: opts.TimeUnitMillis,
		maxDate:    ttl.MaxRepresentable(opts.TimeUnitMillis),
		warnings:   opts.Warnings,
		buckets:    make(map[string]*Bucket),
	}
	r.global = newBucket(r, hs, codec, "")
	return r
}

// Bucket returns the bucket for name, creating it on first use. The empty name
// is the default bucket.
func (r *Registry) Bucket(name string) (*Bucket, error) {
	if name == "" {
		return r.global, nil
	}
	if err := keys.ValidNamespace(name); err != nil {
		return nil, err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if b, ok := r.buckets[name]; ok {
		return b, nil
	}
	b := newBucket(r, r.store, r.keys, name)
	r.buckets[name] = b
	return b, nil
}

// Get reads key from the default bucket.
func (r *Registry) Get(key string) (any, bool) { return r.global.Get(key) }

// GetInto decodes key from the default bucket into dst.
func (r *Registry) GetInto(key string, dst any) bool { return r.global.GetInto(key, dst) }

// Set writes key to the default bucket.
func (r *Registry) Set(key string, value any, ttlUnits int64) bool {
	return r.global.Set(key, value, ttlUnits)
}

// Remove deletes key from the default bucket.
func (r *Registry) Remove(key string) { r.global.Remove(key) }

// Flush empties the default bucket.
func (r *Registry) Flush() { r.global.Flush() }

// FlushExpired drops expired items from the default bucket.
func (r *Registry) FlushExpired() { r.global.FlushExpired() }

// TimeUnitMillis returns how many milliseconds one TTL unit lasts.
func (r *Registry) TimeUnitMillis() int64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.unitMillis
}

// SetTimeUnitMillis changes the TTL unit for subsequent reads and writes.
// Expiration records already stored keep their integer value and are read
// under the new unit, which shifts their expiry.
func (r *Registry) SetTimeUnitMillis(ms int64) error {
	if ms <= 0 {
		return errors.Newf(errors.CodeInvalidConfig, "time unit must be positive, got %d", ms)
	}
	r.mu.Lock()
	changed := ms != r.unitMillis
	r.unitMillis = ms
	r.maxDate = ttl.MaxRepresentable(ms)
	buckets := make([]*Bucket, 0, len(r.buckets)+1)
	buckets = append(buckets, r.global)
	for _, b := range r.buckets {
		buckets = append(buckets, b)
	}
	r.mu.Unlock()

	if !changed || !r.WarningsEnabled() {
		return nil
	}
	for _, b := range buckets {
		if b.hasExpiring() {
			r.warn("time unit changed while bucket '"+b.name+"' holds expiring items; their expiry shifts", nil)
		}
	}
	return nil
}

// MaxExpiration is the synthetic expiry of items stored without a TTL.
func (r *Registry) MaxExpiration() int64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.maxDate
}

// EnableWarnings toggles Diagnostics output.
func (r *Registry) EnableWarnings(enabled bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.warnings = enabled
}

// WarningsEnabled reports whether Diagnostics receives warnings.
func (r *Registry) WarningsEnabled() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.warnings
}

// Supported reports whether the host store accepts writes. The first call
// tests the store with one set and remove; the answer is kept for the
// registry's lifetime.
func (r *Registry) Supported() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.support == supportUnknown {
		r.support = r.testSupport()
	}
	return r.support == supportYes
}

func (r *Registry) testSupport() support {
	err := r.store.Set(supportTestKey, supportTestKey)
	if err == nil {
		if err := r.store.Remove(supportTestKey); err != nil {
			return supportNo
		}
		return supportYes
	}
	// A full store that already holds data is usable.
	if store.IsQuotaExceeded(err) {
		if n, lerr := r.store.Len(); lerr == nil && n > 0 {
			return supportYes
		}
	}
	return supportNo
}

func (r *Registry) supported() bool { return r.Supported() }

func (r *Registry) clock() ttl.Clock {
	return ttl.Clock{UnitMillis: r.TimeUnitMillis(), Now: r.now}
}

func (r *Registry) maxExpiration() int64 { return r.MaxExpiration() }

func (r *Registry) warn(message string, err error) {
	if !r.WarningsEnabled() {
		return
	}
	r.diag.Warn(message, err)
}
