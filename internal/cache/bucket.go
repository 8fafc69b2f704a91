package cache

import (
	"strings"

	"github.com/leonardcser/kvcache/internal/codec"
	"github.com/leonardcser/kvcache/internal/eviction"
	"github.com/leonardcser/kvcache/internal/keys"
	"github.com/leonardcser/kvcache/internal/store"
	"github.com/leonardcser/kvcache/internal/ttl"
)

// Bucket is one namespace of the cache. Every operation is a single
// synchronous pass over the host store; failures surface as false or absent
// results and, when enabled, as diagnostics. A Bucket is not safe for
// concurrent use.
type Bucket struct {
	env     environment
	store   store.HostStore
	keys    keys.Codec
	matcher *keys.Matcher
	name    string
}

func newBucket(env environment, hs store.HostStore, kc keys.Codec, name string) *Bucket {
	return &Bucket{env: env, store: hs, keys: kc, matcher: kc.Matcher(name), name: name}
}

// Name returns the bucket's namespace; the default bucket's is empty.
func (b *Bucket) Name() string { return b.name }

// Get returns the value stored at key unless it is missing or expired.
// Reading an expired item removes it.
func (b *Bucket) Get(key string) (any, bool) {
	raw, ok := b.read(key)
	if !ok {
		return nil, false
	}
	return codec.Decode(raw), true
}

// GetInto decodes the value stored at key into dst.
func (b *Bucket) GetInto(key string, dst any) bool {
	raw, ok := b.read(key)
	if !ok {
		return false
	}
	if err := codec.DecodeInto(raw, dst); err != nil {
		b.env.warn("Could not decode item with key '"+key+"'", err)
		return false
	}
	return true
}

// addressable reports whether key maps to records this bucket owns. Keys of
// the default bucket with a separator alias a named bucket's records, and keys
// ending in the expiration suffix alias another key's expiration record.
func (b *Bucket) addressable(key string) bool {
	if key == "" || b.keys.IsExpirationKey(key) {
		return false
	}
	return b.name != "" || !strings.Contains(key, keys.Separator)
}

func (b *Bucket) read(key string) (string, bool) {
	if !b.env.supported() || !b.addressable(key) {
		return "", false
	}
	if b.flushExpiredItem(key) {
		return "", false
	}
	raw, ok, err := b.store.Get(b.keys.ValueKey(b.name, key))
	if err != nil {
		b.env.warn("Could not read item with key '"+key+"'", err)
		return "", false
	}
	return raw, ok
}

// Set stores value at key. A non-zero ttlUnits makes the item expire that many
// time units from now; zero clears any earlier expiration. Set reports whether
// the item was stored.
func (b *Bucket) Set(key string, value any, ttlUnits int64) bool {
	if !b.env.supported() {
		return false
	}
	if !b.addressable(key) {
		b.env.warn("Could not add item with key '"+key+"', the key is reserved", nil)
		return false
	}
	raw, err := codec.Encode(value)
	if err != nil {
		b.env.warn("Could not add item with key '"+key+"'", err)
		return false
	}

	valueKey := b.keys.ValueKey(b.name, key)
	if err := b.store.Set(valueKey, raw); err != nil {
		if !store.IsQuotaExceeded(err) {
			b.env.warn("Could not add item with key '"+key+"'", err)
			return false
		}
		b.evict(len(raw))
		if err := b.store.Set(valueKey, raw); err != nil {
			b.env.warn("Could not add item with key '"+key+"', perhaps it's too big?", err)
			return false
		}
	}

	expKey := b.keys.ExpirationKey(b.name, key)
	if ttlUnits != 0 {
		exp := ttl.Expiry(b.env.clock().Current(), ttlUnits, b.env.maxExpiration())
		if err := b.store.Set(expKey, ttl.Format(exp)); err != nil {
			b.env.warn("Could not store expiration of item with key '"+key+"'", err)
			b.flushItem(key)
			return false
		}
		return true
	}
	if err := b.store.Remove(expKey); err != nil {
		b.env.warn("Could not clear expiration of item with key '"+key+"'", err)
	}
	return true
}

// Remove deletes key and its expiration record. Missing keys are ignored.
func (b *Bucket) Remove(key string) {
	if !b.env.supported() || !b.addressable(key) {
		return
	}
	b.flushItem(key)
}

// Flush removes every item of the bucket and leaves other data untouched.
func (b *Bucket) Flush() {
	if !b.env.supported() {
		return
	}
	b.eachKey(func(key string) { b.flushItem(key) })
}

// FlushExpired removes the bucket's items whose expiration has passed.
func (b *Bucket) FlushExpired() {
	if !b.env.supported() {
		return
	}
	b.eachKey(func(key string) { b.flushExpiredItem(key) })
}

// Keys lists the logical keys currently stored in the bucket, expired or not.
func (b *Bucket) Keys() []string {
	if !b.env.supported() {
		return nil
	}
	var out []string
	b.eachKey(func(key string) { out = append(out, key) })
	return out
}

// evict frees at least need bytes, when possible, by removing the bucket's
// soonest-expiring items.
func (b *Bucket) evict(need int) {
	maxExp := b.env.maxExpiration()
	var candidates []eviction.Candidate
	b.eachKey(func(key string) {
		c := eviction.Candidate{Key: key, Expiration: maxExp}
		if raw, ok, err := b.store.Get(b.keys.ExpirationKey(b.name, key)); err == nil && ok {
			if exp, ok := ttl.Parse(raw); ok {
				c.Expiration = exp
			}
		}
		raw, _, err := b.store.Get(b.keys.ValueKey(b.name, key))
		if err != nil {
			b.env.warn("Could not size item with key '"+key+"'", err)
		}
		c.Size = len(raw)
		candidates = append(candidates, c)
	})

	for _, c := range eviction.Plan(candidates, need) {
		b.env.warn("Cache is full, removing item with key '"+c.Key+"'", nil)
		b.flushItem(c.Key)
	}
}

// eachKey calls fn for every logical key of the bucket, walking the host
// store's keys from last to first.
func (b *Bucket) eachKey(fn func(key string)) {
	physical, err := b.store.Keys()
	if err != nil {
		b.env.warn("Could not list keys", err)
		return
	}
	for i := len(physical) - 1; i >= 0; i-- {
		if key, ok := b.matcher.Match(physical[i]); ok {
			fn(key)
		}
	}
}

// hasExpiring reports whether any item of the bucket carries an expiration record.
func (b *Bucket) hasExpiring() bool {
	if !b.env.supported() {
		return false
	}
	found := false
	b.eachKey(func(key string) {
		if found {
			return
		}
		if _, ok, err := b.store.Get(b.keys.ExpirationKey(b.name, key)); err == nil && ok {
			found = true
		}
	})
	return found
}

func (b *Bucket) flushItem(key string) {
	if err := b.store.Remove(b.keys.ValueKey(b.name, key)); err != nil {
		b.env.warn("Could not remove item with key '"+key+"'", err)
	}
	if err := b.store.Remove(b.keys.ExpirationKey(b.name, key)); err != nil {
		b.env.warn("Could not remove expiration of item with key '"+key+"'", err)
	}
}

// flushExpiredItem removes key when its expiration has passed and reports
// whether it did. A non-numeric expiration record never expires.
func (b *Bucket) flushExpiredItem(key string) bool {
	raw, ok, err := b.store.Get(b.keys.ExpirationKey(b.name, key))
	if err != nil || !ok {
		return false
	}
	exp, ok := ttl.Parse(raw)
	if !ok {
		return false
	}
	if b.env.clock().Current() >= exp {
		b.flushItem(key)
		return true
	}
	return false
}
