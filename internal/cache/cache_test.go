package cache

import (
	"math"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/jmgilman/go/errors"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"

	"github.com/leonardcser/kvcache/internal/store"
)

type fakeClock struct {
	at time.Time
}

func (c *fakeClock) Now() time.Time          { return c.at }
func (c *fakeClock) Advance(d time.Duration) { c.at = c.at.Add(d) }

type harness struct {
	reg   *Registry
	store *store.MemoryStore
	clock *fakeClock
	logs  *observer.ObservedLogs
}

func newHarness(t *testing.T, maxBytes int64) *harness {
	t.Helper()
	core, logs := observer.New(zap.WarnLevel)
	clock := &fakeClock{at: time.UnixMilli(0)}
	hs := store.NewMemoryStore(maxBytes)
	reg := New(hs, Options{
		Warnings:    true,
		Diagnostics: NewZapDiagnostics(zap.New(core)),
		Now:         clock.Now,
	})
	return &harness{reg: reg, store: hs, clock: clock, logs: logs}
}

func (h *harness) bucket(t *testing.T, name string) *Bucket {
	t.Helper()
	b, err := h.reg.Bucket(name)
	require.NoError(t, err)
	return b
}

func TestBucket_RoundTrip(t *testing.T) {
	h := newHarness(t, 0)
	b := h.bucket(t, "data")

	values := map[string]any{
		"string": "my-value",
		"number": float64(2),
		"digits": "2",
		"bool":   true,
		"array":  []any{"a", "b", "c"},
		"object": map[string]any{"name": "Pamela", "age": float64(26), "tags": []any{"x"}},
	}
	for k, v := range values {
		require.True(t, b.Set(k, v, 0), k)
	}
	for k, v := range values {
		got, ok := b.Get(k)
		require.True(t, ok, k)
		require.Equal(t, v, got, k)
	}
}

func TestBucket_GetInto(t *testing.T) {
	h := newHarness(t, 0)
	type page struct {
		Title string   `json:"title"`
		Links []string `json:"links"`
	}
	require.True(t, h.reg.Set("page", page{Title: "t", Links: []string{"l"}}, 0))

	var got page
	require.True(t, h.reg.GetInto("page", &got))
	require.Equal(t, page{Title: "t", Links: []string{"l"}}, got)

	var missing page
	require.False(t, h.reg.GetInto("missing", &missing))
}

func TestBucket_PhysicalLayout(t *testing.T) {
	h := newHarness(t, 0)
	require.True(t, h.reg.Set("k", "v", 5))

	b := h.bucket(t, "ns")
	require.True(t, b.Set("k", 1, 3))

	keys, err := h.store.Keys()
	require.NoError(t, err)
	require.Equal(t, []string{
		"lscache-k", "lscache-k-expires_at",
		"lscache-ns/k", "lscache-ns/k-expires_at",
	}, keys)

	v, _, _ := h.store.Get("lscache-k-expires_at")
	require.Equal(t, "5", v)
	v, _, _ = h.store.Get("lscache-ns/k")
	require.Equal(t, "1", v)
}

func TestBucket_Expiry(t *testing.T) {
	h := newHarness(t, 0)
	require.NoError(t, h.reg.SetTimeUnitMillis(1000))

	require.True(t, h.reg.Set("thekey", "thevalue", 1))
	got, ok := h.reg.Get("thekey")
	require.True(t, ok)
	require.Equal(t, "thevalue", got)

	h.clock.Advance(999 * time.Millisecond)
	_, ok = h.reg.Get("thekey")
	require.True(t, ok)

	h.clock.Advance(time.Millisecond)
	_, ok = h.reg.Get("thekey")
	require.False(t, ok)

	// Reading an expired item removes both records.
	n, err := h.store.Len()
	require.NoError(t, err)
	require.Equal(t, 0, n)
}

func TestBucket_OverwriteClearsTTL(t *testing.T) {
	h := newHarness(t, 0)
	require.True(t, h.reg.Set("k", "v", 5))
	require.True(t, h.reg.Set("k", "v2", 0))

	h.clock.Advance(24 * time.Hour)
	got, ok := h.reg.Get("k")
	require.True(t, ok)
	require.Equal(t, "v2", got)
}

func TestBucket_CorruptExpirationNeverExpires(t *testing.T) {
	h := newHarness(t, 0)
	require.True(t, h.reg.Set("k", "v", 1))
	require.NoError(t, h.store.Set("lscache-k-expires_at", "soon"))

	h.clock.Advance(time.Hour)
	h.reg.FlushExpired()
	got, ok := h.reg.Get("k")
	require.True(t, ok)
	require.Equal(t, "v", got)
}

func TestBucket_HalfMissingRecords(t *testing.T) {
	h := newHarness(t, 0)
	require.NoError(t, h.store.Set("lscache-orphan-expires_at", "100"))
	_, ok := h.reg.Get("orphan")
	require.False(t, ok)

	require.NoError(t, h.store.Set("lscache-bare", `"v"`))
	got, ok := h.reg.Get("bare")
	require.True(t, ok)
	require.Equal(t, "v", got)
}

func TestBucket_Remove(t *testing.T) {
	h := newHarness(t, 0)
	require.True(t, h.reg.Set("my-key", "my-value", 1))
	h.reg.Remove("my-key")
	h.reg.Remove("my-key")

	_, ok := h.reg.Get("my-key")
	require.False(t, ok)
	n, _ := h.store.Len()
	require.Equal(t, 0, n)
}

func TestBucket_NamespaceIsolation(t *testing.T) {
	h := newHarness(t, 0)
	require.NoError(t, h.store.Set("outside-cache", "not part of the cache"))

	a := h.bucket(t, "a")
	bb := h.bucket(t, "b")
	require.True(t, a.Set("key", 1, 0))
	require.True(t, bb.Set("other", 2, 5))
	require.True(t, h.reg.Set("global", 3, 0))

	_, ok := bb.Get("key")
	require.False(t, ok)
	_, ok = h.reg.Get("key")
	require.False(t, ok)

	a.Flush()
	_, ok = a.Get("key")
	require.False(t, ok)

	got, ok := bb.Get("other")
	require.True(t, ok)
	require.Equal(t, float64(2), got)
	got, ok = h.reg.Get("global")
	require.True(t, ok)
	require.Equal(t, float64(3), got)
	v, ok, _ := h.store.Get("outside-cache")
	require.True(t, ok)
	require.Equal(t, "not part of the cache", v)

	h.reg.Flush()
	_, ok = h.reg.Get("global")
	require.False(t, ok)
	_, ok = bb.Get("other")
	require.True(t, ok)
}

func TestBucket_FlushExpired(t *testing.T) {
	h := newHarness(t, 0)
	b := h.bucket(t, "f")
	require.True(t, b.Set("short", 1, 1))
	require.True(t, b.Set("long", 2, 10))
	require.True(t, b.Set("forever", 3, 0))

	h.clock.Advance(2 * time.Minute)
	b.FlushExpired()

	require.ElementsMatch(t, []string{"long", "forever"}, b.Keys())
	_, ok, _ := h.store.Get("lscache-f/short-expires_at")
	require.False(t, ok)
}

func TestBucket_Keys(t *testing.T) {
	h := newHarness(t, 0)
	b := h.bucket(t, "k")
	require.True(t, b.Set("one", 1, 3))
	require.True(t, b.Set("two", 2, 0))
	require.True(t, h.reg.Set("three", 3, 0))

	require.ElementsMatch(t, []string{"one", "two"}, b.Keys())
	require.Equal(t, "k", b.Name())
}

func TestBucket_EvictsSoonestExpiring(t *testing.T) {
	// Each item: "lscache-p/kN" + `"vvvvvvvvvv"` (24 bytes) and
	// "lscache-p/kN-expires_at" + "N" (24 bytes).
	h := newHarness(t, 4*48)
	b := h.bucket(t, "p")
	for i, k := range []string{"k1", "k2", "k3", "k4"} {
		require.True(t, b.Set(k, "vvvvvvvvvv", int64(i+1)))
	}
	require.Equal(t, int64(4*48), h.store.Used())

	require.True(t, b.Set("k5", "vvvvvvvvvv", 5))

	_, ok := b.Get("k1")
	require.False(t, ok)
	for _, k := range []string{"k2", "k3", "k4", "k5"} {
		_, ok := b.Get(k)
		require.True(t, ok, k)
	}
	require.Equal(t, 1, h.logs.FilterMessageSnippet("Cache is full").Len())
	require.Equal(t, 1, h.logs.FilterMessageSnippet("'k1'").Len())
}

func TestBucket_EvictsNonExpiringLast(t *testing.T) {
	h := newHarness(t, 48+24)
	b := h.bucket(t, "p")
	require.True(t, b.Set("k1", "vvvvvvvvvv", 0))
	require.True(t, b.Set("k2", "vvvvvvvvvv", 9))

	require.True(t, b.Set("k3", "vvvvvvvvvv", 0))

	_, ok := b.Get("k2")
	require.False(t, ok)
	_, ok = b.Get("k1")
	require.True(t, ok)
	_, ok = b.Get("k3")
	require.True(t, ok)
}

func TestBucket_EvictionStaysInNamespace(t *testing.T) {
	h := newHarness(t, 48+24)
	other := h.bucket(t, "o")
	p := h.bucket(t, "p")
	require.True(t, other.Set("k1", "vvvvvvvvvv", 1))
	require.True(t, p.Set("k2", "vvvvvvvvvv", 0))

	require.False(t, p.Set("k3", "vvvvvvvvvvvvvvvvvvvvvvvvvvvvvvvvvvvvvv", 0))

	_, ok := other.Get("k1")
	require.True(t, ok)
	_, ok = p.Get("k3")
	require.False(t, ok)
}

func TestBucket_OversizedValue(t *testing.T) {
	h := newHarness(t, 64)
	require.False(t, h.reg.Set("big", strings.Repeat("x", 100), 0))

	_, ok := h.reg.Get("big")
	require.False(t, ok)
	require.Equal(t, 1, h.logs.FilterMessageSnippet("perhaps it's too big").Len())
}

func TestBucket_ExpirationWriteFailureDropsValue(t *testing.T) {
	// Room for the value record but not for its expiration record.
	value := strings.Repeat("v", 30)
	h := newHarness(t, int64(len("lscache-k")+len(value)+2))

	require.False(t, h.reg.Set("k", value, 1))
	_, ok := h.reg.Get("k")
	require.False(t, ok)
	n, _ := h.store.Len()
	require.Equal(t, 0, n)
}

func TestBucket_CyclicValue(t *testing.T) {
	h := newHarness(t, 0)
	v := map[string]any{"name": "Circular", "type": "reference"}
	v["itself"] = v

	require.False(t, h.reg.Set("objectkey", v, 0))
	_, ok := h.reg.Get("objectkey")
	require.False(t, ok)
	n, _ := h.store.Len()
	require.Equal(t, 0, n)
}

func TestBucket_DefaultRejectsSeparator(t *testing.T) {
	h := newHarness(t, 0)
	require.False(t, h.reg.Set("a/b", 1, 0))

	b := h.bucket(t, "a")
	require.True(t, b.Set("x/y", 1, 0))
	require.Equal(t, []string{"x/y"}, b.Keys())
}

func TestBucket_WarningsDisabled(t *testing.T) {
	h := newHarness(t, 64)
	h.reg.EnableWarnings(false)
	require.False(t, h.reg.WarningsEnabled())

	require.False(t, h.reg.Set("big", strings.Repeat("x", 100), 0))
	require.Equal(t, 0, h.logs.Len())
}

func TestRegistry_BucketMemoized(t *testing.T) {
	h := newHarness(t, 0)
	a1 := h.bucket(t, "a")
	a2 := h.bucket(t, "a")
	require.Same(t, a1, a2)

	g := h.bucket(t, "")
	require.Equal(t, "", g.Name())
	require.Same(t, g, h.bucket(t, ""))
}

func TestRegistry_MalformedNamespace(t *testing.T) {
	h := newHarness(t, 0)
	_, err := h.reg.Bucket("a/b")
	require.Error(t, err)
	require.Equal(t, errors.CodeInvalidInput, errors.GetCode(err))
}

func TestRegistry_TimeUnit(t *testing.T) {
	h := newHarness(t, 0)
	require.Equal(t, int64(60000), h.reg.TimeUnitMillis())
	require.Equal(t, int64(144_000_000_000), h.reg.MaxExpiration())

	require.NoError(t, h.reg.SetTimeUnitMillis(1000))
	require.Equal(t, int64(1000), h.reg.TimeUnitMillis())
	require.Equal(t, int64(8_640_000_000_000), h.reg.MaxExpiration())

	err := h.reg.SetTimeUnitMillis(0)
	require.Error(t, err)
	require.Equal(t, errors.CodeInvalidConfig, errors.GetCode(err))
}

func TestRegistry_TimeUnitChangeShiftsExpiry(t *testing.T) {
	h := newHarness(t, 0)
	b := h.bucket(t, "t")
	// Expires at minute 2, i.e. stored as "2".
	require.True(t, b.Set("k", "v", 2))
	h.clock.Advance(3 * time.Second)

	require.NoError(t, h.reg.SetTimeUnitMillis(1000))
	require.Equal(t, 1, h.logs.FilterMessageSnippet("time unit changed").Len())

	// "2" now means second 2, which has passed.
	_, ok := b.Get("k")
	require.False(t, ok)
}

// flakyStore fails writes with err and counts calls.
type flakyStore struct {
	*store.MemoryStore
	err  error
	sets int
}

func (s *flakyStore) Set(key, value string) error {
	s.sets++
	if s.err != nil {
		return s.err
	}
	return s.MemoryStore.Set(key, value)
}

func TestRegistry_Unsupported(t *testing.T) {
	fs := &flakyStore{MemoryStore: store.NewMemoryStore(0), err: errors.New(errors.CodeUnavailable, "storage disabled")}
	reg := New(fs, Options{})

	require.False(t, reg.Supported())
	require.False(t, reg.Set("k", "v", 0))
	_, ok := reg.Get("k")
	require.False(t, ok)
	reg.Remove("k")
	reg.Flush()
	reg.FlushExpired()

	// The support check runs once.
	require.Equal(t, 1, fs.sets)
	fs.err = nil
	require.False(t, reg.Supported())
	require.Equal(t, 1, fs.sets)
}

func TestRegistry_SupportedWhenFull(t *testing.T) {
	hs := store.NewMemoryStore(10)
	require.NoError(t, hs.Set("k", "123456789"))

	reg := New(hs, Options{})
	require.True(t, reg.Supported())
}

func TestRegistry_UnsupportedWhenFullAndEmpty(t *testing.T) {
	reg := New(store.NewMemoryStore(10), Options{})
	require.False(t, reg.Supported())
}

func TestBucket_StoreFailureNoRetry(t *testing.T) {
	fs := &flakyStore{MemoryStore: store.NewMemoryStore(0)}
	reg := New(fs, Options{})
	require.True(t, reg.Supported())

	fs.err = errors.New(errors.CodeDatabase, "disk error")
	before := fs.sets
	require.False(t, reg.Set("k", "v", 0))
	require.Equal(t, before+1, fs.sets)
}

func TestBucket_DefaultCannotReachNamedRecords(t *testing.T) {
	h := newHarness(t, 0)
	a := h.bucket(t, "a")
	require.True(t, a.Set("secret", "named-only", 0))

	_, ok := h.reg.Get("a/secret")
	require.False(t, ok)
	var s string
	require.False(t, h.reg.GetInto("a/secret", &s))

	h.reg.Remove("a/secret")
	got, ok := a.Get("secret")
	require.True(t, ok)
	require.Equal(t, "named-only", got)
}

func TestBucket_RejectsExpirationSuffixKeys(t *testing.T) {
	h := newHarness(t, 0)
	b := h.bucket(t, "s")
	require.True(t, b.Set("x", "keep", 0))

	require.False(t, b.Set("x-expires_at", 0, 0))
	_, ok := b.Get("x-expires_at")
	require.False(t, ok)
	b.Remove("x-expires_at")

	got, ok := b.Get("x")
	require.True(t, ok)
	require.Equal(t, "keep", got)
	require.Equal(t, []string{"x"}, b.Keys())
	_, ok, _ = h.store.Get("lscache-s/x-expires_at")
	require.False(t, ok)
}

func TestBucket_HugeTTLNeverWraps(t *testing.T) {
	h := newHarness(t, 0)
	h.clock.Advance(29_000_000 * time.Minute)
	require.True(t, h.reg.Set("k", "v", math.MaxInt64))

	raw, ok, err := h.store.Get("lscache-k-expires_at")
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, strconv.FormatInt(h.reg.MaxExpiration(), 10), raw)

	got, ok := h.reg.Get("k")
	require.True(t, ok)
	require.Equal(t, "v", got)
}

// sizeFailStore fails reads of one key.
type sizeFailStore struct {
	*store.MemoryStore
	failKey string
}

func (s *sizeFailStore) Get(key string) (string, bool, error) {
	if key == s.failKey {
		return "", false, errors.New(errors.CodeDatabase, "read error")
	}
	return s.MemoryStore.Get(key)
}

func TestBucket_EvictionCountsUnreadableAsZero(t *testing.T) {
	core, logs := observer.New(zap.WarnLevel)
	mem := store.NewMemoryStore(48 + 24)
	hs := &sizeFailStore{MemoryStore: mem}
	reg := New(hs, Options{
		Warnings:    true,
		Diagnostics: NewZapDiagnostics(zap.New(core)),
		Now:         (&fakeClock{at: time.UnixMilli(0)}).Now,
	})
	b, err := reg.Bucket("p")
	require.NoError(t, err)
	require.True(t, b.Set("k1", "vvvvvvvvvv", 1))
	require.True(t, b.Set("k2", "vvvvvvvvvv", 0))

	hs.failKey = "lscache-p/k1"
	require.True(t, b.Set("k3", "vvvvvvvvvv", 0))

	// k1 counts as 0 bytes, so the non-expiring k2 goes too.
	require.Equal(t, 1, logs.FilterMessageSnippet("Could not size item with key 'k1'").Len())
	require.Equal(t, 2, logs.FilterMessageSnippet("Cache is full").Len())
	keys, err := mem.Keys()
	require.NoError(t, err)
	require.Equal(t, []string{"lscache-p/k3"}, keys)
}
