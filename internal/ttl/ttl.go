// Package ttl converts wall-clock time into the cache's discrete time units.
package ttl

import (
	"strconv"
	"time"
)

const (
	// DefaultUnitMillis makes one time unit a minute.
	DefaultUnitMillis int64 = 60 * 1000

	// maxDateMillis is the largest ECMAScript date, epoch + 1e8 days. Kept so
	// stored timestamps stay comparable with data written by lscache.
	maxDateMillis int64 = 8.64e15
)

// Clock reads time in units of UnitMillis milliseconds.
type Clock struct {
	UnitMillis int64
	Now        func() time.Time
}

// Current returns the number of whole time units since the Unix epoch.
func (c Clock) Current() int64 {
	now := time.Now
	if c.Now != nil {
		now = c.Now
	}
	return floorDiv(now().UnixMilli(), c.UnitMillis)
}

// Expiry returns the expiration timestamp of an entry written at now with
// ttlUnits to live, capped at limit.
func Expiry(now, ttlUnits, limit int64) int64 {
	if ttlUnits > 0 && ttlUnits > limit-now {
		return limit
	}
	return now + ttlUnits
}

// MaxRepresentable returns the largest expiration expressible under unitMillis.
func MaxRepresentable(unitMillis int64) int64 {
	return maxDateMillis / unitMillis
}

// Format encodes an expiration timestamp for the expiration record.
func Format(exp int64) string {
	return strconv.FormatInt(exp, 10)
}

// Parse decodes an expiration record. ok is false for non-numeric content.
func Parse(raw string) (exp int64, ok bool) {
	exp, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return 0, false
	}
	return exp, true
}

func floorDiv(a, b int64) int64 {
	q := a / b
	if (a%b != 0) && ((a < 0) != (b < 0)) {
		q--
	}
	return q
}
