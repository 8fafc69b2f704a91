package keys

import (
	"regexp"
	"strings"

	"github.com/jmgilman/go/errors"
)

const (
	// DefaultPrefix is prepended to every physical key the cache writes.
	DefaultPrefix = "lscache-"
	// DefaultExpirationSuffix marks the physical record holding an expiration timestamp.
	DefaultExpirationSuffix = "-expires_at"
	// Separator ends a namespace segment.
	Separator = "/"
)

// Codec builds physical host-store keys for logical (namespace, key) pairs.
type Codec struct {
	Prefix           string
	ExpirationSuffix string
}

// Default returns the codec matching the on-store layout of existing lscache data.
func Default() Codec {
	return Codec{Prefix: DefaultPrefix, ExpirationSuffix: DefaultExpirationSuffix}
}

// ValidNamespace rejects namespaces that would make key ownership ambiguous.
func ValidNamespace(ns string) error {
	if strings.Contains(ns, Separator) {
		return errors.Newf(errors.CodeInvalidInput, "namespace %q must not contain %q", ns, Separator)
	}
	return nil
}

func segment(ns string) string {
	if ns == "" {
		return ""
	}
	return ns + Separator
}

// ValueKey returns the physical key of the value record.
func (c Codec) ValueKey(ns, key string) string {
	return c.Prefix + segment(ns) + key
}

// ExpirationKey returns the physical key of the expiration record.
func (c Codec) ExpirationKey(ns, key string) string {
	return c.ValueKey(ns, key) + c.ExpirationSuffix
}

// IsExpirationKey reports whether a logical remainder names an expiration record.
func (c Codec) IsExpirationKey(key string) bool {
	return c.ExpirationSuffix != "" && strings.HasSuffix(key, c.ExpirationSuffix)
}

// Matcher extracts logical keys from physical keys of one namespace.
type Matcher struct {
	re    *regexp.Regexp
	codec Codec
}

// Matcher compiles the pattern for ns. Prefix and namespace are quoted so that
// regexp metacharacters in either are matched literally.
func (c Codec) Matcher(ns string) *Matcher {
	var expr string
	if ns == "" {
		// Remainders with a separator belong to a named bucket.
		expr = "^" + regexp.QuoteMeta(c.Prefix) + "([^" + regexp.QuoteMeta(Separator) + "]*)$"
	} else {
		expr = "^" + regexp.QuoteMeta(c.Prefix+ns+Separator) + "(.*)$"
	}
	return &Matcher{re: regexp.MustCompile("(?s)" + expr), codec: c}
}

// Match returns the logical key if physical is a value record of the matcher's namespace.
func (m *Matcher) Match(physical string) (string, bool) {
	sub := m.re.FindStringSubmatch(physical)
	if sub == nil || sub[1] == "" {
		return "", false
	}
	if m.codec.IsExpirationKey(sub[1]) {
		return "", false
	}
	return sub[1], true
}
