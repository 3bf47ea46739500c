package watch

import (
	"regexp"
	"strings"
	"time"

	lru "github.com/hashicorp/golang-lru/v2/expirable"
)

const (
	defaultPatternCacheSize = 4096
	defaultPatternCacheTTL  = 10 * time.Minute
)

// Wildcard matches strings against `*` / `?` globs, case-insensitively.
// Compiled patterns are kept in an expiring LRU. It is safe for concurrent use.
type Wildcard struct {
	cache *lru.LRU[string, *regexp.Regexp]
}

// NewWildcard returns a matcher with a compiled-pattern cache of the given
// size and TTL. Non-positive values select the defaults.
func NewWildcard(size int, ttl time.Duration) *Wildcard {
	if size <= 0 {
		size = defaultPatternCacheSize
	}
	if ttl <= 0 {
		ttl = defaultPatternCacheTTL
	}
	return &Wildcard{
		cache: lru.NewLRU[string, *regexp.Regexp](size, nil, ttl),
	}
}

// Match reports whether s matches pattern. `*` matches any run of characters
// (including none) and `?` exactly one character.
func (w *Wildcard) Match(s, pattern string) bool {
	return w.compile(pattern).MatchString(s)
}

func (w *Wildcard) compile(pattern string) *regexp.Regexp {
	if re, ok := w.cache.Get(pattern); ok {
		return re
	}

	var b strings.Builder
	b.Grow(len(pattern) + 12)
	b.WriteString(`(?is)\A`)
	for _, r := range pattern {
		switch r {
		case '*':
			b.WriteString(`.*`)
		case '?':
			b.WriteString(`.`)
		default:
			b.WriteString(regexp.QuoteMeta(string(r)))
		}
	}
	b.WriteString(`\z`)

	// Every literal is quoted, so compilation cannot fail.
	re := regexp.MustCompile(b.String())
	w.cache.Add(pattern, re)
	return re
}
