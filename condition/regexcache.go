package condition

import (
	"fmt"
	"regexp"
	"strings"

	lru "github.com/hashicorp/golang-lru/v2"
)

// regexCacheSize bounds the number of compiled patterns kept. Rule sets are
// small; 128 distinct patterns is generous.
const regexCacheSize = 128

const maxPatternLength = 500

var regexCache *lru.Cache[string, *regexp.Regexp]

func init() {
	var err error
	regexCache, err = lru.New[string, *regexp.Regexp](regexCacheSize)
	if err != nil {
		panic(fmt.Sprintf("failed to initialize regex cache: %v", err))
	}
}

// compileRegex returns a cached compiled pattern, compiling and caching on
// miss. Patterns are validated before compilation so a hostile rule cannot
// wedge evaluation.
func compileRegex(pattern string) (*regexp.Regexp, error) {
	if re, found := regexCache.Get(pattern); found {
		return re, nil
	}

	if err := validatePattern(pattern); err != nil {
		return nil, err
	}

	re, err := regexp.Compile(pattern)
	if err != nil {
		return nil, fmt.Errorf("invalid regex pattern %q: %w", pattern, err)
	}

	regexCache.Add(pattern, re)
	return re, nil
}

// validatePattern rejects patterns that are too long or too group-heavy.
// Go's RE2 engine has no exponential backtracking, so length and group
// limits are enough.
func validatePattern(pattern string) error {
	if len(pattern) > maxPatternLength {
		return fmt.Errorf("regex pattern too long (%d chars, max %d)", len(pattern), maxPatternLength)
	}
	if strings.Count(pattern, "(") > 20 {
		return fmt.Errorf("regex pattern has too many groups (max 20)")
	}
	return nil
}
