package filter

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"github.com/c360/semdds/pkg/cache"
)

type operatorFunc func(left, right any) (bool, error)

var operators = map[string]operatorFunc{
	"=":  func(l, r any) (bool, error) { return compareValues(l, r) == 0, nil },
	"<>": func(l, r any) (bool, error) { return compareValues(l, r) != 0, nil },
	"!=": func(l, r any) (bool, error) { return compareValues(l, r) != 0, nil },
	"<":  func(l, r any) (bool, error) { return compareValues(l, r) < 0, nil },
	"<=": func(l, r any) (bool, error) { return compareValues(l, r) <= 0, nil },
	">":  func(l, r any) (bool, error) { return compareValues(l, r) > 0, nil },
	">=": func(l, r any) (bool, error) { return compareValues(l, r) >= 0, nil },
}

// compareValues orders two values. Numbers compare numerically, also when
// one side is numeric text; booleans compare false < true; everything else
// compares as text.
func compareValues(a, b any) int {
	an, aNum := toFloat64(a)
	bn, bNum := toFloat64(b)
	if aNum && bNum {
		switch {
		case an < bn:
			return -1
		case an > bn:
			return 1
		}
		return 0
	}
	if ab, ok := a.(bool); ok {
		if bb, ok := b.(bool); ok {
			switch {
			case ab == bb:
				return 0
			case !ab:
				return -1
			}
			return 1
		}
	}
	return strings.Compare(toString(a), toString(b))
}

func toFloat64(v any) (float64, bool) {
	switch val := v.(type) {
	case float64:
		return val, true
	case string:
		f, err := strconv.ParseFloat(strings.TrimSpace(val), 64)
		return f, err == nil
	}
	return 0, false
}

func toString(v any) string {
	switch val := v.(type) {
	case string:
		return val
	case float64:
		return strconv.FormatFloat(val, 'f', -1, 64)
	}
	return fmt.Sprintf("%v", v)
}

const maxLikePattern = 500

var likePatterns *cache.LRU[*regexp.Regexp]

func init() {
	var err error
	likePatterns, err = cache.NewLRU[*regexp.Regexp](256)
	if err != nil {
		panic(fmt.Sprintf("filter: like pattern cache: %v", err))
	}
}

// likeRegexp translates a LIKE pattern: % matches any run, _ one character.
func likeRegexp(pattern string) (*regexp.Regexp, error) {
	if re, ok := likePatterns.Get(pattern); ok {
		return re, nil
	}
	if len(pattern) > maxLikePattern {
		return nil, fmt.Errorf("like pattern too long: %d > %d", len(pattern), maxLikePattern)
	}
	var sb strings.Builder
	sb.WriteString("(?s)^")
	for _, r := range pattern {
		switch r {
		case '%':
			sb.WriteString(".*")
		case '_':
			sb.WriteString(".")
		default:
			sb.WriteString(regexp.QuoteMeta(string(r)))
		}
	}
	sb.WriteString("$")
	re, err := regexp.Compile(sb.String())
	if err != nil {
		return nil, err
	}
	if pattern != "" {
		_, _ = likePatterns.Set(pattern, re)
	}
	return re, nil
}

func operatorLike(value, pattern any) (bool, error) {
	re, err := likeRegexp(toString(pattern))
	if err != nil {
		return false, err
	}
	return re.MatchString(toString(value)), nil
}
