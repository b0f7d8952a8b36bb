package dedup

import (
	"reflect"
	"strings"

	"assistant/pkg/session"
)

// rangeBounds pairs the lower and upper bound keys of an interval param.
var rangeBounds = [][2]string{
	{"startTime", "endTime"},
	{"start", "end"},
	{"from", "to"},
}

func isBoundKey(key string) bool {
	for _, b := range rangeBounds {
		if key == b[0] || key == b[1] {
			return true
		}
	}
	return false
}

// RangeRule is the default inclusion rule. general covers specific when
// every non-range param of general appears with an equal value in specific
// and every interval of general contains the matching interval of
// specific. A missing bound is unbounded.
func RangeRule(general, specific session.DataCommand) bool {
	for key, gv := range general.Params {
		if isBoundKey(key) {
			continue
		}
		sv, ok := specific.Params[key]
		if !ok || !reflect.DeepEqual(gv, sv) {
			return false
		}
	}

	for _, b := range rangeBounds {
		gLow, gHasLow := general.Params[b[0]]
		gHigh, gHasHigh := general.Params[b[1]]
		sLow, sHasLow := specific.Params[b[0]]
		sHigh, sHasHigh := specific.Params[b[1]]

		if gHasLow {
			if !sHasLow {
				return false
			}
			if c, ok := compare(gLow, sLow); !ok || c > 0 {
				return false
			}
		}
		if gHasHigh {
			if !sHasHigh {
				return false
			}
			if c, ok := compare(gHigh, sHigh); !ok || c < 0 {
				return false
			}
		}
	}
	return true
}

// PrefixRule covers specific when its "prefix" (or exact "key") starts
// with general's "prefix". It suits list-by-prefix queries.
func PrefixRule(general, specific session.DataCommand) bool {
	gp, ok := general.Params["prefix"].(string)
	if !ok {
		return RangeRule(general, specific)
	}
	if sp, ok := specific.Params["prefix"].(string); ok {
		return strings.HasPrefix(sp, gp)
	}
	if key, ok := specific.Params["key"].(string); ok {
		return strings.HasPrefix(key, gp)
	}
	return false
}

// compare orders two bound values. Numbers compare numerically and strings
// lexicographically, which is chronological for ISO-8601 timestamps.
func compare(a, b any) (int, bool) {
	if af, ok := toFloat(a); ok {
		bf, ok := toFloat(b)
		if !ok {
			return 0, false
		}
		switch {
		case af < bf:
			return -1, true
		case af > bf:
			return 1, true
		default:
			return 0, true
		}
	}
	as, ok := a.(string)
	if !ok {
		return 0, false
	}
	bs, ok := b.(string)
	if !ok {
		return 0, false
	}
	return strings.Compare(as, bs), true
}

func toFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	default:
		return 0, false
	}
}
