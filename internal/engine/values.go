package engine

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/pkg/errors"
)

// Operators accepted by filter, assert, count if, and add-if conditions,
// longest first so ">=" is not read as ">".
var Operators = []string{">=", "<=", "!=", "==", ">", "<"}

// valueString renders a cell the way it would appear in a CSV file.
func valueString(v interface{}) string {
	switch x := v.(type) {
	case nil:
		return ""
	case string:
		return x
	case int64:
		return strconv.FormatInt(x, 10)
	case int:
		return strconv.Itoa(x)
	case float64:
		return strconv.FormatFloat(x, 'f', -1, 64)
	case bool:
		return strconv.FormatBool(x)
	case time.Time:
		return x.Format(time.RFC3339)
	default:
		return fmt.Sprintf("%v", x)
	}
}

// ToFloat coerces a cell to a float64 where possible.
func ToFloat(v interface{}) (float64, bool) {
	return toFloat(v)
}

// toFloat coerces a cell to a float64 where possible.
func toFloat(v interface{}) (float64, bool) {
	switch x := v.(type) {
	case int64:
		return float64(x), true
	case int:
		return float64(x), true
	case float64:
		return x, true
	case string:
		f, err := strconv.ParseFloat(strings.TrimSpace(x), 64)
		return f, err == nil
	default:
		return 0, false
	}
}

// compareValues orders two cells: numeric when both coerce, by time when
// both are times, lexicographic otherwise. Nil sorts first.
func compareValues(a, b interface{}) int {
	if a == nil || b == nil {
		switch {
		case a == nil && b == nil:
			return 0
		case a == nil:
			return -1
		default:
			return 1
		}
	}
	if at, ok := a.(time.Time); ok {
		if bt, ok := b.(time.Time); ok {
			switch {
			case at.Before(bt):
				return -1
			case at.After(bt):
				return 1
			default:
				return 0
			}
		}
	}
	if af, ok := toFloat(a); ok {
		if bf, ok := toFloat(b); ok {
			switch {
			case af < bf:
				return -1
			case af > bf:
				return 1
			default:
				return 0
			}
		}
	}
	return strings.Compare(valueString(a), valueString(b))
}

// Match applies a comparison operator between a cell and a raw right-hand
// side (already variable-substituted, possibly still quoted).
func Match(cell interface{}, op, rhs string) (bool, error) {
	rhs = strings.Trim(rhs, "\"'")
	var c int
	if cf, ok := toFloat(cell); ok {
		if rf, err := strconv.ParseFloat(rhs, 64); err == nil {
			switch {
			case cf < rf:
				c = -1
			case cf > rf:
				c = 1
			}
			return matchOrder(c, op)
		}
	}
	c = strings.Compare(valueString(cell), rhs)
	return matchOrder(c, op)
}

func matchOrder(c int, op string) (bool, error) {
	switch op {
	case ">":
		return c > 0, nil
	case "<":
		return c < 0, nil
	case ">=":
		return c >= 0, nil
	case "<=":
		return c <= 0, nil
	case "==":
		return c == 0, nil
	case "!=":
		return c != 0, nil
	default:
		return false, errors.Errorf("unsupported operator '%s'. Supported: %s", op, strings.Join(Operators, ", "))
	}
}
