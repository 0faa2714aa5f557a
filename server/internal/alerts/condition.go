package alerts

import (
	"strconv"
	"strings"
)

// evalCondition evaluates a rule condition string against the hub metrics.
//
// Supported expressions (field operator value):
//
//	workers_mutual_playlist < 1
//	workers_other == 0
//	clients > 500
//	groups > 200
//	connections > 1000
//	dispatch_failures > 10
//	refresh_failures > 10
//	protocol_errors > 100
//
// Returns (fires bool, triggering value float64).
// Returns (false, 0) if the expression cannot be parsed or the field is unknown.
func evalCondition(cond string, fields map[string]float64) (bool, float64) {
	parts := strings.Fields(cond)
	if len(parts) != 3 {
		return false, 0
	}
	field, op, rhs := parts[0], parts[1], parts[2]

	v, ok := fields[field]
	if !ok {
		return false, 0
	}
	threshold, err := strconv.ParseFloat(rhs, 64)
	if err != nil {
		return false, 0
	}
	return compareFloat(v, op, threshold), v
}

// compareFloat applies a comparison operator to two float64 values.
func compareFloat(v float64, op string, threshold float64) bool {
	switch op {
	case ">":
		return v > threshold
	case ">=":
		return v >= threshold
	case "<":
		return v < threshold
	case "<=":
		return v <= threshold
	case "==":
		return v == threshold
	case "!=":
		return v != threshold
	default:
		return false
	}
}
