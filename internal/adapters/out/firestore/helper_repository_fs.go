// internal/adapters/out/firestore/helper_repository_fs.go
package firestore

import (
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

func asString(v any) string {
	if v == nil {
		return ""
	}
	switch t := v.(type) {
	case string:
		return t
	default:
		return fmt.Sprint(v)
	}
}

func asInt(v any) int {
	if v == nil {
		return 0
	}
	switch t := v.(type) {
	case int:
		return t
	case int32:
		return int(t)
	case int64:
		return int(t)
	case float32:
		return int(t)
	case float64:
		return int(t)
	case string:
		tt := strings.TrimSpace(t)
		if tt == "" {
			return 0
		}
		var n int
		_, _ = fmt.Sscanf(tt, "%d", &n)
		return n
	default:
		return 0
	}
}

func asInt64(v any) int64 {
	switch t := v.(type) {
	case int64:
		return t
	case int:
		return int64(t)
	case float64:
		return int64(t)
	default:
		return int64(asInt(v))
	}
}

// asTime returns (time, ok)
func asTime(v any) (time.Time, bool) {
	if v == nil {
		return time.Time{}, false
	}
	switch t := v.(type) {
	case time.Time:
		return t, true
	default:
		return time.Time{}, false
	}
}

// asDecimal accepts the string form we write and plain numbers written by hand.
func asDecimal(v any) decimal.Decimal {
	switch t := v.(type) {
	case nil:
		return decimal.Zero
	case string:
		d, err := decimal.NewFromString(strings.TrimSpace(t))
		if err != nil {
			return decimal.Zero
		}
		return d
	case int64:
		return decimal.NewFromInt(t)
	case int:
		return decimal.NewFromInt(int64(t))
	case float64:
		return decimal.NewFromFloat(t)
	default:
		return decimal.Zero
	}
}

func asBool(v any) bool {
	b, _ := v.(bool)
	return b
}
