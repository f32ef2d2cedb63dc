package chart

import (
	"encoding/json"
	"fmt"
	"math"
	"math/big"
	"strconv"
	"strings"
)

// FormatNumber renders a value for display: magnitudes of at least one
// million get an M suffix, at least one thousand a K suffix, anything else
// two decimals. Values that are not numeric are printed as-is.
func FormatNumber(v interface{}) string {
	f, ok := ToFloat(v)
	if !ok {
		if v == nil {
			return ""
		}
		return fmt.Sprint(v)
	}

	abs := math.Abs(f)
	switch {
	case abs >= 1_000_000:
		return strconv.FormatFloat(f/1_000_000, 'f', 2, 64) + "M"
	case abs >= 1_000:
		return strconv.FormatFloat(f/1_000, 'f', 2, 64) + "K"
	default:
		return strconv.FormatFloat(f, 'f', 2, 64)
	}
}

// ToFloat converts numeric cells of any width, json.Number, *big.Int and
// numeric strings. ok is false for anything else.
func ToFloat(v interface{}) (float64, bool) {
	switch t := v.(type) {
	case int:
		return float64(t), true
	case int8:
		return float64(t), true
	case int16:
		return float64(t), true
	case int32:
		return float64(t), true
	case int64:
		return float64(t), true
	case uint:
		return float64(t), true
	case uint8:
		return float64(t), true
	case uint16:
		return float64(t), true
	case uint32:
		return float64(t), true
	case uint64:
		return float64(t), true
	case float32:
		return float64(t), true
	case float64:
		return t, true
	case json.Number:
		f, err := t.Float64()
		return f, err == nil
	case *big.Int:
		if t == nil {
			return 0, false
		}
		f, _ := new(big.Float).SetInt(t).Float64()
		return f, true
	case string:
		f, err := strconv.ParseFloat(strings.TrimSpace(t), 64)
		return f, err == nil
	}
	return 0, false
}
