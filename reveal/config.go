package reveal

import (
	"fmt"
	"math"
	"strconv"
)

// ObserverConfig is the configuration handed to an ObserverFactory.
type ObserverConfig struct {
	// Root is the element whose bounds act as the viewport. Nil means the
	// top-level viewport.
	Root Element
	// Margin grows the root bounds before intersection is computed, in
	// CSS margin syntax.
	Margin string
	// Thresholds are the visible ratios at which entries are reported.
	Thresholds []float64
}

// DefaultConfig returns {Root: nil, Margin: "0px", Thresholds: [0]}.
func DefaultConfig() ObserverConfig {
	return ObserverConfig{Margin: "0px", Thresholds: []float64{0}}
}

// MinThreshold is the smallest ratio an entry must reach to count as
// entered.
func (c ObserverConfig) MinThreshold() float64 {
	if len(c.Thresholds) == 0 {
		return 0
	}
	m := c.Thresholds[0]
	for _, t := range c.Thresholds[1:] {
		if t < m {
			m = t
		}
	}
	return m
}

// clone copies the threshold slice so stored configs never alias caller
// memory.
func (c ObserverConfig) clone() ObserverConfig {
	c.Thresholds = append([]float64(nil), c.Thresholds...)
	return c
}

// Options is the caller-facing configuration.
type Options struct {
	Root Element
	// LoadBefore expands the root bounds on all four sides, in pixels.
	LoadBefore float64
	// LoadAfter lists the visible ratios, each in [0,1]. Empty means [0].
	LoadAfter []float64
}

// ObserverConfig validates o and converts it.
func (o Options) ObserverConfig() (ObserverConfig, error) {
	if o.Root != nil && !IsValidElement(o.Root) {
		return ObserverConfig{}, &ConfigError{Field: "root", Value: o.Root, Reason: "not an element node"}
	}
	if math.IsNaN(o.LoadBefore) || math.IsInf(o.LoadBefore, 0) || o.LoadBefore < 0 {
		return ObserverConfig{}, &ConfigError{Field: "loadBefore", Value: o.LoadBefore, Reason: "must be a number >= 0"}
	}

	thresholds := []float64{0}
	if len(o.LoadAfter) > 0 {
		thresholds = make([]float64, len(o.LoadAfter))
		for i, t := range o.LoadAfter {
			if math.IsNaN(t) || t < 0 || t > 1 {
				return ObserverConfig{}, &ConfigError{
					Field:  fmt.Sprintf("loadAfter[%d]", i),
					Value:  t,
					Reason: "must be in [0,1]",
				}
			}
			thresholds[i] = t
		}
	}

	return ObserverConfig{
		Root:       o.Root,
		Margin:     strconv.FormatFloat(o.LoadBefore, 'f', -1, 64) + "px",
		Thresholds: thresholds,
	}, nil
}

// ParseThresholds converts a loosely typed loadAfter value (a number or a
// list of numbers, as decoded from YAML or JSON) into a threshold list.
// A nil value yields nil (the default).
func ParseThresholds(v any) ([]float64, error) {
	if v == nil {
		return nil, nil
	}
	if f, ok := toFloat(v); ok {
		return checkThresholds([]float64{f})
	}

	var items []any
	switch x := v.(type) {
	case []any:
		items = x
	case []float64:
		return checkThresholds(append([]float64(nil), x...))
	case []int:
		out := make([]float64, len(x))
		for i, n := range x {
			out[i] = float64(n)
		}
		return checkThresholds(out)
	default:
		return nil, &ConfigError{Field: "loadAfter", Value: v, Reason: "must be a number or a list of numbers"}
	}

	out := make([]float64, len(items))
	for i, it := range items {
		f, ok := toFloat(it)
		if !ok {
			return nil, &ConfigError{Field: fmt.Sprintf("loadAfter[%d]", i), Value: it, Reason: "must be a number"}
		}
		out[i] = f
	}
	return checkThresholds(out)
}

func checkThresholds(ts []float64) ([]float64, error) {
	for i, t := range ts {
		if math.IsNaN(t) || t < 0 || t > 1 {
			return nil, &ConfigError{Field: fmt.Sprintf("loadAfter[%d]", i), Value: t, Reason: "must be in [0,1]"}
		}
	}
	return ts, nil
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
	case int32:
		return float64(n), true
	case uint64:
		return float64(n), true
	}
	return 0, false
}

// Strings converts a loosely typed payload list into []string. A nil value
// yields an empty list. Any other non-list value, or any non-string entry,
// fails with *TypeError.
func Strings(field string, v any) ([]string, error) {
	switch x := v.(type) {
	case nil:
		return nil, nil
	case []string:
		return append([]string(nil), x...), nil
	case []any:
		out := make([]string, len(x))
		for i, it := range x {
			s, ok := it.(string)
			if !ok {
				return nil, &TypeError{Field: field, Index: i, Got: fmt.Sprintf("%T", it)}
			}
			out[i] = s
		}
		return out, nil
	}
	return nil, &TypeError{Field: field, Index: -1, Got: fmt.Sprintf("%T, expected a list", v)}
}
