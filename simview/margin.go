package simview

import (
	"fmt"
	"strconv"
	"strings"
)

// length is a px or % value of a root margin.
type length struct {
	value   float64
	percent bool
}

func (l length) resolve(base float64) float64 {
	if l.percent {
		return base * l.value / 100
	}
	return l.value
}

// Margin is a parsed root margin: top, right, bottom, left.
type Margin struct {
	Top, Right, Bottom, Left length
}

// ParseMargin parses CSS margin shorthand with one to four px or % values.
// A bare "0" is accepted; any other unitless value is rejected.
func ParseMargin(s string) (Margin, error) {
	fields := strings.Fields(s)
	if len(fields) == 0 {
		return Margin{}, nil
	}
	if len(fields) > 4 {
		return Margin{}, fmt.Errorf("simview: margin %q: too many values", s)
	}

	vals := make([]length, len(fields))
	for i, f := range fields {
		l, err := parseLength(f)
		if err != nil {
			return Margin{}, fmt.Errorf("simview: margin %q: %w", s, err)
		}
		vals[i] = l
	}

	switch len(vals) {
	case 1:
		return Margin{vals[0], vals[0], vals[0], vals[0]}, nil
	case 2:
		return Margin{vals[0], vals[1], vals[0], vals[1]}, nil
	case 3:
		return Margin{vals[0], vals[1], vals[2], vals[1]}, nil
	default:
		return Margin{vals[0], vals[1], vals[2], vals[3]}, nil
	}
}

func parseLength(s string) (length, error) {
	switch {
	case strings.HasSuffix(s, "px"):
		v, err := strconv.ParseFloat(strings.TrimSuffix(s, "px"), 64)
		if err != nil {
			return length{}, fmt.Errorf("bad length %q", s)
		}
		return length{value: v}, nil
	case strings.HasSuffix(s, "%"):
		v, err := strconv.ParseFloat(strings.TrimSuffix(s, "%"), 64)
		if err != nil {
			return length{}, fmt.Errorf("bad length %q", s)
		}
		return length{value: v, percent: true}, nil
	case s == "0":
		return length{}, nil
	}
	return length{}, fmt.Errorf("length %q must be in px or %%", s)
}

// Expand grows r by m. Percentages resolve against r's width for left and
// right, its height for top and bottom.
func (m Margin) Expand(r Rect) Rect {
	top := m.Top.resolve(r.H)
	right := m.Right.resolve(r.W)
	bottom := m.Bottom.resolve(r.H)
	left := m.Left.resolve(r.W)
	return Rect{
		X: r.X - left,
		Y: r.Y - top,
		W: r.W + left + right,
		H: r.H + top + bottom,
	}
}
