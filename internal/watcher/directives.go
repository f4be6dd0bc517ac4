package watcher

import "sort"

// Directives is the resolved watch configuration stored per symbol.
type Directives struct {
	WatchTicks   bool  `json:"watch_ticks" yaml:"ticks"`
	WatchPeriods bool  `json:"watch_periods" yaml:"periods"`
	Timeframes   []int `json:"timeframes" yaml:"timeframes"` // seconds, sorted, unique
}

// WatchRequest carries the fields a Watch call wants to change. Nil fields
// keep the stored value; a non-nil Timeframes replaces the stored set.
type WatchRequest struct {
	WatchTicks   *bool
	WatchPeriods *bool
	Timeframes   []int
}

// Bool returns a pointer to v, for building a WatchRequest inline.
func Bool(v bool) *bool { return &v }

// Merge applies req on top of d and returns the result; d is not modified.
func (d Directives) Merge(req WatchRequest) Directives {
	out := Directives{
		WatchTicks:   d.WatchTicks,
		WatchPeriods: d.WatchPeriods,
		Timeframes:   append([]int(nil), d.Timeframes...),
	}
	if req.WatchTicks != nil {
		out.WatchTicks = *req.WatchTicks
	}
	if req.WatchPeriods != nil {
		out.WatchPeriods = *req.WatchPeriods
	}
	if req.Timeframes != nil {
		out.Timeframes = normalizeTimeframes(req.Timeframes)
	}
	return out
}

// sweepable reports whether the sweep has anything to check for this symbol.
func (d Directives) sweepable() bool {
	return d.WatchPeriods && len(d.Timeframes) > 0
}

func (d Directives) clone() Directives {
	d.Timeframes = append([]int(nil), d.Timeframes...)
	return d
}

// normalizeTimeframes drops non-positive values and duplicates and sorts the rest.
func normalizeTimeframes(in []int) []int {
	seen := make(map[int]struct{}, len(in))
	out := make([]int, 0, len(in))
	for _, tf := range in {
		if tf <= 0 {
			continue
		}
		if _, dup := seen[tf]; dup {
			continue
		}
		seen[tf] = struct{}{}
		out = append(out, tf)
	}
	sort.Ints(out)
	return out
}
