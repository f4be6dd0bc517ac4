package watcher

import "testing"

func TestDirectivesMerge(t *testing.T) {
	var d Directives
	d = d.Merge(WatchRequest{WatchTicks: Bool(true), Timeframes: []int{300, 60, 300, 0}})
	if !d.WatchTicks || d.WatchPeriods {
		t.Fatalf("unexpected flags: %+v", d)
	}
	if len(d.Timeframes) != 2 || d.Timeframes[0] != 60 || d.Timeframes[1] != 300 {
		t.Fatalf("expected [60 300], got %v", d.Timeframes)
	}

	kept := d.Merge(WatchRequest{WatchPeriods: Bool(true)})
	if !kept.WatchTicks || !kept.WatchPeriods || len(kept.Timeframes) != 2 {
		t.Fatalf("nil fields must keep previous values: %+v", kept)
	}

	replaced := kept.Merge(WatchRequest{Timeframes: []int{3600}})
	if len(replaced.Timeframes) != 1 || replaced.Timeframes[0] != 3600 {
		t.Fatalf("timeframes must be replaced, got %v", replaced.Timeframes)
	}
	if len(kept.Timeframes) != 2 {
		t.Fatalf("merge must not mutate the receiver")
	}

	cleared := replaced.Merge(WatchRequest{Timeframes: []int{}})
	if len(cleared.Timeframes) != 0 || cleared.sweepable() {
		t.Fatalf("empty timeframe set must disable the sweep: %+v", cleared)
	}
}
