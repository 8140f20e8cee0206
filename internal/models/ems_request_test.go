package models

import "testing"

func TestStatusTransitions(t *testing.T) {
	cases := []struct {
		from    EMSStatus
		to      EMSStatus
		allowed bool
	}{
		{EMSStatusPending, EMSStatusEnroute, true},
		{EMSStatusPending, EMSStatusCancelled, true},
		{EMSStatusPending, EMSStatusArrived, false},
		{EMSStatusPending, EMSStatusCompleted, false},
		{EMSStatusEnroute, EMSStatusArrived, true},
		{EMSStatusEnroute, EMSStatusCancelled, true},
		{EMSStatusEnroute, EMSStatusCompleted, false},
		{EMSStatusEnroute, EMSStatusPending, false},
		{EMSStatusArrived, EMSStatusCompleted, true},
		{EMSStatusArrived, EMSStatusCancelled, true},
		{EMSStatusArrived, EMSStatusEnroute, false},
		{EMSStatusCompleted, EMSStatusCancelled, false},
		{EMSStatusCompleted, EMSStatusPending, false},
		{EMSStatusCancelled, EMSStatusEnroute, false},
	}

	for _, tc := range cases {
		if got := tc.from.CanTransitionTo(tc.to); got != tc.allowed {
			t.Errorf("%s -> %s: allowed = %v, want %v", tc.from, tc.to, got, tc.allowed)
		}
	}
}

func TestTerminalStatuses(t *testing.T) {
	for _, status := range NonTerminalStatuses {
		if status.IsTerminal() {
			t.Errorf("%s should not be terminal", status)
		}
	}
	if !EMSStatusCompleted.IsTerminal() || !EMSStatusCancelled.IsTerminal() {
		t.Errorf("completed and cancelled should be terminal")
	}
}

func TestPriorityLevelOrdering(t *testing.T) {
	ordered := []EMSPriority{EMSPriorityLow, EMSPriorityMedium, EMSPriorityHigh, EMSPriorityCritical}
	for i := 1; i < len(ordered); i++ {
		if ordered[i].Level() <= ordered[i-1].Level() {
			t.Errorf("%s should outrank %s", ordered[i], ordered[i-1])
		}
	}

	if EMSPriority("urgent").Level() != 0 {
		t.Errorf("unknown priority should have level 0")
	}
	if EMSPriority("urgent").IsValid() {
		t.Errorf("unknown priority should be invalid")
	}
}

func TestTimestampField(t *testing.T) {
	cases := map[EMSStatus]string{
		EMSStatusPending:   "",
		EMSStatusEnroute:   "dispatch_time",
		EMSStatusArrived:   "arrival_time",
		EMSStatusCompleted: "completion_time",
		EMSStatusCancelled: "completion_time",
	}
	for status, want := range cases {
		if got := TimestampField(status); got != want {
			t.Errorf("TimestampField(%s) = %q, want %q", status, got, want)
		}
	}
}

func TestGeoPointCoordinateOrder(t *testing.T) {
	point := NewGeoPoint(40.7128, -74.006)

	if point.Type != "Point" {
		t.Errorf("type = %q, want Point", point.Type)
	}
	// GeoJSON stores longitude first.
	if point.Coordinates[0] != -74.006 || point.Coordinates[1] != 40.7128 {
		t.Errorf("coordinates = %v, want [lng lat]", point.Coordinates)
	}
	if point.Latitude() != 40.7128 || point.Longitude() != -74.006 {
		t.Errorf("accessors disagree with coordinates")
	}
}
