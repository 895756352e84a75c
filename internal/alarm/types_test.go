package alarm

import (
	"testing"
	"time"
)

func TestParseTimeOfDay(t *testing.T) {
	t.Parallel()
	got, err := ParseTimeOfDay("23:15")
	if err != nil {
		t.Fatalf("ParseTimeOfDay error: %v", err)
	}
	if got.Hour != 23 || got.Minute != 15 {
		t.Fatalf("unexpected result: %v", got)
	}

	for _, bad := range []string{"24:00", "12:60", "noon", "7", "07:05:30"} {
		if _, err := ParseTimeOfDay(bad); err == nil {
			t.Fatalf("expected error for %q", bad)
		}
	}
}

func TestDaySetLabel(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name string
		days DaySet
		want string
	}{
		{name: "once", days: nil, want: "Once"},
		{name: "daily", days: DaySet{0, 1, 2, 3, 4, 5, 6}, want: "Daily"},
		{name: "weekdays", days: DaySet{time.Monday, time.Tuesday, time.Wednesday, time.Thursday, time.Friday}, want: "Weekdays"},
		{name: "weekends", days: DaySet{time.Saturday, time.Sunday}, want: "Weekends"},
		{name: "named days", days: DaySet{time.Friday, time.Monday}, want: "Mon Fri"},
		{name: "dupes collapse", days: DaySet{time.Monday, time.Monday}, want: "Mon"},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.days.Label(); got != tt.want {
				t.Fatalf("Label() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestDaySetNormalize(t *testing.T) {
	t.Parallel()
	in := DaySet{time.Saturday, time.Monday, 9, time.Monday, -1}
	got := in.Normalize()
	want := DaySet{time.Monday, time.Saturday}
	if len(got) != len(want) {
		t.Fatalf("Normalize() = %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("Normalize() = %v, want %v", got, want)
		}
	}
}
