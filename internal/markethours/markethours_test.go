package markethours

import (
	"testing"
	"time"
)

func ist(month time.Month, day, hour, min int) time.Time {
	return time.Date(2026, month, day, hour, min, 0, 0, IST)
}

func TestIsMarketOpen(t *testing.T) {
	cases := []struct {
		name string
		t    time.Time
		want bool
	}{
		{"mid-session weekday", ist(time.March, 4, 11, 0), true}, // Wednesday
		{"exact open", ist(time.March, 4, 9, 15), true},
		{"one minute before open", ist(time.March, 4, 9, 14), false},
		{"exact close", ist(time.March, 4, 15, 30), false},
		{"saturday", ist(time.March, 7, 11, 0), false},
		{"sunday", ist(time.March, 8, 11, 0), false},
		{"republic day holiday", ist(time.January, 26, 11, 0), false},
		{"christmas holiday", ist(time.December, 25, 11, 0), false},
	}
	for _, tc := range cases {
		if got := IsMarketOpen(tc.t); got != tc.want {
			t.Errorf("%s: IsMarketOpen = %v, want %v", tc.name, got, tc.want)
		}
	}
}

func TestNextOpenSkipsWeekend(t *testing.T) {
	// Friday after close → Monday 9:15.
	friEvening := ist(time.March, 6, 18, 0)
	next := NextOpen(friEvening)

	want := ist(time.March, 9, 9, 15)
	if !next.Equal(want) {
		t.Errorf("NextOpen = %s, want %s", next, want)
	}
}

func TestNextOpenSameDayBeforeOpen(t *testing.T) {
	earlyMorning := ist(time.March, 4, 7, 0)
	want := ist(time.March, 4, 9, 15)
	if next := NextOpen(earlyMorning); !next.Equal(want) {
		t.Errorf("NextOpen = %s, want %s", next, want)
	}
}

func TestTimeUntilCloseZeroAfterClose(t *testing.T) {
	if d := TimeUntilClose(ist(time.March, 4, 16, 0)); d != 0 {
		t.Errorf("TimeUntilClose after hours = %s, want 0", d)
	}
	if d := TimeUntilClose(ist(time.March, 4, 15, 0)); d != 30*time.Minute {
		t.Errorf("TimeUntilClose at 15:00 = %s, want 30m", d)
	}
}
