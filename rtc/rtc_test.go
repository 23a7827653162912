// Kernel core for a small self-hosted i386 operating system
// https://github.com/kvisor/kernel
//
// Use of this source code is governed by the license
// that can be found in the LICENSE file.

package rtc

import "testing"

func fakeOps(seconds, minutes, hours, day, month, year *int) Ops {
	return Ops{
		ReadSeconds:    func() int { return *seconds },
		ReadMinutes:    func() int { return *minutes },
		ReadHours:      func() int { return *hours },
		ReadDayOfMonth: func() int { return *day },
		ReadMonth:      func() int { return *month },
		ReadYear:       func() int { return *year },
	}
}

func TestYearNormalizationAppliesY2KWindow(t *testing.T) {
	cases := []struct {
		raw  int
		want int
	}{
		{26, 2026},
		{99, 1999},
		{80, 1980},
		{2026, 2026},
	}
	for _, c := range cases {
		if got := normalizeYear(c.raw); got != c.want {
			t.Errorf("normalizeYear(%d) = %d, want %d", c.raw, got, c.want)
		}
	}
}

func TestPackedDateRoundTrips(t *testing.T) {
	packed := PackedDate(30, 7, 2026)
	day, month, year := UnpackDate(packed)
	if day != 30 || month != 7 || year != 2026 {
		t.Fatalf("UnpackDate(%#x) = %d/%d/%d, want 30/7/2026", packed, day, month, year)
	}
}

func TestPackedTimeRoundTrips(t *testing.T) {
	packed := PackedTime(45, 12, 23)
	seconds, minutes, hours := UnpackTime(packed)
	if seconds != 45 || minutes != 12 || hours != 23 {
		t.Fatalf("UnpackTime(%#x) = %d/%d/%d, want 45/12/23", packed, seconds, minutes, hours)
	}
}

func TestDayOfWeekKnownDates(t *testing.T) {
	// 2000-01-01 was a Saturday; with this package's 0=Monday convention
	// (matching kernelRtcDayOfWeek) that is 5.
	if got := DayOfWeek(1, 1, 2000); got != 5 {
		t.Fatalf("DayOfWeek(2000-01-01) = %d, want 5", got)
	}
	// 2026-07-30 was a Thursday, which is 3.
	if got := DayOfWeek(30, 7, 2026); got != 3 {
		t.Fatalf("DayOfWeek(2026-07-30) = %d, want 3", got)
	}
}

func TestUptimeSecondsMeasuresFromNew(t *testing.T) {
	seconds, minutes, hours, day, month, year := 0, 0, 0, 1, 1, 2026
	ops := fakeOps(&seconds, &minutes, &hours, &day, &month, &year)
	clock := New(ops)

	seconds = 30
	if got := clock.UptimeSeconds(); got != 30 {
		t.Fatalf("UptimeSeconds() = %d, want 30", got)
	}

	seconds = 0
	minutes = 1
	if got := clock.UptimeSeconds(); got != 60 {
		t.Fatalf("UptimeSeconds() = %d, want 60", got)
	}
}
