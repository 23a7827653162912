// Kernel core for a small self-hosted i386 operating system
// https://github.com/kvisor/kernel
//
// Use of this source code is governed by the license
// that can be found in the LICENSE file.

// Package rtc implements the generic real-time-clock layer of §4.h: a
// driver-ops forwarder (mirroring the net package's Device/Ops split),
// packed date/time words, Zeller's congruence day-of-week, and uptime
// measured from the clock's initialization.
package rtc

import "time"

// Ops are the driver hooks a concrete RTC registers. Each read returns the
// field's raw hardware value; Clock is the generic layer that forwards to
// them, the same shape kernelRtc.c's kernelRtcRead* functions forward to a
// kernelRtcOps table.
type Ops struct {
	ReadSeconds    func() int
	ReadMinutes    func() int
	ReadHours      func() int
	ReadDayOfMonth func() int
	ReadMonth      func() int
	ReadYear       func() int
}

// SystemOps returns Ops backed by the host's wall clock, for a deployment
// with no dedicated RTC hardware to drive.
func SystemOps() Ops {
	return Ops{
		ReadSeconds:    func() int { return time.Now().Second() },
		ReadMinutes:    func() int { return time.Now().Minute() },
		ReadHours:      func() int { return time.Now().Hour() },
		ReadDayOfMonth: func() int { return time.Now().Day() },
		ReadMonth:      func() int { return int(time.Now().Month()) },
		ReadYear:       func() int { return time.Now().Year() },
	}
}

// Clock is the generic RTC layer (§4.h RTC: "seconds/minutes/hours/day/
// month/year, ... uptime seconds measured from init"). It records the
// driver's readings at New so UptimeSeconds has a baseline.
type Clock struct {
	ops Ops

	startSeconds, startMinutes, startHours int
	startDay, startMonth, startYear        int
}

// New registers ops and snapshots the current date/time as the uptime
// baseline, mirroring kernelRtcInitialize's "register the starting time
// that the kernel was booted".
func New(ops Ops) *Clock {
	c := &Clock{ops: ops}
	c.startSeconds = ops.ReadSeconds()
	c.startMinutes = ops.ReadMinutes()
	c.startHours = ops.ReadHours()
	c.startDay = ops.ReadDayOfMonth()
	c.startMonth = ops.ReadMonth()
	c.startYear = normalizeYear(ops.ReadYear())
	return c
}

// normalizeYear applies the same century inference as kernelRtcReadYear's
// "Y2K COMPLIANCE SECTION": a two-digit year below 80 is assumed 21st
// century, otherwise 20th.
func normalizeYear(y int) int {
	if y >= 1980 {
		return y
	}
	if y < 80 {
		return y + 2000
	}
	return y + 1900
}

func (c *Clock) Seconds() int    { return c.ops.ReadSeconds() }
func (c *Clock) Minutes() int    { return c.ops.ReadMinutes() }
func (c *Clock) Hours() int      { return c.ops.ReadHours() }
func (c *Clock) DayOfMonth() int { return c.ops.ReadDayOfMonth() }
func (c *Clock) Month() int      { return c.ops.ReadMonth() }
func (c *Clock) Year() int       { return normalizeYear(c.ops.ReadYear()) }

// UptimeSeconds approximates elapsed seconds since New, using the same
// 31-day/12-month shortcut as kernelRtcUptimeSeconds rather than a real
// calendar (§4.h RTC: "uptime seconds measured from init").
func (c *Clock) UptimeSeconds() int {
	up := c.Seconds() - c.startSeconds
	up += (c.Minutes() - c.startMinutes) * 60
	up += (c.Hours() - c.startHours) * 60 * 60
	up += (c.DayOfMonth() - c.startDay) * 24 * 60 * 60
	up += (c.Month() - c.startMonth) * 31 * 24 * 60 * 60
	up += (c.Year() - c.startYear) * 12 * 31 * 24 * 60 * 60
	return up
}

// PackedDate packs day (5 bits), month (4 bits) and year (the remaining
// bits) into one word (§4.h RTC: "packed-date word").
func PackedDate(day, month, year int) uint32 {
	packed := uint32(day) & 0x1F
	packed |= (uint32(month) << 5) & 0x1E0
	packed |= (uint32(year) << 9) & 0xFFFFFE00
	return packed
}

// UnpackDate reverses PackedDate.
func UnpackDate(packed uint32) (day, month, year int) {
	day = int(packed & 0x1F)
	month = int((packed & 0x1E0) >> 5)
	year = int((packed & 0xFFFFFE00) >> 9)
	return
}

// PackedTime packs seconds (6 bits), minutes (6 bits) and hours (5 bits)
// into one word (§4.h RTC: "packed-time word").
func PackedTime(seconds, minutes, hours int) uint32 {
	packed := uint32(seconds) & 0x3F
	packed |= (uint32(minutes) << 6) & 0xFC0
	packed |= (uint32(hours) << 12) & 0x1F000
	return packed
}

// UnpackTime reverses PackedTime.
func UnpackTime(packed uint32) (seconds, minutes, hours int) {
	seconds = int(packed & 0x3F)
	minutes = int((packed & 0xFC0) >> 6)
	hours = int((packed & 0x1F000) >> 12)
	return
}

// DayOfWeek implements Zeller's congruence (§4.h RTC: "day-of-week via
// Zeller's congruence"), adjusting January/February into the prior year's
// months 13/14 the way the original driver does. The result is 0 for
// Monday through 6 for Sunday, matching kernelRtcDayOfWeek.
func DayOfWeek(day, month, year int) int {
	if month < 3 {
		month += 12
		year--
	}
	w := (13*month+3)/5 + day + year + year/4 - year/100 + year/400
	return ((w % 7) + 7) % 7
}

// Now returns the current date/time as the fields this package models,
// equivalent to kernelRtcDateTime but without the libc tm struct.
func (c *Clock) Now() (seconds, minutes, hours, day, month, year int) {
	return c.Seconds(), c.Minutes(), c.Hours(), c.DayOfMonth(), c.Month(), c.Year()
}
