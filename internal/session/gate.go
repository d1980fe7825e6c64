package session

import "time"

const msPerHour = int64(time.Hour / time.Millisecond)

// CanStartNewSession reports whether the record allows a new session at now.
// A record with an open session never allows another one.
func CanStartNewSession(rec *Record, now time.Time) bool {
	open, ms := cooldownLeft(rec, now)
	return !open && ms <= 0
}

// HoursUntilNextSession returns the whole hours, rounded up, until a new
// session may start. It is 0 when one may start now, and also 0 while a
// session is still open since there is no cooldown to wait out.
func HoursUntilNextSession(rec *Record, now time.Time) int {
	open, ms := cooldownLeft(rec, now)
	if open || ms <= 0 {
		return 0
	}
	return int((ms + msPerHour - 1) / msPerHour)
}

// cooldownLeft reports whether the latest session is still open and,
// otherwise, the cooldown left at now in milliseconds.
func cooldownLeft(rec *Record, now time.Time) (open bool, ms int64) {
	last := rec.LatestSession()
	if last == nil {
		return false, 0
	}
	if last.Status != StatusClosed {
		return true, 0
	}
	if last.CooldownHours == nil || last.ClosedAt == nil {
		return false, 0
	}
	until := last.ClosedAt.UnixMilli() + int64(*last.CooldownHours)*msPerHour
	return false, until - now.UnixMilli()
}
