package chat

import "time"

// FormatTimestamp renders a message time as it appears inside a bubble,
// e.g. "3:04 PM".
func FormatTimestamp(ms int64) string {
	return time.UnixMilli(ms).Format("3:04 PM")
}

// FormatDate renders an absolute calendar date, e.g. "Nov 10, 2025".
func FormatDate(ms int64) string {
	return time.UnixMilli(ms).Format("Jan 2, 2006")
}

// SameDay reports whether two epoch-millisecond timestamps fall on the same
// local calendar day. Day boundaries are calendar boundaries, not elapsed
// time: two minutes across midnight are different days.
func SameDay(a, b int64) bool {
	ya, ma, da := time.UnixMilli(a).Date()
	yb, mb, db := time.UnixMilli(b).Date()
	return ya == yb && ma == mb && da == db
}

// IsYesterday reports whether ms falls exactly one calendar day before now.
func IsYesterday(ms int64, now time.Time) bool {
	return SameDay(ms, now.AddDate(0, 0, -1).UnixMilli())
}

// FormatRelativeDate renders "Today", "Yesterday", or the absolute date.
func FormatRelativeDate(ms int64, now time.Time) string {
	if SameDay(ms, now.UnixMilli()) {
		return "Today"
	}
	if IsYesterday(ms, now) {
		return "Yesterday"
	}
	return FormatDate(ms)
}
