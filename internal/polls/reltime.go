package polls

import (
	"strconv"
	"time"
)

var relativeUnits = []struct {
	limit   int64
	divisor int64
	suffix  string
}{
	{60, 1, "s"},
	{3600, 60, "m"},
	{86400, 3600, "h"},
	{2592000, 86400, "d"},
	{31536000, 2592000, "mo"},
}

// FormatRelativeTime renders the age of t as "5m ago" relative to now.
// Timestamps in the future read as "0s ago".
func FormatRelativeTime(now, t time.Time) string {
	secs := int64(now.Sub(t) / time.Second)
	if secs < 0 {
		secs = 0
	}
	for _, u := range relativeUnits {
		if secs < u.limit {
			return strconv.FormatInt(secs/u.divisor, 10) + u.suffix + " ago"
		}
	}
	return strconv.FormatInt(secs/31536000, 10) + "y ago"
}
