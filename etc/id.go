package etc

import (
	"math"
	"time"

	"github.com/nrednav/cuid2"
)

// NewFreshID returns a collision-resistant id for sessions and journal rows.
func NewFreshID() string {
	return cuid2.Generate()
}

// ShortID trims an id for log lines.
func ShortID(id string) string {
	if len(id) <= 8 {
		return id
	}
	return id[:8]
}

// JulianDayToTime converts a SQLite julianday value to a time.
func JulianDayToTime(f float64) time.Time {
	const julianEpoch = 2440587.5 // Julian date of the Unix epoch

	unixTime := (f - julianEpoch) * 86400.0

	return time.Unix(
		int64(unixTime),
		int64((unixTime-math.Floor(unixTime))*1e9),
	)
}
