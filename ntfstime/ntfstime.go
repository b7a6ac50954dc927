// Package ntfstime converts Windows FILETIME values, as stored in NTFS
// $STANDARD_INFORMATION and $FILE_NAME attributes, into time.Time.
package ntfstime

import "time"

// epoch is the FILETIME epoch: 1601-01-01 00:00:00 UTC.
var epoch = time.Date(1601, time.January, 1, 0, 0, 0, 0, time.UTC)

// Convert interprets v as a count of 100-nanosecond intervals since the
// FILETIME epoch and returns the corresponding UTC time. v*100 would
// overflow a single time.Duration (int64 nanoseconds) for any timestamp
// past 1970, so the value is decomposed into whole seconds plus a
// nanosecond remainder and passed to time.Unix instead.
func Convert(v uint64) time.Time {
	seconds := v / 10_000_000
	remainderNanos := (v % 10_000_000) * 100
	return time.Unix(epoch.Unix()+int64(seconds), int64(remainderNanos)).UTC()
}
