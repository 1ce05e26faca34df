package audit

import "time"

// nowMillis returns the current time as Unix milliseconds, the unit
// Receipt.Timestamp stores.
func nowMillis() int64 {
	return time.Now().UnixMilli()
}
