package shared

import "fmt"

// SafeLockKey builds the redis key guarding postings to a station safe.
func SafeLockKey(stationID int64) string {
	return fmt.Sprintf("safe:station:%d:lock", stationID)
}

// PreviewCacheKey builds the redis key for a memoised shift preview.
func PreviewCacheKey(shiftID, digest string) string {
	return fmt.Sprintf("shift:%s:preview:%s", shiftID, digest)
}
