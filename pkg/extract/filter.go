package extract

import "time"

// InScope reports whether a record modified at lastActivity belongs in
// the current sync window. A nil lower bound includes everything;
// records at exactly the boundary are excluded, they were covered by
// the previous sync.
func InScope(lastActivity time.Time, since *time.Time) bool {
	if since == nil {
		return true
	}
	return lastActivity.After(*since)
}
