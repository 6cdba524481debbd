package kv

// Persisted key layout. The version key survives migration; everything in
// ContentKeys is cleared when the stored schema version is behind the code.
const (
	KeyCacheVersion       = "cache.version"
	KeyContentToday       = "content.today"
	KeyContentPreviousDay = "content.previousDay"
	KeyContentHistory     = "content.history"
	KeySlotMetadata       = "content.meta"
	KeyTimezoneSnapshot   = "timezone.snapshot"
	KeySyncQueue          = "sync.queue"
	KeySyncDeadLetter     = "sync.deadletter"
	KeyLastRefresh        = "refresh.last"
	KeyLastInvalidation   = "maintenance.lastInvalidation"
)

// ContentKeys returns every key cleared by a version migration, in a stable
// order. KeyCacheVersion is deliberately absent.
func ContentKeys() []string {
	return []string{
		KeyContentToday,
		KeyContentPreviousDay,
		KeyContentHistory,
		KeySlotMetadata,
		KeyTimezoneSnapshot,
		KeySyncQueue,
		KeySyncDeadLetter,
		KeyLastRefresh,
		KeyLastInvalidation,
	}
}
