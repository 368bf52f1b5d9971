package rolecache

import "fmt"

// Cache keys are namespaced per user and per concern. Everything an
// invalidation must clear for one user lives under these five keys.
func roleKey(userID string) string {
	return fmt.Sprintf("user:%s:role", userID)
}

func versionKey(userID string) string {
	return fmt.Sprintf("user:%s:role:version", userID)
}

func sessionSyncKey(userID string) string {
	return fmt.Sprintf("user:%s:session_sync", userID)
}

func auxKey(userID string) string {
	return fmt.Sprintf("user:%s:role:meta", userID)
}

func invalidationLogKey(userID string) string {
	return fmt.Sprintf("user:%s:invalidation", userID)
}

// userKeys returns every key associated with one user's cached role
func userKeys(userID string) []string {
	return []string{
		roleKey(userID),
		versionKey(userID),
		sessionSyncKey(userID),
		auxKey(userID),
		invalidationLogKey(userID),
	}
}
