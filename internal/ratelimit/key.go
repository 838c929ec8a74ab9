package ratelimit

import "strconv"

// KeyFor builds the counter key for a user action. Anonymous or unscoped checks get no key.
func KeyFor(userID uint64, scope Scope) string {
	if userID == 0 || scope == ScopeNone {
		return ""
	}
	return "user:" + strconv.FormatUint(userID, 10) + ":" + scope.String()
}
