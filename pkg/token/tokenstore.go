package tokenstore

import (
	"sync"
	"time"
)

// in-memory token revocation store. For production use Redis or DB.
// Entries expire with the token itself so the map cannot grow forever.
var (
	mu      sync.RWMutex
	revoked = map[string]time.Time{} // jti -> token expiry
)

// RevokeUntil marks jti revoked until exp. A zero exp revokes for 24h.
func RevokeUntil(jti string, exp time.Time) {
	if jti == "" {
		return
	}
	if exp.IsZero() {
		exp = time.Now().Add(24 * time.Hour)
	}
	mu.Lock()
	defer mu.Unlock()
	revoked[jti] = exp
	// opportunistic sweep while we hold the lock
	now := time.Now()
	for k, e := range revoked {
		if e.Before(now) {
			delete(revoked, k)
		}
	}
}

func IsRevoked(jti string) bool {
	if jti == "" {
		return false
	}
	mu.RLock()
	exp, ok := revoked[jti]
	mu.RUnlock()
	if !ok {
		return false
	}
	if exp.Before(time.Now()) {
		mu.Lock()
		delete(revoked, jti)
		mu.Unlock()
		return false
	}
	return true
}
