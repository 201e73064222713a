package tokenstore

import (
	"testing"
	"time"
)

func TestRevokeUntil(t *testing.T) {
	if IsRevoked("unknown-jti") {
		t.Fatalf("unknown jti must not be revoked")
	}

	RevokeUntil("jti-1", time.Now().Add(time.Hour))
	if !IsRevoked("jti-1") {
		t.Fatalf("expected jti-1 revoked")
	}

	// expired entries are treated as not revoked and cleaned up
	RevokeUntil("jti-2", time.Now().Add(-time.Minute))
	if IsRevoked("jti-2") {
		t.Fatalf("expired revocation must not block the token")
	}
}

func TestRevokeUntilZeroExpiry(t *testing.T) {
	RevokeUntil("jti-3", time.Time{})
	if !IsRevoked("jti-3") {
		t.Fatalf("zero expiry should default to a 24h revocation")
	}
}

func TestRevokeEmptyJTIIsNoop(t *testing.T) {
	RevokeUntil("", time.Now().Add(time.Hour))
	if IsRevoked("") {
		t.Fatalf("empty jti must never read as revoked")
	}
}
