package rate

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
)

func newTestLimiter(t *testing.T) (*miniredis.Miniredis, *Limiter) {
	t.Helper()
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("failed to start miniredis: %v", err)
	}
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { rdb.Close() })

	limiter := New(rdb, "mo", Config{
		IdentityRequestLimit:  3,
		IdentityRequestWindow: 10 * time.Minute,
		EnableOriginThrottle:  true,
		OriginRequestLimit:    10,
		OriginRequestWindow:   time.Hour,
		FailureLimit:          5,
		FailureWindow:         15 * time.Minute,
	})
	return mr, limiter
}

func TestCheckRequestIdentityWindow(t *testing.T) {
	mr, limiter := newTestLimiter(t)
	defer mr.Close()
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		refusal, err := limiter.CheckRequest(ctx, "a@x.com", "")
		if err != nil {
			t.Fatalf("check %d failed: %v", i+1, err)
		}
		if refusal != nil {
			t.Fatalf("check %d refused: %+v", i+1, refusal)
		}
	}

	refusal, err := limiter.CheckRequest(ctx, "a@x.com", "")
	if err != nil {
		t.Fatalf("fourth check failed: %v", err)
	}
	if refusal == nil {
		t.Fatal("fourth check was not refused")
	}
	if refusal.Scope != ScopeIdentityRequest {
		t.Fatalf("refused scope %q, want identity_request", refusal.Scope)
	}
	if refusal.RetryAfter <= 0 || refusal.RetryAfter > 10*time.Minute {
		t.Fatalf("retry hint %s out of range", refusal.RetryAfter)
	}
}

func TestCheckRequestRefusalDoesNotRestartWindow(t *testing.T) {
	mr, limiter := newTestLimiter(t)
	defer mr.Close()
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		limiter.CheckRequest(ctx, "a@x.com", "")
	}

	// A burst of refused checks must not push the expiry out.
	mr.FastForward(9 * time.Minute)
	for i := 0; i < 20; i++ {
		refusal, err := limiter.CheckRequest(ctx, "a@x.com", "")
		if err != nil || refusal == nil {
			t.Fatalf("burst check %d: refusal=%+v err=%v", i, refusal, err)
		}
	}

	mr.FastForward(time.Minute + time.Second)
	refusal, err := limiter.CheckRequest(ctx, "a@x.com", "")
	if err != nil {
		t.Fatalf("check after expiry failed: %v", err)
	}
	if refusal != nil {
		t.Fatalf("window restarted by refused checks: %+v", refusal)
	}
}

func TestCheckRequestOriginWindow(t *testing.T) {
	mr, limiter := newTestLimiter(t)
	defer mr.Close()
	ctx := context.Background()

	// Distinct identities share the origin counter.
	for i := 0; i < 10; i++ {
		refusal, err := limiter.CheckRequest(ctx, identityN(i), "203.0.113.9")
		if err != nil || refusal != nil {
			t.Fatalf("check %d: refusal=%+v err=%v", i+1, refusal, err)
		}
	}

	refusal, err := limiter.CheckRequest(ctx, identityN(10), "203.0.113.9")
	if err != nil {
		t.Fatalf("eleventh check failed: %v", err)
	}
	if refusal == nil || refusal.Scope != ScopeOriginRequest {
		t.Fatalf("expected origin refusal, got %+v", refusal)
	}

	// Other origins are independent.
	refusal, err = limiter.CheckRequest(ctx, identityN(11), "198.51.100.7")
	if err != nil || refusal != nil {
		t.Fatalf("other origin: refusal=%+v err=%v", refusal, err)
	}
}

func TestCheckRequestIdentityRefusalShortCircuitsOrigin(t *testing.T) {
	mr, limiter := newTestLimiter(t)
	defer mr.Close()
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		limiter.CheckRequest(ctx, "a@x.com", "203.0.113.9")
	}

	refusal, err := limiter.CheckRequest(ctx, "a@x.com", "203.0.113.9")
	if err != nil || refusal == nil || refusal.Scope != ScopeIdentityRequest {
		t.Fatalf("expected identity refusal, got %+v err=%v", refusal, err)
	}

	// The refused check advanced the identity counter only.
	n, err := mr.Get("mo:ip:203.0.113.9")
	if err != nil {
		t.Fatalf("origin key read failed: %v", err)
	}
	if n != "3" {
		t.Fatalf("origin counter = %s, want 3 (short-circuit skipped it)", n)
	}
}

func TestCheckRequestEmptyOriginSkipsThrottle(t *testing.T) {
	mr, limiter := newTestLimiter(t)
	defer mr.Close()
	ctx := context.Background()

	for i := 0; i < 15; i++ {
		refusal, err := limiter.CheckRequest(ctx, identityN(i), "")
		if err != nil || refusal != nil {
			t.Fatalf("check %d: refusal=%+v err=%v", i+1, refusal, err)
		}
	}
	if mr.Exists("mo:ip:") {
		t.Fatal("empty origin produced a counter key")
	}
}

func TestRecordFailureAndLockout(t *testing.T) {
	mr, limiter := newTestLimiter(t)
	defer mr.Close()
	ctx := context.Background()

	for i := 1; i <= 5; i++ {
		count, err := limiter.RecordFailure(ctx, "b@x.com")
		if err != nil {
			t.Fatalf("failure %d: %v", i, err)
		}
		if count != int64(i) {
			t.Fatalf("failure %d: count %d", i, count)
		}
	}

	locked, retryAfter, err := limiter.LockoutStatus(ctx, "b@x.com")
	if err != nil {
		t.Fatalf("LockoutStatus failed: %v", err)
	}
	if !locked {
		t.Fatal("identity not locked at threshold")
	}
	if retryAfter <= 0 || retryAfter > 15*time.Minute {
		t.Fatalf("unlock hint %s out of range", retryAfter)
	}

	n, err := limiter.FailureCount(ctx, "b@x.com")
	if err != nil || n != 5 {
		t.Fatalf("FailureCount = %d, %v; want 5", n, err)
	}
}

func TestLockoutStatusIsReadOnly(t *testing.T) {
	mr, limiter := newTestLimiter(t)
	defer mr.Close()
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		limiter.RecordFailure(ctx, "b@x.com")
	}

	// Probing the lock repeatedly must not touch the count or the expiry.
	ttlBefore := mr.TTL("mo:fail:b@x.com")
	for i := 0; i < 10; i++ {
		locked, _, err := limiter.LockoutStatus(ctx, "b@x.com")
		if err != nil || !locked {
			t.Fatalf("probe %d: locked=%v err=%v", i, locked, err)
		}
	}
	if n, _ := limiter.FailureCount(ctx, "b@x.com"); n != 5 {
		t.Fatalf("probes advanced count to %d", n)
	}
	if ttl := mr.TTL("mo:fail:b@x.com"); ttl != ttlBefore {
		t.Fatalf("probes moved TTL from %s to %s", ttlBefore, ttl)
	}
}

func TestLockoutExpiresWithWindow(t *testing.T) {
	mr, limiter := newTestLimiter(t)
	defer mr.Close()
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		limiter.RecordFailure(ctx, "b@x.com")
	}

	mr.FastForward(15*time.Minute + time.Second)

	locked, _, err := limiter.LockoutStatus(ctx, "b@x.com")
	if err != nil {
		t.Fatalf("LockoutStatus failed: %v", err)
	}
	if locked {
		t.Fatal("lock survived window expiry")
	}
	if n, _ := limiter.FailureCount(ctx, "b@x.com"); n != 0 {
		t.Fatalf("stale failure count %d after expiry", n)
	}
}

func TestScopesAreIndependent(t *testing.T) {
	mr, limiter := newTestLimiter(t)
	defer mr.Close()
	ctx := context.Background()

	// Fill the failure window; the request window stays open.
	for i := 0; i < 5; i++ {
		limiter.RecordFailure(ctx, "c@x.com")
	}
	refusal, err := limiter.CheckRequest(ctx, "c@x.com", "")
	if err != nil || refusal != nil {
		t.Fatalf("request blocked by failure window: refusal=%+v err=%v", refusal, err)
	}

	// And the other way round.
	for i := 0; i < 4; i++ {
		limiter.CheckRequest(ctx, "d@x.com", "")
	}
	locked, _, err := limiter.LockoutStatus(ctx, "d@x.com")
	if err != nil || locked {
		t.Fatalf("request window leaked into lockout: locked=%v err=%v", locked, err)
	}
}

func TestLimiterUnavailableBackend(t *testing.T) {
	mr, limiter := newTestLimiter(t)
	mr.Close()
	ctx := context.Background()

	if _, err := limiter.CheckRequest(ctx, "a@x.com", ""); !errors.Is(err, ErrUnavailable) {
		t.Fatalf("CheckRequest: expected ErrUnavailable, got %v", err)
	}
	if _, err := limiter.RecordFailure(ctx, "a@x.com"); !errors.Is(err, ErrUnavailable) {
		t.Fatalf("RecordFailure: expected ErrUnavailable, got %v", err)
	}
	if _, _, err := limiter.LockoutStatus(ctx, "a@x.com"); !errors.Is(err, ErrUnavailable) {
		t.Fatalf("LockoutStatus: expected ErrUnavailable, got %v", err)
	}
	if _, err := limiter.FailureCount(ctx, "a@x.com"); !errors.Is(err, ErrUnavailable) {
		t.Fatalf("FailureCount: expected ErrUnavailable, got %v", err)
	}
}

func identityN(i int) string {
	return string(rune('a'+i)) + "@x.com"
}
