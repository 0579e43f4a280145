package mailotp

import (
	"context"
	"testing"
)

func TestBuilderRequiredCollaborators(t *testing.T) {
	mr, rdb := newTestRedis(t)
	defer mr.Close()

	if _, err := New().WithUserStore(NewMemoryUserStore()).Build(); err == nil {
		t.Fatal("Build succeeded without a Redis client")
	}
	if _, err := New().WithRedis(rdb).Build(); err == nil {
		t.Fatal("Build succeeded without a user store")
	}
}

func TestBuilderRejectsInvalidConfig(t *testing.T) {
	mr, rdb := newTestRedis(t)
	defer mr.Close()

	cfg := DefaultConfig()
	cfg.OTP.Digits = 3

	_, err := New().
		WithConfig(cfg).
		WithRedis(rdb).
		WithUserStore(NewMemoryUserStore()).
		Build()
	if err == nil {
		t.Fatal("Build accepted an invalid config")
	}
}

func TestBuilderIsSingleUse(t *testing.T) {
	mr, rdb := newTestRedis(t)
	defer mr.Close()

	b := New().WithRedis(rdb).WithUserStore(NewMemoryUserStore())

	engine, err := b.Build()
	if err != nil {
		t.Fatalf("first Build failed: %v", err)
	}
	defer engine.Close()

	if _, err := b.Build(); err == nil {
		t.Fatal("second Build on the same builder succeeded")
	}
}

func TestBuilderDefaultIssuer(t *testing.T) {
	mr, rdb := newTestRedis(t)
	defer mr.Close()

	engine, err := New().
		WithRedis(rdb).
		WithUserStore(NewMemoryUserStore()).
		Build()
	if err != nil {
		t.Fatalf("Build failed: %v", err)
	}
	defer engine.Close()

	// The default issuer mints a working pair.
	pair, err := engine.issuer.Issue(context.Background(), User{ID: "user-1", Email: "a@x.com"})
	if err != nil {
		t.Fatalf("default issuer failed: %v", err)
	}
	if pair.AccessToken == "" || pair.RefreshToken == "" {
		t.Fatal("default issuer returned empty tokens")
	}
}

func TestBuilderCustomIssuer(t *testing.T) {
	mr, rdb := newTestRedis(t)
	defer mr.Close()

	custom := issuerFunc(func(ctx context.Context, user User) (TokenPair, error) {
		return TokenPair{AccessToken: "opaque-" + user.ID, RefreshToken: "opaque-r-" + user.ID}, nil
	})

	engine, err := New().
		WithRedis(rdb).
		WithUserStore(NewMemoryUserStore()).
		WithTokenIssuer(custom).
		Build()
	if err != nil {
		t.Fatalf("Build failed: %v", err)
	}
	defer engine.Close()

	pair, err := engine.issuer.Issue(context.Background(), User{ID: "u1"})
	if err != nil || pair.AccessToken != "opaque-u1" {
		t.Fatalf("custom issuer not wired: %+v err=%v", pair, err)
	}
}

type issuerFunc func(ctx context.Context, user User) (TokenPair, error)

func (f issuerFunc) Issue(ctx context.Context, user User) (TokenPair, error) {
	return f(ctx, user)
}
