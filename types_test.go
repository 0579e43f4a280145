package mailotp

import (
	"context"
	"errors"
	"testing"
)

func TestNormalizeIdentity(t *testing.T) {
	valid := []struct{ in, want string }{
		{"a@x.com", "a@x.com"},
		{"  a@x.com  ", "a@x.com"},
		{"Alice@Example.COM", "alice@example.com"},
		{"first.last+tag@sub.example.org", "first.last+tag@sub.example.org"},
	}
	for _, tc := range valid {
		got, err := NormalizeIdentity(tc.in)
		if err != nil {
			t.Fatalf("NormalizeIdentity(%q) failed: %v", tc.in, err)
		}
		if got != tc.want {
			t.Fatalf("NormalizeIdentity(%q) = %q, want %q", tc.in, got, tc.want)
		}
	}

	invalid := []string{
		"",
		"   ",
		"no-at-sign",
		"a b@x.com",
		"Alice <a@x.com>",
		"a@x.com, b@x.com",
	}
	for _, in := range invalid {
		if _, err := NormalizeIdentity(in); !errors.Is(err, ErrInvalidIdentity) {
			t.Fatalf("NormalizeIdentity(%q): expected ErrInvalidIdentity, got %v", in, err)
		}
	}
}

func TestMemoryUserStore(t *testing.T) {
	store := NewMemoryUserStore()
	ctx := context.Background()

	first, err := store.GetOrCreate(ctx, "a@x.com")
	if err != nil {
		t.Fatalf("GetOrCreate failed: %v", err)
	}
	if !first.Created || first.ID == "" || first.Email != "a@x.com" {
		t.Fatalf("unexpected new user %+v", first)
	}
	if first.JoinedAt.IsZero() {
		t.Fatal("JoinedAt not set")
	}

	again, err := store.GetOrCreate(ctx, "a@x.com")
	if err != nil {
		t.Fatalf("second GetOrCreate failed: %v", err)
	}
	if again.Created {
		t.Fatal("existing user reported as created")
	}
	if again.ID != first.ID {
		t.Fatalf("ID changed: %q vs %q", again.ID, first.ID)
	}

	other, err := store.GetOrCreate(ctx, "b@x.com")
	if err != nil {
		t.Fatalf("GetOrCreate for second identity failed: %v", err)
	}
	if other.ID == first.ID {
		t.Fatal("distinct identities share an ID")
	}
	if store.Len() != 2 {
		t.Fatalf("Len() = %d, want 2", store.Len())
	}
}
