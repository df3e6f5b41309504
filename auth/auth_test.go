package auth

import (
	"context"
	"testing"

	"github.com/vtpt/vtpt-meter/errors"
	"github.com/vtpt/vtpt-meter/storage"
)

func testDirectory() *Directory {
	return NewDirectory(map[string]Identity{
		"1234": {Name: "Minh", Admin: false},
		"9999": {Name: "Chi Lan", Admin: true},
	})
}

func TestDirectory_Resolve(t *testing.T) {
	d := testDirectory()

	id, err := d.Resolve("1234")
	if err != nil {
		t.Fatalf("Resolve failed: %v", err)
	}
	if id.Name != "Minh" || id.Admin {
		t.Fatalf("unexpected identity: %+v", id)
	}

	// Surrounding whitespace is tolerated.
	if _, err := d.Resolve(" 1234 "); err != nil {
		t.Fatalf("Resolve with whitespace failed: %v", err)
	}
}

func TestDirectory_UnknownPIN(t *testing.T) {
	d := testDirectory()
	for _, pin := range []string{"", "0000"} {
		_, err := d.Resolve(pin)
		if err == nil {
			t.Fatalf("expected auth error for pin %q", pin)
		}
		if errors.CodeOf(err) != errors.ErrCodeAuthFailure {
			t.Fatalf("expected AUTH_FAILURE, got %v", err)
		}
		if errors.IsRetryable(err) {
			t.Fatal("auth failures must not be retryable")
		}
	}
}

func TestDirectory_RequireAdmin(t *testing.T) {
	d := testDirectory()

	if _, err := d.RequireAdmin("9999"); err != nil {
		t.Fatalf("admin should pass the gate: %v", err)
	}

	_, err := d.RequireAdmin("1234")
	if err == nil {
		t.Fatal("non-admin must be rejected")
	}
	if errors.CodeOf(err) != errors.ErrCodeAuthFailure {
		t.Fatalf("expected AUTH_FAILURE, got %v", err)
	}
}

func TestSession_RoundTrip(t *testing.T) {
	ctx := context.Background()
	s := NewSession(storage.NewMemory())

	if got := s.Load(ctx); got != "" {
		t.Fatalf("expected empty session, got %q", got)
	}

	if err := s.Save(ctx, "1234"); err != nil {
		t.Fatalf("Save failed: %v", err)
	}
	if got := s.Load(ctx); got != "1234" {
		t.Fatalf("expected 1234, got %q", got)
	}

	if err := s.Clear(ctx); err != nil {
		t.Fatalf("Clear failed: %v", err)
	}
	if got := s.Load(ctx); got != "" {
		t.Fatalf("expected cleared session, got %q", got)
	}
}
