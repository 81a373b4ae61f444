package key

import (
	"testing"
	"time"
)

func TestBackendID_V2RayUsesUUID(t *testing.T) {
	k, err := NewV2RayKey(1, 1, nil, "a@example.com", "uuid-1", 0, "", nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got := k.BackendID(); got != "uuid-1" {
		t.Fatalf("BackendID() = %q, want %q", got, "uuid-1")
	}
}

func TestBackendID_OutlineUsesRemoteIDWhenSet(t *testing.T) {
	k, err := NewOutlineKey(1, 1, nil, "a@example.com", "42", "ss://url", nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got := k.BackendID(); got != "42" {
		t.Fatalf("BackendID() = %q, want %q", got, "42")
	}
}

func TestBackendID_OutlineFallsBackToEmailWithoutRemoteID(t *testing.T) {
	k, err := NewOutlineKey(1, 1, nil, "a@example.com", "", "ss://url", nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got := k.BackendID(); got != "a@example.com" {
		t.Fatalf("BackendID() = %q, want %q", got, "a@example.com")
	}

	k.SetRemoteID("42")
	if got := k.BackendID(); got != "42" {
		t.Fatalf("BackendID() after SetRemoteID = %q, want %q", got, "42")
	}
}

func TestReconstructRoundTripsRemoteID(t *testing.T) {
	k, err := Reconstruct(1, 1, 1, nil, BackendOutline, "a@example.com", "42", "ss://url", "", 0, "", time.Now().UTC(), nil, 0)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if k.RemoteID() != "42" {
		t.Fatalf("RemoteID() = %q, want %q", k.RemoteID(), "42")
	}
}
