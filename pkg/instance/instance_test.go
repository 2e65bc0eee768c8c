package instance

import "testing"

func TestGetIDPrecedence(t *testing.T) {
	t.Setenv("WORKER_ID", "")
	t.Setenv("DYNO", "")
	if got := GetID(); got != "local" {
		t.Fatalf("expected local default, got %q", got)
	}

	t.Setenv("DYNO", "web.1")
	if got := GetID(); got != "web.1" {
		t.Fatalf("expected dyno id, got %q", got)
	}

	t.Setenv("WORKER_ID", "outbox-2")
	if got := GetID(); got != "outbox-2" {
		t.Fatalf("expected worker id to win, got %q", got)
	}
}
