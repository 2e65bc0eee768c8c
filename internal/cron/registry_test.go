package cron

import (
	"context"
	"testing"
	"time"
)

type stubJob struct {
	name string
}

func (s *stubJob) Name() string              { return s.name }
func (s *stubJob) Run(context.Context) error { return nil }

func TestRegistryKeepsOrderAndRejectsDuplicates(t *testing.T) {
	registry := NewRegistry()
	jobA := &stubJob{name: "a"}
	jobB := &stubJob{name: "b"}
	if err := registry.Register(jobA, 0); err != nil {
		t.Fatalf("register a: %v", err)
	}
	if err := registry.Register(jobB, time.Hour); err != nil {
		t.Fatalf("register b: %v", err)
	}
	if err := registry.Register(&stubJob{name: "a"}, 0); err == nil {
		t.Fatal("expected duplicate name to be rejected")
	}
	if err := registry.Register(nil, 0); err == nil {
		t.Fatal("expected nil job to be rejected")
	}

	jobs := registry.Jobs()
	if len(jobs) != 2 || jobs[0] != jobA || jobs[1] != jobB {
		t.Fatalf("unexpected jobs %v", jobs)
	}
	jobs[0] = nil
	if registry.Jobs()[0] == nil {
		t.Fatal("internal slice leaked")
	}
}

func TestRegistryDueHonoursSpacing(t *testing.T) {
	registry := NewRegistry()
	sweep := &stubJob{name: "sweep"}
	audit := &stubJob{name: "audit"}
	_ = registry.Register(sweep, 0)
	_ = registry.Register(audit, time.Hour)
	start := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	if due := registry.Due(start); len(due) != 2 {
		t.Fatalf("expected both jobs due on first cycle, got %d", len(due))
	}
	registry.MarkRan("sweep", start)
	registry.MarkRan("audit", start)

	due := registry.Due(start.Add(5 * time.Minute))
	if len(due) != 1 || due[0] != sweep {
		t.Fatalf("expected only sweep due, got %v", due)
	}
	if due := registry.Due(start.Add(time.Hour)); len(due) != 2 {
		t.Fatalf("expected audit due after an hour, got %d", len(due))
	}
}
