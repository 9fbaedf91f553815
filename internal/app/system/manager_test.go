package system

import (
	"context"
	"errors"
	"testing"
)

type recordingService struct {
	name     string
	failWith error
	log      *[]string
}

func (r *recordingService) Name() string { return r.name }

func (r *recordingService) Start(context.Context) error {
	if r.failWith != nil {
		return r.failWith
	}
	*r.log = append(*r.log, "start:"+r.name)
	return nil
}

func (r *recordingService) Stop(context.Context) error {
	*r.log = append(*r.log, "stop:"+r.name)
	return nil
}

func TestManagerOrdersLifecycle(t *testing.T) {
	var log []string
	m := NewManager(nil)
	for _, name := range []string{"a", "b", "c"} {
		if err := m.Register(&recordingService{name: name, log: &log}); err != nil {
			t.Fatalf("register %s: %v", name, err)
		}
	}
	if err := m.Register(&recordingService{name: "a", log: &log}); err == nil {
		t.Fatalf("expected duplicate registration to fail")
	}
	if err := m.Start(context.Background()); err != nil {
		t.Fatalf("start: %v", err)
	}
	if err := m.Stop(context.Background()); err != nil {
		t.Fatalf("stop: %v", err)
	}
	want := []string{"start:a", "start:b", "start:c", "stop:c", "stop:b", "stop:a"}
	if len(log) != len(want) {
		t.Fatalf("unexpected lifecycle %v", log)
	}
	for i := range want {
		if log[i] != want[i] {
			t.Fatalf("step %d: expected %s, got %s", i, want[i], log[i])
		}
	}
}

func TestManagerRollsBackOnStartFailure(t *testing.T) {
	var log []string
	m := NewManager(nil)
	_ = m.Register(&recordingService{name: "a", log: &log})
	_ = m.Register(&recordingService{name: "b", log: &log, failWith: errors.New("boom")})

	if err := m.Start(context.Background()); err == nil {
		t.Fatalf("expected start failure")
	}
	if len(log) != 2 || log[0] != "start:a" || log[1] != "stop:a" {
		t.Fatalf("expected rollback of a, got %v", log)
	}
}
