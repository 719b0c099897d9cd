package taskqueue

import (
	"context"
	"reflect"
	"testing"
)

func noopHandler(ctx context.Context, entry *Entry) error { return nil }

func TestRegistryRegister(t *testing.T) {
	r := NewRegistry()

	if err := r.Register("webhooks.send", noopHandler); err != nil {
		t.Fatalf("Register() error = %v", err)
	}
	if err := r.Register("webhooks.send", noopHandler); err == nil {
		t.Error("Register() duplicate kind error = nil, want error")
	}
	if err := r.Register("", noopHandler); err == nil {
		t.Error("Register() empty kind error = nil, want error")
	}
	if err := r.Register("webhooks.other", nil); err == nil {
		t.Error("Register() nil handler error = nil, want error")
	}
}

func TestRegistryResolve(t *testing.T) {
	r := NewRegistry()
	r.MustRegister("webhooks.send", noopHandler)

	if _, ok := r.Resolve("webhooks.send"); !ok {
		t.Error("Resolve() registered kind not found")
	}
	if _, ok := r.Resolve("webhooks.unknown"); ok {
		t.Error("Resolve() unknown kind found")
	}
}

func TestRegistryKindsSorted(t *testing.T) {
	r := NewRegistry()
	r.MustRegister("c.task", noopHandler)
	r.MustRegister("a.task", noopHandler)
	r.MustRegister("b.task", noopHandler)

	want := []Kind{"a.task", "b.task", "c.task"}
	if got := r.Kinds(); !reflect.DeepEqual(got, want) {
		t.Errorf("Kinds() = %v, want %v", got, want)
	}
}

func TestMustRegisterPanics(t *testing.T) {
	defer func() {
		if recover() == nil {
			t.Error("MustRegister() duplicate did not panic")
		}
	}()
	r := NewRegistry()
	r.MustRegister("webhooks.send", noopHandler)
	r.MustRegister("webhooks.send", noopHandler)
}
