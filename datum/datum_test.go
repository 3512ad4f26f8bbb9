package datum

import "testing"

type memoryBackend struct {
	existing map[string]bool
}

func (m *memoryBackend) ValidateFormat(pointer any) bool {
	_, ok := pointer.(string)
	return ok
}

func (m *memoryBackend) VerifyAvailable(pointer any) bool {
	return m.existing[pointer.(string)]
}

func (m *memoryBackend) ClearLogic(pointer any) {
	delete(m.existing, pointer.(string))
}

func (m *memoryBackend) Quickhash(pointer any) string {
	return "h:" + pointer.(string)
}

func TestLifecycleHappyPath(t *testing.T) {
	backend := &memoryBackend{existing: map[string]bool{"a": true}}
	d := NewBase(backend)

	if d.State() != Empty {
		t.Fatalf("expected Empty, got %s", d.State())
	}
	if err := d.Populate("a"); err != nil {
		t.Fatalf("populate: %v", err)
	}
	if d.State() != Populated {
		t.Fatalf("expected Populated, got %s", d.State())
	}
	if err := d.Verify(); err != nil {
		t.Fatalf("verify: %v", err)
	}
	if d.State() != Available {
		t.Fatalf("expected Available, got %s", d.State())
	}
	if d.Hash() != "h:a" {
		t.Fatalf("unexpected hash %q", d.Hash())
	}
}

func TestPopulateIdempotent(t *testing.T) {
	backend := &memoryBackend{existing: map[string]bool{"a": true}}
	d := NewBase(backend)

	if err := d.Populate("a"); err != nil {
		t.Fatalf("first populate: %v", err)
	}
	if err := d.Populate("a"); err != nil {
		t.Fatalf("idempotent populate should succeed: %v", err)
	}
	if err := d.Populate("b"); err == nil {
		t.Fatalf("populate with a different pointer should fail from POPULATED")
	}
}

func TestPopulateInvalidFormat(t *testing.T) {
	backend := &memoryBackend{existing: map[string]bool{}}
	d := NewBase(backend)

	if err := d.Populate(42); err == nil {
		t.Fatalf("expected InvalidFormat error")
	}
}

func TestVerifyNotAvailable(t *testing.T) {
	backend := &memoryBackend{existing: map[string]bool{}}
	d := NewBase(backend)

	if err := d.Populate("missing"); err != nil {
		t.Fatalf("populate: %v", err)
	}
	if err := d.Verify(); err == nil {
		t.Fatalf("expected NotAvailable error")
	}
	if d.State() != Populated {
		t.Fatalf("state should remain Populated after failed verify, got %s", d.State())
	}
}

func TestClearResetsToEmpty(t *testing.T) {
	backend := &memoryBackend{existing: map[string]bool{"a": true}}
	d := NewBase(backend)

	_ = d.Populate("a")
	_ = d.Verify()
	d.Clear()

	if d.State() != Empty {
		t.Fatalf("expected Empty after clear, got %s", d.State())
	}
	if d.Pointer() != nil {
		t.Fatalf("expected nil pointer after clear")
	}
	if backend.existing["a"] {
		t.Fatalf("expected backend to have dropped the value")
	}
}

func TestVerifyBeforePopulate(t *testing.T) {
	backend := &memoryBackend{existing: map[string]bool{}}
	d := NewBase(backend)

	if err := d.Verify(); err == nil {
		t.Fatalf("expected error verifying an EMPTY datum")
	}
}
