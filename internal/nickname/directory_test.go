package nickname

import (
	"context"
	"errors"
	"testing"

	"throwbot/internal/store"
)

func TestRegisterValidation(t *testing.T) {
	ctx := context.Background()
	d := NewDirectory(store.NewMemory())

	for _, nick := range []string{"", "two words", "bad-dash", "punct!", "émile"} {
		if err := d.Register(ctx, "u1", nick); !errors.Is(err, ErrInvalid) {
			t.Errorf("Register(%q) = %v, want ErrInvalid", nick, err)
		}
	}
	for _, nick := range []string{"alice", "Zed_42", "UPPER", "_"} {
		if err := d.Register(ctx, "u1", nick); err != nil {
			t.Errorf("Register(%q) = %v, want nil", nick, err)
		}
	}
}

func TestRegisterCaseInsensitiveUniqueness(t *testing.T) {
	ctx := context.Background()
	d := NewDirectory(store.NewMemory())

	if err := d.Register(ctx, "u1", "Alice"); err != nil {
		t.Fatalf("Register: %v", err)
	}
	if err := d.Register(ctx, "u2", "ALICE"); !errors.Is(err, ErrTaken) {
		t.Fatalf("Register different casing = %v, want ErrTaken", err)
	}
}

func TestResolveDenormalizedFields(t *testing.T) {
	ctx := context.Background()
	mem := store.NewMemory()
	d := NewDirectory(mem)

	if err := d.Register(ctx, "u1", "Alice"); err != nil {
		t.Fatalf("Register: %v", err)
	}
	u, err := d.Resolve(ctx, "alice")
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if u.UserID != "u1" || u.Nickname != "alice" || u.DisplayName != "Alice" {
		t.Fatalf("resolved user = %+v", u)
	}
	if _, err := d.Resolve(ctx, "bob"); !errors.Is(err, store.ErrNotFound) {
		t.Fatalf("Resolve missing = %v, want ErrNotFound", err)
	}
}

func TestResolveDanglingMapping(t *testing.T) {
	ctx := context.Background()
	mem := store.NewMemory()
	d := NewDirectory(mem)

	if err := d.Register(ctx, "u1", "alice"); err != nil {
		t.Fatalf("Register: %v", err)
	}
	if err := mem.DeleteUser(ctx, "u1"); err != nil {
		t.Fatalf("DeleteUser: %v", err)
	}
	if _, err := d.Resolve(ctx, "alice"); !errors.Is(err, store.ErrNotFound) {
		t.Fatalf("Resolve dangling = %v, want ErrNotFound", err)
	}
}

func TestExistsAndUnregister(t *testing.T) {
	ctx := context.Background()
	d := NewDirectory(store.NewMemory())

	if err := d.Register(ctx, "u1", "alice"); err != nil {
		t.Fatalf("Register: %v", err)
	}
	if ok, err := d.Exists(ctx, "Alice"); err != nil || !ok {
		t.Fatalf("Exists = %v, %v, want true", ok, err)
	}
	if err := d.Unregister(ctx, "alice"); err != nil {
		t.Fatalf("Unregister: %v", err)
	}
	if ok, err := d.Exists(ctx, "alice"); err != nil || ok {
		t.Fatalf("Exists after unregister = %v, %v, want false", ok, err)
	}
	if err := d.Register(ctx, "u2", "alice"); err != nil {
		t.Fatalf("Register after unregister: %v", err)
	}
}
