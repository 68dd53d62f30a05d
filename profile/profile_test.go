package profile

import (
	"context"
	"testing"

	"github.com/bookfeedhq/bookfeed-go/backend/memorystore"
)

func TestGetMissingProfile(t *testing.T) {
	svc := NewService(memorystore.New())

	p, err := svc.Get(context.Background(), "nobody")
	if err != nil {
		t.Fatalf("Get() failed: %v", err)
	}
	if p != nil {
		t.Fatalf("Get() of missing profile = %+v, want nil", p)
	}
}

func TestCreateAndGet(t *testing.T) {
	svc := NewService(memorystore.New())
	ctx := context.Background()

	if err := svc.Create(ctx, "u1", "ana@x.com"); err != nil {
		t.Fatalf("Create() failed: %v", err)
	}

	p, err := svc.Get(ctx, "u1")
	if err != nil {
		t.Fatalf("Get() failed: %v", err)
	}
	if p == nil || p.ID != "u1" || p.Email != "ana@x.com" {
		t.Fatalf("Get() = %+v", p)
	}
	if p.DisplayName != "" || p.Bio != "" || p.PhotoURL != "" {
		t.Fatalf("fresh profile has non-empty optional fields: %+v", p)
	}
}

func TestApplyPartialUpdate(t *testing.T) {
	svc := NewService(memorystore.New())
	ctx := context.Background()

	if err := svc.Create(ctx, "u1", "ana@x.com"); err != nil {
		t.Fatalf("Create() failed: %v", err)
	}

	name, bio := "Ana", "reads a lot"
	if err := svc.Apply(ctx, "u1", Update{DisplayName: &name, Bio: &bio}); err != nil {
		t.Fatalf("Apply() failed: %v", err)
	}

	// Only the named field changes; the rest stay put.
	newBio := "reads even more"
	if err := svc.Apply(ctx, "u1", Update{Bio: &newBio}); err != nil {
		t.Fatalf("Apply() failed: %v", err)
	}

	p, err := svc.Get(ctx, "u1")
	if err != nil {
		t.Fatalf("Get() failed: %v", err)
	}
	if p.DisplayName != "Ana" || p.Bio != "reads even more" || p.Email != "ana@x.com" {
		t.Fatalf("profile after updates = %+v", p)
	}
}

func TestApplyEmptyUpdateIsNoop(t *testing.T) {
	svc := NewService(memorystore.New())
	if err := svc.Apply(context.Background(), "u1", Update{}); err != nil {
		t.Fatalf("empty Apply() failed: %v", err)
	}
}

func TestDisplayNameFallback(t *testing.T) {
	svc := NewService(memorystore.New())
	ctx := context.Background()

	name, err := svc.DisplayName(ctx, "nobody")
	if err != nil {
		t.Fatalf("DisplayName() failed: %v", err)
	}
	if name != UnknownDisplayName {
		t.Fatalf("DisplayName() of missing profile = %q, want %q", name, UnknownDisplayName)
	}

	if err := svc.Create(ctx, "u1", "ana@x.com"); err != nil {
		t.Fatalf("Create() failed: %v", err)
	}
	name, err = svc.DisplayName(ctx, "u1")
	if err != nil {
		t.Fatalf("DisplayName() failed: %v", err)
	}
	if name != "" {
		t.Fatalf("DisplayName() of nameless profile = %q, want empty", name)
	}

	set := "Ana"
	if err := svc.Apply(ctx, "u1", Update{DisplayName: &set}); err != nil {
		t.Fatalf("Apply() failed: %v", err)
	}
	name, err = svc.DisplayName(ctx, "u1")
	if err != nil {
		t.Fatalf("DisplayName() failed: %v", err)
	}
	if name != "Ana" {
		t.Fatalf("DisplayName() = %q, want Ana", name)
	}
}
