package tenant_test

import (
	"context"
	"testing"

	"github.com/quillhq/quill/internal/log"
	"github.com/quillhq/quill/internal/tenant"
	"github.com/quillhq/quill/internal/testutil"
)

func TestStore_Preamble(t *testing.T) {
	db, cleanup := testutil.SetupTestDB(t)
	defer cleanup()

	store, err := tenant.NewStore(db.Pool, log.NewNop())
	if err != nil {
		t.Fatalf("NewStore() error = %v", err)
	}
	ctx := context.Background()

	// Unknown tenant has no preamble, not an error.
	p, err := store.Preamble(ctx, "acme")
	if err != nil {
		t.Fatalf("Preamble() error = %v", err)
	}
	if p != "" {
		t.Errorf("Preamble() for unknown tenant = %q, want empty", p)
	}

	if err := store.SetPreamble(ctx, "acme", "Prefer a formal tone."); err != nil {
		t.Fatalf("SetPreamble() error = %v", err)
	}
	p, err = store.Preamble(ctx, "acme")
	if err != nil || p != "Prefer a formal tone." {
		t.Errorf("Preamble() = (%q, %v)", p, err)
	}

	// Upsert replaces.
	if err := store.SetPreamble(ctx, "acme", "Keep answers brief."); err != nil {
		t.Fatalf("SetPreamble() update error = %v", err)
	}
	p, _ = store.Preamble(ctx, "acme")
	if p != "Keep answers brief." {
		t.Errorf("Preamble() after update = %q", p)
	}

	// Other tenants are unaffected.
	p, err = store.Preamble(ctx, "globex")
	if err != nil || p != "" {
		t.Errorf("Preamble() for other tenant = (%q, %v), want empty", p, err)
	}
}
