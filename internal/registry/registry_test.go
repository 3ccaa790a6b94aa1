package registry

import (
	"testing"

	"github.com/glebarez/sqlite"
	"gorm.io/gorm"

	"github.com/fahrizalm14/wasap-gateway/internal/models"
)

func newTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{})
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	if err := db.AutoMigrate(&models.ApiKey{}); err != nil {
		t.Fatalf("automigrate: %v", err)
	}
	return db
}

func TestGenerateProducesUniqueActiveKey(t *testing.T) {
	r := New(newTestDB(t))

	label := "mobile-app"
	key, err := r.Generate(&label)
	if err != nil {
		t.Fatalf("generate: %v", err)
	}
	if !key.IsActive {
		t.Fatalf("expected generated key to be active")
	}
	if key.Key == "" {
		t.Fatalf("expected non-empty key")
	}

	second, err := r.Generate(nil)
	if err != nil {
		t.Fatalf("generate second: %v", err)
	}
	if second.Key == key.Key {
		t.Fatalf("expected distinct keys")
	}
}

func TestAssertActiveTrimsAndRejectsInactive(t *testing.T) {
	db := newTestDB(t)
	r := New(db)

	label := "svc"
	key, err := r.Generate(&label)
	if err != nil {
		t.Fatalf("generate: %v", err)
	}

	if _, err := r.AssertActive("  " + key.Key + "  "); err != nil {
		t.Fatalf("expected trimmed key to resolve, got %v", err)
	}

	if _, err := r.Deactivate(key.Key); err != nil {
		t.Fatalf("deactivate: %v", err)
	}

	if _, err := r.AssertActive(key.Key); err == nil {
		t.Fatalf("expected deactivated key to be rejected")
	}
}

func TestAssertActiveUnknownKeyFailsSameAsDeactivated(t *testing.T) {
	r := New(newTestDB(t))

	_, errUnknown := r.AssertActive("does-not-exist")
	if errUnknown == nil {
		t.Fatalf("expected failure for unknown key")
	}

	label := "x"
	key, _ := r.Generate(&label)
	_, _ = r.Deactivate(key.Key)
	_, errDeactivated := r.AssertActive(key.Key)

	if errUnknown.Error() != errDeactivated.Error() {
		t.Fatalf("expected uniform not-registered failure, got %q vs %q", errUnknown, errDeactivated)
	}
}

func TestDeactivateUnknownKeyReturnsNil(t *testing.T) {
	r := New(newTestDB(t))

	record, err := r.Deactivate("does-not-exist")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if record != nil {
		t.Fatalf("expected nil record for unknown key")
	}
}
