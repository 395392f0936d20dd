package safety

import "testing"

func TestCheck_DisabledAlwaysAllows(t *testing.T) {
	cfg := Config{Enabled: false, ConfirmationRequired: map[Category]bool{CategoryFileWrite: true}}
	got := Check(cfg, CategoryFileWrite)
	if got.Decision != Allow {
		t.Fatalf("expected Allow when gate disabled, got %s", got.Decision)
	}
}

func TestCheck_ConfirmationRequiredAsks(t *testing.T) {
	cfg := DefaultConfig()
	cfg.ConfirmationRequired[CategoryGitOps] = true

	if got := Check(cfg, CategoryGitOps); got.Decision != Ask {
		t.Fatalf("expected Ask for configured category, got %s", got.Decision)
	}
	if got := Check(cfg, CategoryNotification); got.Decision != Allow {
		t.Fatalf("expected Allow for unconfigured category, got %s", got.Decision)
	}
}

func TestCheck_ReferentiallyTransparent(t *testing.T) {
	cfg := DefaultConfig()
	cfg.ConfirmationRequired[CategorySystemCmd] = true

	a := Check(cfg, CategorySystemCmd)
	b := Check(cfg, CategorySystemCmd)
	if a != b {
		t.Fatalf("expected identical results for identical inputs, got %+v vs %+v", a, b)
	}
}
