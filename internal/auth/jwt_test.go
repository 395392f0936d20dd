package auth

import "testing"

func TestJWTServiceGenerateAndValidate(t *testing.T) {
	svc := NewJWTService("test-secret", 0)
	token, err := svc.Generate("operator-1", "operator")
	if err != nil {
		t.Fatalf("Generate: %v", err)
	}

	claims, err := svc.Validate(token)
	if err != nil {
		t.Fatalf("Validate: %v", err)
	}
	if claims.Subject != "operator-1" || claims.Role != "operator" {
		t.Fatalf("unexpected claims: %+v", claims)
	}
}

func TestJWTServiceRejectsTamperedToken(t *testing.T) {
	svc := NewJWTService("test-secret", 0)
	token, err := svc.Generate("node-1", "node")
	if err != nil {
		t.Fatalf("Generate: %v", err)
	}

	other := NewJWTService("different-secret", 0)
	if _, err := other.Validate(token); err == nil {
		t.Fatal("expected validation to fail with mismatched secret")
	}
}

func TestJWTServiceDisabledWithoutSecret(t *testing.T) {
	svc := NewJWTService("", 0)
	if _, err := svc.Generate("operator-1", "operator"); err != ErrAuthDisabled {
		t.Fatalf("expected ErrAuthDisabled, got %v", err)
	}
}
