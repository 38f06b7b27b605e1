package audit

import "testing"

type record string

func (r record) SigningPayload() []byte { return []byte(r) }

func TestNewSigner(t *testing.T) {
	if NewSigner("") != nil {
		t.Error("expected nil signer for empty secret")
	}
	s := NewSigner("test-secret")
	if s == nil {
		t.Fatal("expected non-nil signer")
	}
	if string(s.secretKey) != "test-secret" {
		t.Errorf("expected secret key %q, got %q", "test-secret", string(s.secretKey))
	}
}

func TestSigner_Sign(t *testing.T) {
	s := NewSigner("test-secret")

	sig := s.Sign(record("entry-1"))
	if len(sig) != 64 {
		t.Errorf("expected 64 hex characters, got %d", len(sig))
	}
	if again := s.Sign(record("entry-1")); again != sig {
		t.Error("signature should be deterministic")
	}
	if other := s.Sign(record("entry-2")); other == sig {
		t.Error("different payloads should produce different signatures")
	}
	if other := NewSigner("other-secret").Sign(record("entry-1")); other == sig {
		t.Error("different secrets should produce different signatures")
	}
}

func TestSigner_Verify(t *testing.T) {
	s := NewSigner("test-secret")
	sig := s.Sign(record("entry-1"))

	tests := []struct {
		name string
		rec  record
		sig  string
		want bool
	}{
		{"valid", "entry-1", sig, true},
		{"altered payload", "entry-1-altered", sig, false},
		{"missing signature", "entry-1", "", false},
		{"garbage signature", "entry-1", "deadbeef", false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := s.Verify(tt.rec, tt.sig); got != tt.want {
				t.Errorf("Verify() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestNilSigner(t *testing.T) {
	var s *Signer
	if got := s.Sign(record("x")); got != "" {
		t.Errorf("expected empty signature, got %q", got)
	}
	if !s.Verify(record("x"), "anything") {
		t.Error("nil signer should accept every record")
	}
}
