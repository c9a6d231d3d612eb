package token

import (
	"strings"
	"testing"
	"unicode/utf8"

	"github.com/hpungsan/modrelay/internal/errors"
)

func TestApprove_RoundTrip(t *testing.T) {
	tok := EncodeApprove(123456789, "Short subject")
	if tok != "approve:123456789:Short subject" {
		t.Fatalf("EncodeApprove() = %q", tok)
	}

	got, err := Decode(tok)
	if err != nil {
		t.Fatalf("Decode() error = %v", err)
	}
	if got.Action != ActionApprove || got.SubmitterID != 123456789 || got.Subject != "Short subject" {
		t.Errorf("Decode() = %+v", got)
	}
}

// The subject only survives its first 30 characters plus the marker. This is
// the intended lossy behavior, not a round-trip bug.
func TestApprove_SubjectTruncatedOneWay(t *testing.T) {
	subject := "This subject is definitely longer than thirty characters"
	got, err := Decode(EncodeApprove(42, subject))
	if err != nil {
		t.Fatalf("Decode() error = %v", err)
	}

	if got.SubmitterID != 42 {
		t.Errorf("SubmitterID = %d, want 42", got.SubmitterID)
	}
	want := subject[:30] + Ellipsis
	if got.Subject != want {
		t.Errorf("Subject = %q, want %q", got.Subject, want)
	}
	if got.Subject == subject {
		t.Error("long subject must not round-trip in full")
	}
}

func TestApprove_FitsPayloadCeiling(t *testing.T) {
	subjects := []string{
		strings.Repeat("x", 200),
		strings.Repeat("س", 200),
		"یک موضوع طولانی فارسی برای آزمایش محدودیت طول",
	}
	for _, s := range subjects {
		tok := EncodeApprove(9223372036854775807, s)
		if len(tok) > MaxBytes {
			t.Errorf("token is %d bytes, want <= %d: %q", len(tok), MaxBytes, tok)
		}
		if !utf8.ValidString(tok) {
			t.Errorf("token is not valid UTF-8: %q", tok)
		}
		if _, err := Decode(tok); err != nil {
			t.Errorf("Decode() error = %v", err)
		}
	}
}

func TestApprove_SubjectWithColons(t *testing.T) {
	got, err := Decode(EncodeApprove(7, "a:b:c"))
	if err != nil {
		t.Fatalf("Decode() error = %v", err)
	}
	if got.Subject != "a:b:c" {
		t.Errorf("Subject = %q, want a:b:c", got.Subject)
	}
}

func TestDelete_RoundTrip(t *testing.T) {
	tok := EncodeDelete(-100200)
	got, err := Decode(tok)
	if err != nil {
		t.Fatalf("Decode() error = %v", err)
	}
	if got.Action != ActionDelete || got.SubmitterID != -100200 {
		t.Errorf("Decode() = %+v", got)
	}
	if !got.IsDecision() {
		t.Error("delete should be a decision")
	}
}

func TestDecode_Menu(t *testing.T) {
	for _, a := range []Action{ActionStartSubmit, ActionStartAddAdmin, ActionStartRemoveAdmin} {
		got, err := Decode(Encode(a))
		if err != nil {
			t.Fatalf("Decode(%q) error = %v", a, err)
		}
		if got.Action != a || got.IsDecision() {
			t.Errorf("Decode(%q) = %+v", a, got)
		}
	}
}

func TestDecode_Malformed(t *testing.T) {
	tests := []string{
		"",
		"approve",
		"approve:abc:subject",
		"approve:12",
		"delete:",
		"delete:xyz",
		"publish:12",
		"approve::s",
	}
	for _, in := range tests {
		t.Run(in, func(t *testing.T) {
			_, err := Decode(in)
			if err == nil {
				t.Fatalf("Decode(%q) expected error", in)
			}
			if !errors.Is(err, errors.ErrMalformedToken) {
				t.Errorf("Decode(%q) error = %v, want MALFORMED_TOKEN", in, err)
			}
		})
	}
}

func TestDecisionKeyboard(t *testing.T) {
	kb := DecisionKeyboard(5, "S", "ok", "no")
	if len(kb) != 1 || len(kb[0]) != 2 {
		t.Fatalf("keyboard shape = %v", kb)
	}
	if kb[0][0].Token != "approve:5:S" || kb[0][1].Token != "delete:5" {
		t.Errorf("tokens = %q, %q", kb[0][0].Token, kb[0][1].Token)
	}
}
