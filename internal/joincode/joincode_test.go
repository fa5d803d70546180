package joincode

import (
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/Robin-Kumar-rk/Cheat-Crusher/internal/domain"
)

func TestGenerateVerifyRoundTrip(t *testing.T) {
	start := time.Date(2025, 1, 1, 10, 0, 0, 0, time.UTC)
	code, err := Generate("ABCDEF", start)
	if err != nil {
		t.Fatalf("generate: %v", err)
	}
	if !strings.HasPrefix(code, "J2") {
		t.Fatalf("expected J2 prefix, got %q", code)
	}

	cases := []struct {
		name    string
		now     time.Time
		wantErr error
	}{
		{"at start", start, nil},
		{"inside window", start.Add(10 * time.Minute), nil},
		{"at window end", start.Add(15 * time.Minute), nil},
		{"one minute early", start.Add(-time.Minute), domain.ErrTooEarly},
		{"one minute late", start.Add(16 * time.Minute), domain.ErrWindowExpired},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			decoded, err := Verify(code, "ABCDEF", 15, tc.now)
			if !errors.Is(err, tc.wantErr) {
				t.Fatalf("verify at %v: got %v, want %v", tc.now, err, tc.wantErr)
			}
			if tc.wantErr == nil && !decoded.Equal(start) {
				t.Fatalf("decoded start %v, want %v", decoded, start)
			}
		})
	}
}

func TestGenerateIsDeterministic(t *testing.T) {
	start := time.Date(2025, 3, 10, 9, 30, 0, 0, time.UTC)
	a, err := Generate("secret-1", start)
	if err != nil {
		t.Fatalf("generate: %v", err)
	}
	b, err := Generate("secret-1", start)
	if err != nil {
		t.Fatalf("generate: %v", err)
	}
	if a != b {
		t.Fatalf("same inputs produced different codes: %q vs %q", a, b)
	}
	c, err := Generate("secret-2", start)
	if err != nil {
		t.Fatalf("generate: %v", err)
	}
	if a == c {
		t.Fatalf("different secrets produced identical codes")
	}
}

func TestVerifyRejectsWrongSecret(t *testing.T) {
	start := time.Date(2025, 1, 1, 10, 0, 0, 0, time.UTC)
	code, err := Generate("right", start)
	if err != nil {
		t.Fatalf("generate: %v", err)
	}
	if _, err := Verify(code, "wrong", 15, start); !errors.Is(err, domain.ErrChecksumInvalid) {
		t.Fatalf("expected checksum error for wrong secret, got %v", err)
	}
}

func TestVerifyChecksumIsCaseInsensitive(t *testing.T) {
	start := time.Date(2025, 1, 1, 10, 0, 0, 0, time.UTC)
	code, err := Generate("ABCDEF", start)
	if err != nil {
		t.Fatalf("generate: %v", err)
	}
	cut := strings.LastIndex(code, "-")
	lowered := code[:cut+1] + strings.ToLower(code[cut+1:])
	if _, err := Verify(lowered, "ABCDEF", 15, start); err != nil {
		t.Fatalf("lowercased checksum rejected: %v", err)
	}
}

func TestVerifyMissingSecret(t *testing.T) {
	if _, err := Verify("J2whatever-ABCDEF", "", 15, time.Now()); !errors.Is(err, domain.ErrSecretMissing) {
		t.Fatalf("expected secret missing, got %v", err)
	}
	if _, err := Generate("   ", time.Now()); !errors.Is(err, domain.ErrSecretMissing) {
		t.Fatalf("expected secret missing on generate, got %v", err)
	}
}

func TestVerifyMalformed(t *testing.T) {
	now := time.Now()
	for _, code := range []string{
		"",
		"garbage",
		"J2",
		"J2-ABCDEF",          // empty payload
		"J2aaaa-ABC",         // short checksum
		"J2!!nothex-ABCDEF",  // not base64url
		"J2AAAA-ABCDEF",      // payload decodes to fewer than 8 bytes
	} {
		if _, err := Verify(code, "s", 15, now); !errors.Is(err, domain.ErrCodeMalformed) {
			t.Fatalf("code %q: expected malformed, got %v", code, err)
		}
	}
}

func TestVerifyLegacyFormat(t *testing.T) {
	start := time.Date(2025, 1, 1, 10, 0, 0, 0, time.UTC)
	code := "ABCDEF|2025-01-01T10:00:00Z"

	decoded, err := Verify(code, "ABCDEF", 15, start.Add(5*time.Minute))
	if err != nil {
		t.Fatalf("legacy verify: %v", err)
	}
	if !decoded.Equal(start) {
		t.Fatalf("decoded %v, want %v", decoded, start)
	}

	if _, err := Verify(code, "OTHER", 15, start); !errors.Is(err, domain.ErrChecksumInvalid) {
		t.Fatalf("expected secret mismatch, got %v", err)
	}
	if _, err := Verify("ABCDEF|not-a-time", "ABCDEF", 15, start); !errors.Is(err, domain.ErrCodeMalformed) {
		t.Fatalf("expected malformed legacy date, got %v", err)
	}
}

func TestVerifyZeroLatency(t *testing.T) {
	start := time.Date(2025, 6, 1, 8, 0, 0, 0, time.UTC)
	code, err := Generate("s3cret", start)
	if err != nil {
		t.Fatalf("generate: %v", err)
	}
	if _, err := Verify(code, "s3cret", 0, start); err != nil {
		t.Fatalf("expected exact-instant join to pass with zero latency: %v", err)
	}
	if _, err := Verify(code, "s3cret", 0, start.Add(time.Second)); !errors.Is(err, domain.ErrWindowExpired) {
		t.Fatalf("expected expiry one second after start, got %v", err)
	}
	if _, err := Verify(code, "s3cret", -5, start); err != nil {
		t.Fatalf("negative latency should clamp to zero: %v", err)
	}
}
