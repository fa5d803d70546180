// Package joincode implements the compact time-bound join code shared between
// the authoring side and student devices. A code encodes the permitted start
// instant masked by the quiz's unlock secret, so it can be verified fully
// offline and regenerated deterministically instead of stored.
package joincode

import (
	"crypto/sha256"
	"encoding/base64"
	"encoding/binary"
	"encoding/hex"
	"fmt"
	"strings"
	"time"

	"github.com/Robin-Kumar-rk/Cheat-Crusher/internal/domain"
)

// Prefix marks the current masked wire format.
const Prefix = "J2"

const checksumLen = 6

// Generate builds a code for the given secret and start instant:
// "J2" + base64url(8-byte big-endian maskedEpoch, no padding) + "-" + 6 hex chars.
// The same (secret, start) pair always yields the same code.
func Generate(secret string, start time.Time) (string, error) {
	if strings.TrimSpace(secret) == "" {
		return "", domain.ErrSecretMissing
	}
	epoch := start.Unix()
	if epoch < 0 {
		return "", fmt.Errorf("start instant %v precedes the epoch", start)
	}

	payload := make([]byte, 8)
	binary.BigEndian.PutUint64(payload, uint64(epoch)^mask(secret))

	return Prefix + base64.RawURLEncoding.EncodeToString(payload) + "-" + checksum(payload, secret), nil
}

// Verify decodes and checks a join code against the secret and join-latency
// window. now must be guarded time, never the raw wall clock. On success the
// decoded start instant is returned. The legacy "secret|ISO-8601" format is
// accepted read-only.
func Verify(code, secret string, latencyMinutes int, now time.Time) (time.Time, error) {
	if strings.TrimSpace(secret) == "" {
		return time.Time{}, domain.ErrSecretMissing
	}
	code = strings.TrimSpace(code)

	var start time.Time
	switch {
	case strings.Contains(code, "|"):
		var err error
		if start, err = decodeLegacy(code, secret); err != nil {
			return time.Time{}, err
		}
	case strings.HasPrefix(code, Prefix):
		var err error
		if start, err = decodeMasked(code, secret); err != nil {
			return time.Time{}, err
		}
	default:
		return time.Time{}, domain.ErrCodeMalformed
	}

	if latencyMinutes < 0 {
		latencyMinutes = 0
	}
	end := start.Add(time.Duration(latencyMinutes) * time.Minute)
	switch {
	case now.Before(start):
		return time.Time{}, domain.ErrTooEarly
	case now.After(end):
		return time.Time{}, domain.ErrWindowExpired
	}
	return start, nil
}

// decodeMasked unmasks a J2 code. The checksum separator is the last '-' in
// the body: the base64url alphabet can itself produce '-', the checksum never does.
func decodeMasked(code, secret string) (time.Time, error) {
	body := strings.TrimPrefix(code, Prefix)
	cut := strings.LastIndex(body, "-")
	if cut <= 0 || len(body)-cut-1 != checksumLen {
		return time.Time{}, domain.ErrCodeMalformed
	}
	encoded, sum := body[:cut], body[cut+1:]

	payload, err := base64.RawURLEncoding.DecodeString(encoded)
	if err != nil || len(payload) != 8 {
		return time.Time{}, domain.ErrCodeMalformed
	}

	// Checksum first: a wrong secret or transcription error fails fast, before
	// the payload bytes are ever interpreted as a time.
	if !strings.EqualFold(checksum(payload, secret), sum) {
		return time.Time{}, domain.ErrChecksumInvalid
	}

	epoch := binary.BigEndian.Uint64(payload) ^ mask(secret)
	return time.Unix(int64(epoch), 0).UTC(), nil
}

func decodeLegacy(code, secret string) (time.Time, error) {
	parts := strings.SplitN(code, "|", 3)
	if len(parts) != 2 {
		return time.Time{}, domain.ErrCodeMalformed
	}
	if strings.TrimSpace(parts[0]) != strings.TrimSpace(secret) {
		return time.Time{}, domain.ErrChecksumInvalid
	}
	start, err := time.Parse(time.RFC3339, strings.TrimSpace(parts[1]))
	if err != nil {
		return time.Time{}, domain.ErrCodeMalformed
	}
	return start.UTC(), nil
}

// mask derives the epoch mask from the first 8 bytes of SHA-256(secret).
func mask(secret string) uint64 {
	sum := sha256.Sum256([]byte(secret))
	return binary.BigEndian.Uint64(sum[:8])
}

// checksum is the first 6 uppercase hex chars of SHA-256(payload || secret).
func checksum(payload []byte, secret string) string {
	sum := sha256.Sum256(append(append([]byte{}, payload...), secret...))
	return strings.ToUpper(hex.EncodeToString(sum[:]))[:checksumLen]
}
