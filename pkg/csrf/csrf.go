// Package csrf issues and checks double-submit tokens bound to a client
// fingerprint and an issue time.
package csrf

import (
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strconv"
	"strings"
	"time"
)

const keyLength = 32

func formMessage(binding, randValue string, issuedAt int64) []byte {
	return fmt.Appendf(nil, "%d!%s!%d!%s!%d", len(binding), binding, len(randValue), randValue, issuedAt)
}

func sign(binding, randValue string, issuedAt int64, key []byte) []byte {
	hash := hmac.New(sha256.New, key)
	hash.Write(formMessage(binding, randValue, issuedAt))
	return hash.Sum(nil)
}

// NewToken returns "<hmac>.<random>.<unix issue time>".
func NewToken(binding string, key []byte, issuedAt time.Time) string {
	buf := make([]byte, keyLength)
	_, _ = rand.Read(buf)
	randValue := hex.EncodeToString(buf)
	ts := issuedAt.Unix()

	return hex.EncodeToString(sign(binding, randValue, ts, key)) + "." + randValue + "." + strconv.FormatInt(ts, 10)
}

// Validate checks the signature and that the token is not older than maxAge
// at now. A non-positive maxAge disables the age check.
func Validate(token, binding string, key []byte, maxAge time.Duration, now time.Time) bool {
	parts := strings.Split(token, ".")
	if len(parts) != 3 {
		return false
	}

	receivedHmacValue, err := hex.DecodeString(parts[0])
	if err != nil {
		return false
	}

	issuedAt, err := strconv.ParseInt(parts[2], 10, 64)
	if err != nil {
		return false
	}

	if !hmac.Equal(receivedHmacValue, sign(binding, parts[1], issuedAt, key)) {
		return false
	}

	if maxAge > 0 {
		issued := time.Unix(issuedAt, 0)
		if now.Before(issued.Add(-time.Minute)) || now.Sub(issued) > maxAge {
			return false
		}
	}

	return true
}
