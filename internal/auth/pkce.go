package auth

import (
	"crypto/sha256"
	"encoding/base64"
)

// VerifyPKCE checks verifier against challenge under method ("S256" or
// "plain"), per spec §4.C: "missing/invalid verifier -> invalid_grant".
func VerifyPKCE(challenge, method, verifier string) bool {
	if verifier == "" || challenge == "" {
		return false
	}
	switch method {
	case "plain", "":
		return verifier == challenge
	case "S256":
		sum := sha256.Sum256([]byte(verifier))
		computed := base64.RawURLEncoding.EncodeToString(sum[:])
		return computed == challenge
	default:
		return false
	}
}
