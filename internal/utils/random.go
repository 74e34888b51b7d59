package utils

import (
	"crypto/rand"
	"encoding/hex"
	"math/big"
)

// codeAlphabet is used for emailed and backup codes. Uppercase plus
// digits keeps codes easy to read back over the phone.
const codeAlphabet = "ABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789"

// RandomToken returns n random bytes hex-encoded.
func RandomToken(n int) string {
	b := make([]byte, n)
	if _, err := rand.Read(b); err != nil {
		panic(err)
	}
	return hex.EncodeToString(b)
}

// RandomCode returns n characters drawn uniformly from codeAlphabet.
func RandomCode(n int) string {
	max := big.NewInt(int64(len(codeAlphabet)))
	b := make([]byte, n)
	for i := range b {
		idx, err := rand.Int(rand.Reader, max)
		if err != nil {
			panic(err)
		}
		b[i] = codeAlphabet[idx.Int64()]
	}
	return string(b)
}

// EmailCode returns a 6-character one-time code for 2FA mails.
func EmailCode() string { return RandomCode(6) }

// BackupCodes returns ten fresh 8-character recovery codes.
func BackupCodes() []string {
	codes := make([]string, 10)
	for i := range codes {
		codes[i] = RandomCode(8)
	}
	return codes
}
