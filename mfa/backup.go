package mfa

import (
	"strings"

	"github.com/MrEthical07/authlab/internal"
	"github.com/MrEthical07/authlab/password"
)

const (
	// BackupCodeCount is the number of codes issued per setup.
	BackupCodeCount = 10

	backupCodeLength   = 10
	backupCodeAlphabet = "ABCDEFGHJKLMNPQRSTUVWXYZ23456789"
)

// GenerateBackupCodes returns n codes formatted XXXXX-XXXXX.
func GenerateBackupCodes(n int) ([]string, error) {
	if n <= 0 {
		n = BackupCodeCount
	}
	codes := make([]string, n)
	for i := range codes {
		raw, err := internal.NewAlphabetCode(backupCodeAlphabet, backupCodeLength)
		if err != nil {
			return nil, err
		}
		codes[i] = raw[:backupCodeLength/2] + "-" + raw[backupCodeLength/2:]
	}
	return codes, nil
}

// NormalizeBackupCode strips separators and upper-cases.
func NormalizeBackupCode(code string) string {
	code = strings.ToUpper(strings.TrimSpace(code))
	code = strings.ReplaceAll(code, "-", "")
	return strings.ReplaceAll(code, " ", "")
}

// HashBackupCodes hashes the normalized form of each code.
func HashBackupCodes(h password.Hasher, codes []string) ([]string, error) {
	out := make([]string, len(codes))
	for i, c := range codes {
		hashed, err := h.Hash(NormalizeBackupCode(c))
		if err != nil {
			return nil, err
		}
		out[i] = hashed
	}
	return out, nil
}

// VerifyBackupCode checks candidate against hashed. A candidate already in
// used fails with ErrBackupCodeReused before any hash comparison; a
// non-matching one fails with ErrCodeInvalid. On success the normalized
// candidate is returned for appending to used.
func VerifyBackupCode(h password.Hasher, hashed, used []string, candidate string) (string, error) {
	norm := NormalizeBackupCode(candidate)
	if len(norm) != backupCodeLength {
		return "", ErrCodeInvalid
	}
	for _, u := range used {
		if u == norm {
			return "", ErrBackupCodeReused
		}
	}
	// Every hash is checked so timing does not reveal the match position.
	matched := false
	for _, hc := range hashed {
		if ok, err := h.Verify(norm, hc); err == nil && ok {
			matched = true
		}
	}
	if !matched {
		return "", ErrCodeInvalid
	}
	return norm, nil
}
