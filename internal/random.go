package internal

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"errors"
	"math/big"
	"strings"
)

// SessionID is 256 bits of CSPRNG output.
type SessionID [32]byte

const opaqueTokenSize = 32

var errInvalidSessionID = errors.New("invalid session id")

func NewSessionID() (SessionID, error) {
	var sid SessionID
	_, err := rand.Read(sid[:])
	return sid, err
}

func (s SessionID) Bytes() []byte {
	return s[:]
}

func (s SessionID) String() string {
	// base64url, no padding, compact
	return base64.RawURLEncoding.EncodeToString(s[:])
}

func ParseSessionID(sessionID string) (SessionID, error) {
	var sid SessionID

	raw, err := base64.RawURLEncoding.DecodeString(sessionID)
	if err != nil {
		return sid, errInvalidSessionID
	}
	if len(raw) != len(sid) {
		return sid, errInvalidSessionID
	}

	copy(sid[:], raw)
	return sid, nil
}

// NewOpaqueToken returns 256 random bits encoded base64url without padding.
func NewOpaqueToken() (string, error) {
	var raw [opaqueTokenSize]byte
	if _, err := rand.Read(raw[:]); err != nil {
		return "", err
	}
	return base64.RawURLEncoding.EncodeToString(raw[:]), nil
}

// HashToken is the storage fingerprint of a bearer value; stores never key on raw tokens.
func HashToken(v string) [32]byte {
	return sha256.Sum256([]byte(v))
}

// HashTokenString is HashToken encoded for use in map and Redis keys.
func HashTokenString(v string) string {
	sum := HashToken(v)
	return base64.RawURLEncoding.EncodeToString(sum[:])
}

// RandomIndex returns a uniform integer in [0, n).
func RandomIndex(n int) (int, error) {
	if n <= 0 {
		return 0, errors.New("invalid random bound")
	}
	v, err := rand.Int(rand.Reader, big.NewInt(int64(n)))
	if err != nil {
		return 0, err
	}
	return int(v.Int64()), nil
}

// NewAlphabetCode draws length symbols uniformly from alphabet.
func NewAlphabetCode(alphabet string, length int) (string, error) {
	if alphabet == "" || length <= 0 {
		return "", errors.New("invalid code parameters")
	}

	var b strings.Builder
	b.Grow(length)
	for i := 0; i < length; i++ {
		idx, err := RandomIndex(len(alphabet))
		if err != nil {
			return "", err
		}
		b.WriteByte(alphabet[idx])
	}
	return b.String(), nil
}
