package session

import (
	"encoding/binary"
	"errors"
	"time"
)

const (
	blobVersion = 1
	blobSize    = 1 + 8 + 8 + 8 + 8

	offUserID   = 1
	offCreated  = 9
	offExpires  = 17
	offActivity = 25
)

// ErrCorrupt is returned when a stored blob cannot be decoded.
var ErrCorrupt = errors.New("session blob corrupt")

// Encode serializes s without its id.
func Encode(s *Session) []byte {
	buf := make([]byte, blobSize)
	buf[0] = blobVersion
	binary.BigEndian.PutUint64(buf[offUserID:], uint64(s.UserID))
	binary.BigEndian.PutUint64(buf[offCreated:], uint64(s.CreatedAt.UnixMilli()))
	binary.BigEndian.PutUint64(buf[offExpires:], uint64(s.ExpiresAt.UnixMilli()))
	binary.BigEndian.PutUint64(buf[offActivity:], uint64(s.LastActivity.UnixMilli()))
	return buf
}

// Decode parses a blob produced by Encode and binds it to sessionID.
func Decode(sessionID string, data []byte) (*Session, error) {
	if len(data) != blobSize || data[0] != blobVersion {
		return nil, ErrCorrupt
	}
	uid := int64(binary.BigEndian.Uint64(data[offUserID:]))
	if uid <= 0 {
		return nil, ErrCorrupt
	}
	return &Session{
		SessionID:    sessionID,
		UserID:       uid,
		CreatedAt:    readMillis(data[offCreated:]),
		ExpiresAt:    readMillis(data[offExpires:]),
		LastActivity: readMillis(data[offActivity:]),
	}, nil
}

func readMillis(b []byte) time.Time {
	return time.UnixMilli(int64(binary.BigEndian.Uint64(b))).UTC()
}

func encodeMillis(t time.Time) []byte {
	var b [8]byte
	binary.BigEndian.PutUint64(b[:], uint64(t.UnixMilli()))
	return b[:]
}
