package token

import (
	"context"
	"errors"
	"strconv"
	"time"

	"github.com/MrEthical07/authlab/internal"
	"github.com/MrEthical07/authlab/jwt"
	gjwt "github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

const (
	// DefaultAccessTTL bounds how long an access JWT verifies.
	DefaultAccessTTL = 15 * time.Minute
	// DefaultRefreshTTL bounds how long a refresh token can rotate.
	DefaultRefreshTTL = 7 * 24 * time.Hour
)

// Reason explains a failed verification.
type Reason string

// Verification reasons. ReasonNone means the token verified.
const (
	ReasonNone         Reason = ""
	ReasonMalformed    Reason = "malformed"
	ReasonBadSignature Reason = "bad_signature"
	ReasonExpired      Reason = "expired"
	ReasonRevoked      Reason = "revoked"
)

// Sentinels returned by Reason.Err.
var (
	ErrMalformed    = errors.New("token malformed")
	ErrBadSignature = errors.New("token signature invalid")
	ErrExpired      = errors.New("token expired")
	ErrRevoked      = errors.New("token revoked")
)

// Err maps r to its sentinel error, or nil for ReasonNone.
func (r Reason) Err() error {
	switch r {
	case ReasonNone:
		return nil
	case ReasonMalformed:
		return ErrMalformed
	case ReasonBadSignature:
		return ErrBadSignature
	case ReasonExpired:
		return ErrExpired
	case ReasonRevoked:
		return ErrRevoked
	default:
		return ErrMalformed
	}
}

// Verification is the outcome of Service.Verify.
type Verification struct {
	Valid  bool
	Claims *jwt.Claims
	Reason Reason
}

// Err returns nil for a valid token and the reason's sentinel otherwise.
func (v Verification) Err() error {
	if v.Valid {
		return nil
	}
	return v.Reason.Err()
}

// UserID parses the sub claim.
func (v Verification) UserID() (int64, error) {
	if v.Claims == nil {
		return 0, ErrMalformed
	}
	id, err := strconv.ParseInt(v.Claims.Subject, 10, 64)
	if err != nil || id <= 0 {
		return 0, ErrMalformed
	}
	return id, nil
}

// Identity is the informational profile embedded in access tokens.
type Identity struct {
	UserID   int64
	Email    string
	Username string
	Role     string
}

// IdentityLookup resolves the access-token profile during rotation, since
// refresh tokens carry only sub.
type IdentityLookup interface {
	LookupIdentity(ctx context.Context, userID int64) (Identity, error)
}

// Pair is an access token issued together with its refresh token.
type Pair struct {
	AccessToken      string
	RefreshToken     string
	AccessExpiresAt  time.Time
	RefreshExpiresAt time.Time
}

// Config holds token lifetimes.
type Config struct {
	AccessTTL  time.Duration
	RefreshTTL time.Duration
}

// Service issues, verifies and rotates tokens.
type Service struct {
	codec      *jwt.Manager
	store      RecordStore
	identities IdentityLookup
	accessTTL  time.Duration
	refreshTTL time.Duration
}

// NewService wires a codec to a record store. identities may be nil, in which
// case rotated access tokens carry only sub.
func NewService(codec *jwt.Manager, store RecordStore, identities IdentityLookup, cfg Config) *Service {
	if cfg.AccessTTL <= 0 {
		cfg.AccessTTL = DefaultAccessTTL
	}
	if cfg.RefreshTTL <= 0 {
		cfg.RefreshTTL = DefaultRefreshTTL
	}
	return &Service{
		codec:      codec,
		store:      store,
		identities: identities,
		accessTTL:  cfg.AccessTTL,
		refreshTTL: cfg.RefreshTTL,
	}
}

type signed struct {
	token  string
	record Record
}

func (s *Service) sign(typ jwt.TokenType, id Identity, now time.Time) (signed, error) {
	if id.UserID <= 0 {
		return signed{}, errors.New("token: invalid user id")
	}
	ttl := s.accessTTL
	if typ == jwt.TypeRefresh {
		ttl = s.refreshTTL
	}
	jti := uuid.NewString()
	exp := now.Add(ttl)

	claims := &jwt.Claims{
		Type: typ,
		RegisteredClaims: gjwt.RegisteredClaims{
			Subject:   strconv.FormatInt(id.UserID, 10),
			ID:        jti,
			IssuedAt:  gjwt.NewNumericDate(now),
			ExpiresAt: gjwt.NewNumericDate(exp),
		},
	}
	if typ == jwt.TypeAccess {
		claims.Email = id.Email
		claims.Username = id.Username
		claims.Role = id.Role
	}

	tok, err := s.codec.Sign(claims)
	if err != nil {
		return signed{}, err
	}
	return signed{
		token: tok,
		record: Record{
			ID:        jti,
			TokenHash: internal.HashTokenString(tok),
			UserID:    id.UserID,
			Type:      typ,
			IssuedAt:  now,
			ExpiresAt: exp,
		},
	}, nil
}

// IssueAccessToken signs and records an access token for id.
func (s *Service) IssueAccessToken(ctx context.Context, id Identity) (string, error) {
	t, err := s.sign(jwt.TypeAccess, id, s.codec.Now())
	if err != nil {
		return "", err
	}
	if err := s.store.Put(ctx, t.record); err != nil {
		return "", err
	}
	return t.token, nil
}

// IssueRefreshToken signs and records a refresh token for userID.
func (s *Service) IssueRefreshToken(ctx context.Context, userID int64) (string, error) {
	t, err := s.sign(jwt.TypeRefresh, Identity{UserID: userID}, s.codec.Now())
	if err != nil {
		return "", err
	}
	if err := s.store.Put(ctx, t.record); err != nil {
		return "", err
	}
	return t.token, nil
}

// IssuePair signs both tokens and records them together.
func (s *Service) IssuePair(ctx context.Context, id Identity) (Pair, error) {
	access, refresh, err := s.signPair(id)
	if err != nil {
		return Pair{}, err
	}
	if err := s.store.Put(ctx, access.record, refresh.record); err != nil {
		return Pair{}, err
	}
	return pairOf(access, refresh), nil
}

func (s *Service) signPair(id Identity) (signed, signed, error) {
	now := s.codec.Now()
	access, err := s.sign(jwt.TypeAccess, id, now)
	if err != nil {
		return signed{}, signed{}, err
	}
	refresh, err := s.sign(jwt.TypeRefresh, id, now)
	if err != nil {
		return signed{}, signed{}, err
	}
	return access, refresh, nil
}

func pairOf(access, refresh signed) Pair {
	return Pair{
		AccessToken:      access.token,
		RefreshToken:     refresh.token,
		AccessExpiresAt:  access.record.ExpiresAt,
		RefreshExpiresAt: refresh.record.ExpiresAt,
	}
}

// Verify checks structure, signature, expiry, type and revocation, in that
// order. The returned error is non-nil only for store failures; a rejected
// token is reported through Verification.Reason.
func (s *Service) Verify(ctx context.Context, tok string, expected jwt.TokenType) (Verification, error) {
	claims, err := s.codec.Parse(tok)
	if err != nil {
		return Verification{Reason: reasonOf(err)}, nil
	}
	if claims.Type != expected || claims.ID == "" {
		return Verification{Reason: ReasonMalformed}, nil
	}

	rec, err := s.store.Get(ctx, claims.ID)
	switch {
	case errors.Is(err, ErrRecordNotFound):
		return Verification{Claims: claims, Reason: ReasonRevoked}, nil
	case err != nil:
		return Verification{}, err
	}
	if rec.Revoked() || rec.TokenHash != internal.HashTokenString(tok) {
		return Verification{Claims: claims, Reason: ReasonRevoked}, nil
	}
	return Verification{Valid: true, Claims: claims}, nil
}

func reasonOf(err error) Reason {
	switch {
	case errors.Is(err, jwt.ErrBadSignature):
		return ReasonBadSignature
	case errors.Is(err, jwt.ErrExpired):
		return ReasonExpired
	default:
		return ReasonMalformed
	}
}

// RotateError reports a refresh token that was presented after it had
// already been rotated or revoked. FamilyRevoked counts the owner's tokens
// revoked in response.
type RotateError struct {
	UserID        int64
	FamilyRevoked int
}

func (e *RotateError) Error() string {
	return "refresh token reuse detected"
}

// Unwrap makes errors.Is(err, ErrRevoked) hold.
func (e *RotateError) Unwrap() error {
	return ErrRevoked
}

// RotateRefresh exchanges a valid refresh token for a new pair. The old
// token is revoked in the same store operation that records the new pair.
// Presenting an already revoked refresh token yields a *RotateError and
// revokes the owner's remaining tokens.
func (s *Service) RotateRefresh(ctx context.Context, oldRefresh string) (Pair, error) {
	v, err := s.Verify(ctx, oldRefresh, jwt.TypeRefresh)
	if err != nil {
		return Pair{}, err
	}
	if !v.Valid {
		if v.Reason == ReasonRevoked {
			return Pair{}, s.revokeFamily(ctx, v)
		}
		return Pair{}, v.Err()
	}
	uid, err := v.UserID()
	if err != nil {
		return Pair{}, err
	}

	id := Identity{UserID: uid}
	if s.identities != nil {
		id, err = s.identities.LookupIdentity(ctx, uid)
		if err != nil {
			return Pair{}, err
		}
		id.UserID = uid
	}

	access, refresh, err := s.signPair(id)
	if err != nil {
		return Pair{}, err
	}
	err = s.store.Rotate(ctx, v.Claims.ID, s.codec.Now(), access.record, refresh.record)
	switch {
	case errors.Is(err, ErrAlreadyRevoked), errors.Is(err, ErrRecordNotFound):
		// Lost a concurrent rotation of the same token; the winner's pair stays live.
		return Pair{}, ErrRevoked
	case err != nil:
		return Pair{}, err
	}
	return pairOf(access, refresh), nil
}

func (s *Service) revokeFamily(ctx context.Context, v Verification) error {
	uid, err := v.UserID()
	if err != nil {
		return ErrRevoked
	}
	n, err := s.store.RevokeAllForUser(ctx, uid, s.codec.Now())
	if err != nil {
		return err
	}
	return &RotateError{UserID: uid, FamilyRevoked: n}
}

// Revoke marks tok revoked. Tokens that no longer verify need no revocation
// and are ignored.
func (s *Service) Revoke(ctx context.Context, tok string) error {
	claims, err := s.codec.Parse(tok)
	if err != nil || claims.ID == "" {
		return nil
	}
	_, err = s.store.Revoke(ctx, claims.ID, s.codec.Now())
	if errors.Is(err, ErrRecordNotFound) {
		return nil
	}
	return err
}

// RevokeAllForUser revokes every recorded token of userID.
func (s *Service) RevokeAllForUser(ctx context.Context, userID int64) (int, error) {
	return s.store.RevokeAllForUser(ctx, userID, s.codec.Now())
}

// AccessTTL returns the access token lifetime.
func (s *Service) AccessTTL() time.Duration {
	return s.accessTTL
}

// RefreshTTL returns the refresh token lifetime.
func (s *Service) RefreshTTL() time.Duration {
	return s.refreshTTL
}
