package authlab

import (
	"context"
	"errors"
	"fmt"
	"strconv"

	"github.com/MrEthical07/authlab/credential"
	"github.com/MrEthical07/authlab/jwt"
	"github.com/MrEthical07/authlab/mfa"
	"github.com/MrEthical07/authlab/oauth"
	"github.com/MrEthical07/authlab/password"
	"github.com/MrEthical07/authlab/session"
	"github.com/MrEthical07/authlab/token"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// Builder assembles an Engine. Stores not set explicitly are created in
// memory, or in Redis when WithRedis was called.
//
// A Builder is single use.
type Builder struct {
	config Config
	redis  redis.UniversalClient
	logger *zap.Logger

	users        credential.Store
	sessions     session.Store
	tokens       token.RecordStore
	enrollments  mfa.EnrollmentStore
	challenges   mfa.ChallengeStore
	codes        oauth.CodeStore
	oauthTokens  oauth.TokenStore
	oauthClients []oauth.Client

	auditSink AuditSink

	built bool
}

// New returns a Builder holding DefaultConfig.
func New() *Builder {
	return &Builder{
		config: DefaultConfig(),
	}
}

// WithConfig replaces the whole configuration.
func (b *Builder) WithConfig(cfg Config) *Builder {
	b.config = cloneConfig(cfg)
	return b
}

// WithRedis backs every store not set explicitly with client.
func (b *Builder) WithRedis(client redis.UniversalClient) *Builder {
	b.redis = client
	return b
}

// WithLogger sets the engine logger. The default discards everything.
func (b *Builder) WithLogger(logger *zap.Logger) *Builder {
	b.logger = logger
	return b
}

// WithCredentialStore sets the user registry. The default is the seeded
// demo accounts.
func (b *Builder) WithCredentialStore(s credential.Store) *Builder {
	b.users = s
	return b
}

// WithSessionStore overrides the session backend chosen by WithRedis.
func (b *Builder) WithSessionStore(s session.Store) *Builder {
	b.sessions = s
	return b
}

// WithTokenStore overrides the refresh and access record backend.
func (b *Builder) WithTokenStore(s token.RecordStore) *Builder {
	b.tokens = s
	return b
}

// WithEnrollmentStore overrides where MFA enrollments live.
func (b *Builder) WithEnrollmentStore(s mfa.EnrollmentStore) *Builder {
	b.enrollments = s
	return b
}

// WithChallengeStore overrides where pending MFA logins live.
func (b *Builder) WithChallengeStore(s mfa.ChallengeStore) *Builder {
	b.challenges = s
	return b
}

// WithCodeStore overrides the authorization code backend.
func (b *Builder) WithCodeStore(s oauth.CodeStore) *Builder {
	b.codes = s
	return b
}

// WithOAuthTokenStore overrides the provider's issued token backend.
func (b *Builder) WithOAuthTokenStore(s oauth.TokenStore) *Builder {
	b.oauthTokens = s
	return b
}

// WithOAuthClients registers relying parties besides the application itself.
func (b *Builder) WithOAuthClients(clients ...oauth.Client) *Builder {
	b.oauthClients = append(b.oauthClients, clients...)
	return b
}

// WithAuditSink routes audit events to sink.
func (b *Builder) WithAuditSink(sink AuditSink) *Builder {
	b.auditSink = sink
	return b
}

// WithMetricsEnabled toggles the in-process counters.
func (b *Builder) WithMetricsEnabled(enabled bool) *Builder {
	b.config.Metrics.Enabled = enabled
	return b
}

// WithLatencyHistograms toggles the validate latency histogram.
func (b *Builder) WithLatencyHistograms(enabled bool) *Builder {
	b.config.Metrics.EnableLatencyHistograms = enabled
	return b
}

// Build validates the configuration and wires the engine.
func (b *Builder) Build() (*Engine, error) {
	if b.built {
		return nil, errors.New("builder already used")
	}

	cfg := cloneConfig(b.config)
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	now := cfg.now
	logger := b.logger
	if logger == nil {
		logger = zap.NewNop()
	}

	// -------- PASSWORDS --------
	hasher, err := newPasswordHasher(cfg.Password)
	if err != nil {
		return nil, err
	}
	users := b.users
	if users == nil {
		users, err = credential.Seed(hasher)
		if err != nil {
			return nil, err
		}
	}

	// -------- STORES --------
	b.defaultStores(cfg)

	// -------- TOKENS --------
	codec, err := jwt.NewManager(jwt.Config{
		Secret: cloneBytes(cfg.Token.Secret),
		Issuer: cfg.Token.Issuer,
		Leeway: cfg.Token.Leeway,
		KeyID:  cfg.Token.KeyID,
		Now:    now,
	})
	if err != nil {
		return nil, err
	}
	tokens := token.NewService(codec, b.tokens, identityLookup{users: users}, token.Config{
		AccessTTL:  cfg.Token.AccessTTL,
		RefreshTTL: cfg.Token.RefreshTTL,
	})

	// -------- MFA --------
	backupHasher, err := password.NewBcrypt(cfg.TOTP.BackupCodeCost)
	if err != nil {
		return nil, err
	}
	mfaService, err := mfa.NewService(b.enrollments, mfa.Config{
		Issuer:       cfg.TOTP.Issuer,
		Skew:         cfg.TOTP.Skew,
		BackupHasher: backupHasher,
		OnActivate: func(ctx context.Context, userID int64) error {
			return users.SetMFAEnabled(ctx, userID, true)
		},
		OnDisable: func(ctx context.Context, userID int64) error {
			return users.SetMFAEnabled(ctx, userID, false)
		},
		Now: now,
	})
	if err != nil {
		return nil, err
	}

	// -------- OAUTH --------
	clients, err := oauth.NewRegistry(append([]oauth.Client{{
		ID:           cfg.OAuth.ClientID,
		Secret:       cfg.OAuth.ClientSecret,
		Name:         "authlab",
		RedirectURIs: []string{cfg.OAuth.RedirectURI},
	}}, b.oauthClients...)...)
	if err != nil {
		return nil, err
	}
	provider, err := oauth.NewProvider(oauth.ProviderConfig{
		Clients:    clients,
		Codes:      b.codes,
		Tokens:     b.oauthTokens,
		Profiles:   credentialProfiles(users),
		CodeTTL:    cfg.OAuth.CodeTTL,
		AccessTTL:  cfg.OAuth.AccessTTL,
		RefreshTTL: cfg.OAuth.RefreshTTL,
		Logger:     logger.Named("oauth"),
		Now:        now,
	})
	if err != nil {
		return nil, err
	}

	engine := &Engine{
		config:     cfg,
		logger:     logger,
		users:      users,
		hasher:     hasher,
		sessions:   session.NewManager(b.sessions, session.WithLifetime(cfg.Session.Lifetime), session.WithClock(now)),
		tokens:     tokens,
		mfa:        mfaService,
		challenges: b.challenges,
		provider:   provider,
		audit:      newAuditDispatcher(cfg.Audit, b.auditSink, logger),
		metrics:    NewMetrics(cfg.Metrics),
	}

	b.built = true

	return engine, nil
}

func (b *Builder) defaultStores(cfg Config) {
	if b.redis != nil {
		if b.sessions == nil {
			b.sessions = session.NewRedisStore(b.redis, cfg.Session.RedisPrefix)
		}
		if b.tokens == nil {
			b.tokens = token.NewRedisStore(b.redis, cfg.Token.RedisPrefix, cfg.Token.Retention)
		}
		if b.enrollments == nil {
			b.enrollments = mfa.NewRedisEnrollmentStore(b.redis, cfg.TOTP.RedisPrefix+"e")
		}
		if b.challenges == nil {
			b.challenges = mfa.NewRedisChallengeStore(b.redis, cfg.TOTP.RedisPrefix+"c")
		}
		if b.codes == nil {
			b.codes = oauth.NewRedisCodeStore(b.redis, cfg.OAuth.RedisPrefix+"c")
		}
		if b.oauthTokens == nil {
			b.oauthTokens = oauth.NewRedisTokenStore(b.redis, cfg.OAuth.RedisPrefix+"t")
		}
		return
	}

	if b.sessions == nil {
		b.sessions = session.NewMemoryStore()
	}
	if b.tokens == nil {
		b.tokens = token.NewMemoryStore()
	}
	if b.enrollments == nil {
		b.enrollments = mfa.NewMemoryEnrollmentStore()
	}
	if b.challenges == nil {
		b.challenges = mfa.NewMemoryChallengeStore()
	}
	if b.codes == nil {
		b.codes = oauth.NewMemoryCodeStore()
	}
	if b.oauthTokens == nil {
		b.oauthTokens = oauth.NewMemoryTokenStore()
	}
}

func newPasswordHasher(cfg PasswordConfig) (*password.Multi, error) {
	argon, err := password.NewArgon2(password.Config{
		Memory:      cfg.Memory,
		Time:        cfg.Time,
		Parallelism: cfg.Parallelism,
		SaltLength:  cfg.SaltLength,
		KeyLength:   cfg.KeyLength,
	})
	if err != nil {
		return nil, err
	}
	bc, err := password.NewBcrypt(cfg.BcryptCost)
	if err != nil {
		return nil, err
	}
	if cfg.Scheme == "bcrypt" {
		return password.NewMulti(bc, argon), nil
	}
	return password.NewMulti(argon, bc), nil
}

// identityLookup feeds rotated access tokens from the user record.
type identityLookup struct {
	users credential.Store
}

func (l identityLookup) LookupIdentity(ctx context.Context, userID int64) (token.Identity, error) {
	u, err := l.users.FindUserByID(ctx, userID)
	if err != nil {
		return token.Identity{}, err
	}
	return identityOf(u), nil
}

func identityOf(u credential.User) token.Identity {
	return token.Identity{
		UserID:   u.ID,
		Email:    u.Email,
		Username: u.Username,
		Role:     string(u.Role),
	}
}

// credentialProfiles serves provider userinfo from the local registry.
func credentialProfiles(users credential.Store) oauth.ProfileSource {
	return oauth.ProfileFunc(func(ctx context.Context, userID int64) (oauth.Profile, error) {
		u, err := users.FindUserByID(ctx, userID)
		if err != nil {
			return oauth.Profile{}, fmt.Errorf("profile for user %d: %w", userID, err)
		}
		return oauth.Profile{
			Subject:           strconv.FormatInt(u.ID, 10),
			Name:              u.Username,
			PreferredUsername: u.Username,
			Email:             u.Email,
			EmailVerified:     true,
		}, nil
	})
}
