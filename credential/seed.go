package credential

import (
	"fmt"
	"time"

	"github.com/MrEthical07/authlab/password"
)

// SeedAccount is a plaintext demo account hashed at seed time.
type SeedAccount struct {
	ID       int64
	Username string
	Email    string
	Password string
	Role     Role
}

// DemoAccounts are the accounts the lab ships with.
var DemoAccounts = []SeedAccount{
	{ID: 1, Username: "admin", Email: "admin@authlab.local", Password: "admin123", Role: RoleAdmin},
	{ID: 2, Username: "user", Email: "user@authlab.local", Password: "user123", Role: RoleUser},
}

// Seed hashes each account's password with h and returns a populated store.
func Seed(h password.Hasher, accounts ...SeedAccount) (*MemoryStore, error) {
	if len(accounts) == 0 {
		accounts = DemoAccounts
	}
	now := time.Now().UTC()
	users := make([]User, 0, len(accounts))
	for _, a := range accounts {
		hash, err := h.Hash(a.Password)
		if err != nil {
			return nil, fmt.Errorf("hash seed password for %q: %w", a.Username, err)
		}
		users = append(users, User{
			ID:           a.ID,
			Username:     a.Username,
			Email:        a.Email,
			PasswordHash: hash,
			Role:         a.Role,
			CreatedAt:    now,
		})
	}
	return NewMemoryStore(users...)
}
