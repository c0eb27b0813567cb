package oauth

import (
	"crypto/subtle"
	"errors"
	"sync"
)

// Client is a registered relying party. An empty Secret marks a public client.
type Client struct {
	ID           string
	Secret       string
	Name         string
	RedirectURIs []string
}

// Confidential reports whether the client must authenticate with a secret.
func (c Client) Confidential() bool {
	return c.Secret != ""
}

func (c Client) allowsRedirect(uri string) bool {
	for _, r := range c.RedirectURIs {
		if r == uri {
			return true
		}
	}
	return false
}

func (c Client) authenticate(secret string) bool {
	if !c.Confidential() {
		return true
	}
	return subtle.ConstantTimeCompare([]byte(c.Secret), []byte(secret)) == 1
}

// Registry is a mutex-guarded set of clients.
type Registry struct {
	mu      sync.RWMutex
	clients map[string]Client
}

// NewRegistry returns a registry holding clients.
func NewRegistry(clients ...Client) (*Registry, error) {
	r := &Registry{clients: make(map[string]Client, len(clients))}
	for _, c := range clients {
		if err := r.Register(c); err != nil {
			return nil, err
		}
	}
	return r, nil
}

// Register adds or replaces c.
func (r *Registry) Register(c Client) error {
	if c.ID == "" || len(c.RedirectURIs) == 0 {
		return errors.New("oauth: client requires id and at least one redirect uri")
	}
	c.RedirectURIs = append([]string(nil), c.RedirectURIs...)
	r.mu.Lock()
	r.clients[c.ID] = c
	r.mu.Unlock()
	return nil
}

// Lookup returns the client with id.
func (r *Registry) Lookup(id string) (Client, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	c, ok := r.clients[id]
	return c, ok
}
