package pool

import (
	"strings"
	"time"

	"github.com/nijaru/yt-script/errors"
)

const (
	DefaultCredentialBaseDelay = 60 * time.Second
	DefaultCredentialMaxDelay  = 300 * time.Second
)

// Credential is an upstream API key.
type Credential struct {
	Key string
}

// CredentialPool hands out API keys.
type CredentialPool struct {
	*Pool[Credential]
}

func DefaultCredentialPolicy() Policy {
	return Policy{BaseDelay: DefaultCredentialBaseDelay, MaxDelay: DefaultCredentialMaxDelay}
}

func NewCredentialPool(policy Policy) *CredentialPool {
	return &CredentialPool{
		Pool: New[Credential]("api keys", "key", policy, classifyCredentialFailure, func(c Credential) string {
			return MaskKey(c.Key)
		}),
	}
}

// AddKey adds a key unless it is blank or already pooled.
func (p *CredentialPool) AddKey(key string) (string, error) {
	const op = "CredentialPool.AddKey"

	key = strings.TrimSpace(key)
	if key == "" {
		return "", errors.InvalidInput(op, nil, "API key is required")
	}
	for _, e := range p.Entries() {
		if e.Value.Key == key {
			return "", errors.InvalidInput(op, nil, "API key already exists")
		}
	}
	return p.Add(Credential{Key: key}), nil
}

// RemoveKey drops the entry holding key.
func (p *CredentialPool) RemoveKey(key string) bool {
	key = strings.TrimSpace(key)
	for _, e := range p.Entries() {
		if e.Value.Key == key {
			return p.Remove(e.ID)
		}
	}
	return false
}

// LoadKeys adds every non-blank key, skipping duplicates, and returns how many
// were added.
func (p *CredentialPool) LoadKeys(keys []string) int {
	added := 0
	for _, k := range keys {
		if _, err := p.AddKey(k); err == nil {
			added++
		}
	}
	return added
}

// Reload replaces the pool contents with keys.
func (p *CredentialPool) Reload(keys []string) int {
	p.Clear()
	return p.LoadKeys(keys)
}

// MaskKey keeps the first and last four characters of a key.
func MaskKey(key string) string {
	if len(key) <= 8 {
		return strings.Repeat("*", len(key))
	}
	return key[:4] + "..." + key[len(key)-4:]
}

func classifyCredentialFailure(err error) Verdict {
	kind := errors.KindOf(err)
	switch kind {
	case errors.KindQuotaExhausted:
		return Verdict{Reason: kind, Disable: true}
	case errors.KindInvalidCredential, errors.KindUnauthorized, errors.KindForbidden:
		return Verdict{Reason: kind, Disable: true, Permanent: true}
	case errors.KindRateLimited, errors.KindModelOverloaded:
		return Verdict{Reason: kind}
	}
	return Verdict{Reason: errors.KindUnknown}
}
