package paramstore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
)

// Parameter names under the configured prefix.
const (
	VerifyToken = "verify-token"
	AccessToken = "access-token"
	AppSecret   = "app-secret"
)

// tokenPayload is the JSON shape stored in SSM for a token.
type tokenPayload struct {
	Token string `json:"token"`
}

// Secrets resolves named secrets under a prefix and caches every successful
// lookup for the lifetime of the process. Failed lookups are retried on the
// next call.
type Secrets struct {
	getter Getter
	prefix string

	mu    sync.RWMutex
	cache map[string]string
}

func NewSecrets(g Getter, prefix string) (*Secrets, error) {
	if g == nil {
		return nil, errors.New("paramstore: getter must not be nil")
	}
	return &Secrets{
		getter: g,
		prefix: strings.TrimRight(strings.TrimSpace(prefix), "/"),
		cache:  make(map[string]string),
	}, nil
}

// Secret returns the value stored under {prefix}/{key}. Values may be plain
// strings or JSON objects of the form {"token":"..."}.
func (s *Secrets) Secret(ctx context.Context, key string) (string, error) {
	name := s.prefix + "/" + strings.TrimLeft(strings.TrimSpace(key), "/")

	s.mu.RLock()
	v, ok := s.cache[name]
	s.mu.RUnlock()
	if ok {
		return v, nil
	}

	raw, err := s.getter.GetParameter(ctx, name)
	if err != nil {
		return "", fmt.Errorf("paramstore: resolve %s: %w", key, err)
	}
	v, err = decodeToken(raw)
	if err != nil {
		return "", fmt.Errorf("paramstore: resolve %s: %w", key, err)
	}

	s.mu.Lock()
	s.cache[name] = v
	s.mu.Unlock()
	return v, nil
}

func decodeToken(raw string) (string, error) {
	raw = strings.TrimSpace(raw)
	if !strings.HasPrefix(raw, "{") {
		if raw == "" {
			return "", errors.New("token is empty")
		}
		return raw, nil
	}
	var tp tokenPayload
	if err := json.Unmarshal([]byte(raw), &tp); err != nil {
		return "", fmt.Errorf("unmarshal token value as JSON: %w", err)
	}
	if tp.Token == "" {
		return "", errors.New("token is empty")
	}
	return tp.Token, nil
}
