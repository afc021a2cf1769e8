package chatsync

import (
	"context"
	"sync"

	"golang.org/x/sync/singleflight"
)

// TokenSource supplies the anti-forgery token sent on state-changing calls.
type TokenSource interface {
	// Token returns the current token, fetching it if necessary.
	Token(ctx context.Context) (string, error)
	// Invalidate drops any cached token. The client calls it on 401.
	Invalidate()
}

// CSRFProvider caches one anti-forgery token per session. The token is
// fetched lazily on first use; concurrent first uses share a single fetch.
// It is safe for concurrent use.
type CSRFProvider struct {
	fetch func(ctx context.Context) (string, error)
	group singleflight.Group

	mu    sync.Mutex
	token string
	epoch uint64
}

// NewCSRFProvider returns a provider that obtains tokens with fetch.
func NewCSRFProvider(fetch func(ctx context.Context) (string, error)) *CSRFProvider {
	return &CSRFProvider{fetch: fetch}
}

func (p *CSRFProvider) Token(ctx context.Context) (string, error) {
	p.mu.Lock()
	if p.token != "" {
		token := p.token
		p.mu.Unlock()
		return token, nil
	}
	epoch := p.epoch
	p.mu.Unlock()

	v, err, _ := p.group.Do("csrf", func() (any, error) {
		return p.fetch(ctx)
	})
	if err != nil {
		return "", err
	}
	token := v.(string)

	p.mu.Lock()
	// An Invalidate that raced with the fetch wins: the token we got may
	// belong to the session that was just rejected.
	if p.epoch == epoch {
		p.token = token
	}
	p.mu.Unlock()
	return token, nil
}

func (p *CSRFProvider) Invalidate() {
	p.mu.Lock()
	p.token = ""
	p.epoch++
	p.mu.Unlock()
	p.group.Forget("csrf")
}

// StaticToken is a TokenSource that always returns the same token.
type StaticToken string

func (t StaticToken) Token(context.Context) (string, error) { return string(t), nil }
func (StaticToken) Invalidate()                             {}
