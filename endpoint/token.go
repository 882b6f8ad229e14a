package endpoint

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"golang.org/x/oauth2"
)

// AccessToken supplies the bearer token sent to the analytics service and
// decides what happens when the service rejects it.
type AccessToken interface {
	// Token returns the current bearer token.
	Token() string
	// IsExpired reports whether err means the token has expired.
	IsExpired(err error) bool
	// Renew obtains a fresh token. Implementations that cannot renew return nil.
	Renew(ctx context.Context) error
	// SubscribeToRenewal registers fn to be called with each renewed token.
	SubscribeToRenewal(fn func(token string))
}

// StaticToken is a constant API key. It never expires and never renews.
type StaticToken string

func (t StaticToken) Token() string {
	return string(t)
}

func (StaticToken) IsExpired(error) bool {
	return false
}

func (StaticToken) Renew(context.Context) error {
	return nil
}

func (StaticToken) SubscribeToRenewal(func(string)) {}

// ErrTokenNotRenewed is returned by OAuth2Token.Renew when the source hands
// back the token that was just rejected, e.g. because it caches tokens.
var ErrTokenNotRenewed = errors.New("endpoint: token source returned the rejected token")

// TokenSourceFunc adapts a function to oauth2.TokenSource. Wrapping
// clientcredentials.Config.Token this way gives OAuth2Token a source that
// mints a new token on every call.
type TokenSourceFunc func() (*oauth2.Token, error)

func (f TokenSourceFunc) Token() (*oauth2.Token, error) {
	return f()
}

// OAuth2Token adapts an oauth2.TokenSource. It caches the current token
// until it expires. Any rejection is treated as expiry; Renew pulls a new
// token from the source, so src must not cache tokens itself.
type OAuth2Token struct {
	src oauth2.TokenSource

	mu          sync.RWMutex
	current     *oauth2.Token
	err         error
	subscribers []func(string)
}

// NewOAuth2Token wraps src. The first token is fetched lazily.
func NewOAuth2Token(src oauth2.TokenSource) *OAuth2Token {
	return &OAuth2Token{src: src}
}

// Token returns the cached token, fetching a new one when it is missing or
// expired. On failure it returns "" and Err reports why.
func (t *OAuth2Token) Token() string {
	t.mu.RLock()
	cur := t.current
	t.mu.RUnlock()
	if cur != nil && cur.Valid() {
		return cur.AccessToken
	}
	tok, err := t.src.Token()
	t.mu.Lock()
	defer t.mu.Unlock()
	if err != nil {
		t.err = fmt.Errorf("endpoint: fetch token: %w", err)
		return ""
	}
	t.current, t.err = tok, nil
	return tok.AccessToken
}

// Err returns the error of the last failed token fetch, or nil.
func (t *OAuth2Token) Err() error {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.err
}

func (t *OAuth2Token) IsExpired(err error) bool {
	return err != nil
}

// Renew discards the cached token and fetches a new one from the source.
func (t *OAuth2Token) Renew(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	tok, err := t.src.Token()
	if err != nil {
		err = fmt.Errorf("endpoint: renew token: %w", err)
		t.mu.Lock()
		t.current, t.err = nil, err
		t.mu.Unlock()
		return err
	}
	t.mu.Lock()
	if t.current != nil && tok.AccessToken == t.current.AccessToken {
		t.current = nil
		t.mu.Unlock()
		return ErrTokenNotRenewed
	}
	t.current, t.err = tok, nil
	subs := append([]func(string){}, t.subscribers...)
	t.mu.Unlock()
	for _, fn := range subs {
		fn(tok.AccessToken)
	}
	return nil
}

func (t *OAuth2Token) SubscribeToRenewal(fn func(token string)) {
	t.mu.Lock()
	t.subscribers = append(t.subscribers, fn)
	t.mu.Unlock()
}
