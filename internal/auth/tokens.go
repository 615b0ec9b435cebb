// Package auth hands out per-user credential handles backed by stored
// OAuth tokens. The consent/exchange flow lives outside this service;
// tokens arrive in the store through other means and are only read and
// refreshed here.
package auth

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog/log"
	"golang.org/x/oauth2"

	"stepflow/internal/domain"
	"stepflow/internal/store"
)

var ErrNotAuthorized = errors.New("not authorized")

// Credential is what a job needs to submit activity for one user.
type Credential struct {
	UserID string
	Source oauth2.TokenSource
}

type Provider struct {
	repo store.Repository
	// oauth endpoint config; when nil, handles are static and expired
	// tokens without a refresh token are rejected.
	conf *oauth2.Config
	now  func() time.Time
}

func NewProvider(repo store.Repository, conf *oauth2.Config) *Provider {
	return &Provider{repo: repo, conf: conf, now: time.Now}
}

// Handle returns a credential for the user, or ErrNotAuthorized when no
// usable token is stored.
func (p *Provider) Handle(ctx context.Context, userID string) (Credential, error) {
	stored, err := p.repo.GetToken(ctx, userID)
	if errors.Is(err, store.ErrNotFound) {
		return Credential{}, fmt.Errorf("user %s: %w", userID, ErrNotAuthorized)
	}
	if err != nil {
		return Credential{}, fmt.Errorf("load token for %s: %w", userID, err)
	}
	if stored.AccessToken == "" {
		return Credential{}, fmt.Errorf("user %s has an empty access token: %w", userID, ErrNotAuthorized)
	}

	tok := &oauth2.Token{
		AccessToken:  stored.AccessToken,
		RefreshToken: stored.RefreshToken,
		Expiry:       stored.Expiry,
	}

	if p.conf == nil || tok.RefreshToken == "" {
		if !tok.Expiry.IsZero() && tok.Expiry.Before(p.now()) {
			return Credential{}, fmt.Errorf("token for %s expired and cannot be refreshed: %w", userID, ErrNotAuthorized)
		}
		return Credential{UserID: userID, Source: oauth2.StaticTokenSource(tok)}, nil
	}

	// Refreshable handle: persist rotated tokens back to the store so the
	// next firing starts from the fresh one.
	src := &savingSource{
		userID: userID,
		repo:   p.repo,
		last:   tok.AccessToken,
		inner:  p.conf.TokenSource(ctx, tok),
	}
	return Credential{UserID: userID, Source: src}, nil
}

type savingSource struct {
	userID string
	repo   store.Repository
	last   string
	inner  oauth2.TokenSource
}

func (s *savingSource) Token() (*oauth2.Token, error) {
	tok, err := s.inner.Token()
	if err != nil {
		return nil, err
	}
	if tok.AccessToken != s.last {
		s.last = tok.AccessToken
		saveCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		err := s.repo.SaveToken(saveCtx, domain.OAuthToken{
			UserID:       s.userID,
			AccessToken:  tok.AccessToken,
			RefreshToken: tok.RefreshToken,
			Expiry:       tok.Expiry,
		})
		if err != nil {
			// Losing the rotation only costs an extra refresh next firing.
			log.Warn().Err(err).Str("user", s.userID).Msg("failed to persist refreshed token")
		}
	}
	return tok, nil
}
