// Package oauthflow completes provider sign-in (Google, Apple, ...) with
// the authorization code + PKCE flow and verifies the provider's ID token
// before handing it to the backend for session issuance.
package oauthflow

import (
	"context"
	"crypto/rand"
	"encoding/base64"

	"github.com/coreos/go-oidc/v3/oidc"
	"github.com/pkg/errors"
	"github.com/rs/zerolog"
	"golang.org/x/oauth2"

	"github.com/curiobid/go-marketplace-client/session"
)

// Config identifies the OIDC provider and this client's registration.
type Config struct {
	IssuerURL    string
	ClientID     string
	ClientSecret string
	RedirectURL  string
	Scopes       []string // defaults to openid, profile, email
}

// SessionIssuer exchanges a verified provider ID token for a backend
// session. backend/rest.Client satisfies this.
type SessionIssuer interface {
	SignInWithIDToken(ctx context.Context, provider, rawIDToken, nonce string) (*session.Session, error)
}

// ProviderIdentity is the verified identity extracted from the provider's
// ID token.
type ProviderIdentity struct {
	Subject    string
	Email      string
	Name       string
	Picture    string
	RawIDToken string
}

type Option func(*Flow)

func WithLogger(log zerolog.Logger) Option {
	return func(f *Flow) {
		f.log = log
	}
}

// Flow drives one provider's sign-in round trips.
type Flow struct {
	provider string
	oauthCfg oauth2.Config
	verifier *oidc.IDTokenVerifier
	log      zerolog.Logger
}

// New discovers the provider's endpoints from its issuer URL. provider is
// the backend's name for the identity provider (e.g. "google").
func New(ctx context.Context, provider string, cfg Config, options ...Option) (*Flow, error) {
	if cfg.IssuerURL == "" || cfg.ClientID == "" || cfg.RedirectURL == "" {
		return nil, errors.New("[oauthflow.New] issuer, client id, and redirect URL are required")
	}

	oidcProvider, err := oidc.NewProvider(ctx, cfg.IssuerURL)
	if err != nil {
		return nil, errors.Wrap(err, "[oauthflow.New] provider discovery")
	}

	scopes := cfg.Scopes
	if len(scopes) == 0 {
		scopes = []string{oidc.ScopeOpenID, "profile", "email"}
	}

	f := &Flow{
		provider: provider,
		oauthCfg: oauth2.Config{
			ClientID:     cfg.ClientID,
			ClientSecret: cfg.ClientSecret,
			RedirectURL:  cfg.RedirectURL,
			Endpoint:     oidcProvider.Endpoint(),
			Scopes:       scopes,
		},
		verifier: oidcProvider.Verifier(&oidc.Config{ClientID: cfg.ClientID}),
		log:      zerolog.Nop(),
	}

	for _, opt := range options {
		opt(f)
	}

	return f, nil
}

// NewState generates random state and nonce values for one authorization
// round trip. The caller stores them until the callback arrives.
func NewState() (state, nonce string, err error) {
	state, err = randomToken()
	if err != nil {
		return "", "", errors.Wrap(err, "[oauthflow.NewState] generate state")
	}
	nonce, err = randomToken()
	if err != nil {
		return "", "", errors.Wrap(err, "[oauthflow.NewState] generate nonce")
	}
	return state, nonce, nil
}

// AuthCodeURL builds the provider authorization URL with PKCE and the given
// state and nonce.
func (f *Flow) AuthCodeURL(state, nonce, codeVerifier string) string {
	return f.oauthCfg.AuthCodeURL(state,
		oidc.Nonce(nonce),
		oauth2.S256ChallengeOption(codeVerifier),
	)
}

// Exchange trades the callback's authorization code for tokens, verifies
// the ID token's signature and nonce, and returns the provider identity.
func (f *Flow) Exchange(ctx context.Context, code, codeVerifier, nonce string) (*ProviderIdentity, error) {
	token, err := f.oauthCfg.Exchange(ctx, code, oauth2.VerifierOption(codeVerifier))
	if err != nil {
		return nil, errors.Wrap(err, "[Flow.Exchange] code exchange")
	}

	rawIDToken, ok := token.Extra("id_token").(string)
	if !ok || rawIDToken == "" {
		return nil, errors.New("[Flow.Exchange] no ID token in response")
	}

	idToken, err := f.verifier.Verify(ctx, rawIDToken)
	if err != nil {
		return nil, errors.Wrap(err, "[Flow.Exchange] ID token verification")
	}

	var claims struct {
		Nonce   string `json:"nonce"`
		Email   string `json:"email"`
		Name    string `json:"name"`
		Picture string `json:"picture"`
	}
	if err := idToken.Claims(&claims); err != nil {
		return nil, errors.Wrap(err, "[Flow.Exchange] extract claims")
	}
	if claims.Nonce != nonce {
		return nil, errors.New("[Flow.Exchange] nonce mismatch")
	}

	return &ProviderIdentity{
		Subject:    idToken.Subject,
		Email:      claims.Email,
		Name:       claims.Name,
		Picture:    claims.Picture,
		RawIDToken: rawIDToken,
	}, nil
}

// CompleteSignIn runs Exchange and hands the verified ID token to the
// backend for session issuance.
func (f *Flow) CompleteSignIn(ctx context.Context, issuer SessionIssuer, code, codeVerifier, nonce string) (*session.Session, error) {
	identity, err := f.Exchange(ctx, code, codeVerifier, nonce)
	if err != nil {
		return nil, err
	}

	sess, err := issuer.SignInWithIDToken(ctx, f.provider, identity.RawIDToken, nonce)
	if err != nil {
		return nil, errors.Wrap(err, "[Flow.CompleteSignIn] backend sign-in")
	}
	f.log.Info().Str("provider", f.provider).Str("subject", identity.Subject).Msg("provider sign-in complete")
	return sess, nil
}

func randomToken() (string, error) {
	buf := make([]byte, 32)
	if _, err := rand.Read(buf); err != nil {
		return "", err
	}
	return base64.RawURLEncoding.EncodeToString(buf), nil
}
