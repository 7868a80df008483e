package session

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"golang.org/x/oauth2"

	"github.com/unkn0wn-root/rtcache"
)

// OAuth2Provider is a SessionProvider whose sessions come from an OAuth2
// authorization server. Refresh uses the refresh_token grant; the user is
// read from the access token's claims when it is a JWT.
//
// Claims are read without signature verification: the token is only
// forwarded to the data service, which verifies it.
type OAuth2Provider struct {
	*Memory
	cfg *oauth2.Config
}

// NewOAuth2Provider builds a provider over cfg. Call SignIn (or Restore) with the
// token obtained from the authorization flow.
func NewOAuth2Provider(cfg *oauth2.Config) *OAuth2Provider {
	p := &OAuth2Provider{cfg: cfg}
	p.Memory = NewMemory(p.exchange)
	return p
}

// SignInToken converts tok into a session and emits SIGNED_IN.
func (p *OAuth2Provider) SignInToken(tok *oauth2.Token) error {
	s, err := SessionFromToken(tok)
	if err != nil {
		return err
	}
	p.SignIn(s)
	return nil
}

// RestoreRefreshToken exchanges a stored refresh token for a session and
// emits TOKEN_REFRESHED on success.
func (p *OAuth2Provider) RestoreRefreshToken(ctx context.Context, refreshToken string) (*rtcache.Session, error) {
	s, err := p.exchange(ctx, &rtcache.Session{RefreshToken: refreshToken})
	if err != nil {
		return nil, err
	}
	p.set(s, rtcache.TokenRefreshed)
	return copySession(s), nil
}

func (p *OAuth2Provider) exchange(ctx context.Context, cur *rtcache.Session) (*rtcache.Session, error) {
	if cur.RefreshToken == "" {
		return nil, errors.New("session: no refresh token")
	}
	// an expired token forces the token source to hit the endpoint
	src := p.cfg.TokenSource(ctx, &oauth2.Token{
		RefreshToken: cur.RefreshToken,
		Expiry:       time.Unix(1, 0),
	})
	tok, err := src.Token()
	if err != nil {
		return nil, fmt.Errorf("session: refresh token grant: %w", err)
	}
	s, err := SessionFromToken(tok)
	if err != nil {
		return nil, err
	}
	if s.RefreshToken == "" {
		// servers without rotation keep the old refresh token valid
		s.RefreshToken = cur.RefreshToken
	}
	return s, nil
}

// SessionFromToken maps an OAuth2 token to a Session. JWT access tokens
// contribute sub, email, roles and exp; opaque tokens keep only the expiry
// reported by the server.
func SessionFromToken(tok *oauth2.Token) (*rtcache.Session, error) {
	if tok == nil || tok.AccessToken == "" {
		return nil, errors.New("session: empty access token")
	}
	s := &rtcache.Session{
		AccessToken:  tok.AccessToken,
		RefreshToken: tok.RefreshToken,
		ExpiresAt:    tok.Expiry,
	}

	claims := jwt.MapClaims{}
	if _, _, err := jwt.NewParser().ParseUnverified(tok.AccessToken, claims); err != nil {
		return s, nil
	}
	u := &rtcache.User{}
	if sub, err := claims.GetSubject(); err == nil {
		u.ID = sub
	}
	if email, ok := claims["email"].(string); ok {
		u.Email = email
	}
	if roles, ok := claims["roles"].([]any); ok {
		for _, r := range roles {
			if rs, ok := r.(string); ok {
				u.Roles = append(u.Roles, rs)
			}
		}
	}
	if u.ID != "" {
		s.User = u
	}
	if exp, err := claims.GetExpirationTime(); err == nil && exp != nil {
		s.ExpiresAt = exp.Time
	}
	return s, nil
}
