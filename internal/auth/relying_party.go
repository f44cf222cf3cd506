package auth

import (
	"context"
	"crypto/rand"
	"encoding/base64"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/zitadel/oidc/v3/pkg/client/rp"
	"golang.org/x/oauth2"

	"github.com/jamesgorrie/grid/internal/config"
	httphelper "github.com/zitadel/oidc/v3/pkg/http"
)

const returnToCookieName = "grid.auth.return-to"

// RelyingParty wraps the zitadel/oidc relying party used to authenticate
// users against the external identity provider.
type RelyingParty struct {
	rp     rp.RelyingParty
	secure bool
}

// NewRelyingParty creates a RelyingParty for the configured identity
// provider. The state and PKCE cookies are encrypted with keys generated at
// startup, so in-flight logins do not survive a restart; completed sessions
// do, because they are signed with the persistent signing key instead.
func NewRelyingParty(ctx context.Context, cfg *config.IdPConfig, secureCookies bool) (*RelyingParty, error) {
	hashKey, err := generateRandomBytes(32)
	if err != nil {
		return nil, fmt.Errorf("generate cookie hash key: %w", err)
	}
	cryptoKey, err := generateRandomBytes(32)
	if err != nil {
		return nil, fmt.Errorf("generate cookie crypto key: %w", err)
	}

	cookieOpts := []httphelper.CookieHandlerOpt{}
	if !secureCookies {
		cookieOpts = append(cookieOpts, httphelper.WithUnsecure())
	}
	cookieHandler := httphelper.NewCookieHandler(hashKey, cryptoKey, cookieOpts...)

	options := []rp.Option{
		rp.WithCookieHandler(cookieHandler),
		rp.WithVerifierOpts(rp.WithIssuedAtMaxAge(10 * time.Second)),
		rp.WithPKCE(cookieHandler),
	}

	relyingParty, err := rp.NewRelyingPartyOIDC(ctx, cfg.Issuer, cfg.ClientID, cfg.ClientSecret, cfg.RedirectURL,
		cfg.Scopes, options...)
	if err != nil {
		return nil, fmt.Errorf("create OIDC relying party: %w", err)
	}

	return &RelyingParty{rp: relyingParty, secure: secureCookies}, nil
}

// RP exposes the underlying relying party for the library's AuthURLHandler
// and CodeExchangeHandler, which manage the state and PKCE cookies.
func (r *RelyingParty) RP() rp.RelyingParty {
	return r.rp
}

// WithLoginHint pre-fills the identity provider's account picker with a known
// email, so a user with an expired session is sent straight back to the
// account they were using.
func WithLoginHint(email string) rp.URLParamOpt {
	return func() []oauth2.AuthCodeOption {
		return []oauth2.AuthCodeOption{oauth2.SetAuthURLParam("login_hint", email)}
	}
}

// GenerateState generates a random state value for an authorization request.
func GenerateState() string {
	b, err := generateRandomBytes(32)
	if err != nil {
		// rand.Reader failing means the process cannot do anything
		// cryptographic at all.
		panic(fmt.Sprintf("auth: generate state: %v", err))
	}
	return base64.RawURLEncoding.EncodeToString(b)
}

func generateRandomBytes(size int) ([]byte, error) {
	b := make([]byte, size)
	if _, err := io.ReadFull(rand.Reader, b); err != nil {
		return nil, fmt.Errorf("generate random bytes: %w", err)
	}
	return b, nil
}

// SetReturnToCookie remembers the path the user was requesting when they were
// sent to the identity provider, so the callback can land them back there.
// Only same-site relative paths are accepted; anything else would be an open
// redirect.
func (r *RelyingParty) SetReturnToCookie(w http.ResponseWriter, returnTo string) {
	if !isSafeReturnTo(returnTo) {
		return
	}
	http.SetCookie(w, &http.Cookie{
		Name:     returnToCookieName,
		Value:    returnTo,
		Path:     "/",
		Expires:  time.Now().Add(10 * time.Minute),
		HttpOnly: true,
		Secure:   r.secure,
		SameSite: http.SameSiteLaxMode,
	})
}

// TakeReturnToCookie retrieves and clears the return-to cookie. Returns an
// empty string when the cookie is missing or holds an unsafe value.
func (r *RelyingParty) TakeReturnToCookie(w http.ResponseWriter, req *http.Request) string {
	cookie, err := req.Cookie(returnToCookieName)
	if err != nil {
		return ""
	}

	http.SetCookie(w, &http.Cookie{
		Name:     returnToCookieName,
		Value:    "",
		Path:     "/",
		Expires:  time.Unix(0, 0),
		MaxAge:   -1,
		HttpOnly: true,
		Secure:   r.secure,
		SameSite: http.SameSiteLaxMode,
	})

	if !isSafeReturnTo(cookie.Value) {
		return ""
	}
	return cookie.Value
}

func isSafeReturnTo(returnTo string) bool {
	return strings.HasPrefix(returnTo, "/") && !strings.HasPrefix(returnTo, "//")
}
