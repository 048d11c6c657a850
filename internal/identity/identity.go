package identity

import (
	"errors"
	"net/http"
	"strings"

	"github.com/google/uuid"
)

var (
	ErrUnauthenticated = errors.New("unauthenticated")
	ErrUnknownUser     = errors.New("unknown user")
	ErrInactiveUser    = errors.New("inactive user")
)

// Authenticator resolves the participant behind an upgrade request.
type Authenticator interface {
	Authenticate(r *http.Request) (string, error)
}

// Anonymous hands every connection a fresh identity.
type Anonymous struct{}

func (Anonymous) Authenticate(*http.Request) (string, error) {
	return "anon-" + uuid.NewString(), nil
}

// Checked runs Next and then asks the directory whether the participant may play.
type Checked struct {
	Next      Authenticator
	Directory *Directory
}

func (c Checked) Authenticate(r *http.Request) (string, error) {
	pid, err := c.Next.Authenticate(r)
	if err != nil || c.Directory == nil {
		return pid, err
	}
	if _, err := c.Directory.Lookup(r.Context(), pid); err != nil {
		return "", err
	}
	return pid, nil
}

// tokenFrom prefers the Authorization header and falls back to ?token=,
// which is the only option for browser websocket clients.
func tokenFrom(r *http.Request) string {
	if h := strings.TrimSpace(r.Header.Get("Authorization")); h != "" {
		if scheme, tok, ok := strings.Cut(h, " "); ok && strings.EqualFold(scheme, "Bearer") {
			return strings.TrimSpace(tok)
		}
	}
	return strings.TrimSpace(r.URL.Query().Get("token"))
}
