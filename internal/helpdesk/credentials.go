package helpdesk

import (
	"errors"
	"net/http"
)

// Credentials attach authentication to an outgoing API request.
type Credentials interface {
	Apply(req *http.Request) error
}

// Bearer authenticates with an "Authorization: Bearer" header (JWT).
type Bearer struct {
	Token string
}

func (b Bearer) Apply(req *http.Request) error {
	if b.Token == "" {
		return errors.New("bearer token is empty")
	}
	req.Header.Set("Authorization", "Bearer "+b.Token)
	return nil
}

// CookieSession authenticates with session cookies plus a CSRF header, as
// issued by the backend's login endpoint.
type CookieSession struct {
	Cookies   []*http.Cookie
	CSRFToken string
}

func (c CookieSession) Apply(req *http.Request) error {
	for _, ck := range c.Cookies {
		req.AddCookie(ck)
	}
	if c.CSRFToken != "" {
		req.Header.Set("X-CSRFToken", c.CSRFToken)
	}
	return nil
}

// None sends requests unauthenticated.
type None struct{}

func (None) Apply(*http.Request) error { return nil }
