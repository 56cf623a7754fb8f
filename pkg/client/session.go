package client

import (
	"context"
	"io"
	"net/http"
	"net/http/cookiejar"
	"regexp"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// tokenPattern extracts the anti-forgery token the service embeds in an
// inline script on its landing page.
var tokenPattern = regexp.MustCompile(`window\.CSRF_TOKEN\s*=\s*["']([^"']+)["']`)

// tokenFetchTimeout bounds the landing page fetch. The page is static; a
// slow response means the service is down, not busy.
const tokenFetchTimeout = 10 * time.Second

// Session holds the authentication state shared by all requests of one job:
// the anti-forgery token and the cookie jar the service pairs it with. The
// token is fetched lazily from the landing page and cached until
// Invalidate is called.
//
// A Session is confined to the single goroutine driving its job; it is not
// safe for concurrent use.
type Session struct {
	baseURL    string
	userAgent  string
	httpClient *http.Client
	token      string
	logger     zerolog.Logger
}

// NewSession creates a session for the service at baseURL. The cookie jar is
// created here and lives for the whole session; the service validates the
// anti-forgery token against it, so requests must not bypass this client.
func NewSession(baseURL, userAgent string) (*Session, error) {
	jar, err := cookiejar.New(nil)
	if err != nil {
		return nil, err
	}

	return &Session{
		baseURL:   baseURL,
		userAgent: userAgent,
		httpClient: &http.Client{
			Jar: jar,
		},
		logger: log.With().Str("component", "session").Logger(),
	}, nil
}

// Token returns the cached anti-forgery token, or "" if none is held.
func (s *Session) Token() string {
	return s.token
}

// Invalidate discards the cached token. The next EnsureToken call fetches a
// fresh one from the landing page.
func (s *Session) Invalidate() {
	s.token = ""
	s.logger.Debug().Msg("Anti-forgery token invalidated")
}

// EnsureToken makes sure the session holds an anti-forgery token, fetching
// the landing page if none is cached. The fetch also populates the cookie
// jar with the session cookies the service checks the token against.
func (s *Session) EnsureToken(ctx context.Context) error {
	if s.token != "" {
		return nil
	}

	ctx, cancel := context.WithTimeout(ctx, tokenFetchTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, s.baseURL+"/", nil)
	if err != nil {
		return &ServiceError{Kind: ErrorKindTokenFetch, Message: "building landing page request", Err: err}
	}
	s.applyHeaders(req)

	resp, err := s.httpClient.Do(req)
	if err != nil {
		return &ServiceError{Kind: ErrorKindTokenFetch, Message: "fetching landing page", Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return &ServiceError{
			StatusCode: resp.StatusCode,
			Kind:       ErrorKindTokenFetch,
			Message:    "landing page returned non-OK status",
		}
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return &ServiceError{Kind: ErrorKindTokenFetch, Message: "reading landing page", Err: err}
	}

	match := tokenPattern.FindSubmatch(body)
	if match == nil {
		return &ServiceError{
			StatusCode: resp.StatusCode,
			Kind:       ErrorKindTokenFetch,
			Message:    "scanning landing page",
			Err:        ErrTokenNotFound,
		}
	}

	s.token = string(match[1])
	s.logger.Info().
		Str("token_prefix", tokenPrefix(s.token)).
		Msg("Anti-forgery token obtained")
	return nil
}

// applyHeaders sets the browser-shaped headers the service expects on every
// request, plus the anti-forgery token when one is held.
func (s *Session) applyHeaders(req *http.Request) {
	req.Header.Set("User-Agent", s.userAgent)
	req.Header.Set("Origin", s.baseURL)
	req.Header.Set("Referer", s.baseURL+"/")
	if s.token != "" {
		req.Header.Set("X-CSRF-Token", s.token)
	}
}

// Do sends a request through the session's HTTP client, so cookies set by
// the service are carried across requests.
func (s *Session) Do(req *http.Request) (*http.Response, error) {
	return s.httpClient.Do(req)
}

// tokenPrefix shortens a token for logging.
func tokenPrefix(token string) string {
	if len(token) <= 10 {
		return token
	}
	return token[:10] + "..."
}
