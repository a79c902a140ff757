package youtube

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"os"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/oauth2"
	"golang.org/x/oauth2/google"
	"google.golang.org/api/youtube/v3"

	"coursesync/internal/fsutil"
)

// ErrConsentRequired is returned when no usable token is cached and there
// is no terminal to run the consent flow on.
var ErrConsentRequired = errors.New("youtube: authorization required, run interactively once")

const consentTimeout = 5 * time.Minute

func loadOAuthConfig(secretsFile string) (*oauth2.Config, error) {
	data, err := os.ReadFile(secretsFile)
	if err != nil {
		return nil, fmt.Errorf("read client secrets: %w", err)
	}
	conf, err := google.ConfigFromJSON(data, youtube.YoutubeForceSslScope)
	if err != nil {
		return nil, fmt.Errorf("parse client secrets: %w", err)
	}
	return conf, nil
}

func loadToken(path string) (*oauth2.Token, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var tok oauth2.Token
	if err := json.Unmarshal(data, &tok); err != nil {
		return nil, fmt.Errorf("parse token file: %w", err)
	}
	return &tok, nil
}

func saveToken(path string, tok *oauth2.Token) error {
	data, err := json.MarshalIndent(tok, "", "  ")
	if err != nil {
		return err
	}
	return fsutil.WritePrivateFile(path, data)
}

// cachingTokenSource writes every newly issued token back to the cache file
// so refreshed tokens survive the run.
type cachingTokenSource struct {
	path   string
	src    oauth2.TokenSource
	onSave func(error)

	mu   sync.Mutex
	last string
}

func (s *cachingTokenSource) Token() (*oauth2.Token, error) {
	tok, err := s.src.Token()
	if err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if tok.AccessToken != s.last {
		s.last = tok.AccessToken
		err := saveToken(s.path, tok)
		if s.onSave != nil {
			s.onSave(err)
		}
	}
	return tok, nil
}

// tokenSource returns a source backed by the cached token, running the
// consent flow when there is no token or it can no longer be refreshed.
func (u *Uploader) tokenSource(ctx context.Context, conf *oauth2.Config) (oauth2.TokenSource, error) {
	tok, err := loadToken(u.cfg.TokenFile)
	switch {
	case err == nil:
		src := conf.TokenSource(ctx, tok)
		_, err := src.Token()
		if err == nil {
			return u.caching(src, tok), nil
		}
		u.logger.Warn("cached youtube token unusable, authorizing again", "error", err)
	case !errors.Is(err, os.ErrNotExist):
		u.logger.Warn("youtube token file unreadable", "path", u.cfg.TokenFile, "error", err)
	}

	tok, err = u.consent(ctx, conf)
	if err != nil {
		return nil, err
	}
	if err := saveToken(u.cfg.TokenFile, tok); err != nil {
		u.logger.Warn("could not cache youtube token", "path", u.cfg.TokenFile, "error", err)
	}
	return u.caching(conf.TokenSource(ctx, tok), tok), nil
}

func (u *Uploader) caching(src oauth2.TokenSource, initial *oauth2.Token) oauth2.TokenSource {
	return &cachingTokenSource{
		path: u.cfg.TokenFile,
		src:  src,
		last: initial.AccessToken,
		onSave: func(err error) {
			if err != nil {
				u.logger.Warn("could not cache refreshed youtube token", "error", err)
			}
		},
	}
}

// consent runs the installed-app flow: the user opens the printed URL and
// Google redirects the code to a listener on the loopback interface.
func (u *Uploader) consent(ctx context.Context, base *oauth2.Config) (*oauth2.Token, error) {
	if u.cfg.Prompt == nil {
		return nil, ErrConsentRequired
	}

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		return nil, fmt.Errorf("listen for oauth redirect: %w", err)
	}
	conf := *base
	conf.RedirectURL = "http://" + ln.Addr().String() + "/"

	state := uuid.NewString()
	verifier := oauth2.GenerateVerifier()
	authURL := conf.AuthCodeURL(state, oauth2.AccessTypeOffline, oauth2.S256ChallengeOption(verifier))

	codes := make(chan string, 1)
	errs := make(chan error, 1)
	srv := &http.Server{
		ReadHeaderTimeout: 10 * time.Second,
		Handler: http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			q := r.URL.Query()
			switch {
			case q.Get("state") != state:
				http.Error(w, "state mismatch", http.StatusBadRequest)
				return
			case q.Get("error") != "":
				io.WriteString(w, "Authorization failed. You can close this window.\n")
				select {
				case errs <- fmt.Errorf("consent denied: %s", q.Get("error")):
				default:
				}
				return
			case q.Get("code") == "":
				http.Error(w, "missing code", http.StatusBadRequest)
				return
			}
			io.WriteString(w, "Authorization complete. You can close this window.\n")
			select {
			case codes <- q.Get("code"):
			default:
			}
		}),
	}
	go srv.Serve(ln)
	defer srv.Close()

	fmt.Fprintf(u.cfg.Prompt, "Open this URL in a browser to authorize YouTube uploads:\n\n  %s\n\n", authURL)

	ctx, cancel := context.WithTimeout(ctx, consentTimeout)
	defer cancel()
	select {
	case code := <-codes:
		tok, err := conf.Exchange(ctx, code, oauth2.VerifierOption(verifier))
		if err != nil {
			return nil, fmt.Errorf("exchange code: %w", err)
		}
		return tok, nil
	case err := <-errs:
		return nil, err
	case <-ctx.Done():
		return nil, fmt.Errorf("waiting for consent: %w", ctx.Err())
	}
}
