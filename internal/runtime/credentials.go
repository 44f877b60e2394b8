package runtime

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"golang.org/x/oauth2"
	"golang.org/x/oauth2/google"
	"google.golang.org/api/gmail/v1"
	sheetsv4 "google.golang.org/api/sheets/v4"

	"github.com/joshsymonds/dupesweep/internal/logging"
)

// DefaultScopes covers label changes on Gmail and appends on Sheets.
// Changing them invalidates previously stored tokens.
var DefaultScopes = []string{gmail.GmailModifyScope, sheetsv4.SpreadsheetsScope}

// Credential is an OAuth token together with the client configuration
// needed to refresh it.
type Credential struct {
	Token  *oauth2.Token
	Config *oauth2.Config
	// Renewed is set when the token was just refreshed or authorized and
	// has not been written to the store yet.
	Renewed bool
}

// HTTPClient returns a client that authorizes requests and refreshes the
// token as needed.
func (c *Credential) HTTPClient(ctx context.Context) *http.Client {
	return c.Config.Client(ctx, c.Token)
}

// CredentialSource produces a credential for the requested scopes, or
// ErrNoCredential when it has none.
type CredentialSource interface {
	Credential(ctx context.Context, scopes []string) (*Credential, error)
}

// storedCredential is the token file layout (Google's authorized-user form).
type storedCredential struct {
	Token        string    `json:"token"`
	RefreshToken string    `json:"refresh_token,omitempty"`
	TokenURI     string    `json:"token_uri"`
	ClientID     string    `json:"client_id"`
	ClientSecret string    `json:"client_secret"`
	Scopes       []string  `json:"scopes"`
	Expiry       time.Time `json:"expiry,omitempty"`
}

// FileStore persists credentials as JSON on disk.
type FileStore struct {
	Path string
}

// Load reads the stored credential. A missing or unreadable file yields
// ErrNoCredential.
func (s FileStore) Load() (*Credential, error) {
	data, err := os.ReadFile(s.Path) // #nosec G304 - path supplied by the operator
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, ErrNoCredential
		}
		return nil, fmt.Errorf("%w: read %s: %v", ErrNoCredential, s.Path, err)
	}
	var sc storedCredential
	if err := json.Unmarshal(data, &sc); err != nil {
		return nil, fmt.Errorf("%w: decode %s: %v", ErrNoCredential, s.Path, err)
	}
	tokenURL := sc.TokenURI
	if tokenURL == "" {
		tokenURL = google.Endpoint.TokenURL
	}
	return &Credential{
		Token: &oauth2.Token{
			AccessToken:  sc.Token,
			TokenType:    "Bearer",
			RefreshToken: sc.RefreshToken,
			Expiry:       sc.Expiry,
		},
		Config: &oauth2.Config{
			ClientID:     sc.ClientID,
			ClientSecret: sc.ClientSecret,
			Endpoint:     oauth2.Endpoint{AuthURL: google.Endpoint.AuthURL, TokenURL: tokenURL},
			Scopes:       sc.Scopes,
		},
	}, nil
}

// Save overwrites the token file with cred.
func (s FileStore) Save(cred *Credential) error {
	if cred == nil || cred.Token == nil || cred.Config == nil {
		return errors.New("save credential: incomplete credential")
	}
	sc := storedCredential{
		Token:        cred.Token.AccessToken,
		RefreshToken: cred.Token.RefreshToken,
		TokenURI:     cred.Config.Endpoint.TokenURL,
		ClientID:     cred.Config.ClientID,
		ClientSecret: cred.Config.ClientSecret,
		Scopes:       cred.Config.Scopes,
		Expiry:       cred.Token.Expiry,
	}
	data, err := json.MarshalIndent(sc, "", "  ")
	if err != nil {
		return fmt.Errorf("encode credential: %w", err)
	}
	if dir := filepath.Dir(s.Path); dir != "." {
		if err := os.MkdirAll(dir, 0o700); err != nil {
			return fmt.Errorf("create token directory: %w", err)
		}
	}
	if err := os.WriteFile(s.Path, data, 0o600); err != nil {
		return fmt.Errorf("write %s: %w", s.Path, err)
	}
	return nil
}

// CachedFile serves the credential stored in a FileStore, refreshing it when
// it has expired and carries a refresh token.
type CachedFile struct {
	Store  FileStore
	Logger *slog.Logger
}

func (c CachedFile) Credential(ctx context.Context, scopes []string) (*Credential, error) {
	logger := c.Logger
	if logger == nil {
		logger = logging.Discard()
	}
	cred, err := c.Store.Load()
	if err != nil {
		return nil, err
	}
	if !coversScopes(cred.Config.Scopes, scopes) {
		logger.Info("stored token scopes changed; re-authenticating", "path", c.Store.Path)
		return nil, fmt.Errorf("%w: scope mismatch", ErrNoCredential)
	}
	if cred.Token.Valid() {
		return cred, nil
	}
	if cred.Token.RefreshToken == "" {
		return nil, fmt.Errorf("%w: token expired without refresh token", ErrNoCredential)
	}
	tok, err := cred.Config.TokenSource(ctx, cred.Token).Token()
	if err != nil {
		logger.Warn("error refreshing token; re-authenticating", logging.Err(err))
		return nil, fmt.Errorf("%w: refresh: %v", ErrNoCredential, err)
	}
	logger.Debug("token refreshed", "token", logging.SanitizeToken(tok.AccessToken))
	return &Credential{Token: tok, Config: cred.Config, Renewed: true}, nil
}

// CredentialManager obtains a credential from the first source that has
// one and persists renewed credentials before handing them out.
type CredentialManager struct {
	Sources []CredentialSource
	Store   FileStore
	Scopes  []string
	Logger  *slog.Logger
}

// CredentialOptions configures NewCredentialManager.
type CredentialOptions struct {
	TokenPath   string
	SecretsPath string
	Scopes      []string
	NoBrowser   bool
	Timeout     time.Duration
	Logger      *slog.Logger
}

// NewCredentialManager wires the cached-file and browser-flow sources.
func NewCredentialManager(opts CredentialOptions) *CredentialManager {
	logger := opts.Logger
	if logger == nil {
		logger = logging.DefaultLogger()
	}
	scopes := opts.Scopes
	if len(scopes) == 0 {
		scopes = DefaultScopes
	}
	store := FileStore{Path: opts.TokenPath}
	flow := &BrowserFlow{
		SecretsPath: opts.SecretsPath,
		Open:        OpenBrowser,
		Timeout:     opts.Timeout,
		Logger:      logger,
	}
	if opts.NoBrowser {
		flow.Open = nil
	}
	return &CredentialManager{
		Sources: []CredentialSource{CachedFile{Store: store, Logger: logger}, flow},
		Store:   store,
		Scopes:  scopes,
		Logger:  logger,
	}
}

// Obtain returns a usable credential or an *AuthenticationError.
func (m *CredentialManager) Obtain(ctx context.Context) (*Credential, error) {
	var last error
	for _, src := range m.Sources {
		cred, err := src.Credential(ctx, m.Scopes)
		if err != nil {
			if errors.Is(err, ErrNoCredential) {
				last = err
				continue
			}
			var authErr *AuthenticationError
			if errors.As(err, &authErr) {
				return nil, err
			}
			return nil, &AuthenticationError{Reason: "obtain credential", Err: err}
		}
		if cred.Renewed {
			if err := m.Store.Save(cred); err != nil {
				return nil, fmt.Errorf("persist credential: %w", err)
			}
			cred.Renewed = false
		}
		return cred, nil
	}
	return nil, &AuthenticationError{Reason: "no valid credential and no client secret", Err: last}
}

func coversScopes(have, want []string) bool {
	set := make(map[string]struct{}, len(have))
	for _, s := range have {
		set[s] = struct{}{}
	}
	for _, s := range want {
		if _, ok := set[s]; !ok {
			return false
		}
	}
	return true
}
