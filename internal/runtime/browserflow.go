package runtime

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/exec"
	goruntime "runtime"
	"time"

	"golang.org/x/oauth2"
	"golang.org/x/oauth2/google"

	"github.com/joshsymonds/dupesweep/internal/logging"
)

const defaultAuthTimeout = 5 * time.Minute

// BrowserFlow runs the installed-app authorization flow against a loopback
// listener. It needs the client secret file downloaded from the Google
// Cloud console.
type BrowserFlow struct {
	SecretsPath string
	// Open launches the consent URL. When nil the URL is only printed.
	Open    func(url string) error
	Out     io.Writer
	Timeout time.Duration
	Logger  *slog.Logger
}

func (b *BrowserFlow) Credential(ctx context.Context, scopes []string) (*Credential, error) {
	data, err := os.ReadFile(b.SecretsPath) // #nosec G304 - path supplied by the operator
	if err != nil {
		return nil, &AuthenticationError{Reason: "client secret file unavailable", Err: err}
	}
	cfg, err := google.ConfigFromJSON(data, scopes...)
	if err != nil {
		return nil, &AuthenticationError{Reason: "parse client secret file", Err: err}
	}
	tok, err := b.authorize(ctx, cfg)
	if err != nil {
		return nil, &AuthenticationError{Reason: "interactive authorization", Err: err}
	}
	return &Credential{Token: tok, Config: cfg, Renewed: true}, nil
}

func (b *BrowserFlow) authorize(ctx context.Context, cfg *oauth2.Config) (*oauth2.Token, error) {
	logger := b.Logger
	if logger == nil {
		logger = logging.Discard()
	}
	out := b.Out
	if out == nil {
		out = os.Stderr
	}
	timeout := b.Timeout
	if timeout <= 0 {
		timeout = defaultAuthTimeout
	}

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		return nil, fmt.Errorf("listen for callback: %w", err)
	}
	cfg.RedirectURL = fmt.Sprintf("http://%s/", ln.Addr().String())

	state := oauth2.GenerateVerifier()
	verifier := oauth2.GenerateVerifier()

	codeCh := make(chan string, 1)
	errCh := make(chan error, 1)
	mux := http.NewServeMux()
	mux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		q := r.URL.Query()
		if q.Get("state") != state {
			http.Error(w, "state mismatch", http.StatusBadRequest)
			sendErr(errCh, errors.New("state mismatch"))
			return
		}
		if e := q.Get("error"); e != "" {
			http.Error(w, "authorization denied", http.StatusBadRequest)
			sendErr(errCh, fmt.Errorf("authorization denied: %s", e))
			return
		}
		code := q.Get("code")
		if code == "" {
			http.Error(w, "missing code", http.StatusBadRequest)
			sendErr(errCh, errors.New("missing auth code"))
			return
		}
		_, _ = io.WriteString(w, "dupesweep authorization complete. You can close this tab.")
		select {
		case codeCh <- code:
		default:
		}
	})
	srv := &http.Server{Handler: mux, ReadHeaderTimeout: 10 * time.Second}
	go func() { _ = srv.Serve(ln) }()
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()

	authURL := cfg.AuthCodeURL(state,
		oauth2.AccessTypeOffline,
		oauth2.ApprovalForce,
		oauth2.S256ChallengeOption(verifier),
	)
	fmt.Fprintf(out, "Open this URL to authorize dupesweep:\n%s\n", authURL)
	if b.Open != nil {
		if oerr := b.Open(authURL); oerr != nil {
			logger.Warn("could not open browser automatically", logging.Err(oerr))
		}
	}

	timer := time.NewTimer(timeout)
	defer timer.Stop()
	select {
	case code := <-codeCh:
		tok, err := cfg.Exchange(ctx, code, oauth2.VerifierOption(verifier))
		if err != nil {
			return nil, fmt.Errorf("exchange code: %w", err)
		}
		if tok.RefreshToken == "" {
			logger.Warn("no refresh token returned; the next run will prompt again")
		}
		return tok, nil
	case err := <-errCh:
		return nil, err
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-timer.C:
		return nil, fmt.Errorf("timed out waiting for browser callback after %s", timeout)
	}
}

func sendErr(ch chan<- error, err error) {
	select {
	case ch <- err:
	default:
	}
}

// OpenBrowser asks the desktop environment to open url.
func OpenBrowser(url string) error {
	var cmd *exec.Cmd
	switch goruntime.GOOS {
	case "darwin":
		cmd = exec.Command("open", url)
	case "windows":
		cmd = exec.Command("rundll32", "url.dll,FileProtocolHandler", url)
	default:
		cmd = exec.Command("xdg-open", url)
	}
	return cmd.Start()
}
