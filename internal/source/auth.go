package source

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"net"
	"net/http"
	"os"
	"time"

	"golang.org/x/oauth2"

	"github.com/tonimelisma/immich-sync/internal/tokenfile"
)

// ErrNotLoggedIn is returned by TokenSourceFromPath when no token file
// exists at the configured path; the caller (Orchestrator) runs the
// first-time auth flow in response (spec §4.9).
var ErrNotLoggedIn = errors.New("source: not logged in")

// readOnlyScope is the minimal Google Photos Library API scope the core
// needs: it only ever reads from the source (spec §1, one-way sync).
const readOnlyScope = "https://www.googleapis.com/auth/photoslibrary.readonly"

// callbackPort is fixed, not randomly chosen, because the OAuth app's
// redirect URI is registered ahead of time against a specific
// "http://localhost:PORT" value (spec §4.2: "a fixed localhost port").
const callbackPort = 8080

// shutdownTimeout bounds how long the loopback callback server waits to
// drain after receiving (or failing to receive) the redirect.
const shutdownTimeout = 5 * time.Second

// installedAppSecret mirrors the "installed" application credentials
// file Google Cloud Console issues for a desktop OAuth client (spec §6:
// client-secret path, `{ "installed": { client_id, client_secret,
// auth_uri, token_uri } }` shape).
type installedAppSecret struct {
	Installed struct {
		ClientID     string `json:"client_id"`
		ClientSecret string `json:"client_secret"`
		AuthURI      string `json:"auth_uri"`
		TokenURI     string `json:"token_uri"`
	} `json:"installed"`
}

// loadClientSecret reads and parses the client-secret file.
func loadClientSecret(path string) (installedAppSecret, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return installedAppSecret{}, fmt.Errorf("source: reading client secret %s: %w", path, err)
	}

	var secret installedAppSecret
	if err := json.Unmarshal(data, &secret); err != nil {
		return installedAppSecret{}, fmt.Errorf("source: decoding client secret %s: %w", path, err)
	}

	return secret, nil
}

// oauthConfig builds an oauth2.Config from the client-secret file,
// wiring OnTokenChange so every silent refresh persists the new token to
// tokenPath (spec §4.2: "Refresh is serialized... Refresh failure is
// propagated"; persistence matches the teacher's internal/graph
// auth.go pattern).
func oauthConfig(secret installedAppSecret, tokenPath string, logger *slog.Logger) *oauth2.Config {
	return &oauth2.Config{
		ClientID:     secret.Installed.ClientID,
		ClientSecret: secret.Installed.ClientSecret,
		Scopes:       []string{readOnlyScope},
		Endpoint: oauth2.Endpoint{
			AuthURL:  secret.Installed.AuthURI,
			TokenURL: secret.Installed.TokenURI,
		},
		OnTokenChange: func(tok *oauth2.Token) {
			logger.Info("source token refreshed", slog.Time("new_expiry", tok.Expiry))
			if err := tokenfile.Save(tokenPath, tok, nil); err != nil {
				logger.Warn("failed to persist refreshed source token",
					slog.String("path", tokenPath), slog.String("error", err.Error()))
			}
		},
	}
}

// tokenSource adapts oauth2.TokenSource to the minimal interface the
// Client needs. It does not log token acquisition.
type tokenSource struct {
	src    oauth2.TokenSource
	logger *slog.Logger
}

// Token returns a current access token from the wrapped source. The
// core's 10-minute-ahead refresh discipline (spec §4.2) comes from that
// source being built by refreshAheadOf; the Client calls Token before
// every request.
func (t *tokenSource) Token() (string, error) {
	tok, err := t.src.Token()
	if err != nil {
		return "", fmt.Errorf("source: obtaining token: %w", err)
	}
	return tok.AccessToken, nil
}

// Login runs the interactive first-time acquisition flow (spec §4.2):
// PKCE S256 + CSRF state + loopback redirect on callbackPort. It prints
// the authorization URL, accepts exactly one incoming connection,
// extracts code and state, verifies state, exchanges the code, and
// persists the result to tokenPath.
func Login(ctx context.Context, clientSecretPath, tokenPath string, logger *slog.Logger) (*tokenSource, error) {
	secret, err := loadClientSecret(clientSecretPath)
	if err != nil {
		return nil, err
	}

	cfg := oauthConfig(secret, tokenPath, logger)
	cfg.RedirectURL = fmt.Sprintf("http://localhost:%d", callbackPort)

	verifier := oauth2.GenerateVerifier()
	state, err := generateState()
	if err != nil {
		return nil, fmt.Errorf("source: generating CSRF state: %w", err)
	}

	type result struct {
		code string
		err  error
	}
	resultCh := make(chan result, 1)

	mux := http.NewServeMux()
	mux.HandleFunc("GET /", func(w http.ResponseWriter, r *http.Request) {
		if got := r.URL.Query().Get("state"); got != state {
			http.Error(w, "invalid state parameter", http.StatusBadRequest)
			resultCh <- result{err: fmt.Errorf("source: OAuth2 state mismatch (possible CSRF)")}
			return
		}
		if errParam := r.URL.Query().Get("error"); errParam != "" {
			http.Error(w, "authorization failed: "+errParam, http.StatusBadRequest)
			resultCh <- result{err: fmt.Errorf("source: authorization denied: %s", errParam)}
			return
		}
		code := r.URL.Query().Get("code")
		if code == "" {
			http.Error(w, "missing authorization code", http.StatusBadRequest)
			resultCh <- result{err: fmt.Errorf("source: callback missing authorization code")}
			return
		}
		fmt.Fprint(w, "Go back to your terminal.")
		resultCh <- result{code: code}
	})

	listener, err := net.Listen("tcp", fmt.Sprintf("127.0.0.1:%d", callbackPort))
	if err != nil {
		return nil, fmt.Errorf("source: binding loopback listener on port %d: %w", callbackPort, err)
	}

	srv := &http.Server{Handler: mux, ReadHeaderTimeout: shutdownTimeout}
	go func() {
		if serveErr := srv.Serve(listener); serveErr != nil && !errors.Is(serveErr, http.ErrServerClosed) {
			resultCh <- result{err: fmt.Errorf("source: callback server error: %w", serveErr)}
		}
	}()
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()

	authURL := cfg.AuthCodeURL(state, oauth2.AccessTypeOffline, oauth2.S256ChallengeOption(verifier))
	fmt.Fprintf(os.Stderr, "Open this URL in your browser:\n%s\n", authURL)

	var r result
	select {
	case r = <-resultCh:
	case <-ctx.Done():
		return nil, fmt.Errorf("source: login canceled: %w", ctx.Err())
	}
	if r.err != nil {
		return nil, r.err
	}

	tok, err := cfg.Exchange(ctx, r.code, oauth2.VerifierOption(verifier))
	if err != nil {
		return nil, fmt.Errorf("source: token exchange failed: %w", err)
	}

	if err := tokenfile.Save(tokenPath, tok, nil); err != nil {
		return nil, fmt.Errorf("source: saving token: %w", err)
	}

	logger.Info("source login successful", slog.String("path", tokenPath), slog.Time("expiry", tok.Expiry))

	return &tokenSource{src: refreshAheadOf(ctx, cfg, tok), logger: logger}, nil
}

// refreshAheadOfWindow is the spec's token-refresh discipline (§4.2):
// "if expires_at - now < 10 minutes, acquire a fresh token". The x/oauth2
// default reuse source only refreshes a few seconds before expiry, so the
// 10-minute window is layered on top with ReuseTokenSourceWithExpiry; the
// inner cfg.TokenSource still fires OnTokenChange (persistence) whenever
// that outer check triggers an actual refresh.
const refreshAheadOfWindow = 10 * time.Minute

func refreshAheadOf(ctx context.Context, cfg *oauth2.Config, tok *oauth2.Token) oauth2.TokenSource {
	return oauth2.ReuseTokenSourceWithExpiry(tok, cfg.TokenSource(ctx, tok), refreshAheadOfWindow)
}

// TokenSourceFromPath loads a saved token and returns an auto-refreshing,
// auto-persisting token source. Returns ErrNotLoggedIn if tokenPath does
// not exist.
func TokenSourceFromPath(ctx context.Context, clientSecretPath, tokenPath string, logger *slog.Logger) (*tokenSource, error) {
	tok, _, err := tokenfile.Load(tokenPath)
	if err != nil {
		return nil, err
	}
	if tok == nil {
		return nil, ErrNotLoggedIn
	}

	secret, err := loadClientSecret(clientSecretPath)
	if err != nil {
		return nil, err
	}

	cfg := oauthConfig(secret, tokenPath, logger)
	return &tokenSource{src: refreshAheadOf(ctx, cfg, tok), logger: logger}, nil
}

// Logout removes the saved token file. Returns nil if already logged out.
func Logout(tokenPath string, logger *slog.Logger) error {
	err := os.Remove(tokenPath)
	if errors.Is(err, fs.ErrNotExist) {
		logger.Info("logout: no source token file to remove", slog.String("path", tokenPath))
		return nil
	}
	if err != nil {
		return fmt.Errorf("source: removing token file: %w", err)
	}
	logger.Info("logout: removed source token file", slog.String("path", tokenPath))
	return nil
}

func generateState() (string, error) {
	b := make([]byte, 16)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return hex.EncodeToString(b), nil
}
