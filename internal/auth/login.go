package auth

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"net"
	"net/http"
	"os"

	"golang.org/x/oauth2"
	"golang.org/x/oauth2/google"
)

// LoginOptions configures the OAuth authorization-code login flow.
type LoginOptions struct {
	ClientSecretPath string
	CredentialsFile  string
	Write            bool

	// Listener receives the loopback authorization redirect; defaults to
	// a dynamic 127.0.0.1 port.
	Listener net.Listener

	// Output carries the auth URL prompt; defaults to stdout.
	Output io.Writer
}

// clientSecretFile is the Google OAuth client secret download format.
type clientSecretFile struct {
	Installed *clientSecretEntry `json:"installed"`
	Web       *clientSecretEntry `json:"web"`
}

type clientSecretEntry struct {
	ClientID     string `json:"client_id"`
	ClientSecret string `json:"client_secret"`
}

// Login runs the OAuth authorization-code flow against a loopback
// redirect: the auth URL is printed for the user to open, and a one-shot
// listener on 127.0.0.1 receives the redirect carrying the code. The
// resulting credential file is persisted; returns the path written.
func Login(ctx context.Context, opts LoginOptions) (string, error) {
	if opts.Output == nil {
		opts.Output = os.Stdout
	}

	scope := ScopeWrite
	if !opts.Write {
		scope = ScopeRead
	}

	entry, err := readClientSecret(opts.ClientSecretPath)
	if err != nil {
		return "", err
	}

	listener := opts.Listener
	if listener == nil {
		listener, err = net.Listen("tcp", "127.0.0.1:0")
		if err != nil {
			return "", &AuthError{Message: fmt.Sprintf("OAuth login failed: could not open loopback listener: %v", err), Err: err}
		}
	}
	defer listener.Close()

	oauthConfig := &oauth2.Config{
		ClientID:     entry.ClientID,
		ClientSecret: entry.ClientSecret,
		Endpoint:     google.Endpoint,
		RedirectURL:  fmt.Sprintf("http://%s/", listener.Addr()),
		Scopes:       []string{string(scope)},
	}

	state, err := randomState()
	if err != nil {
		return "", &AuthError{Message: fmt.Sprintf("OAuth login failed: %v", err), Err: err}
	}

	authURL := oauthConfig.AuthCodeURL(state, oauth2.AccessTypeOffline)
	fmt.Fprintf(opts.Output, "Open this URL in your browser and authorize access:\n\n%s\n\n", authURL)
	fmt.Fprintln(opts.Output, "Waiting for the authorization redirect...")

	code, err := waitForAuthCode(ctx, listener, state)
	if err != nil {
		return "", err
	}

	token, err := oauthConfig.Exchange(ctx, code)
	if err != nil {
		return "", &AuthError{Message: fmt.Sprintf("OAuth login failed: %v", err), Err: err}
	}

	cred := &Credential{
		Token:        token.AccessToken,
		RefreshToken: token.RefreshToken,
		Expiry:       token.Expiry,
		Scopes:       []string{string(scope)},
		ClientID:     entry.ClientID,
		ClientSecret: entry.ClientSecret,
		Source:       SourceStored,
	}

	if err := persistCredential(cred, opts.CredentialsFile); err != nil {
		return "", err
	}

	return opts.CredentialsFile, nil
}

type authCodeResult struct {
	code string
	err  error
}

// waitForAuthCode serves the loopback redirect until one authorization
// response arrives or the context is cancelled.
func waitForAuthCode(ctx context.Context, listener net.Listener, state string) (string, error) {
	results := make(chan authCodeResult, 1)
	deliver := func(result authCodeResult) {
		select {
		case results <- result:
		default:
		}
	}

	server := &http.Server{Handler: http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		query := r.URL.Query()

		if errCode := query.Get("error"); errCode != "" {
			fmt.Fprintln(w, "Authorization failed. You can close this tab.")
			deliver(authCodeResult{err: &AuthError{Message: fmt.Sprintf("OAuth login failed: %s", errCode)}})
			return
		}
		if query.Get("state") != state {
			fmt.Fprintln(w, "Authorization rejected. You can close this tab.")
			deliver(authCodeResult{err: &AuthError{Message: "OAuth login failed: state mismatch on redirect"}})
			return
		}
		code := query.Get("code")
		if code == "" {
			fmt.Fprintln(w, "Missing authorization code. You can close this tab.")
			deliver(authCodeResult{err: &AuthError{Message: "OAuth login failed: redirect carried no authorization code"}})
			return
		}

		fmt.Fprintln(w, "Authorization received. You can close this tab.")
		deliver(authCodeResult{code: code})
	})}

	go server.Serve(listener)
	defer server.Close()

	select {
	case result := <-results:
		return result.code, result.err
	case <-ctx.Done():
		return "", &AuthError{Message: "OAuth login failed: cancelled before the authorization redirect arrived", Err: ctx.Err()}
	}
}

func randomState() (string, error) {
	buf := make([]byte, 16)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("could not generate state token: %w", err)
	}
	return hex.EncodeToString(buf), nil
}

func readClientSecret(path string) (*clientSecretEntry, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, &AuthError{Message: fmt.Sprintf("Could not read client secret file: %s", path), Err: err}
	}

	var file clientSecretFile
	if err := json.Unmarshal(data, &file); err != nil {
		return nil, &AuthError{Message: fmt.Sprintf("Could not read client secret file: %s", path), Err: err}
	}

	entry := file.Installed
	if entry == nil {
		entry = file.Web
	}
	if entry == nil || entry.ClientID == "" || entry.ClientSecret == "" {
		return nil, &AuthError{Message: fmt.Sprintf("Could not read client secret file: %s", path)}
	}

	return entry, nil
}
