package auth

import (
	"bytes"
	"context"
	"net"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// syncBuffer lets the test read the prompt while Login is still running.
type syncBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *syncBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *syncBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}

func writeClientSecret(t *testing.T) string {
	t.Helper()

	path := filepath.Join(t.TempDir(), "client_secret.json")
	payload := `{"installed":{"client_id":"abc.apps.googleusercontent.com","client_secret":"shh"}}`
	require.NoError(t, os.WriteFile(path, []byte(payload), 0600))
	return path
}

func startLogin(t *testing.T, opts LoginOptions) (net.Listener, *syncBuffer, chan error) {
	t.Helper()

	listener, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)

	out := &syncBuffer{}
	opts.Listener = listener
	opts.Output = out

	done := make(chan error, 1)
	go func() {
		_, err := Login(context.Background(), opts)
		done <- err
	}()

	return listener, out, done
}

func waitForPrompt(t *testing.T, out *syncBuffer) string {
	t.Helper()

	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		if text := out.String(); strings.Contains(text, "Waiting for the authorization redirect") {
			return text
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("auth URL prompt never printed")
	return ""
}

func TestReadClientSecret(t *testing.T) {
	path := filepath.Join(t.TempDir(), "client_secret.json")
	payload := `{"installed":{"client_id":"abc.apps.googleusercontent.com","client_secret":"shh"}}`
	require.NoError(t, os.WriteFile(path, []byte(payload), 0600))

	entry, err := readClientSecret(path)
	require.NoError(t, err)
	assert.Equal(t, "abc.apps.googleusercontent.com", entry.ClientID)
	assert.Equal(t, "shh", entry.ClientSecret)
}

func TestReadClientSecretWebVariant(t *testing.T) {
	path := filepath.Join(t.TempDir(), "client_secret.json")
	payload := `{"web":{"client_id":"web-id","client_secret":"web-secret"}}`
	require.NoError(t, os.WriteFile(path, []byte(payload), 0600))

	entry, err := readClientSecret(path)
	require.NoError(t, err)
	assert.Equal(t, "web-id", entry.ClientID)
}

func TestReadClientSecretErrors(t *testing.T) {
	missing := filepath.Join(t.TempDir(), "nope.json")
	_, err := readClientSecret(missing)
	require.Error(t, err)

	var authErr *AuthError
	require.ErrorAs(t, err, &authErr)
	assert.Contains(t, authErr.Message, "Could not read client secret file")

	empty := filepath.Join(t.TempDir(), "empty.json")
	require.NoError(t, os.WriteFile(empty, []byte(`{}`), 0600))
	_, err = readClientSecret(empty)
	require.ErrorAs(t, err, &authErr)
}

func TestLoginAuthURLUsesLoopbackRedirect(t *testing.T) {
	listener, out, done := startLogin(t, LoginOptions{
		ClientSecretPath: writeClientSecret(t),
		CredentialsFile:  filepath.Join(t.TempDir(), "credentials.json"),
		Write:            true,
	})

	prompt := waitForPrompt(t, out)
	assert.Contains(t, prompt, "Open this URL in your browser")
	assert.Contains(t, prompt, "access_type=offline")
	assert.Contains(t, prompt, "redirect_uri=http%3A%2F%2F127.0.0.1")
	assert.Contains(t, prompt, "webmasters")

	// Terminate the flow through the redirect's error path.
	response, err := http.Get("http://" + listener.Addr().String() + "/?error=access_denied")
	require.NoError(t, err)
	response.Body.Close()

	loginErr := <-done
	require.Error(t, loginErr)

	var authErr *AuthError
	require.ErrorAs(t, loginErr, &authErr)
	assert.Equal(t, "OAuth login failed: access_denied", authErr.Message)
}

func TestLoginReadonlyScopeInAuthURL(t *testing.T) {
	listener, out, done := startLogin(t, LoginOptions{
		ClientSecretPath: writeClientSecret(t),
		CredentialsFile:  filepath.Join(t.TempDir(), "credentials.json"),
		Write:            false,
	})

	prompt := waitForPrompt(t, out)
	assert.Contains(t, prompt, "webmasters.readonly")

	http.Get("http://" + listener.Addr().String() + "/?error=access_denied")
	<-done
}

func TestLoginRejectsStateMismatch(t *testing.T) {
	listener, out, done := startLogin(t, LoginOptions{
		ClientSecretPath: writeClientSecret(t),
		CredentialsFile:  filepath.Join(t.TempDir(), "credentials.json"),
		Write:            true,
	})
	waitForPrompt(t, out)

	response, err := http.Get("http://" + listener.Addr().String() + "/?code=abc&state=forged")
	require.NoError(t, err)
	response.Body.Close()

	loginErr := <-done
	require.Error(t, loginErr)

	var authErr *AuthError
	require.ErrorAs(t, loginErr, &authErr)
	assert.Equal(t, "OAuth login failed: state mismatch on redirect", authErr.Message)
}

func TestLoginRejectsRedirectWithoutCode(t *testing.T) {
	listener, out, done := startLogin(t, LoginOptions{
		ClientSecretPath: writeClientSecret(t),
		CredentialsFile:  filepath.Join(t.TempDir(), "credentials.json"),
		Write:            true,
	})
	prompt := waitForPrompt(t, out)

	// Replay the real state from the printed auth URL so only the code is
	// missing.
	state := extractQueryParam(t, prompt, "state")
	response, err := http.Get("http://" + listener.Addr().String() + "/?state=" + state)
	require.NoError(t, err)
	response.Body.Close()

	loginErr := <-done
	require.Error(t, loginErr)

	var authErr *AuthError
	require.ErrorAs(t, loginErr, &authErr)
	assert.Equal(t, "OAuth login failed: redirect carried no authorization code", authErr.Message)
}

func TestLoginCancelledBeforeRedirect(t *testing.T) {
	listener, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err = Login(ctx, LoginOptions{
		ClientSecretPath: writeClientSecret(t),
		CredentialsFile:  filepath.Join(t.TempDir(), "credentials.json"),
		Write:            true,
		Listener:         listener,
		Output:           &syncBuffer{},
	})
	require.Error(t, err)

	var authErr *AuthError
	require.ErrorAs(t, err, &authErr)
	assert.Contains(t, authErr.Message, "cancelled before the authorization redirect")
	assert.ErrorIs(t, err, context.Canceled)
}

func extractQueryParam(t *testing.T, prompt, name string) string {
	t.Helper()

	marker := name + "="
	index := strings.Index(prompt, marker)
	require.GreaterOrEqual(t, index, 0, "param %s not in auth URL", name)

	value := prompt[index+len(marker):]
	if end := strings.IndexAny(value, "&\n "); end >= 0 {
		value = value[:end]
	}
	return value
}
