package auth

import (
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeCredentialFile(t *testing.T, record storedCredentialRecord) string {
	t.Helper()

	path := filepath.Join(t.TempDir(), "credentials.json")
	data, err := json.MarshalIndent(record, "", "  ")
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(path, append(data, '\n'), 0600))
	return path
}

func storedRecord(scopes ...string) storedCredentialRecord {
	return storedCredentialRecord{
		Type:         "authorized_user",
		ClientID:     "client-id",
		ClientSecret: "client-secret",
		RefreshToken: "refresh-token",
		Token:        "access-token",
		Expiry:       time.Now().Add(time.Hour).UTC().Format(time.RFC3339),
		Scopes:       scopes,
	}
}

func testResolver(path string) *Resolver {
	return &Resolver{
		CredentialsFile: path,
		refresh: func(ctx context.Context, cred *Credential) error {
			return errors.New("refresh should not be called")
		},
		lookupADC: func(ctx context.Context, scope Scope) (*Credential, error) {
			return nil, errors.New("ADC should not be consulted")
		},
	}
}

func TestClassify(t *testing.T) {
	valid := &Credential{Token: "t", Expiry: time.Now().Add(time.Hour)}
	assert.Equal(t, credentialValid, classify(valid))

	noExpiry := &Credential{Token: "t"}
	assert.Equal(t, credentialValid, classify(noExpiry))

	expired := &Credential{Token: "t", Expiry: time.Now().Add(-time.Minute), RefreshToken: "r"}
	assert.Equal(t, credentialNeedsRefresh, classify(expired))

	noToken := &Credential{RefreshToken: "r"}
	assert.Equal(t, credentialNeedsRefresh, classify(noToken))

	dead := &Credential{Token: "t", Expiry: time.Now().Add(-time.Minute)}
	assert.Equal(t, credentialUnrefreshable, classify(dead))
}

func TestResolveStoredValid(t *testing.T) {
	path := writeCredentialFile(t, storedRecord(ReadScope))
	resolver := testResolver(path)

	cred, err := resolver.Resolve(context.Background(), ScopeRead)
	require.NoError(t, err)
	assert.Equal(t, "access-token", cred.Token)
	assert.Equal(t, SourceStored, cred.Source)
}

func TestResolveWriteScopeSatisfiesRead(t *testing.T) {
	path := writeCredentialFile(t, storedRecord(WriteScope))
	resolver := testResolver(path)

	_, err := resolver.Resolve(context.Background(), ScopeRead)
	require.NoError(t, err)
}

func TestResolveReadScopeDoesNotSatisfyWrite(t *testing.T) {
	path := writeCredentialFile(t, storedRecord(ReadScope))
	resolver := testResolver(path)

	_, err := resolver.Resolve(context.Background(), ScopeWrite)
	require.Error(t, err)

	var authErr *AuthError
	require.ErrorAs(t, err, &authErr)
	assert.Contains(t, authErr.Message, "do not include required scope")
	assert.Contains(t, authErr.Message, WriteScope)
}

func TestResolveStoredMissingScopes(t *testing.T) {
	path := writeCredentialFile(t, storedRecord())
	resolver := testResolver(path)

	_, err := resolver.Resolve(context.Background(), ScopeRead)
	require.Error(t, err)

	var authErr *AuthError
	require.ErrorAs(t, err, &authErr)
	assert.Equal(t, "Stored credentials missing scopes. Run `gsc auth login --client-secret <path>` again.", authErr.Message)
}

func TestResolveStoredExpiredRefreshesAndPersists(t *testing.T) {
	record := storedRecord(WriteScope)
	record.Expiry = time.Now().Add(-time.Hour).UTC().Format(time.RFC3339)
	path := writeCredentialFile(t, record)

	resolver := testResolver(path)
	resolver.refresh = func(ctx context.Context, cred *Credential) error {
		cred.Token = "fresh-token"
		cred.Expiry = time.Now().Add(time.Hour)
		return nil
	}

	cred, err := resolver.Resolve(context.Background(), ScopeWrite)
	require.NoError(t, err)
	assert.Equal(t, "fresh-token", cred.Token)

	// The refreshed token is written back to the stored file.
	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.True(t, strings.HasSuffix(string(data), "\n"))

	var persisted storedCredentialRecord
	require.NoError(t, json.Unmarshal(data, &persisted))
	assert.Equal(t, "fresh-token", persisted.Token)
	assert.Equal(t, "authorized_user", persisted.Type)
	assert.Equal(t, []string{WriteScope}, persisted.Scopes)
}

func TestResolveStoredRefreshFailure(t *testing.T) {
	record := storedRecord(ReadScope)
	record.Expiry = time.Now().Add(-time.Hour).UTC().Format(time.RFC3339)
	path := writeCredentialFile(t, record)

	resolver := testResolver(path)
	resolver.refresh = func(ctx context.Context, cred *Credential) error {
		return errors.New("invalid_grant")
	}

	_, err := resolver.Resolve(context.Background(), ScopeRead)
	require.Error(t, err)

	var authErr *AuthError
	require.ErrorAs(t, err, &authErr)
	assert.Equal(t, "Stored OAuth credentials could not be refreshed. Run `gsc auth login --client-secret <path>` again.", authErr.Message)
}

func TestResolveMalformedStoredFileIsFatal(t *testing.T) {
	// A present but corrupt file never falls through to ADC.
	path := filepath.Join(t.TempDir(), "credentials.json")
	require.NoError(t, os.WriteFile(path, []byte("{not json"), 0600))

	adcConsulted := false
	resolver := testResolver(path)
	resolver.lookupADC = func(ctx context.Context, scope Scope) (*Credential, error) {
		adcConsulted = true
		return &Credential{Token: "adc", Expiry: time.Now().Add(time.Hour)}, nil
	}

	_, err := resolver.Resolve(context.Background(), ScopeRead)
	require.Error(t, err)
	assert.False(t, adcConsulted)

	var authErr *AuthError
	require.ErrorAs(t, err, &authErr)
	assert.Contains(t, authErr.Message, "are unreadable")
}

func TestResolveStoredFileMissingRequiredFields(t *testing.T) {
	record := storedRecord(ReadScope)
	record.RefreshToken = ""
	path := writeCredentialFile(t, record)

	resolver := testResolver(path)
	_, err := resolver.Resolve(context.Background(), ScopeRead)
	require.Error(t, err)

	var authErr *AuthError
	require.ErrorAs(t, err, &authErr)
	assert.Contains(t, authErr.Message, "are unreadable")
}

func TestResolveFallsBackToADC(t *testing.T) {
	path := filepath.Join(t.TempDir(), "credentials.json")

	resolver := testResolver(path)
	resolver.lookupADC = func(ctx context.Context, scope Scope) (*Credential, error) {
		assert.Equal(t, ScopeRead, scope)
		return &Credential{Token: "adc-token", Expiry: time.Now().Add(time.Hour)}, nil
	}

	cred, err := resolver.Resolve(context.Background(), ScopeRead)
	require.NoError(t, err)
	assert.Equal(t, "adc-token", cred.Token)
	assert.Equal(t, SourceADC, cred.Source)
}

func TestResolveADCRefreshDoesNotPersist(t *testing.T) {
	path := filepath.Join(t.TempDir(), "credentials.json")

	resolver := testResolver(path)
	resolver.lookupADC = func(ctx context.Context, scope Scope) (*Credential, error) {
		return &Credential{RefreshToken: "adc-refresh"}, nil
	}
	resolver.refresh = func(ctx context.Context, cred *Credential) error {
		cred.Token = "adc-fresh"
		cred.Expiry = time.Now().Add(time.Hour)
		return nil
	}

	cred, err := resolver.Resolve(context.Background(), ScopeRead)
	require.NoError(t, err)
	assert.Equal(t, "adc-fresh", cred.Token)

	// Ambient credentials are never written to disk.
	_, err = os.Stat(path)
	assert.True(t, os.IsNotExist(err))
}

func TestResolveADCRefreshFailure(t *testing.T) {
	path := filepath.Join(t.TempDir(), "credentials.json")

	resolver := testResolver(path)
	resolver.lookupADC = func(ctx context.Context, scope Scope) (*Credential, error) {
		return &Credential{RefreshToken: "adc-refresh"}, nil
	}
	resolver.refresh = func(ctx context.Context, cred *Credential) error {
		return errors.New("token endpoint unavailable")
	}

	_, err := resolver.Resolve(context.Background(), ScopeRead)
	require.Error(t, err)

	var authErr *AuthError
	require.ErrorAs(t, err, &authErr)
	assert.Contains(t, authErr.Message, "Failed to refresh ADC credentials")
	assert.Contains(t, authErr.Message, CloudPlatformScope)
	assert.Contains(t, authErr.Message, ReadScope)
}

func TestResolveNoCredentialsAnywhere(t *testing.T) {
	path := filepath.Join(t.TempDir(), "credentials.json")
	lookupErr := errors.New("could not find default credentials")

	resolver := testResolver(path)
	resolver.lookupADC = func(ctx context.Context, scope Scope) (*Credential, error) {
		return nil, lookupErr
	}

	_, err := resolver.Resolve(context.Background(), ScopeWrite)
	require.Error(t, err)

	var authErr *AuthError
	require.ErrorAs(t, err, &authErr)
	assert.Contains(t, authErr.Message, "No usable credentials found")
	assert.Contains(t, authErr.Message, "gsc auth login --client-secret")
	assert.Contains(t, authErr.Message, "--scopes="+CloudPlatformScope+","+WriteScope)

	// The underlying lookup failure stays reachable through the chain.
	assert.ErrorIs(t, err, lookupErr)
}

func TestFindDefaultCredentialSurfacesTokenSourceFailure(t *testing.T) {
	// A discoverable ambient credential that cannot mint a token must
	// report why, not come back as a silent empty credential.
	path := filepath.Join(t.TempDir(), "service_account.json")
	payload := `{
		"type": "service_account",
		"project_id": "demo",
		"private_key_id": "key-id",
		"private_key": "not-a-pem-block",
		"client_email": "demo@demo.iam.gserviceaccount.com",
		"token_uri": "https://oauth2.googleapis.com/token"
	}`
	require.NoError(t, os.WriteFile(path, []byte(payload), 0600))
	t.Setenv("GOOGLE_APPLICATION_CREDENTIALS", path)

	_, err := findDefaultCredential(context.Background(), ScopeRead)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "ambient credentials could not produce a token")
}

func TestResolveUnrefreshableADC(t *testing.T) {
	path := filepath.Join(t.TempDir(), "credentials.json")

	resolver := testResolver(path)
	resolver.lookupADC = func(ctx context.Context, scope Scope) (*Credential, error) {
		return &Credential{}, nil
	}

	_, err := resolver.Resolve(context.Background(), ScopeRead)
	require.Error(t, err)

	var authErr *AuthError
	require.ErrorAs(t, err, &authErr)
	assert.Contains(t, authErr.Message, "Failed to refresh ADC credentials")
}

func TestInspectStored(t *testing.T) {
	path := writeCredentialFile(t, storedRecord(ReadScope, WriteScope))
	resolver := testResolver(path)

	info, err := resolver.InspectStored()
	require.NoError(t, err)
	require.NotNil(t, info)
	assert.Equal(t, path, info.Path)
	assert.True(t, info.HasRefreshToken)
	assert.Equal(t, []string{ReadScope, WriteScope}, info.Scopes)
	assert.Equal(t, "client-id", info.ClientID)
}

func TestInspectStoredMissingFile(t *testing.T) {
	resolver := testResolver(filepath.Join(t.TempDir(), "credentials.json"))

	info, err := resolver.InspectStored()
	require.NoError(t, err)
	assert.Nil(t, info)
}

func TestInspectStoredInvalidJSON(t *testing.T) {
	path := filepath.Join(t.TempDir(), "credentials.json")
	require.NoError(t, os.WriteFile(path, []byte("oops"), 0600))

	resolver := testResolver(path)
	_, err := resolver.InspectStored()
	require.Error(t, err)

	var authErr *AuthError
	require.ErrorAs(t, err, &authErr)
	assert.Contains(t, authErr.Message, "invalid JSON")
}

func TestPersistCredentialCreatesParentDirs(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "dir", "credentials.json")
	cred := &Credential{
		Token:        "t",
		RefreshToken: "r",
		ClientID:     "id",
		ClientSecret: "secret",
		Scopes:       []string{ReadScope},
		Expiry:       time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC),
	}

	require.NoError(t, persistCredential(cred, path))

	info, err := os.Stat(path)
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0600), info.Mode().Perm())

	data, err := os.ReadFile(path)
	require.NoError(t, err)

	var record storedCredentialRecord
	require.NoError(t, json.Unmarshal(data, &record))
	assert.Equal(t, "2025-06-01T12:00:00Z", record.Expiry)
}

func TestValidateScopes(t *testing.T) {
	assert.NoError(t, validateScopes([]string{ReadScope}, ScopeRead))
	assert.NoError(t, validateScopes([]string{WriteScope}, ScopeWrite))
	assert.NoError(t, validateScopes([]string{WriteScope}, ScopeRead))
	assert.NoError(t, validateScopes([]string{CloudPlatformScope, ReadScope}, ScopeRead))

	assert.Error(t, validateScopes(nil, ScopeRead))
	assert.Error(t, validateScopes([]string{ReadScope}, ScopeWrite))
	assert.Error(t, validateScopes([]string{CloudPlatformScope}, ScopeRead))
}
