package auth

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"golang.org/x/oauth2"
	"golang.org/x/oauth2/google"
)

// OAuth2 scopes used with the Search Console API.
const (
	ReadScope          = "https://www.googleapis.com/auth/webmasters.readonly"
	WriteScope         = "https://www.googleapis.com/auth/webmasters"
	CloudPlatformScope = "https://www.googleapis.com/auth/cloud-platform"
)

// Scope is the permission level an API call requires. Write access is a
// superset of read access.
type Scope string

const (
	ScopeRead  Scope = ReadScope
	ScopeWrite Scope = WriteScope
)

// AuthError is raised when credentials cannot be loaded, validated, or
// refreshed. The message always names the remediation command.
type AuthError struct {
	Message string
	Err     error
}

func (e *AuthError) Error() string {
	return e.Message
}

func (e *AuthError) Unwrap() error {
	return e.Err
}

// Source identifies which resolution path produced a credential.
type Source int

const (
	// SourceStored means the credential came from the local token file and
	// is owned by this tool; refreshed tokens are persisted back to it.
	SourceStored Source = iota
	// SourceADC means the credential came from application default
	// credentials; it is never written back to disk.
	SourceADC
)

// Credential is the authorization material for one CLI invocation. It is
// constructed fresh per invocation and mutated in place by refresh.
type Credential struct {
	Token        string
	RefreshToken string
	Expiry       time.Time
	Scopes       []string
	ClientID     string
	ClientSecret string
	Source       Source
}

// Valid reports whether the credential can authenticate a call right now.
func (c *Credential) Valid() bool {
	if c.Token == "" {
		return false
	}
	return c.Expiry.IsZero() || time.Now().Before(c.Expiry)
}

// credentialState is the refresh state machine. Every credential lands in
// exactly one state; valid is terminal success, unrefreshable is terminal
// failure, needsRefresh transitions to one of the two.
type credentialState int

const (
	credentialValid credentialState = iota
	credentialNeedsRefresh
	credentialUnrefreshable
)

func classify(cred *Credential) credentialState {
	if cred.Valid() {
		return credentialValid
	}
	if cred.RefreshToken != "" {
		return credentialNeedsRefresh
	}
	return credentialUnrefreshable
}

// StoredInfo is a read-only projection of the stored credential file.
type StoredInfo struct {
	Path            string
	Scopes          []string
	HasRefreshToken bool
	ClientID        string
}

// Resolver produces valid credentials for API calls, preferring the local
// token file and falling back to application default credentials. The file
// path and both remote collaborators are injected so the resolution state
// machine is testable without touching process environment or network.
type Resolver struct {
	CredentialsFile string

	refresh   func(ctx context.Context, cred *Credential) error
	lookupADC func(ctx context.Context, scope Scope) (*Credential, error)
}

// NewResolver creates a resolver using the real Google token endpoint and
// ADC discovery.
func NewResolver(credentialsFile string) *Resolver {
	return &Resolver{
		CredentialsFile: credentialsFile,
		refresh:         refreshWithTokenEndpoint,
		lookupADC:       findDefaultCredential,
	}
}

// Resolve returns a valid, unexpired credential carrying the required
// scope, or an *AuthError telling the user how to fix their setup.
func (r *Resolver) Resolve(ctx context.Context, scope Scope) (*Credential, error) {
	stored, err := r.loadStored(scope)
	if err != nil {
		return nil, err
	}
	if stored != nil {
		return r.ensureValid(ctx, stored, scope)
	}

	cred, err := r.lookupADC(ctx, scope)
	if err != nil {
		return nil, &AuthError{Message: missingCredentialsMessage(scope), Err: err}
	}
	cred.Source = SourceADC

	return r.ensureValid(ctx, cred, scope)
}

// InspectStored parses the stored credential file without validating scope
// or attempting refresh. Returns nil when no file exists. A present but
// malformed file is an error, not a fallthrough: the caller explicitly
// asked to inspect it.
func (r *Resolver) InspectStored() (*StoredInfo, error) {
	data, err := os.ReadFile(r.CredentialsFile)
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, &AuthError{
			Message: fmt.Sprintf("Stored credentials at %s are unreadable. Run `gsc auth login --client-secret <path>` again.", r.CredentialsFile),
			Err:     err,
		}
	}

	var payload map[string]any
	if err := json.Unmarshal(data, &payload); err != nil {
		return nil, &AuthError{
			Message: fmt.Sprintf("Stored credentials are invalid JSON: %s", r.CredentialsFile),
			Err:     err,
		}
	}

	info := &StoredInfo{Path: r.CredentialsFile, Scopes: []string{}}
	if scopes, ok := payload["scopes"].([]any); ok {
		for _, scope := range scopes {
			if value, ok := scope.(string); ok {
				info.Scopes = append(info.Scopes, value)
			}
		}
	}
	if value, ok := payload["refresh_token"].(string); ok && value != "" {
		info.HasRefreshToken = true
	}
	if value, ok := payload["client_id"].(string); ok {
		info.ClientID = value
	}

	return info, nil
}

// loadStored returns (nil, nil) when no credential file exists. A file
// that exists but cannot be parsed is fatal rather than a fallthrough to
// ADC: falling through would silently mask corruption.
func (r *Resolver) loadStored(scope Scope) (*Credential, error) {
	data, err := os.ReadFile(r.CredentialsFile)
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, &AuthError{Message: unreadableStoredMessage(r.CredentialsFile), Err: err}
	}

	cred, err := parseStoredCredential(data)
	if err != nil {
		return nil, &AuthError{Message: unreadableStoredMessage(r.CredentialsFile), Err: err}
	}
	cred.Source = SourceStored

	if err := validateScopes(cred.Scopes, scope); err != nil {
		return nil, err
	}

	return cred, nil
}

func (r *Resolver) ensureValid(ctx context.Context, cred *Credential, scope Scope) (*Credential, error) {
	switch classify(cred) {
	case credentialValid:
		return cred, nil

	case credentialNeedsRefresh:
		if err := r.refresh(ctx, cred); err != nil {
			if cred.Source == SourceStored {
				return nil, &AuthError{
					Message: "Stored OAuth credentials could not be refreshed. Run `gsc auth login --client-secret <path>` again.",
					Err:     err,
				}
			}
			return nil, &AuthError{Message: refreshFailedMessage(scope), Err: err}
		}
		if cred.Source == SourceStored {
			if err := persistCredential(cred, r.CredentialsFile); err != nil {
				return nil, fmt.Errorf("failed to persist refreshed credentials: %w", err)
			}
		}
		return cred, nil

	default:
		if cred.Source == SourceStored {
			return nil, &AuthError{
				Message: "Stored OAuth credentials are invalid and cannot be refreshed. Run `gsc auth login --client-secret <path>` again.",
			}
		}
		return nil, &AuthError{Message: refreshFailedMessage(scope)}
	}
}

// storedCredentialRecord is the on-disk authorized-user token format. The
// same shape gcloud and the Google auth libraries write.
type storedCredentialRecord struct {
	Type         string   `json:"type,omitempty"`
	ClientID     string   `json:"client_id"`
	ClientSecret string   `json:"client_secret,omitempty"`
	RefreshToken string   `json:"refresh_token,omitempty"`
	Token        string   `json:"token,omitempty"`
	Expiry       string   `json:"expiry,omitempty"`
	Scopes       []string `json:"scopes,omitempty"`
}

func parseStoredCredential(data []byte) (*Credential, error) {
	var record storedCredentialRecord
	if err := json.Unmarshal(data, &record); err != nil {
		return nil, fmt.Errorf("invalid credential JSON: %w", err)
	}

	// Same shape requirements the authorized-user loaders enforce.
	if record.ClientID == "" || record.ClientSecret == "" || record.RefreshToken == "" {
		return nil, fmt.Errorf("credential file missing client_id, client_secret, or refresh_token")
	}

	cred := &Credential{
		Token:        record.Token,
		RefreshToken: record.RefreshToken,
		Scopes:       record.Scopes,
		ClientID:     record.ClientID,
		ClientSecret: record.ClientSecret,
	}

	if record.Expiry != "" {
		expiry, err := time.Parse(time.RFC3339, record.Expiry)
		if err != nil {
			return nil, fmt.Errorf("invalid credential expiry %q: %w", record.Expiry, err)
		}
		cred.Expiry = expiry
	}

	return cred, nil
}

// persistCredential overwrites the token file wholesale, creating parent
// directories as needed. Trailing newline matches what login writes.
func persistCredential(cred *Credential, path string) error {
	record := storedCredentialRecord{
		Type:         "authorized_user",
		ClientID:     cred.ClientID,
		ClientSecret: cred.ClientSecret,
		RefreshToken: cred.RefreshToken,
		Token:        cred.Token,
		Scopes:       cred.Scopes,
	}
	if !cred.Expiry.IsZero() {
		record.Expiry = cred.Expiry.UTC().Format(time.RFC3339)
	}

	data, err := json.MarshalIndent(record, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal credentials: %w", err)
	}

	if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
		return fmt.Errorf("failed to create credentials directory: %w", err)
	}

	if err := os.WriteFile(path, append(data, '\n'), 0600); err != nil {
		return fmt.Errorf("failed to write credentials file: %w", err)
	}

	return nil
}

// validateScopes enforces the superset rule: a write-scoped credential
// satisfies a read requirement, never the converse.
func validateScopes(granted []string, required Scope) error {
	if len(granted) == 0 {
		return &AuthError{
			Message: "Stored credentials missing scopes. Run `gsc auth login --client-secret <path>` again.",
		}
	}

	scopeSet := make(map[string]bool, len(granted))
	for _, scope := range granted {
		scopeSet[scope] = true
	}

	if required == ScopeRead && scopeSet[WriteScope] {
		return nil
	}
	if scopeSet[string(required)] {
		return nil
	}

	return &AuthError{
		Message: fmt.Sprintf("Stored credentials do not include required scope '%s'. Run `gsc auth login --client-secret <path>` again.", required),
	}
}

// refreshWithTokenEndpoint exchanges the refresh token at Google's token
// endpoint and updates the credential in place.
func refreshWithTokenEndpoint(ctx context.Context, cred *Credential) error {
	oauthConfig := &oauth2.Config{
		ClientID:     cred.ClientID,
		ClientSecret: cred.ClientSecret,
		Endpoint:     google.Endpoint,
	}

	tokenSource := oauthConfig.TokenSource(ctx, &oauth2.Token{RefreshToken: cred.RefreshToken})
	token, err := tokenSource.Token()
	if err != nil {
		return fmt.Errorf("failed to refresh access token: %w", err)
	}
	if token.AccessToken == "" {
		return fmt.Errorf("received empty access token")
	}

	cred.Token = token.AccessToken
	cred.Expiry = token.Expiry
	if token.RefreshToken != "" {
		cred.RefreshToken = token.RefreshToken
	}

	return nil
}

// findDefaultCredential discovers application default credentials scoped to
// exactly the required scope. File-based ADC (authorized-user JSON) keeps
// its refresh token so the resolver's own refresh path runs; other ADC
// forms (service accounts, metadata server) are materialized into a token
// up front.
func findDefaultCredential(ctx context.Context, scope Scope) (*Credential, error) {
	creds, err := google.FindDefaultCredentials(ctx, string(scope))
	if err != nil {
		return nil, err
	}

	if len(creds.JSON) > 0 {
		var record storedCredentialRecord
		if err := json.Unmarshal(creds.JSON, &record); err == nil && record.Type == "authorized_user" {
			return &Credential{
				Token:        record.Token,
				RefreshToken: record.RefreshToken,
				Scopes:       record.Scopes,
				ClientID:     record.ClientID,
				ClientSecret: record.ClientSecret,
			}, nil
		}
	}

	token, err := creds.TokenSource.Token()
	if err != nil {
		return nil, fmt.Errorf("ambient credentials could not produce a token: %w", err)
	}

	return &Credential{Token: token.AccessToken, Expiry: token.Expiry}, nil
}

func unreadableStoredMessage(path string) string {
	return fmt.Sprintf("Stored credentials at %s are unreadable. Run `gsc auth login --client-secret <path>` again.", path)
}

func missingCredentialsMessage(scope Scope) string {
	return fmt.Sprintf(
		"No usable credentials found. Preferred setup:\n"+
			"gsc auth login --client-secret <path-to-client-secret.json>\n\n"+
			"ADC fallback:\n"+
			"gcloud auth application-default login "+
			"--client-id-file=<path-to-client-secret.json> "+
			"--scopes=%s,%s",
		CloudPlatformScope, scope)
}

func refreshFailedMessage(scope Scope) string {
	return fmt.Sprintf(
		"Failed to refresh ADC credentials. Re-run:\n"+
			"gcloud auth application-default login "+
			"--client-id-file=<path-to-client-secret.json> "+
			"--scopes=%s,%s",
		CloudPlatformScope, scope)
}
