package searchconsole

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"

	"gsc/internal/analytics"
)

const defaultBaseURL = "https://searchconsole.googleapis.com"

// APIError is a failed remote call: the HTTP status plus the structured
// error message from the response payload when one was present. It is
// surfaced verbatim and never retried here.
type APIError struct {
	StatusCode int
	Message    string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("status %d: %s", e.StatusCode, e.Message)
}

// Client performs blocking RPCs against the Search Console API using an
// already-authenticated HTTP client.
type Client struct {
	httpClient *http.Client
	baseURL    string
}

// NewClient wraps an authenticated HTTP client.
func NewClient(httpClient *http.Client) *Client {
	return &Client{httpClient: httpClient, baseURL: defaultBaseURL}
}

// Site is one Search Console property entry.
type Site struct {
	SiteURL         string `json:"siteUrl"`
	PermissionLevel string `json:"permissionLevel"`
}

type sitesListResponse struct {
	SiteEntry []Site `json:"siteEntry"`
}

// Sitemap is one submitted sitemap entry.
type Sitemap struct {
	Path            string           `json:"path"`
	Type            string           `json:"type,omitempty"`
	IsPending       bool             `json:"isPending,omitempty"`
	IsSitemapsIndex bool             `json:"isSitemapsIndex,omitempty"`
	LastSubmitted   string           `json:"lastSubmitted,omitempty"`
	LastDownloaded  string           `json:"lastDownloaded,omitempty"`
	Warnings        json.Number      `json:"warnings,omitempty"`
	Errors          json.Number      `json:"errors,omitempty"`
	Contents        []SitemapContent `json:"contents,omitempty"`
}

// SitemapContent is a per-content-type breakdown within a sitemap.
type SitemapContent struct {
	Type      string      `json:"type"`
	Submitted json.Number `json:"submitted,omitempty"`
	Indexed   json.Number `json:"indexed,omitempty"`
}

type sitemapsListResponse struct {
	Sitemap []Sitemap `json:"sitemap"`
}

// InspectionRequest is the urlInspection index:inspect request body.
type InspectionRequest struct {
	InspectionURL string `json:"inspectionUrl"`
	SiteURL       string `json:"siteUrl"`
	LanguageCode  string `json:"languageCode,omitempty"`
}

type inspectionResponse struct {
	InspectionResult InspectionResult `json:"inspectionResult"`
}

// InspectionResult holds the fields of an index inspection this client
// reads; issue and item lists stay raw so they can be passed through or
// stringified without inventing a schema for them.
type InspectionResult struct {
	InspectionResultLink  string                 `json:"inspectionResultLink,omitempty"`
	IndexStatusResult     *IndexStatusResult     `json:"indexStatusResult,omitempty"`
	AmpResult             *AmpResult             `json:"ampResult,omitempty"`
	MobileUsabilityResult *MobileUsabilityResult `json:"mobileUsabilityResult,omitempty"`
	RichResultsResult     *RichResultsResult     `json:"richResultsResult,omitempty"`
}

type IndexStatusResult struct {
	Verdict         string   `json:"verdict,omitempty"`
	CoverageState   string   `json:"coverageState,omitempty"`
	IndexingState   string   `json:"indexingState,omitempty"`
	RobotsTxtState  string   `json:"robotsTxtState,omitempty"`
	PageFetchState  string   `json:"pageFetchState,omitempty"`
	LastCrawlTime   string   `json:"lastCrawlTime,omitempty"`
	CrawledAs       string   `json:"crawledAs,omitempty"`
	GoogleCanonical string   `json:"googleCanonical,omitempty"`
	UserCanonical   string   `json:"userCanonical,omitempty"`
	Sitemap         []string `json:"sitemap,omitempty"`
	ReferringUrls   []string `json:"referringUrls,omitempty"`
}

type AmpResult struct {
	Verdict string          `json:"verdict,omitempty"`
	Issues  json.RawMessage `json:"issues,omitempty"`
}

type MobileUsabilityResult struct {
	Verdict string          `json:"verdict,omitempty"`
	Issues  json.RawMessage `json:"issues,omitempty"`
}

type RichResultsResult struct {
	Verdict       string          `json:"verdict,omitempty"`
	DetectedItems json.RawMessage `json:"detectedItems,omitempty"`
}

// ListSites lists all properties the credential can access.
func (c *Client) ListSites(ctx context.Context) ([]Site, error) {
	var response sitesListResponse
	if err := c.do(ctx, http.MethodGet, "/webmasters/v3/sites", nil, &response); err != nil {
		return nil, err
	}
	return response.SiteEntry, nil
}

// GetSite fetches one property.
func (c *Client) GetSite(ctx context.Context, siteURL string) (*Site, error) {
	var site Site
	path := "/webmasters/v3/sites/" + url.PathEscape(siteURL)
	if err := c.do(ctx, http.MethodGet, path, nil, &site); err != nil {
		return nil, err
	}
	return &site, nil
}

// AddSite adds a property.
func (c *Client) AddSite(ctx context.Context, siteURL string) error {
	path := "/webmasters/v3/sites/" + url.PathEscape(siteURL)
	return c.do(ctx, http.MethodPut, path, nil, nil)
}

// DeleteSite removes a property from the account.
func (c *Client) DeleteSite(ctx context.Context, siteURL string) error {
	path := "/webmasters/v3/sites/" + url.PathEscape(siteURL)
	return c.do(ctx, http.MethodDelete, path, nil, nil)
}

// ListSitemaps lists sitemaps for a property, optionally restricted to one
// sitemap index.
func (c *Client) ListSitemaps(ctx context.Context, siteURL, sitemapIndex string) ([]Sitemap, error) {
	path := "/webmasters/v3/sites/" + url.PathEscape(siteURL) + "/sitemaps"
	if sitemapIndex != "" {
		path += "?sitemapIndex=" + url.QueryEscape(sitemapIndex)
	}

	var response sitemapsListResponse
	if err := c.do(ctx, http.MethodGet, path, nil, &response); err != nil {
		return nil, err
	}
	return response.Sitemap, nil
}

// GetSitemap fetches one sitemap by feed path.
func (c *Client) GetSitemap(ctx context.Context, siteURL, feedpath string) (*Sitemap, error) {
	var sitemap Sitemap
	path := "/webmasters/v3/sites/" + url.PathEscape(siteURL) + "/sitemaps/" + url.PathEscape(feedpath)
	if err := c.do(ctx, http.MethodGet, path, nil, &sitemap); err != nil {
		return nil, err
	}
	return &sitemap, nil
}

// SubmitSitemap submits (or resubmits) a sitemap.
func (c *Client) SubmitSitemap(ctx context.Context, siteURL, feedpath string) error {
	path := "/webmasters/v3/sites/" + url.PathEscape(siteURL) + "/sitemaps/" + url.PathEscape(feedpath)
	return c.do(ctx, http.MethodPut, path, nil, nil)
}

// DeleteSitemap removes a sitemap from a property.
func (c *Client) DeleteSitemap(ctx context.Context, siteURL, feedpath string) error {
	path := "/webmasters/v3/sites/" + url.PathEscape(siteURL) + "/sitemaps/" + url.PathEscape(feedpath)
	return c.do(ctx, http.MethodDelete, path, nil, nil)
}

// InspectURL inspects the index status of one URL.
func (c *Client) InspectURL(ctx context.Context, request InspectionRequest) (*InspectionResult, error) {
	var response inspectionResponse
	if err := c.do(ctx, http.MethodPost, "/v1/urlInspection/index:inspect", request, &response); err != nil {
		return nil, err
	}
	return &response.InspectionResult, nil
}

// QuerySearchAnalytics runs one Search Analytics query.
func (c *Client) QuerySearchAnalytics(ctx context.Context, siteURL string, request *analytics.QueryRequest) (*analytics.QueryResponse, error) {
	path := "/webmasters/v3/sites/" + url.PathEscape(siteURL) + "/searchAnalytics/query"

	var response analytics.QueryResponse
	if err := c.do(ctx, http.MethodPost, path, request, &response); err != nil {
		return nil, err
	}
	return &response, nil
}

func (c *Client) do(ctx context.Context, method, path string, body, result any) error {
	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("failed to marshal request body: %w", err)
		}
		reader = bytes.NewReader(data)
	}

	request, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return fmt.Errorf("failed to build request: %w", err)
	}
	if body != nil {
		request.Header.Set("Content-Type", "application/json")
	}

	response, err := c.httpClient.Do(request)
	if err != nil {
		return fmt.Errorf("failed to call Search Console API: %w", err)
	}
	defer response.Body.Close()

	if response.StatusCode < 200 || response.StatusCode >= 300 {
		return decodeAPIError(response)
	}

	if result != nil {
		if err := json.NewDecoder(response.Body).Decode(result); err != nil && err != io.EOF {
			return fmt.Errorf("failed to decode response: %w", err)
		}
	}

	return nil
}

// decodeAPIError extracts error.message from the structured error payload
// when present, falling back to the HTTP status text.
func decodeAPIError(response *http.Response) error {
	apiError := &APIError{
		StatusCode: response.StatusCode,
		Message:    http.StatusText(response.StatusCode),
	}

	data, err := io.ReadAll(response.Body)
	if err != nil || len(data) == 0 {
		return apiError
	}

	var payload struct {
		Error struct {
			Message string `json:"message"`
		} `json:"error"`
	}
	if err := json.Unmarshal(data, &payload); err == nil && payload.Error.Message != "" {
		apiError.Message = payload.Error.Message
	}

	return apiError
}
