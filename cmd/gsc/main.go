package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"runtime"
	"strings"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
	"golang.org/x/oauth2"

	"gsc/internal/analytics"
	"gsc/internal/auth"
	"gsc/internal/cache"
	"gsc/internal/config"
	"gsc/internal/output"
	"gsc/internal/paths"
	"gsc/internal/preset"
	"gsc/internal/searchconsole"
)

// Exit statuses per error kind. The CLI is scripted against, so these are
// part of the interface.
const (
	userInputExitCode = 2
	authExitCode      = 3
	apiExitCode       = 4
)

var (
	version = "0.1.0"

	rootCmd = &cobra.Command{
		Use:   "gsc",
		Short: "Google Search Console CLI",
		Long: `gsc is a CLI for Google Search Console: manage properties and sitemaps,
inspect URL index status, and query Search Analytics.

Examples:
  gsc auth login --client-secret client_secret.json
  gsc config set default-site sc-domain:example.com
  gsc site list
  gsc analytics query --start-date 2025-01-01 --end-date 2025-01-31 --dimension query`,
		Version: version,
	}

	authCmd = &cobra.Command{
		Use:   "auth",
		Short: "Authenticate and inspect credentials",
	}

	configCmd = &cobra.Command{
		Use:   "config",
		Short: "Manage CLI configuration",
	}

	configSetCmd = &cobra.Command{
		Use:   "set",
		Short: "Set config values",
	}

	configGetCmd = &cobra.Command{
		Use:   "get",
		Short: "Get config values",
	}

	siteCmd = &cobra.Command{
		Use:   "site",
		Short: "Manage Search Console properties",
	}

	sitemapCmd = &cobra.Command{
		Use:   "sitemap",
		Short: "Manage Search Console sitemaps",
	}

	urlCmd = &cobra.Command{
		Use:   "url",
		Short: "Inspect URL index status in Search Console",
	}

	analyticsCmd = &cobra.Command{
		Use:   "analytics",
		Short: "Query Search Analytics",
	}

	presetCmd = &cobra.Command{
		Use:   "preset",
		Short: "Manage saved query presets",
	}

	cacheCmd = &cobra.Command{
		Use:   "cache",
		Short: "Manage the local query result cache",
	}
)

func init() {
	// Auth subcommands
	authLoginCmd := &cobra.Command{
		Use:   "login",
		Short: "Run OAuth login and save local credentials",
		Run:   authLoginCmdHandler,
	}
	authLoginCmd.Flags().String("client-secret", "", "Path to OAuth client secret JSON (required)")
	authLoginCmd.Flags().Bool("readonly", false, "Request readonly scope only")
	authLoginCmd.MarkFlagRequired("client-secret")

	authWhoamiCmd := &cobra.Command{
		Use:   "whoami",
		Short: "Show locally stored credential details",
		Run:   authWhoamiCmdHandler,
	}
	authWhoamiCmd.Flags().String("output", output.FormatTable, "Output format (table, json)")

	authCmd.AddCommand(authLoginCmd, authWhoamiCmd)

	// Config subcommands
	configSetDefaultSiteCmd := &cobra.Command{
		Use:   "default-site [siteUrl]",
		Short: "Set default site used when --site is omitted",
		Args:  cobra.ExactArgs(1),
		Run:   configSetDefaultSiteCmdHandler,
	}
	configGetDefaultSiteCmd := &cobra.Command{
		Use:   "default-site",
		Short: "Get default site",
		Run:   configGetDefaultSiteCmdHandler,
	}
	configSetCmd.AddCommand(configSetDefaultSiteCmd)
	configGetCmd.AddCommand(configGetDefaultSiteCmd)
	configCmd.AddCommand(configSetCmd, configGetCmd)

	// Doctor
	doctorCmd := &cobra.Command{
		Use:   "doctor",
		Short: "Run diagnostics for environment, auth, and API connectivity",
		Run:   doctorCmdHandler,
	}

	// Site subcommands
	siteListCmd := &cobra.Command{
		Use:   "list",
		Short: "List accessible Search Console properties",
		Run:   siteListCmdHandler,
	}
	addOutputFlags(siteListCmd, output.FormatTable)

	siteGetCmd := &cobra.Command{
		Use:   "get",
		Short: "Get one Search Console property",
		Run:   siteGetCmdHandler,
	}
	siteGetCmd.Flags().String("site", "", "Site URL, e.g. sc-domain:example.com")
	addOutputFlags(siteGetCmd, output.FormatJSON)

	siteAddCmd := &cobra.Command{
		Use:   "add",
		Short: "Add a Search Console property",
		Run:   siteAddCmdHandler,
	}
	siteAddCmd.Flags().String("site", "", "Site URL, e.g. sc-domain:example.com")

	siteDeleteCmd := &cobra.Command{
		Use:   "delete",
		Short: "Remove a Search Console property",
		Run:   siteDeleteCmdHandler,
	}
	siteDeleteCmd.Flags().String("site", "", "Site URL, e.g. sc-domain:example.com")

	siteCmd.AddCommand(siteListCmd, siteGetCmd, siteAddCmd, siteDeleteCmd)

	// Sitemap subcommands
	sitemapListCmd := &cobra.Command{
		Use:   "list",
		Short: "List sitemaps for a property",
		Run:   sitemapListCmdHandler,
	}
	sitemapListCmd.Flags().String("site", "", "Site URL, e.g. sc-domain:example.com")
	sitemapListCmd.Flags().String("sitemap-index", "", "Optional sitemap index URL/path filter passed to the API")
	addOutputFlags(sitemapListCmd, output.FormatTable)

	sitemapGetCmd := &cobra.Command{
		Use:   "get",
		Short: "Get one sitemap by feed path",
		Run:   sitemapGetCmdHandler,
	}
	sitemapGetCmd.Flags().String("site", "", "Site URL, e.g. sc-domain:example.com")
	sitemapGetCmd.Flags().String("feedpath", "", "Sitemap URL/path, e.g. https://example.com/sitemap.xml (required)")
	sitemapGetCmd.MarkFlagRequired("feedpath")
	addOutputFlags(sitemapGetCmd, output.FormatJSON)

	sitemapSubmitCmd := &cobra.Command{
		Use:   "submit",
		Short: "Submit (or resubmit) a sitemap",
		Run:   sitemapSubmitCmdHandler,
	}
	sitemapSubmitCmd.Flags().String("site", "", "Site URL, e.g. sc-domain:example.com")
	sitemapSubmitCmd.Flags().String("feedpath", "", "Sitemap URL/path, e.g. https://example.com/sitemap.xml (required)")
	sitemapSubmitCmd.MarkFlagRequired("feedpath")

	sitemapDeleteCmd := &cobra.Command{
		Use:   "delete",
		Short: "Delete a sitemap from a property",
		Run:   sitemapDeleteCmdHandler,
	}
	sitemapDeleteCmd.Flags().String("site", "", "Site URL, e.g. sc-domain:example.com")
	sitemapDeleteCmd.Flags().String("feedpath", "", "Sitemap URL/path, e.g. https://example.com/sitemap.xml (required)")
	sitemapDeleteCmd.MarkFlagRequired("feedpath")

	sitemapCmd.AddCommand(sitemapListCmd, sitemapGetCmd, sitemapSubmitCmd, sitemapDeleteCmd)

	// URL inspection
	urlInspectCmd := &cobra.Command{
		Use:   "inspect",
		Short: "Inspect index status of one URL",
		Run:   urlInspectCmdHandler,
	}
	urlInspectCmd.Flags().String("site", "", "Site URL, e.g. sc-domain:example.com")
	urlInspectCmd.Flags().String("url", "", "Fully-qualified URL to inspect (required)")
	urlInspectCmd.Flags().String("language-code", "en-US", "BCP-47 language code for issue messages")
	urlInspectCmd.MarkFlagRequired("url")
	addOutputFlags(urlInspectCmd, output.FormatTable)

	urlCmd.AddCommand(urlInspectCmd)

	// Analytics query
	analyticsQueryCmd := &cobra.Command{
		Use:   "query",
		Short: "Run a Search Analytics query",
		Run:   analyticsQueryCmdHandler,
	}
	analyticsQueryCmd.Flags().String("site", "", "Site URL, e.g. sc-domain:example.com")
	analyticsQueryCmd.Flags().String("start-date", "", "Start date in YYYY-MM-DD")
	analyticsQueryCmd.Flags().String("end-date", "", "End date in YYYY-MM-DD")
	analyticsQueryCmd.Flags().StringArray("dimension", nil, "Dimension to group by (repeatable)")
	analyticsQueryCmd.Flags().String("type", "web", "Result type (web, image, video, news, discover, googleNews)")
	analyticsQueryCmd.Flags().String("aggregation-type", "auto", "Aggregation type (auto, byPage, byProperty, byNewsShowcasePanel)")
	analyticsQueryCmd.Flags().Int("row-limit", 1000, "Maximum rows to return (1-25000)")
	analyticsQueryCmd.Flags().Int("start-row", 0, "Zero-based start row offset")
	analyticsQueryCmd.Flags().String("data-state", "final", "Data state (final, all, hourly_all)")
	analyticsQueryCmd.Flags().StringArray("filter", nil, "Filter expression in dimension:operator:expression format (repeatable)")
	analyticsQueryCmd.Flags().Bool("no-cache", false, "Skip the local result cache and force a fresh query")
	analyticsQueryCmd.Flags().String("preset", "", "Load query parameters from a saved preset")
	analyticsQueryCmd.Flags().String("save-preset", "", "Save these query parameters as a preset after a successful run")
	addOutputFlags(analyticsQueryCmd, output.FormatTable)

	analyticsCmd.AddCommand(analyticsQueryCmd)

	// Preset subcommands
	presetListCmd := &cobra.Command{
		Use:   "list",
		Short: "List saved query presets",
		Run:   presetListCmdHandler,
	}
	addOutputFlags(presetListCmd, output.FormatTable)

	presetShowCmd := &cobra.Command{
		Use:   "show [name]",
		Short: "Show one saved query preset",
		Args:  cobra.ExactArgs(1),
		Run:   presetShowCmdHandler,
	}
	addOutputFlags(presetShowCmd, output.FormatJSON)

	presetDeleteCmd := &cobra.Command{
		Use:   "delete [name]",
		Short: "Delete a saved query preset",
		Args:  cobra.ExactArgs(1),
		Run:   presetDeleteCmdHandler,
	}

	presetCmd.AddCommand(presetListCmd, presetShowCmd, presetDeleteCmd)

	// Cache subcommands
	cacheStatsCmd := &cobra.Command{
		Use:   "stats",
		Short: "Show result cache statistics",
		Run:   cacheStatsCmdHandler,
	}
	cacheCleanupCmd := &cobra.Command{
		Use:   "cleanup",
		Short: "Remove expired result cache entries",
		Run:   cacheCleanupCmdHandler,
	}
	cacheCmd.AddCommand(cacheStatsCmd, cacheCleanupCmd)

	rootCmd.AddCommand(authCmd, configCmd, doctorCmd, siteCmd, sitemapCmd, urlCmd, analyticsCmd, presetCmd, cacheCmd)
}

func main() {
	// Optional .env support for the GSC_* path overrides.
	godotenv.Load()

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func addOutputFlags(cmd *cobra.Command, defaultFormat string) {
	cmd.Flags().String("output", defaultFormat, "Output format (table, json, csv)")
	cmd.Flags().String("csv-path", "", "Destination file for csv output")
}

// exitWithError maps error kinds to exit statuses: bad input 2, auth 3,
// API 4, everything else 1.
func exitWithError(err error) {
	var validationErr *analytics.ValidationError
	var configErr *config.ConfigError
	var authErr *auth.AuthError
	var apiErr *searchconsole.APIError

	switch {
	case errors.As(err, &validationErr), errors.As(err, &configErr):
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(userInputExitCode)
	case errors.As(err, &authErr):
		fmt.Fprintf(os.Stderr, "Auth error: %v\n", err)
		os.Exit(authExitCode)
	case errors.As(err, &apiErr):
		fmt.Fprintf(os.Stderr, "API error (%d): %s\n", apiErr.StatusCode, apiErr.Message)
		os.Exit(apiExitCode)
	default:
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func validationErrorf(format string, args ...any) *analytics.ValidationError {
	return &analytics.ValidationError{Message: fmt.Sprintf(format, args...)}
}

func newConfigStore() (*config.Store, error) {
	path, err := paths.AppConfigFile()
	if err != nil {
		return nil, err
	}
	return config.NewStore(path), nil
}

func newResolver() (*auth.Resolver, error) {
	credentialsFile, err := paths.CredentialsFile()
	if err != nil {
		return nil, err
	}
	return auth.NewResolver(credentialsFile), nil
}

// buildClient resolves a credential for the required scope and wraps it
// in an authenticated API client.
func buildClient(ctx context.Context, scope auth.Scope) (*searchconsole.Client, error) {
	resolver, err := newResolver()
	if err != nil {
		return nil, err
	}

	cred, err := resolver.Resolve(ctx, scope)
	if err != nil {
		return nil, err
	}

	tokenSource := oauth2.StaticTokenSource(&oauth2.Token{
		AccessToken: cred.Token,
		Expiry:      cred.Expiry,
	})
	return searchconsole.NewClient(oauth2.NewClient(ctx, tokenSource)), nil
}

// resolveSite falls back to the configured default site when --site is
// omitted.
func resolveSite(siteURL string) (string, error) {
	if siteURL != "" {
		return siteURL, nil
	}

	store, err := newConfigStore()
	if err != nil {
		return "", err
	}
	defaultSite, err := store.GetDefaultSite()
	if err != nil {
		return "", err
	}
	if defaultSite != "" {
		return defaultSite, nil
	}

	return "", validationErrorf("No site specified. Pass --site or set one with `gsc config set default-site <siteUrl>`.")
}

func outputOptions(cmd *cobra.Command) (format, csvPath string, err error) {
	format, _ = cmd.Flags().GetString("output")
	csvPath, _ = cmd.Flags().GetString("csv-path")

	switch format {
	case output.FormatTable, output.FormatJSON, output.FormatCSV:
	default:
		return "", "", validationErrorf("Unsupported output format '%s'. Allowed: csv, json, table", format)
	}
	if format == output.FormatCSV && csvPath == "" {
		return "", "", validationErrorf("--csv-path is required when --output is csv.")
	}

	return format, csvPath, nil
}

func renderAndPrint(records []*output.Record, format, csvPath string) error {
	text, err := output.Render(records, format, csvPath)
	if err != nil {
		return err
	}
	fmt.Println(text)
	return nil
}

// compactJSON stringifies nested values for table and CSV output, where a
// cell has to be a single line.
func compactJSON(value any) string {
	data, err := json.Marshal(value)
	if err != nil {
		return fmt.Sprintf("%v", value)
	}
	return string(data)
}

func authLoginCmdHandler(cmd *cobra.Command, args []string) {
	clientSecret, _ := cmd.Flags().GetString("client-secret")
	readonly, _ := cmd.Flags().GetBool("readonly")

	credentialsFile, err := paths.CredentialsFile()
	if err != nil {
		exitWithError(err)
	}

	path, err := auth.Login(cmd.Context(), auth.LoginOptions{
		ClientSecretPath: clientSecret,
		CredentialsFile:  credentialsFile,
		Write:            !readonly,
	})
	if err != nil {
		exitWithError(err)
	}

	fmt.Printf("Saved credentials to %s\n", path)
}

func authWhoamiCmdHandler(cmd *cobra.Command, args []string) {
	format, _ := cmd.Flags().GetString("output")
	if format != output.FormatTable && format != output.FormatJSON {
		exitWithError(validationErrorf("Unsupported output format '%s'. Allowed: json, table", format))
	}

	resolver, err := newResolver()
	if err != nil {
		exitWithError(err)
	}

	info, err := resolver.InspectStored()
	if err != nil {
		exitWithError(err)
	}
	if info == nil {
		exitWithError(validationErrorf("No local OAuth credentials found. Run `gsc auth login --client-secret <path>` first."))
	}

	record := output.NewRecord()
	record.Set("path", info.Path)
	record.Set("has_refresh_token", info.HasRefreshToken)
	record.Set("scopes", strings.Join(info.Scopes, ","))
	record.Set("client_id", info.ClientID)

	if err := renderAndPrint([]*output.Record{record}, format, ""); err != nil {
		exitWithError(err)
	}
}

func configSetDefaultSiteCmdHandler(cmd *cobra.Command, args []string) {
	store, err := newConfigStore()
	if err != nil {
		exitWithError(err)
	}

	path, err := store.SetDefaultSite(args[0])
	if err != nil {
		exitWithError(err)
	}

	fmt.Printf("Set default-site to %s\n", strings.TrimSpace(args[0]))
	fmt.Printf("Config file: %s\n", path)
}

func configGetDefaultSiteCmdHandler(cmd *cobra.Command, args []string) {
	store, err := newConfigStore()
	if err != nil {
		exitWithError(err)
	}

	siteURL, err := store.GetDefaultSite()
	if err != nil {
		exitWithError(err)
	}
	if siteURL == "" {
		exitWithError(validationErrorf("default-site is not set."))
	}

	fmt.Println(siteURL)
}

func doctorCmdHandler(cmd *cobra.Command, args []string) {
	ctx := cmd.Context()
	var records []*output.Record
	failures := 0

	check := func(name, status, detail string) {
		record := output.NewRecord()
		record.Set("check", name)
		record.Set("status", status)
		record.Set("detail", detail)
		records = append(records, record)
		if status == "fail" {
			failures++
		}
	}

	check("go", "ok", runtime.Version())

	configPath, err := paths.AppConfigFile()
	if err != nil {
		check("config-path", "fail", err.Error())
	} else {
		check("config-path", "ok", configPath)
	}

	defaultSite := ""
	if store, err := newConfigStore(); err == nil {
		defaultSite, _ = store.GetDefaultSite()
	}
	if defaultSite != "" {
		check("default-site", "ok", defaultSite)
	} else {
		check("default-site", "warn", "not set")
	}

	resolver, err := newResolver()
	if err != nil {
		exitWithError(err)
	}

	if info, err := resolver.InspectStored(); err != nil {
		check("stored-credentials", "fail", err.Error())
	} else if info == nil {
		check("stored-credentials", "warn",
			fmt.Sprintf("not found at %s (ADC fallback may still work)", resolver.CredentialsFile))
	} else {
		check("stored-credentials", "ok", info.Path)
	}

	if _, err := resolver.Resolve(ctx, auth.ScopeRead); err != nil {
		check("auth-refresh", "fail", err.Error())
	} else {
		check("auth-refresh", "ok", "credentials load and refresh succeeded")
	}

	if client, err := buildClient(ctx, auth.ScopeRead); err != nil {
		check("api-connectivity", "fail", err.Error())
	} else if sites, err := client.ListSites(ctx); err != nil {
		check("api-connectivity", "fail", err.Error())
	} else {
		check("api-connectivity", "ok", fmt.Sprintf("sites.list succeeded (%d properties)", len(sites)))
	}

	text, err := output.Render(records, output.FormatTable, "")
	if err != nil {
		exitWithError(err)
	}
	fmt.Println(text)

	if failures > 0 {
		os.Exit(1)
	}
}

func siteListCmdHandler(cmd *cobra.Command, args []string) {
	format, csvPath, err := outputOptions(cmd)
	if err != nil {
		exitWithError(err)
	}

	ctx := cmd.Context()
	client, err := buildClient(ctx, auth.ScopeRead)
	if err != nil {
		exitWithError(err)
	}

	sites, err := client.ListSites(ctx)
	if err != nil {
		exitWithError(err)
	}

	records := make([]*output.Record, 0, len(sites))
	for _, site := range sites {
		record := output.NewRecord()
		record.Set("siteUrl", site.SiteURL)
		record.Set("permissionLevel", site.PermissionLevel)
		records = append(records, record)
	}

	if err := renderAndPrint(records, format, csvPath); err != nil {
		exitWithError(err)
	}
}

func siteGetCmdHandler(cmd *cobra.Command, args []string) {
	format, csvPath, err := outputOptions(cmd)
	if err != nil {
		exitWithError(err)
	}

	siteFlag, _ := cmd.Flags().GetString("site")
	siteURL, err := resolveSite(siteFlag)
	if err != nil {
		exitWithError(err)
	}

	ctx := cmd.Context()
	client, err := buildClient(ctx, auth.ScopeRead)
	if err != nil {
		exitWithError(err)
	}

	site, err := client.GetSite(ctx, siteURL)
	if err != nil {
		exitWithError(err)
	}

	record := output.NewRecord()
	record.Set("siteUrl", site.SiteURL)
	record.Set("permissionLevel", site.PermissionLevel)

	if err := renderAndPrint([]*output.Record{record}, format, csvPath); err != nil {
		exitWithError(err)
	}
}

func siteAddCmdHandler(cmd *cobra.Command, args []string) {
	siteFlag, _ := cmd.Flags().GetString("site")
	siteURL, err := resolveSite(siteFlag)
	if err != nil {
		exitWithError(err)
	}

	ctx := cmd.Context()
	client, err := buildClient(ctx, auth.ScopeWrite)
	if err != nil {
		exitWithError(err)
	}

	if err := client.AddSite(ctx, siteURL); err != nil {
		exitWithError(err)
	}

	fmt.Printf("Added site: %s\n", siteURL)
}

func siteDeleteCmdHandler(cmd *cobra.Command, args []string) {
	siteFlag, _ := cmd.Flags().GetString("site")
	siteURL, err := resolveSite(siteFlag)
	if err != nil {
		exitWithError(err)
	}

	ctx := cmd.Context()
	client, err := buildClient(ctx, auth.ScopeWrite)
	if err != nil {
		exitWithError(err)
	}

	if err := client.DeleteSite(ctx, siteURL); err != nil {
		exitWithError(err)
	}

	fmt.Printf("Removed site: %s\n", siteURL)
}

func sitemapToRecord(item searchconsole.Sitemap, stringifyContents bool) *output.Record {
	record := output.NewRecord()
	record.Set("path", item.Path)
	record.Set("type", item.Type)
	record.Set("isPending", item.IsPending)
	record.Set("isSitemapsIndex", item.IsSitemapsIndex)
	record.Set("lastSubmitted", item.LastSubmitted)
	record.Set("lastDownloaded", item.LastDownloaded)
	record.Set("warnings", item.Warnings)
	record.Set("errors", item.Errors)

	if item.Contents == nil {
		record.Set("contents", nil)
	} else if stringifyContents {
		record.Set("contents", compactJSON(item.Contents))
	} else {
		record.Set("contents", item.Contents)
	}

	return record
}

func sitemapListCmdHandler(cmd *cobra.Command, args []string) {
	format, csvPath, err := outputOptions(cmd)
	if err != nil {
		exitWithError(err)
	}

	siteFlag, _ := cmd.Flags().GetString("site")
	sitemapIndex, _ := cmd.Flags().GetString("sitemap-index")
	siteURL, err := resolveSite(siteFlag)
	if err != nil {
		exitWithError(err)
	}

	ctx := cmd.Context()
	client, err := buildClient(ctx, auth.ScopeRead)
	if err != nil {
		exitWithError(err)
	}

	sitemaps, err := client.ListSitemaps(ctx, siteURL, sitemapIndex)
	if err != nil {
		exitWithError(err)
	}

	records := make([]*output.Record, 0, len(sitemaps))
	for _, item := range sitemaps {
		records = append(records, sitemapToRecord(item, format != output.FormatJSON))
	}

	if err := renderAndPrint(records, format, csvPath); err != nil {
		exitWithError(err)
	}
}

func sitemapGetCmdHandler(cmd *cobra.Command, args []string) {
	format, csvPath, err := outputOptions(cmd)
	if err != nil {
		exitWithError(err)
	}

	siteFlag, _ := cmd.Flags().GetString("site")
	feedpath, _ := cmd.Flags().GetString("feedpath")
	siteURL, err := resolveSite(siteFlag)
	if err != nil {
		exitWithError(err)
	}

	ctx := cmd.Context()
	client, err := buildClient(ctx, auth.ScopeRead)
	if err != nil {
		exitWithError(err)
	}

	item, err := client.GetSitemap(ctx, siteURL, feedpath)
	if err != nil {
		exitWithError(err)
	}

	records := []*output.Record{sitemapToRecord(*item, format != output.FormatJSON)}
	if err := renderAndPrint(records, format, csvPath); err != nil {
		exitWithError(err)
	}
}

func sitemapSubmitCmdHandler(cmd *cobra.Command, args []string) {
	siteFlag, _ := cmd.Flags().GetString("site")
	feedpath, _ := cmd.Flags().GetString("feedpath")
	siteURL, err := resolveSite(siteFlag)
	if err != nil {
		exitWithError(err)
	}

	ctx := cmd.Context()
	client, err := buildClient(ctx, auth.ScopeWrite)
	if err != nil {
		exitWithError(err)
	}

	if err := client.SubmitSitemap(ctx, siteURL, feedpath); err != nil {
		exitWithError(err)
	}

	fmt.Printf("Submitted sitemap: %s\n", feedpath)
}

func sitemapDeleteCmdHandler(cmd *cobra.Command, args []string) {
	siteFlag, _ := cmd.Flags().GetString("site")
	feedpath, _ := cmd.Flags().GetString("feedpath")
	siteURL, err := resolveSite(siteFlag)
	if err != nil {
		exitWithError(err)
	}

	ctx := cmd.Context()
	client, err := buildClient(ctx, auth.ScopeWrite)
	if err != nil {
		exitWithError(err)
	}

	if err := client.DeleteSitemap(ctx, siteURL, feedpath); err != nil {
		exitWithError(err)
	}

	fmt.Printf("Deleted sitemap: %s\n", feedpath)
}

// inspectionToRecord flattens an inspection result into one row. Nested
// lists are stringified for table/csv output so every cell is scalar.
func inspectionToRecord(result *searchconsole.InspectionResult, inspectionURL, siteURL string, stringifyNested bool) *output.Record {
	indexStatus := result.IndexStatusResult
	if indexStatus == nil {
		indexStatus = &searchconsole.IndexStatusResult{}
	}
	ampResult := result.AmpResult
	if ampResult == nil {
		ampResult = &searchconsole.AmpResult{}
	}
	mobileResult := result.MobileUsabilityResult
	if mobileResult == nil {
		mobileResult = &searchconsole.MobileUsabilityResult{}
	}
	richResults := result.RichResultsResult
	if richResults == nil {
		richResults = &searchconsole.RichResultsResult{}
	}

	nested := func(value any) any {
		switch v := value.(type) {
		case []string:
			if v == nil {
				return nil
			}
			if stringifyNested {
				return compactJSON(v)
			}
			return v
		case json.RawMessage:
			if v == nil {
				return nil
			}
			if stringifyNested {
				return string(v)
			}
			return v
		default:
			return value
		}
	}

	record := output.NewRecord()
	record.Set("siteUrl", siteURL)
	record.Set("inspectionUrl", inspectionURL)
	record.Set("inspectionResultLink", result.InspectionResultLink)
	record.Set("verdict", indexStatus.Verdict)
	record.Set("coverageState", indexStatus.CoverageState)
	record.Set("indexingState", indexStatus.IndexingState)
	record.Set("robotsTxtState", indexStatus.RobotsTxtState)
	record.Set("pageFetchState", indexStatus.PageFetchState)
	record.Set("lastCrawlTime", indexStatus.LastCrawlTime)
	record.Set("crawledAs", indexStatus.CrawledAs)
	record.Set("googleCanonical", indexStatus.GoogleCanonical)
	record.Set("userCanonical", indexStatus.UserCanonical)
	record.Set("sitemap", nested(indexStatus.Sitemap))
	record.Set("referringUrls", nested(indexStatus.ReferringUrls))
	record.Set("ampVerdict", ampResult.Verdict)
	record.Set("ampIssues", nested(ampResult.Issues))
	record.Set("mobileUsabilityVerdict", mobileResult.Verdict)
	record.Set("mobileUsabilityIssues", nested(mobileResult.Issues))
	record.Set("richResultsVerdict", richResults.Verdict)
	record.Set("richResultsItems", nested(richResults.DetectedItems))

	return record
}

func urlInspectCmdHandler(cmd *cobra.Command, args []string) {
	format, csvPath, err := outputOptions(cmd)
	if err != nil {
		exitWithError(err)
	}

	siteFlag, _ := cmd.Flags().GetString("site")
	inspectionURL, _ := cmd.Flags().GetString("url")
	languageCode, _ := cmd.Flags().GetString("language-code")

	siteURL, err := resolveSite(siteFlag)
	if err != nil {
		exitWithError(err)
	}

	ctx := cmd.Context()
	client, err := buildClient(ctx, auth.ScopeRead)
	if err != nil {
		exitWithError(err)
	}

	result, err := client.InspectURL(ctx, searchconsole.InspectionRequest{
		InspectionURL: inspectionURL,
		SiteURL:       siteURL,
		LanguageCode:  languageCode,
	})
	if err != nil {
		exitWithError(err)
	}

	if format == output.FormatJSON {
		record := output.NewRecord()
		record.Set("inspectionResult", result)
		record.Set("siteUrl", siteURL)
		record.Set("inspectionUrl", inspectionURL)
		if err := renderAndPrint([]*output.Record{record}, format, csvPath); err != nil {
			exitWithError(err)
		}
		return
	}

	record := inspectionToRecord(result, inspectionURL, siteURL, true)
	if err := renderAndPrint([]*output.Record{record}, format, csvPath); err != nil {
		exitWithError(err)
	}
}

func newPresetManager() (*preset.Manager, error) {
	dir, err := paths.PresetsDir()
	if err != nil {
		return nil, err
	}
	return preset.NewManager(dir), nil
}

// queryParams assembles builder input from flags, layering explicit flags
// over a loaded preset when one is named.
func queryParams(cmd *cobra.Command) (analytics.Params, string, error) {
	params := analytics.Params{}
	siteFlag, _ := cmd.Flags().GetString("site")

	if presetName, _ := cmd.Flags().GetString("preset"); presetName != "" {
		manager, err := newPresetManager()
		if err != nil {
			return params, "", err
		}
		loaded, err := manager.Load(presetName)
		if err != nil {
			return params, "", err
		}
		params = loaded.Params()
		if siteFlag == "" {
			siteFlag = loaded.Site
		}
	}

	flags := cmd.Flags()
	if value, _ := flags.GetString("start-date"); flags.Changed("start-date") || params.StartDate == "" {
		params.StartDate = value
	}
	if value, _ := flags.GetString("end-date"); flags.Changed("end-date") || params.EndDate == "" {
		params.EndDate = value
	}
	if value, _ := flags.GetStringArray("dimension"); flags.Changed("dimension") {
		params.Dimensions = value
	}
	if value, _ := flags.GetString("type"); flags.Changed("type") || params.Type == "" {
		params.Type = value
	}
	if value, _ := flags.GetString("aggregation-type"); flags.Changed("aggregation-type") || params.AggregationType == "" {
		params.AggregationType = value
	}
	if value, _ := flags.GetInt("row-limit"); flags.Changed("row-limit") || params.RowLimit == 0 {
		params.RowLimit = value
	}
	if value, _ := flags.GetInt("start-row"); flags.Changed("start-row") {
		params.StartRow = value
	}
	if value, _ := flags.GetString("data-state"); flags.Changed("data-state") || params.DataState == "" {
		params.DataState = value
	}
	if value, _ := flags.GetStringArray("filter"); flags.Changed("filter") {
		params.Filters = value
	}

	return params, siteFlag, nil
}

func analyticsQueryCmdHandler(cmd *cobra.Command, args []string) {
	format, csvPath, err := outputOptions(cmd)
	if err != nil {
		exitWithError(err)
	}

	params, siteFlag, err := queryParams(cmd)
	if err != nil {
		exitWithError(err)
	}

	siteURL, err := resolveSite(siteFlag)
	if err != nil {
		exitWithError(err)
	}

	// All validation happens before any credential or network work.
	request, err := analytics.BuildQueryRequest(params)
	if err != nil {
		exitWithError(err)
	}

	ctx := cmd.Context()
	noCache, _ := cmd.Flags().GetBool("no-cache")

	var cacheClient *cache.Client
	if cacheDir, err := paths.CacheDir(); err == nil {
		if client, err := cache.Open(cacheDir); err == nil {
			cacheClient = client
			defer cacheClient.Close()
		} else {
			fmt.Fprintf(os.Stderr, "Warning: result cache unavailable: %v\n", err)
		}
	}

	cacheKey := cache.Key(siteURL, request)
	var response *analytics.QueryResponse

	if cacheClient != nil && !noCache {
		if cached, found, err := cacheClient.Get(ctx, cacheKey); err == nil && found {
			response = cached
		}
	}

	if response == nil {
		client, err := buildClient(ctx, auth.ScopeRead)
		if err != nil {
			exitWithError(err)
		}

		response, err = client.QuerySearchAnalytics(ctx, siteURL, request)
		if err != nil {
			exitWithError(err)
		}

		if cacheClient != nil {
			if err := cacheClient.Put(ctx, cacheKey, siteURL, request, response, cache.DefaultTTL); err != nil {
				fmt.Fprintf(os.Stderr, "Warning: failed to cache result: %v\n", err)
			}
		}
	}

	records := analytics.RowsToRecords(response, params.Dimensions)
	if err := renderAndPrint(records, format, csvPath); err != nil {
		exitWithError(err)
	}

	if saveName, _ := cmd.Flags().GetString("save-preset"); saveName != "" {
		manager, err := newPresetManager()
		if err != nil {
			exitWithError(err)
		}
		path, err := manager.Save(&preset.QueryPreset{
			Name:            saveName,
			Site:            siteURL,
			StartDate:       params.StartDate,
			EndDate:         params.EndDate,
			Dimensions:      params.Dimensions,
			Type:            params.Type,
			AggregationType: params.AggregationType,
			RowLimit:        params.RowLimit,
			StartRow:        params.StartRow,
			DataState:       params.DataState,
			Filters:         params.Filters,
		})
		if err != nil {
			exitWithError(err)
		}
		fmt.Fprintf(os.Stderr, "Saved preset '%s' to %s\n", saveName, path)
	}
}

func presetToRecord(p preset.QueryPreset) *output.Record {
	record := output.NewRecord()
	record.Set("name", p.Name)
	record.Set("site", p.Site)
	record.Set("start_date", p.StartDate)
	record.Set("end_date", p.EndDate)
	record.Set("dimensions", strings.Join(p.Dimensions, ","))
	record.Set("type", p.Type)
	record.Set("aggregation_type", p.AggregationType)
	record.Set("row_limit", p.RowLimit)
	record.Set("start_row", p.StartRow)
	record.Set("data_state", p.DataState)
	record.Set("filters", strings.Join(p.Filters, " "))
	record.Set("updated_at", p.UpdatedAt.Format("2006-01-02 15:04:05"))
	return record
}

func presetListCmdHandler(cmd *cobra.Command, args []string) {
	format, csvPath, err := outputOptions(cmd)
	if err != nil {
		exitWithError(err)
	}

	manager, err := newPresetManager()
	if err != nil {
		exitWithError(err)
	}

	presets, err := manager.List()
	if err != nil {
		exitWithError(err)
	}

	records := make([]*output.Record, 0, len(presets))
	for _, p := range presets {
		records = append(records, presetToRecord(p))
	}

	if err := renderAndPrint(records, format, csvPath); err != nil {
		exitWithError(err)
	}
}

func presetShowCmdHandler(cmd *cobra.Command, args []string) {
	format, csvPath, err := outputOptions(cmd)
	if err != nil {
		exitWithError(err)
	}

	manager, err := newPresetManager()
	if err != nil {
		exitWithError(err)
	}

	loaded, err := manager.Load(args[0])
	if err != nil {
		exitWithError(err)
	}

	if err := renderAndPrint([]*output.Record{presetToRecord(*loaded)}, format, csvPath); err != nil {
		exitWithError(err)
	}
}

func presetDeleteCmdHandler(cmd *cobra.Command, args []string) {
	manager, err := newPresetManager()
	if err != nil {
		exitWithError(err)
	}

	if err := manager.Delete(args[0]); err != nil {
		exitWithError(err)
	}

	fmt.Printf("Deleted preset '%s'\n", args[0])
}

func openCache() (*cache.Client, error) {
	cacheDir, err := paths.CacheDir()
	if err != nil {
		return nil, err
	}
	return cache.Open(cacheDir)
}

func cacheStatsCmdHandler(cmd *cobra.Command, args []string) {
	client, err := openCache()
	if err != nil {
		exitWithError(err)
	}
	defer client.Close()

	stats, err := client.GetStats(cmd.Context())
	if err != nil {
		exitWithError(err)
	}

	fmt.Printf("Cache database: %s\n", stats.Path)
	fmt.Printf("Entries:        %d\n", stats.Entries)
	fmt.Printf("Hits:           %d\n", stats.TotalHits)
	fmt.Printf("Misses:         %d\n", stats.TotalMisses)
	fmt.Printf("Hit rate:       %.1f%%\n", stats.HitRate)
	if stats.LastCleanup != nil {
		fmt.Printf("Last cleanup:   %s\n", stats.LastCleanup.Format("2006-01-02 15:04:05"))
	}
}

func cacheCleanupCmdHandler(cmd *cobra.Command, args []string) {
	client, err := openCache()
	if err != nil {
		exitWithError(err)
	}
	defer client.Close()

	deleted, err := client.Cleanup(cmd.Context())
	if err != nil {
		exitWithError(err)
	}

	fmt.Printf("Removed %d expired cache entr(y/ies)\n", deleted)
}
