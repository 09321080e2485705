package analytics

import (
	"fmt"
	"sort"
	"strings"
	"time"
)

const dateLayout = "2006-01-02"

// Enumerations accepted by the Search Analytics query endpoint. The API
// does not validate most of these client-side, so the builder does.
var (
	AllowedDimensions = map[string]bool{
		"country":          true,
		"device":           true,
		"page":             true,
		"query":            true,
		"searchAppearance": true,
		"date":             true,
		"hour":             true,
	}

	// date and hour cannot be filtered on, only grouped by.
	AllowedFilterDimensions = map[string]bool{
		"country":          true,
		"device":           true,
		"page":             true,
		"query":            true,
		"searchAppearance": true,
	}

	AllowedOperators = map[string]bool{
		"contains":       true,
		"equals":         true,
		"notContains":    true,
		"notEquals":      true,
		"includingRegex": true,
		"excludingRegex": true,
	}

	AllowedTypes = map[string]bool{
		"web":        true,
		"image":      true,
		"video":      true,
		"news":       true,
		"discover":   true,
		"googleNews": true,
	}

	AllowedAggregationTypes = map[string]bool{
		"auto":                true,
		"byPage":              true,
		"byProperty":          true,
		"byNewsShowcasePanel": true,
	}

	AllowedDataStates = map[string]bool{
		"final":      true,
		"all":        true,
		"hourly_all": true,
	}
)

// ValidationError is raised for invalid user input before any API call.
type ValidationError struct {
	Message string
}

func (e *ValidationError) Error() string {
	return e.Message
}

func newValidationError(format string, args ...any) *ValidationError {
	return &ValidationError{Message: fmt.Sprintf(format, args...)}
}

// Filter is one parsed dimension filter triple.
type Filter struct {
	Dimension  string `json:"dimension"`
	Operator   string `json:"operator"`
	Expression string `json:"expression"`
}

// FilterGroup combines filters; the API only supports conjunctive groups.
type FilterGroup struct {
	GroupType string   `json:"groupType"`
	Filters   []Filter `json:"filters"`
}

// QueryRequest is the canonical Search Analytics request body. Dimensions
// and dimensionFilterGroups are omitted entirely when empty: the API
// treats an absent key differently from an empty list.
type QueryRequest struct {
	StartDate             string        `json:"startDate"`
	EndDate               string        `json:"endDate"`
	Type                  string        `json:"type"`
	AggregationType       string        `json:"aggregationType"`
	RowLimit              int           `json:"rowLimit"`
	StartRow              int           `json:"startRow"`
	DataState             string        `json:"dataState"`
	Dimensions            []string      `json:"dimensions,omitempty"`
	DimensionFilterGroups []FilterGroup `json:"dimensionFilterGroups,omitempty"`
}

// Params is the raw CLI input for one query.
type Params struct {
	StartDate       string
	EndDate         string
	Dimensions      []string
	Type            string
	AggregationType string
	RowLimit        int
	StartRow        int
	DataState       string
	Filters         []string
}

// ParseDate validates YYYY-MM-DD format and returns the parsed date.
func ParseDate(value string) (time.Time, error) {
	parsed, err := time.Parse(dateLayout, value)
	if err != nil {
		return time.Time{}, newValidationError("Invalid date '%s'. Use YYYY-MM-DD.", value)
	}
	return parsed, nil
}

// ParseFilter parses one filter expression of the form
// dimension:operator:expression. Only the first two colons are
// significant; the expression may itself contain colons.
func ParseFilter(filterExpression string) (Filter, error) {
	parts := strings.SplitN(filterExpression, ":", 3)
	if len(parts) != 3 {
		return Filter{}, newValidationError("Invalid --filter format. Expected dimension:operator:expression")
	}

	dimension, operator, expression := parts[0], parts[1], parts[2]

	if !AllowedFilterDimensions[dimension] {
		return Filter{}, newValidationError(
			"Unsupported filter dimension '%s'. Allowed: %s", dimension, sortedKeys(AllowedFilterDimensions))
	}

	if !AllowedOperators[operator] {
		return Filter{}, newValidationError(
			"Unsupported filter operator '%s'. Allowed: %s", operator, sortedKeys(AllowedOperators))
	}

	if expression == "" {
		return Filter{}, newValidationError("Filter expression cannot be empty.")
	}

	return Filter{Dimension: dimension, Operator: operator, Expression: expression}, nil
}

// BuildQueryRequest validates raw query input and assembles the canonical
// request body. Checks run in a fixed order so error messages are
// deterministic; the first violated constraint wins.
func BuildQueryRequest(params Params) (*QueryRequest, error) {
	start, err := ParseDate(params.StartDate)
	if err != nil {
		return nil, err
	}
	end, err := ParseDate(params.EndDate)
	if err != nil {
		return nil, err
	}
	if start.After(end) {
		return nil, newValidationError("start-date must be <= end-date.")
	}

	if !AllowedTypes[params.Type] {
		return nil, newValidationError("Unsupported type '%s'.", params.Type)
	}

	if !AllowedAggregationTypes[params.AggregationType] {
		return nil, newValidationError("Unsupported aggregation-type '%s'.", params.AggregationType)
	}

	if !AllowedDataStates[params.DataState] {
		return nil, newValidationError("Unsupported data-state '%s'.", params.DataState)
	}

	if params.RowLimit < 1 || params.RowLimit > 25000 {
		return nil, newValidationError("row-limit must be between 1 and 25000.")
	}

	if params.StartRow < 0 {
		return nil, newValidationError("start-row must be >= 0.")
	}

	for _, dimension := range params.Dimensions {
		if !AllowedDimensions[dimension] {
			return nil, newValidationError(
				"Unsupported dimension '%s'. Allowed: %s", dimension, sortedKeys(AllowedDimensions))
		}
	}

	parsedFilters := make([]Filter, 0, len(params.Filters))
	for _, filterExpression := range params.Filters {
		filter, err := ParseFilter(filterExpression)
		if err != nil {
			return nil, err
		}
		parsedFilters = append(parsedFilters, filter)
	}

	// Per-property aggregation collapses URL variants, so page-level
	// grouping or filtering cannot be combined with it.
	usesPageDimension := false
	for _, dimension := range params.Dimensions {
		if dimension == "page" {
			usesPageDimension = true
		}
	}
	usesPageFilter := false
	for _, filter := range parsedFilters {
		if filter.Dimension == "page" {
			usesPageFilter = true
		}
	}
	if params.AggregationType == "byProperty" && (usesPageDimension || usesPageFilter) {
		return nil, newValidationError(
			"aggregation-type=byProperty cannot be used with page dimension or page filter.")
	}

	request := &QueryRequest{
		StartDate:       params.StartDate,
		EndDate:         params.EndDate,
		Type:            params.Type,
		AggregationType: params.AggregationType,
		RowLimit:        params.RowLimit,
		StartRow:        params.StartRow,
		DataState:       params.DataState,
	}

	if len(params.Dimensions) > 0 {
		request.Dimensions = append([]string(nil), params.Dimensions...)
	}

	if len(parsedFilters) > 0 {
		request.DimensionFilterGroups = []FilterGroup{
			{GroupType: "and", Filters: parsedFilters},
		}
	}

	return request, nil
}

func sortedKeys(set map[string]bool) string {
	keys := make([]string, 0, len(set))
	for key := range set {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	return strings.Join(keys, ", ")
}
