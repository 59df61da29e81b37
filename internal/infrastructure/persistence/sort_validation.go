package persistence

import (
	"strings"
)

// ValidateSortOrder validates and normalizes the sort order to ASC or DESC.
// Returns "DESC" as the default if the input is invalid or empty.
func ValidateSortOrder(orderDir string) string {
	normalized := strings.ToUpper(strings.TrimSpace(orderDir))
	if normalized == "ASC" {
		return "ASC"
	}
	return "DESC"
}

// ValidateSortField validates the sort field against a whitelist of allowed fields.
// Returns the defaultField if the input is invalid, empty, or not in the whitelist.
func ValidateSortField(sortField string, allowedFields map[string]bool, defaultField string) string {
	trimmed := strings.TrimSpace(sortField)
	if trimmed == "" {
		return defaultField
	}
	if allowedFields[trimmed] {
		return trimmed
	}
	return defaultField
}

// ProjectDataSortFields contains allowed sort fields for projects
var ProjectDataSortFields = map[string]bool{
	"id":                  true,
	"created_at":          true,
	"updated_at":          true,
	"project_slug":        true,
	"project_name":        true,
	"lifecycle_state":     true,
	"cooling_eligible_at": true,
}

// LifecycleOperationSortFields contains allowed sort fields for operations
var LifecycleOperationSortFields = map[string]bool{
	"id":          true,
	"created_at":  true,
	"updated_at":  true,
	"type":        true,
	"status":      true,
	"started_at":  true,
	"finished_at": true,
}
