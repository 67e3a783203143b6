package model

import "encoding/json"

// Resource is a workspace-scoped, typed connection/config blob referenced
// by jobs (spec §6 "resource(workspace_id, path, value, resource_type)") —
// e.g. a database DSN a query-language variant resolves at execution time.
type Resource struct {
	WorkspaceID  string
	Path         string
	Value        json.RawMessage
	ResourceType string
}

// Variable is a workspace-scoped named value materialized into a job's
// environment or args, optionally holding its value via the secret
// provider instead of in the variable table itself (spec §6
// "variable(workspace_id, path, value, is_secret, ...)").
type Variable struct {
	WorkspaceID string
	Path        string
	Value       string
	IsSecret    bool
	Description string
	Account     string
}
