package auth

// Scopes recognised by the admin API.
const (
	ScopeSourcesRead    = "sources:read"
	ScopeSourcesWrite   = "sources:write"
	ScopeActivitiesRead = "activities:read"
)
