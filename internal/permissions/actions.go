package permissions

// Action constants for authorization checks. Handlers and embedding services
// name operations with these when asking the Checker whether a principal's
// tier allows them.

// Content actions cover what downstream media services serve.
const (
	// ContentRead allows fetching a single item.
	ContentRead = "content:read"

	// ContentList allows listing and searching items.
	ContentList = "content:list"
)

// Syndication actions are specific to external content partners.
const (
	// SyndicationExport allows exporting content for republication.
	SyndicationExport = "syndication:export"
)

// Accessor actions cover the machine credential registry.
const (
	// AccessorRead allows viewing registered accessors.
	AccessorRead = "accessor:read"

	// AccessorManage allows creating, importing, and deactivating accessors.
	AccessorManage = "accessor:manage"
)

// AllWildcard grants every action. Only the internal tier carries it.
const AllWildcard = "*"

// ValidateAction checks if an action string is one the policy vocabulary
// knows. This prevents typos when wiring new routes.
func ValidateAction(action string) bool {
	switch action {
	case ContentRead, ContentList, SyndicationExport, AccessorRead, AccessorManage, AllWildcard:
		return true
	}
	return false
}
