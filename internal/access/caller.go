package access

import (
	"strings"

	"github.com/quillcms/quillgate/internal/session"
)

// Caller is the resolved identity an access decision runs against. User is
// nil for anonymous requests; APIKey reports whether a valid API-key
// credential accompanied the request.
type Caller struct {
	User   *session.User
	APIKey bool
}

// Role returns the caller's role lowercased, or "" when anonymous. A missing
// or unknown role satisfies no privileged predicate.
func (c Caller) Role() string {
	if c.User == nil {
		return ""
	}
	return strings.ToLower(strings.TrimSpace(c.User.Role))
}

// IsAdmin reports whether the caller holds the admin role.
func IsAdmin(c Caller) bool {
	return c.Role() == "admin"
}

// IsAdminOrEditor reports whether the caller holds the admin or editor role.
func IsAdminOrEditor(c Caller) bool {
	role := c.Role()
	return role == "admin" || role == "editor"
}

// IsAdminOrEditorOrAPIKey additionally accepts an API-key credential, used by
// tables that allow machine writes.
func IsAdminOrEditorOrAPIKey(c Caller) bool {
	return IsAdminOrEditor(c) || c.APIKey
}

// IsUser reports whether the caller's identity equals id.
func IsUser(c Caller, id string) bool {
	return c.User != nil && c.User.ID == id
}

// IsAdminOrUser grants access if the caller is admin or the owner of the
// resource identified by ownerID.
func IsAdminOrUser(c Caller, ownerID string) bool {
	return IsAdmin(c) || IsUser(c, ownerID)
}
