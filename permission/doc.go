// Package permission resolves account roles into the flat privilege lists
// embedded in tokens.
//
// The lookup runs once per authentication, so token validation never walks
// the role graph. Roles come from startup registration or from a
// [RoleSource] such as the role repository, and are cached after first use.
package permission
