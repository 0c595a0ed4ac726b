package auth

import "slices"

// CheckPermissions reports whether c grants permission. The claim must be a
// JSON array; a scalar "permissions" value never matches. An empty
// permission is compared literally like any other.
func CheckPermissions(permission string, c Claims) error {
	perms, ok := c.Permissions()
	if !ok {
		return errPermissionsMissing()
	}
	if !slices.Contains(perms, permission) {
		return errPermissionNotFound()
	}
	return nil
}
