package auth

import "context"

const permissionsClaim = "permissions"

// Claims is the decoded payload of a verified token.
type Claims map[string]any

// Subject returns the "sub" claim, or "" if absent.
func (c Claims) Subject() string {
	sub, _ := c["sub"].(string)
	return sub
}

// Permissions returns the string members of the "permissions" claim. ok is
// false when the claim is absent.
func (c Claims) Permissions() (perms []string, ok bool) {
	raw, ok := c[permissionsClaim]
	if !ok {
		return nil, false
	}
	switch v := raw.(type) {
	case []string:
		return append([]string(nil), v...), true
	case []any:
		for _, e := range v {
			if s, isStr := e.(string); isStr {
				perms = append(perms, s)
			}
		}
	}
	return perms, true
}

type claimsKey struct{}

// WithClaims returns a copy of ctx carrying c.
func WithClaims(ctx context.Context, c Claims) context.Context {
	return context.WithValue(ctx, claimsKey{}, c)
}

// ClaimsFromContext returns the claims stored by Middleware.
func ClaimsFromContext(ctx context.Context) (Claims, bool) {
	c, ok := ctx.Value(claimsKey{}).(Claims)
	return c, ok
}
