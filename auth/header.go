package auth

import (
	"net/http"
	"strings"
)

const authorizationHeader = "Authorization"

// ExtractToken returns the bearer token from the Authorization header.
//
// The header is split on whitespace. An absent or blank header is reported
// as missing; otherwise the scheme is checked before the part count.
func ExtractToken(h http.Header) (string, error) {
	parts := strings.Fields(h.Get(authorizationHeader))
	if len(parts) == 0 {
		return "", errHeaderMissing()
	}
	if !strings.EqualFold(parts[0], "bearer") {
		return "", errNotBearer()
	}
	switch len(parts) {
	case 1:
		return "", errTokenNotFound()
	case 2:
		return parts[1], nil
	default:
		return "", errNotBearerToken()
	}
}
