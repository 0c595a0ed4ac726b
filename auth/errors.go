package auth

import (
	"errors"
	"fmt"
	"net/http"
)

// Error codes carried in AuthError.Body.Code.
const (
	CodeAuthorizationHeaderMissing = "authorization_header_missing"
	CodeInvalidHeader              = "invalid_header"
	CodeInvalidClaims              = "invalid_claims"
	CodeUnauthorized               = "unauthorized"
	CodeTokenExpired               = "token_expired"
)

// ErrorBody is the machine-readable code plus human description of a
// failure.
type ErrorBody struct {
	Code        string `json:"code"`
	Description string `json:"description"`
}

// AuthError is the single error type produced by the guard. It serializes
// as {"error":{"code":..,"description":..},"status_code":..}.
type AuthError struct {
	Body       ErrorBody `json:"error"`
	StatusCode int       `json:"status_code"`

	cause error
}

func (e *AuthError) Error() string {
	if e.cause != nil {
		return fmt.Sprintf("auth: %d %s: %s: %v", e.StatusCode, e.Body.Code, e.Body.Description, e.cause)
	}
	return fmt.Sprintf("auth: %d %s: %s", e.StatusCode, e.Body.Code, e.Body.Description)
}

// Unwrap exposes the underlying verification failure, if any.
func (e *AuthError) Unwrap() error { return e.cause }

// AsAuthError reports whether err is (or wraps) an *AuthError.
func AsAuthError(err error) (*AuthError, bool) {
	var ae *AuthError
	if errors.As(err, &ae) {
		return ae, true
	}
	return nil, false
}

func newAuthError(status int, code, description string, cause error) *AuthError {
	return &AuthError{Body: ErrorBody{Code: code, Description: description}, StatusCode: status, cause: cause}
}

func errHeaderMissing() *AuthError {
	return newAuthError(http.StatusUnauthorized, CodeAuthorizationHeaderMissing, "Authorization header is expected.", nil)
}

func errNotBearer() *AuthError {
	return newAuthError(http.StatusUnauthorized, CodeInvalidHeader, `Authorization header must start with "Bearer".`, nil)
}

func errTokenNotFound() *AuthError {
	return newAuthError(http.StatusUnauthorized, CodeInvalidHeader, "Token not found.", nil)
}

func errNotBearerToken() *AuthError {
	return newAuthError(http.StatusUnauthorized, CodeInvalidHeader, "Authorization header must be bearer token.", nil)
}

func errMalformedAuthorization(cause error) *AuthError {
	return newAuthError(http.StatusUnauthorized, CodeInvalidHeader, "Authorization malformed.", cause)
}

func errKeyNotFound(cause error) *AuthError {
	return newAuthError(http.StatusForbidden, CodeInvalidHeader, "Unable to find the appropriate key.", cause)
}

func errKeySetUnavailable(cause error) *AuthError {
	return newAuthError(http.StatusServiceUnavailable, CodeInvalidHeader, "Unable to fetch signing keys.", cause)
}

func errTokenExpired(cause error) *AuthError {
	return newAuthError(http.StatusUnauthorized, CodeTokenExpired, "Token expired.", cause)
}

func errIncorrectClaims(cause error) *AuthError {
	return newAuthError(http.StatusUnauthorized, CodeInvalidClaims, "Incorrect claims. Please, check the audience and issuer.", cause)
}

func errUnparseable(cause error) *AuthError {
	return newAuthError(http.StatusBadRequest, CodeInvalidHeader, "Unable to parse authentication token.", cause)
}

func errPermissionsMissing() *AuthError {
	return newAuthError(http.StatusBadRequest, CodeInvalidClaims, "Permissions not included in JWT.", nil)
}

func errPermissionNotFound() *AuthError {
	return newAuthError(http.StatusForbidden, CodeUnauthorized, "Permission not found.", nil)
}
