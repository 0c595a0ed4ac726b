package auth

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strings"

	"github.com/ggoodman/authguard/internal/logctx"
	"github.com/google/uuid"
)

const (
	requestIDHeader       = "X-Request-Id"
	wwwAuthenticateHeader = "WWW-Authenticate"
	codeInternalError     = "internal_error"
)

// Middleware returns net/http middleware that runs next only for requests
// whose bearer token grants permission. The verified Claims are available
// to next via ClaimsFromContext.
func (g *Guard) Middleware(permission string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			r = withRequestData(w, r)
			claims, err := g.Authorize(r.Context(), r.Header, permission)
			if err != nil {
				g.WriteError(w, err)
				return
			}
			next.ServeHTTP(w, r.WithContext(WithClaims(r.Context(), claims)))
		})
	}
}

// Authenticated is Middleware without a permission requirement.
func (g *Guard) Authenticated() func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			r = withRequestData(w, r)
			claims, err := g.Authenticate(r.Context(), r.Header)
			if err != nil {
				g.WriteError(w, err)
				return
			}
			next.ServeHTTP(w, r.WithContext(WithClaims(r.Context(), claims)))
		})
	}
}

// WriteError renders err using the Guard's realm. See WriteError.
func (g *Guard) WriteError(w http.ResponseWriter, err error) {
	writeError(w, g.realm, g.prmURL, err)
}

// WriteError renders err as a JSON response. An *AuthError is written with
// its own status and body, plus a Bearer challenge for 401 and 403. Any
// other error is reported as a 500 internal_error so that operation
// failures are never mistaken for authentication failures.
func WriteError(w http.ResponseWriter, err error) {
	writeError(w, "", "", err)
}

func writeError(w http.ResponseWriter, realm, resourceMetadata string, err error) {
	ae, ok := AsAuthError(err)
	if !ok {
		writeJSON(w, http.StatusInternalServerError, &AuthError{
			Body:       ErrorBody{Code: codeInternalError, Description: http.StatusText(http.StatusInternalServerError)},
			StatusCode: http.StatusInternalServerError,
		})
		return
	}
	if ae.StatusCode == http.StatusUnauthorized || ae.StatusCode == http.StatusForbidden {
		w.Header().Set(wwwAuthenticateHeader, buildBearerChallenge(realm, resourceMetadata, ae))
	}
	writeJSON(w, ae.StatusCode, ae)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// buildBearerChallenge builds an RFC 6750 challenge for ae:
//
//	Bearer realm="<realm>", resource_metadata="<url>", error="...", error_description="..."
//
// A request that carried no credentials gets no error attributes.
func buildBearerChallenge(realm, resourceMetadata string, ae *AuthError) string {
	esc := strings.NewReplacer(`\`, `\\`, `"`, `\"`).Replace
	pieces := make([]string, 0, 4)
	if realm != "" {
		pieces = append(pieces, fmt.Sprintf(`realm="%s"`, esc(realm)))
	}
	if resourceMetadata != "" {
		pieces = append(pieces, fmt.Sprintf(`resource_metadata="%s"`, esc(resourceMetadata)))
	}
	if ae.Body.Code != CodeAuthorizationHeaderMissing {
		errCode := "invalid_token"
		switch {
		case ae.StatusCode == http.StatusForbidden && ae.Body.Code == CodeUnauthorized:
			errCode = "insufficient_scope"
		case ae.Body.Code == CodeInvalidHeader && ae.StatusCode == http.StatusUnauthorized && ae.cause == nil:
			errCode = "invalid_request"
		}
		pieces = append(pieces,
			fmt.Sprintf(`error="%s"`, errCode),
			fmt.Sprintf(`error_description="%s"`, esc(ae.Body.Description)),
		)
	}
	if len(pieces) == 0 {
		return "Bearer"
	}
	return "Bearer " + strings.Join(pieces, ", ")
}

// withRequestData attaches request attributes for logging and echoes the
// request id back to the client.
func withRequestData(w http.ResponseWriter, r *http.Request) *http.Request {
	if _, ok := logctx.RequestDataFrom(r.Context()); ok {
		return r
	}
	id := r.Header.Get(requestIDHeader)
	if id == "" {
		id = uuid.NewString()
	}
	w.Header().Set(requestIDHeader, id)
	ctx := logctx.WithRequestData(r.Context(), &logctx.RequestData{
		RequestID:  id,
		Method:     r.Method,
		UserAgent:  r.UserAgent(),
		RemoteAddr: r.RemoteAddr,
		Path:       r.URL.Path,
	})
	return r.WithContext(ctx)
}
