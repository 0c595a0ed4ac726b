package auth

import (
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/ggoodman/authguard/internal/wellknown"
)

// ResourceMetadataPath is where ResourceMetadataHandler is normally mounted.
const ResourceMetadataPath = wellknown.ProtectedResourcePath

// ResourceMetadata describes the protected API in the metadata document.
type ResourceMetadata struct {
	// Resource is the API identifier clients request tokens for. Defaults
	// to the configured audience.
	Resource      string
	Name          string
	Documentation string
	// Scopes lists the permissions the API checks.
	Scopes []string
}

// ResourceMetadataHandler serves an OAuth 2.0 Protected Resource Metadata
// document naming the configured tenant as the authorization server.
func (g *Guard) ResourceMetadataHandler(md ResourceMetadata) http.Handler {
	resource := md.Resource
	if resource == "" {
		resource = g.cfg.Audience
	}
	doc := wellknown.ProtectedResourceMetadata{
		Resource:               resource,
		AuthorizationServers:   []string{g.cfg.Issuer()},
		JwksURI:                g.jwksURL,
		ScopesSupported:        append([]string(nil), md.Scopes...),
		BearerMethodsSupported: []string{"header"},
		ResourceName:           md.Name,
		ResourceDocumentation:  md.Documentation,
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Vary", "Origin")
		w.Header().Set("Content-Type", "application/json")
		if err := json.NewEncoder(w).Encode(doc); err != nil {
			http.Error(w, fmt.Sprintf("failed to encode protected resource metadata: %v", err), http.StatusInternalServerError)
		}
	})
}
