// Package auth guards HTTP operations with bearer access tokens issued by an
// OAuth 2.0 / OIDC identity provider (Auth0-style tenants in particular).
//
// A Guard extracts the token from the Authorization header, verifies it as
// a JWT against the provider's published JSON Web Key Set (signature,
// expiry, audience and issuer), and checks that its "permissions" claim
// grants a required permission. Only then is the protected operation run,
// with the verified Claims.
//
// Example:
//
//	cfg, err := auth.ConfigFromEnv() // AUTH0_DOMAIN, ALGORITHMS, API_AUDIENCE
//	if err != nil { log.Fatal(err) }
//	g, err := auth.New(cfg, auth.WithLogger(logger))
//	if err != nil { log.Fatal(err) }
//
//	mux.Handle("POST /drinks", g.Middleware("post:drinks")(createDrink))
//
//	// or, outside net/http:
//	list := auth.RequiresAuth(g, "get:drinks-detail", listDrinks)
//	drinks, err := list(ctx, req.Header, filter)
//
// # Errors
//
// Every guard failure is an *AuthError carrying a machine-readable code, a
// human description and the HTTP status to answer with. WriteError renders
// one as JSON ({"error":{"code":..,"description":..},"status_code":..}).
// Errors returned by the protected operation itself are passed through
// untouched and are never AuthErrors.
//
// # Key sets
//
// By default the key set is fetched from https://<domain>/.well-known/jwks.json
// on every verification. Set Config.JWKSCacheTTL, or supply a caching
// jwks.Fetcher with WithFetcher, to avoid the round trip.
package auth
