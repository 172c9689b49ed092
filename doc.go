// Package oidc provides an embeddable OpenID Connect provider: the HTTP
// endpoints (authorization, token, userinfo, validation, discovery, jwks) on
// top of the decision engine in the server package.
//
// Typical usage wires a storage backend, an identity backend, and a signing
// key into a server.Server, wraps it in a Handler, and registers the routes
// on an http.ServeMux. See examples/basic for a complete setup.
package oidc
