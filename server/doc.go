// Package server implements the authorization and token state machine: the
// authorization decision engine, request object processing, client
// authentication, the token grants, and claim assembly for ID tokens and
// userinfo responses.
//
// The package is transport-agnostic. It consumes parsed requests and returns
// decisions; the HTTP endpoints live in the root package.
package server
