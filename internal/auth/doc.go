// ABOUTME: Package documentation for connection authentication
// ABOUTME: Identity resolution, JWT verification, and room authorization

// Package auth resolves the principal behind each incoming connection and
// gates what it may join.
//
// Identity arrives as an HS256 JWT in the "token" query parameter (websocket
// handshakes cannot set headers from browsers) or the Authorization header.
// A request with no credential resolves to the anonymous identity rather
// than an error; whether anonymous principals are admitted is the
// authorizer's decision.
//
// CompanyAuthorizer implements the room gate: authenticated principals may
// only join rooms of their own company, and anonymous principals are
// admitted only when the gateway is configured to allow them.
package auth
