// Package auth guards the gateway's read API with JWT bearer tokens.
//
// Tokens are HS256, signed with auth.jwt_secret, issued by "wxcallback" and
// always carry an expiry. Operators mint them with:
//
//	wxcallback token --subject alice --ttl 24h
//
// The platform callback endpoints are never behind this middleware; they are
// authenticated by the message signature instead.
package auth
