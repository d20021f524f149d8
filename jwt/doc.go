// Package jwt signs and validates the access and refresh tokens handed out
// by the engine. Tokens carry the account email as subject, role and
// privilege lists, a type claim and a random jti so two tokens are never equal.
package jwt
