// Package auth authenticates API clients of the gateway.
//
// Logins are the users listed under security.users in the configuration,
// each with an Argon2id PHC hash printed by `maxcube hash-password`. A
// successful login returns an HS256 access token. WebSocket clients trade
// their token for a single-use ticket, since browsers cannot set headers on
// the upgrade request.
package auth
