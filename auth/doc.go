// Package auth authenticates CMS users and keeps track of their sessions.
//
// A login verifies the password against the stored bcrypt hash, signs a
// token carrying the user id, username, role and expiry and records the
// token as a session row. Every later request presents that token and is
// only accepted when all of the following hold: the signature verifies,
// the expiry (both the one inside the token and the one in the session
// row) is in the future, the session row is active and the user owning it
// is active.
//
// Unknown users, wrong passwords and inactive users all produce the same
// InvalidCredentials error and the same artificial delay, so neither the
// error text nor the response time tells a caller which logins exist.
//
// Audit events are recorded in the background. A failure to write one is
// logged and never fails the operation that produced it.
package auth
