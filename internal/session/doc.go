// Package session implements the Session Gate and its Redis-backed store.
//
// Sessions live in Redis under "<prefix><token>" as JSON {email, role},
// with the key TTL as the authoritative expiry. The Gate only reads them;
// Manager creates, extends and deletes them for the login routes.
package session
