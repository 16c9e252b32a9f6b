// Package auth is the CMS authentication adapter.
//
// [Service] implements [Provider] locally: passwords are checked with bcrypt,
// access tokens are short lived HS256 JWTs bound to a server-side session, and
// refresh tokens are opaque random strings stored only as SHA-256 hashes and
// rotated on every use. Signing out revokes the session, which makes every
// access token issued for it stop verifying.
//
// Sessions live behind [SessionStore]: the store package provides the SQL
// implementation and [RedisSessions] keeps them in redis.
package auth
