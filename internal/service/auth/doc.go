// Package auth authenticates the two privileged callers of the HTTP API:
// operators, who present HMAC-signed JWTs carrying the operator role, and
// the cron trigger, which presents a shared secret checked against a bcrypt
// hash.
package auth
