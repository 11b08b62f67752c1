// Package auth verifies operator bearer tokens for the HTTP API.
//
// Tokens are HS256 JWTs signed with the configured jwt_secret. The subject
// claim names the operator and an expiry is mandatory; any other algorithm,
// including alg=none, is rejected up front. Mint produces tokens for the
// CLI token subcommand.
package auth
