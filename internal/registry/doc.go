// Package registry tracks short-lived discovery tokens and turns a claimed
// token into a registered agent.
//
// Tokens are single use, bound to the (agent_id, source IP) pair they were
// issued for, and expire after TokenTTL. Expired tokens are removed by
// Sweep, which the discovery listener calls between datagrams. The
// distinguished ReannounceToken lets an already-registered agent refresh its
// contact details without minting a new secret.
package registry
