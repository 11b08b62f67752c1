// Package agentclient is the signed HTTP client for calling agent endpoints.
//
// Idempotent reads (list_sites, pull_artifact) retry transient failures;
// backup triggers are sent exactly once, because a timed-out trigger may
// still be running on the agent. Network-level failures surface as
// ErrUnreachable, non-2xx responses as StatusError with a bounded copy of
// the response body.
package agentclient
