// Package discovery answers agent hello broadcasts on UDP.
//
// An agent announces itself with {"type":"agent.hello","agent_id":...,
// "port":...}; the listener replies directly to the sender with
// {"type":"dashboard.offer","dashboard_url":...,"token":...,"expires_in":30}.
// Malformed datagrams are dropped without a reply. The offer's dashboard URL
// uses whichever local address routes to that peer, so multi-homed hosts
// hand out a reachable address.
package discovery
