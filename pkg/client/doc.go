// Package client implements the outbound protocol clients.
//
// The base Client owns the transport concerns shared by both protocols: TLS
// configuration (CA bundle or directory, client certificate, pinned
// fingerprints, or verification disabled), proxy selection, request body
// compression (zlib by default, gzip, or none) and the matching response
// decoding.
//
// GLPI is the JSON client. Every request carries the agent id; a random
// request id correlates the pending long-poll: a pending answer is re-polled
// with a bare GET carrying the same id, up to twelve times. A 401 answer is
// retried once with OAuth client credentials (token endpoint guessed from the
// server URL, token cached process-wide until expiry) or basic auth.
//
// OCS is the legacy XML client kept for pre-GLPI inventory servers: PROLOG
// handshake and XML inventory submission.
package client
