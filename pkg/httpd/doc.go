// Package httpd implements the embedded HTTP server.
//
// The server binds one main listener plus one extra listener per plugin that
// advertises its own port. Requests are first offered to the plugins in
// descending priority, then to the built-in routes: the landing page, the
// deploy filepart download, /now schedule advancement, /status and /metrics.
//
// Privileged routes are trust-gated. The trusted set is the union of the
// configured httpd-trust networks and the resolved addresses of every
// configured server target; DNS resolutions are cached for sixty seconds. A
// peer trusted through a specific server may only advance that server's
// schedule, while a globally trusted peer advances every target.
package httpd
