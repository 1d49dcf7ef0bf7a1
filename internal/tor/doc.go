// Package tor connects the crawler to hidden services.
//
// A Client wraps a SOCKS5 dialer from golang.org/x/net/proxy and hands out
// one http.Client per site, each with its own cookie jar and injected
// headers. EmbeddedTor starts a private daemon through tornago when no
// system Tor service is available, and IsValidV3Address rejects mistyped
// onion hosts before any request is made.
//
// # Proxy check
//
// Before the first crawl request, Client.Probe speaks just enough SOCKS5 to
// tell a Tor proxy from a closed port or another service on it. It asks
// for a CONNECT to an onion address that does not exist: a healthy Tor
// answers with a failure reply, which still proves the proxy is there.
//
// # Sessions
//
// Forums behind a login or a DDoS filter are crawled with the cookie and
// headers of a browser session, configured per site. They are added to
// every request by the transport, redirects included. The redacting
// logger masks cookie attributes should one end up in a log line.
package tor
