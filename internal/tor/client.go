package tor

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/http/cookiejar"
	"strconv"
	"time"

	"golang.org/x/net/proxy"
)

const (
	// probeTimeout bounds the SOCKS5 handshake in Probe.
	probeTimeout = 2 * time.Second

	// maxRedirects is the redirect budget of one board page fetch.
	maxRedirects = 10

	// A board fetch opens few connections and each one holds a circuit.
	maxIdleCircuits        = 10
	maxIdleCircuitsPerHost = 2
	circuitIdleTimeout     = 30 * time.Second
)

// Session is what a forum expects on every request: the cookie from a
// logged in browser and the headers that got it past the DDoS filter.
type Session struct {
	Cookie  string
	Headers map[string]string
}

// Client builds HTTP clients that reach hidden services through a Tor
// SOCKS5 proxy. It holds no per-site state; SiteClient hands every site a
// fresh cookie jar.
type Client struct {
	addr    string
	dialer  proxy.ContextDialer
	timeout time.Duration
}

// NewClient returns a Client for the SOCKS5 proxy at addr ("host:port").
// The proxy is not contacted until Probe or the first request.
func NewClient(addr string, timeout time.Duration) (*Client, error) {
	if !validProxyAddr(addr) {
		return nil, ErrInvalidProxyAddress
	}

	// Tor's SOCKS port takes no credentials.
	dialer, err := proxy.SOCKS5("tcp", addr, nil, proxy.Direct)
	if err != nil {
		return nil, fmt.Errorf("failed to create SOCKS5 dialer for %s: %w", addr, err)
	}
	ctxDialer, ok := dialer.(proxy.ContextDialer)
	if !ok {
		return nil, fmt.Errorf("SOCKS5 dialer for %s does not support contexts", addr)
	}
	return &Client{addr: addr, dialer: ctxDialer, timeout: timeout}, nil
}

func validProxyAddr(addr string) bool {
	host, portStr, err := net.SplitHostPort(addr)
	if err != nil || host == "" {
		return false
	}
	port, err := strconv.Atoi(portStr)
	if err != nil {
		return false
	}
	return port > 0 && port < 1<<16
}

// Addr returns the proxy address.
func (c *Client) Addr() string {
	return c.addr
}

// SiteClient returns an HTTP client for one site. Its requests go through
// Tor and carry the session's cookie and headers, redirects included.
//
// Certificates are not verified: hidden services serve self-signed ones
// and the onion address already authenticates the host.
func (c *Client) SiteClient(s Session) *http.Client {
	onion := &http.Transport{
		DialContext: c.dialer.DialContext,
		TLSClientConfig: &tls.Config{
			InsecureSkipVerify: true, //nolint:gosec // onion services use self-signed certificates
		},
		MaxIdleConns:        maxIdleCircuits,
		MaxIdleConnsPerHost: maxIdleCircuitsPerHost,
		IdleConnTimeout:     circuitIdleTimeout,
		DisableCompression:  true,
	}

	// cookiejar.New cannot fail without options.
	jar, _ := cookiejar.New(nil) //nolint:errcheck

	return &http.Client{
		Transport: WithSession(onion, s),
		Jar:       jar,
		Timeout:   c.timeout,
		CheckRedirect: func(_ *http.Request, via []*http.Request) error {
			if len(via) < maxRedirects {
				return nil
			}
			return http.ErrUseLastResponse
		},
	}
}

// WithSession wraps next so that every request carries the session. A nil
// next uses http.DefaultTransport. An empty session returns next as is.
func WithSession(next http.RoundTripper, s Session) http.RoundTripper {
	if next == nil {
		next = http.DefaultTransport
	}
	if s.Cookie == "" && len(s.Headers) == 0 {
		return next
	}
	return &sessionTransport{next: next, session: s}
}

type sessionTransport struct {
	next    http.RoundTripper
	session Session
}

// RoundTrip implements http.RoundTripper. The caller's request is not
// modified; the site cookie is appended to any cookie the request has.
func (t *sessionTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	out := req.Clone(req.Context())
	for name, value := range t.session.Headers {
		out.Header.Set(name, value)
	}
	if c := t.session.Cookie; c != "" {
		if prev := req.Header.Get("Cookie"); prev != "" {
			c = prev + "; " + c
		}
		out.Header.Set("Cookie", c)
	}
	return t.next.RoundTrip(out)
}

// SOCKS5 wire values used by Probe (RFC 1928).
const (
	socksVer5        = 0x05
	socksNoAuth      = 0x00
	socksConnect     = 0x01
	socksDomainName  = 0x03
	socksGreetingLen = 2
	socksReplyHead   = 4

	// probeOnion does not exist. Tor still answers the CONNECT with a
	// SOCKS5 reply, which is all Probe needs.
	probeOnion = "aaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaa.onion"
)

// Probe checks that a SOCKS5 proxy without authentication listens at the
// proxy address and answers a CONNECT for an onion host. The reply code is
// ignored: a missing service gives a failure reply from a healthy Tor.
func (c *Client) Probe(ctx context.Context) ProxyStatus {
	ctx, cancel := context.WithTimeout(ctx, probeTimeout)
	defer cancel()

	var d net.Dialer
	conn, err := d.DialContext(ctx, "tcp", c.addr)
	if err != nil {
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return ProxyStatusTimeout
		}
		return ProxyStatusCannotConnect
	}
	defer conn.Close()

	deadline, _ := ctx.Deadline()
	if err := conn.SetDeadline(deadline); err != nil {
		return ProxyStatusCannotConnect
	}

	greeting := []byte{socksVer5, 1, socksNoAuth}
	if _, err := conn.Write(greeting); err != nil {
		return ProxyStatusCannotConnect
	}
	reply, status := readFrame(conn, socksGreetingLen)
	if status != ProxyStatusOK {
		return status
	}
	if reply[0] != socksVer5 || reply[1] != socksNoAuth {
		return ProxyStatusWrongType
	}

	connect := make([]byte, 0, 7+len(probeOnion))
	connect = append(connect, socksVer5, socksConnect, 0x00, socksDomainName, byte(len(probeOnion)))
	connect = append(connect, probeOnion...)
	connect = append(connect, 0x00, 80)
	if _, err := conn.Write(connect); err != nil {
		return ProxyStatusCannotConnect
	}
	reply, status = readFrame(conn, socksReplyHead)
	if status != ProxyStatusOK {
		return status
	}
	if reply[0] != socksVer5 {
		return ProxyStatusWrongType
	}
	return ProxyStatusOK
}

// readFrame reads exactly n bytes. A short read means the peer is not a
// SOCKS5 proxy, unless the deadline expired.
func readFrame(conn net.Conn, n int) ([]byte, ProxyStatus) {
	buf := make([]byte, n)
	if _, err := io.ReadFull(conn, buf); err != nil {
		var ne net.Error
		if errors.As(err, &ne) && ne.Timeout() {
			return nil, ProxyStatusTimeout
		}
		return nil, ProxyStatusWrongType
	}
	return buf, ProxyStatusOK
}
