package tor

import (
	"context"
	"errors"
	"net"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"
)

func TestNewClient(t *testing.T) {
	t.Parallel()

	client, err := NewClient("127.0.0.1:9050", 30*time.Second)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got := client.Addr(); got != "127.0.0.1:9050" {
		t.Errorf("Addr() = %q, want 127.0.0.1:9050", got)
	}
}

func TestValidProxyAddr(t *testing.T) {
	t.Parallel()

	tests := []struct {
		addr string
		want bool
	}{
		{"127.0.0.1:9050", true},
		{"localhost:9150", true},
		{"tor:9050", true},
		{"[::1]:9050", true},
		{"", false},
		{"127.0.0.1", false},
		{":9050", false},
		{"127.0.0.1:", false},
		{"127.0.0.1:0", false},
		{"127.0.0.1:65536", false},
		{"127.0.0.1:socks", false},
		{"127.0.0.1:9050:extra", false},
	}

	for _, tt := range tests {
		t.Run(tt.addr, func(t *testing.T) {
			t.Parallel()

			if got := validProxyAddr(tt.addr); got != tt.want {
				t.Errorf("validProxyAddr(%q) = %v, want %v", tt.addr, got, tt.want)
			}
			if _, err := NewClient(tt.addr, time.Second); tt.want == errors.Is(err, ErrInvalidProxyAddress) {
				t.Errorf("NewClient(%q) error = %v", tt.addr, err)
			}
		})
	}
}

func TestSiteClient(t *testing.T) {
	t.Parallel()

	client, err := NewClient("127.0.0.1:9050", 45*time.Second)
	if err != nil {
		t.Fatal(err)
	}

	t.Run("plain site uses the onion transport", func(t *testing.T) {
		t.Parallel()

		hc := client.SiteClient(Session{})
		if hc.Timeout != 45*time.Second {
			t.Errorf("Timeout = %v, want 45s", hc.Timeout)
		}
		if hc.Jar == nil {
			t.Error("expected a cookie jar")
		}
		transport, ok := hc.Transport.(*http.Transport)
		if !ok {
			t.Fatalf("Transport = %T, want *http.Transport", hc.Transport)
		}
		if transport.DialContext == nil {
			t.Error("expected DialContext to go through the proxy")
		}
		if transport.TLSClientConfig == nil || !transport.TLSClientConfig.InsecureSkipVerify {
			t.Error("expected certificate checks to be off for onion services")
		}
		if !transport.DisableCompression {
			t.Error("expected compression to be disabled")
		}
	})

	t.Run("site with a session wraps the transport", func(t *testing.T) {
		t.Parallel()

		hc := client.SiteClient(Session{Cookie: "phpbb3_sid=1"})
		if _, ok := hc.Transport.(*sessionTransport); !ok {
			t.Errorf("Transport = %T, want *sessionTransport", hc.Transport)
		}
	})

	t.Run("redirect budget", func(t *testing.T) {
		t.Parallel()

		hc := client.SiteClient(Session{})
		if err := hc.CheckRedirect(nil, make([]*http.Request, maxRedirects)); !errors.Is(err, http.ErrUseLastResponse) {
			t.Errorf("CheckRedirect at the limit = %v, want ErrUseLastResponse", err)
		}
		if err := hc.CheckRedirect(nil, make([]*http.Request, maxRedirects-1)); err != nil {
			t.Errorf("CheckRedirect below the limit = %v, want nil", err)
		}
	})

	t.Run("sites do not share cookies", func(t *testing.T) {
		t.Parallel()

		if client.SiteClient(Session{}).Jar == client.SiteClient(Session{}).Jar {
			t.Error("expected one cookie jar per site")
		}
	})
}

func TestWithSession(t *testing.T) {
	t.Parallel()

	received := make(chan http.Header, 1)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		received <- r.Header.Clone()
		w.WriteHeader(http.StatusNoContent)
	}))
	t.Cleanup(srv.Close)

	hc := &http.Client{Transport: WithSession(nil, Session{
		Cookie: "cf_clearance=abc",
		Headers: map[string]string{
			"User-Agent": "Mozilla/5.0 (Windows NT 10.0; rv:128.0) Gecko/20100101 Firefox/128.0",
			"Referer":    "http://forumx.onion/",
		},
	})}

	req, err := http.NewRequestWithContext(t.Context(), http.MethodGet, srv.URL, nil)
	if err != nil {
		t.Fatal(err)
	}
	req.Header.Set("Cookie", "lang=en")
	resp, err := hc.Do(req)
	if err != nil {
		t.Fatal(err)
	}
	resp.Body.Close()

	got := <-received
	if c := got.Get("Cookie"); c != "lang=en; cf_clearance=abc" {
		t.Errorf("Cookie = %q", c)
	}
	if ua := got.Get("User-Agent"); !strings.HasPrefix(ua, "Mozilla/5.0") {
		t.Errorf("User-Agent = %q", ua)
	}
	if ref := got.Get("Referer"); ref != "http://forumx.onion/" {
		t.Errorf("Referer = %q", ref)
	}
	if req.Header.Get("Cookie") != "lang=en" {
		t.Error("the caller's request was modified")
	}

	t.Run("empty session is a no-op", func(t *testing.T) {
		t.Parallel()

		base := &http.Transport{}
		if WithSession(base, Session{}) != http.RoundTripper(base) {
			t.Error("expected the base transport back")
		}
	})
}

// serveOnce accepts one connection on a local listener and hands it to fn.
func serveOnce(t *testing.T, fn func(net.Conn)) string {
	t.Helper()

	listener, err := net.Listen("tcp", "127.0.0.1:0") //nolint:noctx // test code
	if err != nil {
		t.Fatalf("failed to start mock server: %v", err)
	}
	t.Cleanup(func() { _ = listener.Close() })

	go func() {
		conn, err := listener.Accept()
		if err != nil {
			return
		}
		defer conn.Close()
		fn(conn)
	}()
	return listener.Addr().String()
}

func TestProbe(t *testing.T) {
	t.Parallel()

	testCases := []struct {
		name     string
		serve    func(net.Conn)
		expected ProxyStatus
	}{
		{
			name: "non-SOCKS5 server",
			serve: func(conn net.Conn) {
				_, _ = conn.Read(make([]byte, 3))
				_, _ = conn.Write([]byte("HTTP/1.1 200 OK\r\n\r\n"))
			},
			expected: ProxyStatusWrongType,
		},
		{
			name: "SOCKS5 requiring auth",
			serve: func(conn net.Conn) {
				_, _ = conn.Read(make([]byte, 3))
				_, _ = conn.Write([]byte{0x05, 0xFF})
			},
			expected: ProxyStatusWrongType,
		},
		{
			name: "valid SOCKS5 proxy",
			serve: func(conn net.Conn) {
				_, _ = conn.Read(make([]byte, 3))
				_, _ = conn.Write([]byte{0x05, 0x00})
				_, _ = conn.Read(make([]byte, 256))
				// Host unreachable is still a SOCKS5 answer.
				_, _ = conn.Write([]byte{0x05, 0x04, 0x00, 0x01, 0, 0, 0, 0, 0, 0})
			},
			expected: ProxyStatusOK,
		},
		{
			name: "wrong version in CONNECT reply",
			serve: func(conn net.Conn) {
				_, _ = conn.Read(make([]byte, 3))
				_, _ = conn.Write([]byte{0x05, 0x00})
				_, _ = conn.Read(make([]byte, 256))
				_, _ = conn.Write([]byte{0x04, 0x00, 0x00, 0x01})
			},
			expected: ProxyStatusWrongType,
		},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()

			client, err := NewClient(serveOnce(t, tc.serve), 30*time.Second)
			if err != nil {
				t.Fatal(err)
			}
			if status := client.Probe(t.Context()); status != tc.expected {
				t.Errorf("expected %v, got %v", tc.expected, status)
			}
		})
	}

	t.Run("no listener", func(t *testing.T) {
		t.Parallel()

		client, err := NewClient("127.0.0.1:59999", 30*time.Second)
		if err != nil {
			t.Fatal(err)
		}
		if status := client.Probe(t.Context()); status != ProxyStatusCannotConnect {
			t.Errorf("expected ProxyStatusCannotConnect, got %v", status)
		}
	})

	t.Run("cancelled context", func(t *testing.T) {
		t.Parallel()

		client, err := NewClient("127.0.0.1:59998", 30*time.Second)
		if err != nil {
			t.Fatal(err)
		}
		ctx, cancel := context.WithCancel(t.Context())
		cancel()

		status := client.Probe(ctx)
		if status != ProxyStatusCannotConnect && status != ProxyStatusTimeout {
			t.Errorf("expected CannotConnect or Timeout, got %v", status)
		}
	})
}

func TestProxyStatus(t *testing.T) {
	t.Parallel()

	testCases := []struct {
		status ProxyStatus
		str    string
		err    error
	}{
		{ProxyStatusOK, "OK", nil},
		{ProxyStatusWrongType, "wrong type (not Tor)", ErrProxyNotTor},
		{ProxyStatusCannotConnect, "cannot connect", ErrProxyCannotConnect},
		{ProxyStatusTimeout, "timeout", ErrProxyTimeout},
	}

	for _, tc := range testCases {
		t.Run(tc.str, func(t *testing.T) {
			t.Parallel()
			if tc.status.String() != tc.str {
				t.Errorf("String() = %q, expected %q", tc.status.String(), tc.str)
			}
			if !errors.Is(tc.status.Error(), tc.err) {
				t.Errorf("Error() = %v, expected %v", tc.status.Error(), tc.err)
			}
		})
	}

	if ProxyStatus(999).String() != "unknown" || ProxyStatus(999).Error() == nil {
		t.Error("unknown status must be reported as such")
	}
}
