// Package prober implements the reachability probe that verifies a
// registrant's advertised auth endpoint actually speaks the expected
// protocol: the C5 component.
package prober

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/netip"
	"time"
)

// Timeout bounds every probe request (spec.md §5 recommends 5s).
const Timeout = 5 * time.Second

// expectedBody is the literal string a genuine Northstar game server returns
// from /verify.
const expectedBody = "I am a northstar server!"

// Result classifies the outcome of a probe.
type Result int

const (
	OK Result = iota
	ConnectionFailed
	WrongProtocol
	WrongResponse
	Unknown
)

func (r Result) String() string {
	switch r {
	case OK:
		return "OK"
	case ConnectionFailed:
		return "ConnectionFailed"
	case WrongProtocol:
		return "WrongProtocol"
	case WrongResponse:
		return "WrongResponse"
	default:
		return "Unknown"
	}
}

// Error wraps a non-OK Result as an error.
type Error struct{ Result Result }

func (e *Error) Error() string { return "prober: " + e.Result.String() }

// Prober issues verification probes. It is stateless and safe for concurrent
// use; the zero value is ready to use.
type Prober struct {
	// Client is the HTTP client used for probes. If nil, a client with
	// Timeout is constructed lazily.
	Client *http.Client
}

func (p *Prober) client() *http.Client {
	if p.Client != nil {
		return p.Client
	}
	return &http.Client{Timeout: Timeout}
}

// Verify issues a GET to http://<ip>:<authPort>/verify and classifies the
// response per spec.md §4.5.
func (p *Prober) Verify(ctx context.Context, ip netip.Addr, authPort uint16) error {
	ctx, cancel := context.WithTimeout(ctx, Timeout)
	defer cancel()

	url := fmt.Sprintf("http://%s/verify", netip.AddrPortFrom(ip, authPort))
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return &Error{Result: Unknown}
	}

	resp, err := p.client().Do(req)
	if err != nil {
		var netErr net.Error
		if errors.As(err, &netErr) && netErr.Timeout() {
			return &Error{Result: ConnectionFailed}
		}
		if isConnectionFailure(err) {
			return &Error{Result: ConnectionFailed}
		}
		return &Error{Result: WrongProtocol}
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 4096))
	if err != nil {
		return &Error{Result: Unknown}
	}
	if string(body) != expectedBody {
		return &Error{Result: WrongResponse}
	}
	return nil
}

func isConnectionFailure(err error) bool {
	var opErr *net.OpError
	return errors.As(err, &opErr)
}
