package proxy

import (
	"bufio"
	"fmt"
	"net/textproto"
	"net/url"
	"strings"
)

// request is a parsed HTTP/1.x request line plus headers. Bodies are not
// supported: only GET is proxied, and GET requests carry no body worth
// forwarding.
type request struct {
	method     string
	requestURI string
	proto      string
	header     textproto.MIMEHeader
	host       string // authority to dial: absolute-URI authority, else Host header
}

// cacheKey is the byte-for-byte request-URI, used verbatim as the cache
// key with no normalization.
func (r *request) cacheKey() []byte {
	return []byte(r.requestURI)
}

// dialAddr returns the authority to dial, defaulting to port 80 when the
// request's Host/authority carries none.
func (r *request) dialAddr() string {
	if r.host == "" {
		return ""
	}
	if strings.Contains(r.host, ":") {
		return r.host
	}
	return r.host + ":80"
}

// readRequest parses one HTTP/1.x request from conn. It only reads the
// request line and headers; GET requests never carry a body.
func readRequest(br *bufio.Reader) (*request, error) {
	tp := textproto.NewReader(br)

	line, err := tp.ReadLine()
	if err != nil {
		return nil, fmt.Errorf("reading request line: %w", err)
	}

	parts := strings.SplitN(line, " ", 3)
	if len(parts) != 3 {
		return nil, fmt.Errorf("malformed request line %q", line)
	}

	header, err := tp.ReadMIMEHeader()
	if err != nil {
		return nil, fmt.Errorf("reading headers: %w", err)
	}

	req := &request{
		method:     parts[0],
		requestURI: parts[1],
		proto:      parts[2],
		header:     header,
	}

	if u, err := url.ParseRequestURI(parts[1]); err == nil && u.Host != "" {
		req.host = u.Host
	} else {
		req.host = header.Get("Host")
	}

	return req, nil
}

// upstreamBytes serializes the request for relay to the origin server,
// forcing HTTP/1.0 and Connection: close so the origin ends the response
// with EOF rather than requiring Content-Length bookkeeping this proxy
// doesn't need for a single-shot relay.
func (r *request) upstreamBytes() []byte {
	var b strings.Builder
	fmt.Fprintf(&b, "%s %s HTTP/1.0\r\n", r.method, r.requestURI)

	wroteHost := false
	for k, vs := range r.header {
		if strings.EqualFold(k, "Connection") || strings.EqualFold(k, "Proxy-Connection") {
			continue
		}
		if strings.EqualFold(k, "Host") {
			wroteHost = true
		}
		for _, v := range vs {
			fmt.Fprintf(&b, "%s: %s\r\n", k, v)
		}
	}
	if !wroteHost {
		fmt.Fprintf(&b, "Host: %s\r\n", r.host)
	}
	b.WriteString("Connection: close\r\n\r\n")

	return []byte(b.String())
}
