package transport

import (
	"bytes"
	"crypto/rand"
	"crypto/sha1"
	"crypto/tls"
	"encoding/base64"
	"fmt"
	"net"
	"net/url"
	"sort"
	"strconv"
	"strings"
	"time"
)

const (
	wsGUID = "258EAFA5-E914-47DA-95CA-C5AB0DC85B11"

	handshakeTimeout   = 10 * time.Second
	maxHandshakeHeader = 64 * 1024 // bound memory while scanning for the terminator
)

// acceptKey computes the expected Sec-WebSocket-Accept value for a
// client key: base64(SHA-1(key + GUID)).
func acceptKey(secKey string) string {
	sum := sha1.Sum([]byte(secKey + wsGUID))
	return base64.StdEncoding.EncodeToString(sum[:])
}

// dial opens the TCP (or TLS) connection and performs the HTTP upgrade
// handshake. On success it returns the live connection and a frame reader
// seeded with any bytes that followed the handshake response header.
func dial(rawURL string, headers map[string]string) (net.Conn, *frameReader, error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return nil, nil, fmt.Errorf("invalid url %q: %w", rawURL, err)
	}
	if u.Scheme != "ws" && u.Scheme != "wss" {
		return nil, nil, fmt.Errorf("unsupported scheme: %s", u.Scheme)
	}
	host := u.Hostname()
	if host == "" {
		return nil, nil, fmt.Errorf("missing host in url %q", rawURL)
	}

	port := u.Port()
	if port == "" {
		if u.Scheme == "wss" {
			port = "443"
		} else {
			port = "80"
		}
	}

	path := u.Path
	if path == "" {
		path = "/"
	}
	if u.RawQuery != "" {
		path = path + "?" + u.RawQuery
	}

	conn, err := net.DialTimeout("tcp", net.JoinHostPort(host, port), handshakeTimeout)
	if err != nil {
		return nil, nil, fmt.Errorf("dial %s:%s: %w", host, port, err)
	}
	if u.Scheme == "wss" {
		tlsConn := tls.Client(conn, &tls.Config{ServerName: host})
		if err := tlsConn.SetDeadline(time.Now().Add(handshakeTimeout)); err == nil {
			if err := tlsConn.Handshake(); err != nil {
				conn.Close()
				return nil, nil, fmt.Errorf("tls handshake: %w", err)
			}
		}
		conn = tlsConn
	}

	reader, err := upgrade(conn, host, path, headers)
	if err != nil {
		conn.Close()
		return nil, nil, err
	}
	return conn, reader, nil
}

// upgrade writes the HTTP upgrade request and validates the 101 response.
func upgrade(conn net.Conn, host, path string, headers map[string]string) (*frameReader, error) {
	var keyBytes [16]byte
	rand.Read(keyBytes[:]) //nolint:errcheck // crypto/rand.Read never fails
	secKey := base64.StdEncoding.EncodeToString(keyBytes[:])

	reqHeaders := map[string]string{
		"Host":                  host,
		"Upgrade":               "websocket",
		"Connection":            "Upgrade",
		"Sec-WebSocket-Key":     secKey,
		"Sec-WebSocket-Version": "13",
	}
	for k, v := range headers {
		if v != "" {
			reqHeaders[k] = v
		}
	}

	var req strings.Builder
	fmt.Fprintf(&req, "GET %s HTTP/1.1\r\n", path)
	for _, k := range sortedKeys(reqHeaders) {
		fmt.Fprintf(&req, "%s: %s\r\n", k, reqHeaders[k])
	}
	req.WriteString("\r\n")

	if err := conn.SetDeadline(time.Now().Add(handshakeTimeout)); err != nil {
		return nil, fmt.Errorf("set handshake deadline: %w", err)
	}
	if _, err := conn.Write([]byte(req.String())); err != nil {
		return nil, fmt.Errorf("write handshake request: %w", err)
	}

	// Read until the double-CRLF header terminator, bounded at 64KB.
	terminator := []byte("\r\n\r\n")
	buf := make([]byte, 0, 4096)
	chunk := make([]byte, 4096)
	for !bytes.Contains(buf, terminator) {
		n, err := conn.Read(chunk)
		if n > 0 {
			buf = append(buf, chunk[:n]...)
		}
		if err != nil {
			return nil, fmt.Errorf("read handshake response: %w", err)
		}
		if len(buf) > maxHandshakeHeader {
			return nil, fmt.Errorf("handshake response header exceeds %d bytes", maxHandshakeHeader)
		}
	}

	idx := bytes.Index(buf, terminator) + len(terminator)
	headerText := string(buf[:idx])
	leftover := buf[idx:]

	lines := strings.Split(headerText, "\r\n")
	statusParts := strings.SplitN(lines[0], " ", 3)
	if len(statusParts) < 2 {
		return nil, fmt.Errorf("malformed status line %q", lines[0])
	}
	status, err := strconv.Atoi(statusParts[1])
	if err != nil || status != 101 {
		return nil, fmt.Errorf("handshake rejected: %s", lines[0])
	}

	respHeaders := make(map[string]string, len(lines))
	for _, line := range lines[1:] {
		k, v, ok := strings.Cut(line, ":")
		if !ok {
			continue
		}
		respHeaders[strings.ToLower(strings.TrimSpace(k))] = strings.TrimSpace(v)
	}

	if accept := respHeaders["sec-websocket-accept"]; accept != acceptKey(secKey) {
		return nil, fmt.Errorf("sec-websocket-accept mismatch: got %q", accept)
	}

	if err := conn.SetDeadline(time.Time{}); err != nil {
		return nil, fmt.Errorf("clear handshake deadline: %w", err)
	}
	return newFrameReader(leftover), nil
}

func sortedKeys(m map[string]string) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
