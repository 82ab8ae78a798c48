package electrum

import (
	"bufio"
	"bytes"
	"crypto/tls"
	"encoding/json"
	"fmt"
	"net"
	"os"
	"sync"
	"time"

	"github.com/bardlex/gobt/pkg/errors"
	"github.com/bardlex/gobt/pkg/log"
)

// DialOptions configures how a connection is established.
type DialOptions struct {
	// Timeout bounds the dial, the TLS handshake and every later call.
	Timeout time.Duration

	// VerifyTLS enables certificate verification. Most public Electrum
	// servers present self-signed certificates, so the tracker leaves
	// this off unless configured otherwise.
	VerifyTLS bool

	Logger *log.Logger
}

// Conn is a synchronous client connection to one Electrum server. The
// protocol is strictly half-duplex from the client side: one request is
// written, then exactly one response is awaited before the next request.
// Call serializes callers to enforce that.
type Conn struct {
	endpoint ServerEndpoint
	conn     net.Conn
	reader   *bufio.Reader
	timeout  time.Duration
	logger   *log.Logger

	mu     sync.Mutex
	lastID uint64
	closed bool
}

// Dial connects to the endpoint over TCP, wrapping the stream in TLS when
// the endpoint requires it.
func Dial(endpoint ServerEndpoint, opts DialOptions) (*Conn, error) {
	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = defaultTimeout
	}

	raw, err := net.DialTimeout("tcp", endpoint.Addr(), timeout)
	if err != nil {
		return nil, wrapIOError(err, "dial",
			fmt.Sprintf("failed to connect to %s", endpoint.Addr()))
	}

	if endpoint.UseTLS {
		tlsConn := tls.Client(raw, &tls.Config{
			ServerName:         endpoint.Host,
			InsecureSkipVerify: !opts.VerifyTLS,
		})
		if err := tlsConn.SetDeadline(time.Now().Add(timeout)); err != nil {
			raw.Close()
			return nil, errors.Wrap(err, errors.ErrorTypeConnection, "dial",
				"failed to set handshake deadline")
		}
		if err := tlsConn.Handshake(); err != nil {
			raw.Close()
			return nil, wrapIOError(err, "dial",
				fmt.Sprintf("tls handshake with %s failed", endpoint.Addr()))
		}
		if err := tlsConn.SetDeadline(time.Time{}); err != nil {
			tlsConn.Close()
			return nil, errors.Wrap(err, errors.ErrorTypeConnection, "dial",
				"failed to clear handshake deadline")
		}
		raw = tlsConn
	}

	opts.Logger.LogConnection("connected", endpoint.String())
	return newConn(raw, endpoint, timeout, opts.Logger), nil
}

// newConn wraps an established stream. Split from Dial so tests can drive
// a connection over an in-memory pipe.
func newConn(raw net.Conn, endpoint ServerEndpoint, timeout time.Duration, logger *log.Logger) *Conn {
	return &Conn{
		endpoint: endpoint,
		conn:     raw,
		reader:   bufio.NewReader(raw),
		timeout:  timeout,
		logger:   logger,
	}
}

// Endpoint returns the endpoint this connection was dialed against.
func (c *Conn) Endpoint() ServerEndpoint {
	return c.endpoint
}

// Call sends one request and waits for its response. Subscription
// notifications arriving before the response are skipped. The configured
// timeout bounds the whole exchange; a timed-out call leaves the stream
// desynchronized, so the caller must discard the connection afterwards.
//
// Parameters:
//   - method: Electrum protocol method name
//   - params: positional parameters, nil for none
//
// Returns:
//   - json.RawMessage: the response's result field
//   - error: timeout, connection or protocol error
func (c *Conn) Call(method string, params []any) (json.RawMessage, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return nil, errors.New(errors.ErrorTypeConnection, "call",
			"connection is closed")
	}
	if params == nil {
		// Servers reject "params": null, send an empty list instead.
		params = []any{}
	}

	c.lastID++
	id := c.lastID

	buf := getBuffer()
	defer putBuffer(buf)

	req := getRequest()
	req.ID = id
	req.Method = method
	req.Params = params
	err := json.NewEncoder(buf).Encode(req)
	putRequest(req)
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrorTypeInternal, "call",
			"failed to encode request")
	}

	start := time.Now()
	deadline := start.Add(c.timeout)
	if err := c.conn.SetWriteDeadline(deadline); err != nil {
		return nil, errors.Wrap(err, errors.ErrorTypeConnection, "call",
			"failed to set write deadline")
	}
	// Encode appended the newline, so the framed request goes out in one
	// write.
	if _, err := c.conn.Write(buf.Bytes()); err != nil {
		return nil, wrapIOError(err, "call",
			fmt.Sprintf("failed to send %s request", method))
	}
	c.logger.LogElectrumMessage("sent", method, id, 0)

	if err := c.conn.SetReadDeadline(deadline); err != nil {
		return nil, errors.Wrap(err, errors.ErrorTypeConnection, "call",
			"failed to set read deadline")
	}
	for {
		line, err := c.reader.ReadBytes('\n')
		if err != nil {
			return nil, wrapIOError(err, "call",
				fmt.Sprintf("failed to read %s response", method))
		}
		if len(bytes.TrimSpace(line)) == 0 {
			continue
		}

		var resp Response
		if err := json.Unmarshal(line, &resp); err != nil {
			return nil, errors.Wrap(err, errors.ErrorTypeProtocol, "call",
				"failed to parse response line")
		}
		if resp.IsNotification() {
			c.logger.LogElectrumMessage("notification", resp.Method, 0, 0)
			continue
		}
		if !resp.IDMatches(id) {
			return nil, errors.New(errors.ErrorTypeProtocol, "call",
				"response id does not match request").
				WithContext("expected_id", id).
				WithContext("received_id", resp.ID)
		}
		if resp.Error != nil {
			return nil, errors.New(errors.ErrorTypeProtocol, "call",
				resp.Error.Error()).
				WithContext("method", method).
				WithContext("server_code", resp.Error.Code)
		}

		c.logger.LogElectrumMessage("received", method, id, time.Since(start))
		return resp.Result, nil
	}
}

// Close shuts the connection down. It is safe to call more than once.
func (c *Conn) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return nil
	}
	c.closed = true
	c.logger.LogConnection("disconnected", c.endpoint.String())
	return c.conn.Close()
}

// wrapIOError classifies a socket error as timeout or connection failure.
func wrapIOError(err error, operation, message string) error {
	if os.IsTimeout(err) {
		return errors.Wrap(err, errors.ErrorTypeTimeout, operation, message)
	}
	return errors.Wrap(err, errors.ErrorTypeConnection, operation, message)
}
