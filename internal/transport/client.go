package transport

import (
	"fmt"
	"log/slog"
	"net"
	"sync"
	"time"
)

// readPollInterval bounds how long the transport loop blocks on the
// socket before checking the command queue again; it also bounds
// shutdown latency.
const readPollInterval = 50 * time.Millisecond

// Callbacks are the transport's notifications to its owner. They are
// invoked from the transport's own goroutine, one at a time and in
// order, so the owner needs no locking as long as it hands them off to
// a serialized queue (or does only trivially safe work inline).
type Callbacks struct {
	OnConnected     func()
	OnDisconnected  func()
	OnError         func(err error)
	OnBinaryMessage func(payload []byte)
	OnTextMessage   func(text string)
}

// MetricsRecorder receives transport-level measurements. Implementations
// must be safe for concurrent use; a nil recorder disables recording.
type MetricsRecorder interface {
	RecordFrameSent(bytes int)
	RecordFrameReceived(bytes int)
	RecordTransportError()
	RecordHandshakeFailure()
}

// Stats is a snapshot of transport counters.
type Stats struct {
	FramesSent     uint64 `json:"frames_sent"`
	BytesSent      uint64 `json:"bytes_sent"`
	FramesReceived uint64 `json:"frames_received"`
	BytesReceived  uint64 `json:"bytes_received"`
	Connects       uint64 `json:"connects"`
	Errors         uint64 `json:"errors"`
}

type command struct {
	kind    commandKind
	url     string
	headers map[string]string
	data    []byte
}

type commandKind int

const (
	cmdConnect commandKind = iota
	cmdSend
	cmdClose
)

// Client is a duplex framed-message channel over a single upgraded
// socket. One goroutine owns the socket exclusively; callers interact
// only through the command queue, so Connect/SendBinary/CloseConn never
// block. The client never reconnects on its own.
type Client struct {
	logger    *slog.Logger
	callbacks Callbacks
	recorder  MetricsRecorder

	cmds   chan command
	stopCh chan struct{}
	done   chan struct{}

	// Owned by the run goroutine.
	conn             net.Conn
	reader           *frameReader
	connectedEmitted bool
	readBuf          []byte

	mu    sync.Mutex
	stats Stats
}

// NewClient creates a transport client. Callbacks may have nil fields;
// recorder may be nil.
func NewClient(logger *slog.Logger, callbacks Callbacks, recorder MetricsRecorder) *Client {
	return &Client{
		logger:    logger,
		callbacks: callbacks,
		recorder:  recorder,
		cmds:      make(chan command, 256),
		stopCh:    make(chan struct{}),
		done:      make(chan struct{}),
		readBuf:   make([]byte, 4096),
	}
}

// Start launches the transport loop.
func (c *Client) Start() {
	go c.run()
}

// Connect queues a connection attempt. Auth headers are merged into the
// upgrade request. If a connection is already open it is closed first.
func (c *Client) Connect(url string, headers map[string]string) {
	c.enqueue(command{kind: cmdConnect, url: url, headers: headers})
}

// SendBinary queues one application payload for transmission as a
// masked binary frame. Dropped silently when not connected.
func (c *Client) SendBinary(data []byte) {
	c.enqueue(command{kind: cmdSend, data: data})
}

// CloseConn queues a graceful close of the current connection. The
// transport stays running and accepts later Connect calls.
func (c *Client) CloseConn() {
	c.enqueue(command{kind: cmdClose})
}

// Stop terminates the transport loop. The underlying socket is closed
// on every path. Blocks until the loop has exited.
func (c *Client) Stop() {
	select {
	case <-c.stopCh:
	default:
		close(c.stopCh)
	}
	<-c.done
}

// GetStats returns a snapshot of transport counters.
func (c *Client) GetStats() Stats {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.stats
}

func (c *Client) enqueue(cmd command) {
	select {
	case c.cmds <- cmd:
	case <-c.stopCh:
	}
}

func (c *Client) run() {
	defer close(c.done)
	defer c.closeSocket(false)

	for {
		select {
		case <-c.stopCh:
			return
		default:
		}

		if c.conn == nil {
			select {
			case <-c.stopCh:
				return
			case cmd := <-c.cmds:
				c.handleIdleCommand(cmd)
			}
			continue
		}

		if !c.drainCommands() {
			continue
		}
		c.readAndDispatch()
	}
}

// handleIdleCommand processes a command while no socket is open.
func (c *Client) handleIdleCommand(cmd command) {
	switch cmd.kind {
	case cmdConnect:
		c.connect(cmd.url, cmd.headers)
	case cmdSend:
		c.logger.Debug("dropping outbound frame, not connected",
			slog.Int("bytes", len(cmd.data)),
		)
	case cmdClose:
		// Nothing to close.
	}
}

func (c *Client) connect(url string, headers map[string]string) {
	conn, reader, err := dial(url, headers)
	if err != nil {
		if c.recorder != nil {
			c.recorder.RecordHandshakeFailure()
		}
		c.countError()
		c.logger.Warn("connect failed",
			slog.String("url", url),
			slog.String("error", err.Error()),
		)
		c.emitError(err)
		return
	}

	c.conn = conn
	c.reader = reader
	c.connectedEmitted = true
	c.mu.Lock()
	c.stats.Connects++
	c.mu.Unlock()
	c.logger.Info("transport connected", slog.String("url", url))
	if c.callbacks.OnConnected != nil {
		c.callbacks.OnConnected()
	}
}

// drainCommands processes all queued commands against the open socket.
// Returns false when the socket was closed while draining.
func (c *Client) drainCommands() bool {
	for {
		select {
		case cmd := <-c.cmds:
			switch cmd.kind {
			case cmdSend:
				if !c.writeFrame(cmd.data, opBinary) {
					return false
				}
			case cmdClose:
				c.sendCloseFrame()
				c.closeSocket(true)
				return false
			case cmdConnect:
				// Replace the current connection: close, then retry the
				// connect from the idle state.
				c.sendCloseFrame()
				c.closeSocket(true)
				c.enqueue(cmd)
				return false
			}
		default:
			return true
		}
	}
}

func (c *Client) readAndDispatch() {
	if err := c.conn.SetReadDeadline(time.Now().Add(readPollInterval)); err != nil {
		c.fail(fmt.Errorf("set read deadline: %w", err))
		return
	}

	n, err := c.conn.Read(c.readBuf)
	if n > 0 {
		c.reader.Feed(c.readBuf[:n])
	}
	if err != nil {
		if ne, ok := err.(net.Error); !ok || !ne.Timeout() {
			c.fail(err)
			return
		}
	}

	frames, ferr := c.reader.PopAll()
	for _, f := range frames {
		c.mu.Lock()
		c.stats.FramesReceived++
		c.stats.BytesReceived += uint64(len(f.payload))
		c.mu.Unlock()
		if c.recorder != nil {
			c.recorder.RecordFrameReceived(len(f.payload))
		}

		switch f.opcode {
		case opClose:
			c.logger.Info("close frame received")
			c.closeSocket(true)
			return
		case opPing:
			// Answered here; never surfaced to the application.
			if !c.writeFrame(f.payload, opPong) {
				return
			}
		case opPong:
			// Discarded.
		case opBinary:
			if c.callbacks.OnBinaryMessage != nil {
				c.callbacks.OnBinaryMessage(f.payload)
			}
		case opText:
			if c.callbacks.OnTextMessage != nil {
				c.callbacks.OnTextMessage(string(f.payload))
			}
		}
	}
	if ferr != nil {
		c.fail(ferr)
	}
}

// writeFrame sends one masked frame. Returns false when the socket
// failed and was closed.
func (c *Client) writeFrame(payload []byte, opcode byte) bool {
	data := buildFrame(payload, opcode, true)
	if _, err := c.conn.Write(data); err != nil {
		c.fail(fmt.Errorf("write frame: %w", err))
		return false
	}
	if opcode == opBinary {
		c.mu.Lock()
		c.stats.FramesSent++
		c.stats.BytesSent += uint64(len(payload))
		c.mu.Unlock()
		if c.recorder != nil {
			c.recorder.RecordFrameSent(len(payload))
		}
	}
	return true
}

func (c *Client) sendCloseFrame() {
	// Best effort; the socket may already be dead.
	c.conn.Write(buildFrame(nil, opClose, true)) //nolint:errcheck
}

// fail reports a socket error and tears the connection down.
func (c *Client) fail(err error) {
	c.countError()
	if c.recorder != nil {
		c.recorder.RecordTransportError()
	}
	c.logger.Warn("transport error", slog.String("error", err.Error()))
	c.emitError(err)
	c.closeSocket(true)
}

// closeSocket releases the socket and optionally notifies the owner.
// Safe to call with no socket open.
func (c *Client) closeSocket(notify bool) {
	if c.conn != nil {
		c.conn.Close()
		c.conn = nil
		c.reader = nil
	}
	if notify && c.connectedEmitted {
		c.connectedEmitted = false
		if c.callbacks.OnDisconnected != nil {
			c.callbacks.OnDisconnected()
		}
	}
}

func (c *Client) emitError(err error) {
	if c.callbacks.OnError != nil {
		c.callbacks.OnError(err)
	}
}

func (c *Client) countError() {
	c.mu.Lock()
	c.stats.Errors++
	c.mu.Unlock()
}
