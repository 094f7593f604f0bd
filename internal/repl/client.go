package repl

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"net"
	"net/url"
	"strings"
	"sync"
	"sync/atomic"
	"time"
)

// closeOnce wraps a channel with sync.Once to prevent double-close panics.
type closeOnce struct {
	ch   chan struct{}
	once sync.Once
}

func newCloseOnce() *closeOnce {
	return &closeOnce{ch: make(chan struct{})}
}

func (c *closeOnce) Close() {
	c.once.Do(func() { close(c.ch) })
}

func (c *closeOnce) Done() <-chan struct{} {
	return c.ch
}

// Default timeouts and intervals for channel communication.
const (
	// defaultConnectTimeout is the maximum time to wait for initial connection.
	defaultConnectTimeout = 10 * time.Second

	// defaultReadTimeout is the timeout for individual read operations.
	defaultReadTimeout = 30 * time.Second

	// defaultWriteTimeout is the timeout for write operations.
	defaultWriteTimeout = 5 * time.Second

	// defaultReconnectInterval is the initial delay between reconnection attempts.
	defaultReconnectInterval = 5 * time.Second

	// maxReconnectInterval is the maximum delay between reconnection attempts.
	maxReconnectInterval = 2 * time.Minute

	// maxLineBytes bounds a single incoming line. A board-attribute dump for
	// a large board fits comfortably; anything bigger means the stream has
	// lost its framing.
	maxLineBytes = 16 * 1024

	// lineQueueSize is the buffer size for the line callback queue.
	lineQueueSize = 100
)

// REPL control bytes. The channel endpoint forwards these to the device's
// raw-mode REPL verbatim.
const (
	ctrlInterrupt = 0x03 // Ctrl-C: stop any running program
	ctrlRawMode   = 0x01 // Ctrl-A: enter raw (non-echoing) mode
	ctrlExecute   = 0x04 // Ctrl-D: execute the buffered script
)

// Config holds channel connection configuration.
type Config struct {
	// Connection is the channel endpoint URL.
	// Supported formats:
	//   - "unix:///run/twincore/channel.sock" (Unix socket)
	//   - "tcp://localhost:8765" (TCP)
	Connection string

	// ConnectTimeout is the maximum time to wait for connection.
	// Default: 10 seconds.
	ConnectTimeout time.Duration

	// ReadTimeout is the timeout for read operations.
	// Default: 30 seconds.
	ReadTimeout time.Duration

	// WriteTimeout is the timeout for write operations.
	// Default: 5 seconds.
	WriteTimeout time.Duration

	// ReconnectInterval is the initial delay between reconnection attempts.
	// Default: 5 seconds.
	ReconnectInterval time.Duration
}

// Stats holds operational statistics.
type Stats struct {
	ScriptsTx       uint64
	LinesRx         uint64
	LinesDropped    uint64 // Lines dropped due to full callback queue
	ErrorsTotal     uint64
	ReconnectsTotal uint64 // Successful reconnections
	LastActivity    time.Time
	Connected       bool
	Reconnecting    bool // True if currently attempting to reconnect
}

// Line is one line of text received from the channel.
type Line struct {
	// Text is the line content with the trailing newline (and any carriage
	// return) stripped.
	Text string

	// At is when the line was read off the wire.
	At time.Time
}

// Logger interface for optional logging.
type Logger interface {
	Debug(msg string, keysAndValues ...any)
	Info(msg string, keysAndValues ...any)
	Warn(msg string, keysAndValues ...any)
	Error(msg string, keysAndValues ...any)
}

// Channel is the transport interface the probe layer depends on.
// This allows mocking the channel client in tests.
type Channel interface {
	Execute(ctx context.Context, script string) error
	Interrupt(ctx context.Context) error
	SetOnLine(callback func(Line))
	IsConnected() bool
	Stats() Stats
	Close() error
}

// Ensure Client implements Channel.
var _ Channel = (*Client)(nil)

// Client is a line-oriented channel client over a stream socket.
//
// The endpoint on the other side is a serial bridge in front of a
// microcontroller REPL: the client writes script text terminated by an
// execute control byte and receives whatever the device prints, one line
// at a time. The client itself attaches no meaning to line content; the
// probe layer matches sentinel prefixes.
//
// Thread Safety:
//   - All methods are safe for concurrent use.
//   - Line callbacks are invoked from a single dispatcher goroutine, in
//     arrival order. The channel is a serial stream; delivering lines out
//     of order would corrupt request/response matching above.
//
// Auto-Reconnection:
//   - When the connection is lost, the client automatically attempts to
//     reconnect with exponential backoff up to maxReconnectInterval.
//   - Reconnection stops only when Close() is called.
type Client struct {
	cfg  Config
	conn net.Conn

	// reader wraps conn for line framing; rebuilt on every (re)connect.
	// Only the receive loop touches it.
	reader *bufio.Reader

	// Connection state
	connMu    sync.RWMutex
	connected bool

	// Reconnection state
	reconnecting   atomic.Bool
	reconnectCount atomic.Int32

	// Line handler callback
	onLine     func(Line)
	callbackMu sync.RWMutex

	// Line dispatch queue (bounded, drop on overflow)
	lineQueue chan Line

	// Shutdown coordination (closeOnce prevents double-close panics)
	done *closeOnce
	wg   sync.WaitGroup

	// Logger (optional)
	logger   Logger
	loggerMu sync.RWMutex

	// Statistics (atomic for performance)
	scriptsTx       atomic.Uint64
	linesRx         atomic.Uint64
	linesDropped    atomic.Uint64
	errorsTotal     atomic.Uint64
	reconnectsTotal atomic.Uint64
	lastActivity    atomic.Int64 // Unix timestamp
}

// Connect establishes a connection to the channel endpoint.
//
// The connection URL determines the transport:
//   - "unix:///run/twincore/channel.sock" → Unix socket
//   - "tcp://localhost:8765" → TCP socket
//
// After connecting, it interrupts any running program and switches the
// device REPL to raw mode, then starts goroutines to receive and dispatch
// incoming lines.
//
// Parameters:
//   - ctx: Context for cancellation (used for initial connection)
//   - cfg: Connection configuration
//
// Returns:
//   - *Client: Connected client ready for use
//   - error: If connection fails
func Connect(ctx context.Context, cfg Config) (*Client, error) {
	// Apply defaults
	if cfg.ConnectTimeout == 0 {
		cfg.ConnectTimeout = defaultConnectTimeout
	}
	if cfg.ReadTimeout == 0 {
		cfg.ReadTimeout = defaultReadTimeout
	}
	if cfg.WriteTimeout == 0 {
		cfg.WriteTimeout = defaultWriteTimeout
	}
	if cfg.ReconnectInterval == 0 {
		cfg.ReconnectInterval = defaultReconnectInterval
	}

	// Parse connection URL
	network, address, err := parseConnectionURL(cfg.Connection)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrConnectionFailed, err)
	}

	// Create connection with timeout
	connectCtx := ctx
	if connectCtx == nil {
		connectCtx = context.Background()
	}
	connectCtx, cancel := context.WithTimeout(connectCtx, cfg.ConnectTimeout)
	defer cancel()

	var dialer net.Dialer
	conn, err := dialer.DialContext(connectCtx, network, address)
	if err != nil {
		return nil, fmt.Errorf("%w: dial failed: %w", ErrConnectionFailed, err)
	}

	client := &Client{
		cfg:       cfg,
		conn:      conn,
		reader:    bufio.NewReaderSize(conn, maxLineBytes),
		done:      newCloseOnce(),
		lineQueue: make(chan Line, lineQueueSize),
	}
	client.lastActivity.Store(time.Now().Unix())

	// Put the device REPL into raw mode (respects context deadline)
	if err := client.enterRawMode(connectCtx); err != nil {
		conn.Close()
		return nil, fmt.Errorf("%w: raw mode entry failed: %w", ErrConnectionFailed, err)
	}

	// Mark as connected
	client.connMu.Lock()
	client.connected = true
	client.connMu.Unlock()

	// Single dispatcher preserves line arrival order
	client.wg.Add(1)
	go client.lineDispatcher()

	// Start receive loop
	client.wg.Add(1)
	go client.receiveLoop()

	return client, nil
}

// parseConnectionURL parses a channel connection URL into network and address.
func parseConnectionURL(connURL string) (network, address string, err error) {
	u, err := url.Parse(connURL)
	if err != nil {
		return "", "", fmt.Errorf("invalid URL: %w", err)
	}

	switch u.Scheme {
	case "unix":
		return "unix", u.Path, nil
	case "tcp":
		host := u.Host
		if host == "" {
			host = "localhost:8765"
		}
		return "tcp", host, nil
	default:
		return "", "", fmt.Errorf("unsupported scheme %q (use unix or tcp)", u.Scheme)
	}
}

// enterRawMode interrupts any running program and switches the REPL to raw
// mode. The preamble is fire-and-forget: bridges differ in whether they
// forward the mode-change banner, so no response is required.
func (c *Client) enterRawMode(ctx context.Context) error {
	writeDeadline := time.Now().Add(c.cfg.WriteTimeout)
	if deadline, ok := ctx.Deadline(); ok && deadline.Before(writeDeadline) {
		writeDeadline = deadline
	}

	if err := c.conn.SetWriteDeadline(writeDeadline); err != nil {
		return fmt.Errorf("set write deadline: %w", err)
	}

	select {
	case <-ctx.Done():
		return fmt.Errorf("context cancelled: %w", ctx.Err())
	default:
	}

	if _, err := c.conn.Write([]byte{ctrlInterrupt, ctrlRawMode}); err != nil {
		return fmt.Errorf("write: %w", err)
	}

	return nil
}

// receiveLoop continuously reads lines from the channel.
// On connection loss, it automatically attempts reconnection with
// exponential backoff.
func (c *Client) receiveLoop() {
	defer c.wg.Done()

	for {
		select {
		case <-c.done.Done():
			return
		default:
		}

		text, err := c.readLine()
		if err != nil {
			if c.handleReadError(err) {
				// Fatal error - attempt reconnection
				if c.isClosed() {
					return // Shutdown requested, exit cleanly
				}

				if !c.reconnect() {
					return // Shutdown during reconnection, exit cleanly
				}

				// Reconnection successful, continue receive loop
				continue
			}
			continue // Recoverable error, retry
		}

		if text == "" {
			continue // Blank lines carry nothing
		}

		c.handleLine(text)
	}
}

// readLine reads a single line from the connection.
// An oversized line returns ErrLineTooLong, which is fatal: the framing is
// gone and the only safe recovery is a fresh connection.
func (c *Client) readLine() (string, error) {
	if err := c.conn.SetReadDeadline(time.Now().Add(c.cfg.ReadTimeout)); err != nil {
		c.logError("set read deadline failed", err)
		return "", fmt.Errorf("set deadline: %w", err)
	}

	raw, err := c.reader.ReadSlice('\n')
	if err != nil {
		if errors.Is(err, bufio.ErrBufferFull) {
			c.errorsTotal.Add(1)
			c.logError("oversized line, closing connection to prevent desync",
				fmt.Errorf("line exceeds %d bytes", maxLineBytes))
			return "", ErrLineTooLong
		}
		return "", fmt.Errorf("read line: %w", err)
	}

	return strings.TrimRight(string(raw), "\r\n"), nil
}

// handleReadError processes a read error and returns true if the loop
// should attempt reconnection.
func (c *Client) handleReadError(err error) bool {
	if err == nil {
		return false // No error, continue
	}

	if c.isClosed() {
		return true // Clean shutdown
	}

	// A too-long line is always fatal - stream framing is corrupted
	if errors.Is(err, ErrLineTooLong) {
		c.logError("line framing lost, closing socket", err)
		if c.conn != nil {
			c.conn.Close() // Force immediate close to stop corrupted data flow
		}
		c.handleDisconnect()
		return true // Fatal, must reconnect
	}

	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return false // Timeout is normal on a quiet channel, continue
	}

	c.logError("read failed", err)
	c.errorsTotal.Add(1)
	c.handleDisconnect()
	return true // Fatal error, stop
}

// handleLine queues a received line for dispatch.
func (c *Client) handleLine(text string) {
	c.linesRx.Add(1)
	c.lastActivity.Store(time.Now().Unix())

	// Check if callback is set before queueing
	c.callbackMu.RLock()
	hasCallback := c.onLine != nil
	c.callbackMu.RUnlock()

	if !hasCallback {
		return
	}

	line := Line{Text: text, At: time.Now()}

	select {
	case c.lineQueue <- line:
		// Queued successfully
	default:
		// Queue full, drop line to prevent memory exhaustion. Dropped
		// device-state lines self-heal on the next poll.
		c.logError("line queue full, dropping line", nil)
		c.linesDropped.Add(1)
		c.errorsTotal.Add(1)
	}
}

// lineDispatcher delivers queued lines to the callback, one at a time and
// in arrival order.
func (c *Client) lineDispatcher() {
	defer c.wg.Done()

	for {
		select {
		case <-c.done.Done():
			// Drain any remaining items (best-effort, non-blocking)
			c.drainLineQueue()
			return
		case line := <-c.lineQueue:
			c.callbackMu.RLock()
			callback := c.onLine
			c.callbackMu.RUnlock()

			if callback != nil {
				func() {
					defer func() {
						if r := recover(); r != nil {
							c.logError("line callback panic", fmt.Errorf("%v", r))
						}
					}()
					callback(line)
				}()
			}
		}
	}
}

// handleDisconnect handles connection loss.
func (c *Client) handleDisconnect() {
	c.connMu.Lock()
	wasConnected := c.connected
	c.connected = false
	c.connMu.Unlock()

	if wasConnected {
		c.logInfo("channel connection lost, will attempt reconnection")
	}
}

// reconnect attempts to re-establish the connection with exponential backoff.
// Returns true if reconnection succeeded, false if shutdown was signalled.
func (c *Client) reconnect() bool {
	// Prevent multiple concurrent reconnection attempts
	if !c.reconnecting.CompareAndSwap(false, true) {
		return c.waitForReconnection()
	}
	defer c.reconnecting.Store(false)

	network, address, err := parseConnectionURL(c.cfg.Connection)
	if err != nil {
		c.logError("reconnect: invalid connection URL", err)
		return false
	}

	backoff := c.cfg.ReconnectInterval
	if backoff == 0 {
		backoff = defaultReconnectInterval
	}

	for {
		if c.isClosed() {
			return false
		}

		attempt := c.reconnectCount.Add(1)
		c.logInfo("attempting channel reconnection", "attempt", attempt, "backoff", backoff.String())

		c.closeOldConnection()

		conn, err := c.dialWithTimeout(network, address)
		if err != nil {
			backoff = c.handleReconnectFailure("dial failed", err, backoff)
			if backoff == 0 {
				return false // Shutdown signalled
			}
			continue
		}

		if err := c.establishConnection(conn); err != nil {
			backoff = c.handleReconnectFailure("raw mode entry failed", err, backoff)
			if backoff == 0 {
				return false // Shutdown signalled
			}
			continue
		}

		c.finalizeReconnection()
		return true
	}
}

// waitForReconnection waits for another goroutine to complete reconnection.
func (c *Client) waitForReconnection() bool {
	for c.reconnecting.Load() && !c.isClosed() {
		time.Sleep(100 * time.Millisecond)
	}
	return !c.isClosed() && c.IsConnected()
}

// closeOldConnection closes the existing connection if any.
func (c *Client) closeOldConnection() {
	c.connMu.Lock()
	if c.conn != nil {
		c.conn.Close()
		c.conn = nil
	}
	c.connMu.Unlock()
}

// dialWithTimeout attempts to dial the network address with timeout.
func (c *Client) dialWithTimeout(network, address string) (net.Conn, error) {
	ctx, cancel := context.WithTimeout(context.Background(), c.cfg.ConnectTimeout)
	defer cancel()

	var dialer net.Dialer
	conn, err := dialer.DialContext(ctx, network, address)
	if err != nil {
		return nil, fmt.Errorf("dial %s://%s: %w", network, address, err)
	}
	return conn, nil
}

// establishConnection installs the new connection and re-enters raw mode.
func (c *Client) establishConnection(conn net.Conn) error {
	c.connMu.Lock()
	c.conn = conn
	c.reader = bufio.NewReaderSize(conn, maxLineBytes)
	c.connMu.Unlock()

	ctx, cancel := context.WithTimeout(context.Background(), c.cfg.ConnectTimeout)
	defer cancel()

	if err := c.enterRawMode(ctx); err != nil {
		conn.Close()
		c.connMu.Lock()
		c.conn = nil
		c.connMu.Unlock()
		return err
	}
	return nil
}

// handleReconnectFailure handles a failed reconnection attempt.
// Returns the new backoff duration, or 0 if shutdown was signalled.
func (c *Client) handleReconnectFailure(reason string, err error, backoff time.Duration) time.Duration {
	c.logError("reconnect: "+reason, err)
	c.errorsTotal.Add(1)

	select {
	case <-c.done.Done():
		return 0 // Signal shutdown
	case <-time.After(backoff):
	}

	// Exponential backoff with cap
	newBackoff := time.Duration(float64(backoff) * 1.5)
	if newBackoff > maxReconnectInterval {
		newBackoff = maxReconnectInterval
	}
	return newBackoff
}

// finalizeReconnection marks the connection as established and updates stats.
func (c *Client) finalizeReconnection() {
	c.connMu.Lock()
	c.connected = true
	c.connMu.Unlock()

	c.reconnectCount.Store(0)
	c.reconnectsTotal.Add(1)
	c.lastActivity.Store(time.Now().Unix())

	c.logInfo("channel reconnection successful", "total_reconnects", c.reconnectsTotal.Load())
}

// drainLineQueue removes and discards any remaining items from the queue.
// Called during shutdown to prevent goroutines from blocking on send.
func (c *Client) drainLineQueue() {
	for {
		select {
		case <-c.lineQueue:
			// Discard item
		default:
			return // Queue is empty
		}
	}
}

// isClosed returns true if the client has been closed.
func (c *Client) isClosed() bool {
	select {
	case <-c.done.Done():
		return true
	default:
		return false
	}
}

// Close gracefully closes the connection.
//
// It signals the receive loop to stop and closes the underlying network
// connection. Safe to call multiple times (uses sync.Once).
//
// Returns:
//   - error: nil (closing is best-effort)
func (c *Client) Close() error {
	// Signal shutdown (safe to call multiple times via sync.Once)
	c.done.Close()

	// Mark disconnected
	c.connMu.Lock()
	c.connected = false
	c.connMu.Unlock()

	// Close connection (this will unblock any pending reads)
	if c.conn != nil {
		c.conn.Close()
	}

	// Wait for all goroutines to finish
	c.wg.Wait()

	c.logInfo("channel closed")
	return nil
}

// Execute writes a script to the channel followed by the execute trigger.
//
// The device runs the script and prints its output as lines, which arrive
// asynchronously via the OnLine callback. Execute itself does not wait for
// any response; request/response matching lives in the probe layer.
//
// Parameters:
//   - ctx: Context for cancellation
//   - script: Script text; a trailing newline is added if missing
//
// Returns:
//   - error: If the client is not connected or the write fails
func (c *Client) Execute(ctx context.Context, script string) error {
	if !c.IsConnected() {
		return ErrNotConnected
	}

	if !strings.HasSuffix(script, "\n") {
		script += "\n"
	}

	payload := append([]byte(script), ctrlExecute)
	if err := c.write(ctx, payload); err != nil {
		return err
	}

	c.scriptsTx.Add(1)
	c.lastActivity.Store(time.Now().Unix())

	return nil
}

// Interrupt sends a break to stop whatever the device is running.
func (c *Client) Interrupt(ctx context.Context) error {
	if !c.IsConnected() {
		return ErrNotConnected
	}
	return c.write(ctx, []byte{ctrlInterrupt})
}

// write sends raw bytes with a deadline derived from ctx.
func (c *Client) write(ctx context.Context, data []byte) error {
	// Check context
	select {
	case <-ctx.Done():
		return fmt.Errorf("%w: %w", ErrExecuteFailed, ctx.Err())
	default:
	}

	deadline := time.Now().Add(c.cfg.WriteTimeout)
	if d, ok := ctx.Deadline(); ok && d.Before(deadline) {
		deadline = d
	}

	c.connMu.RLock()
	conn := c.conn
	c.connMu.RUnlock()

	if conn == nil {
		return ErrNotConnected
	}

	if err := conn.SetWriteDeadline(deadline); err != nil {
		return fmt.Errorf("%w: set deadline: %w", ErrExecuteFailed, err)
	}

	// Check context again before write (might have been cancelled above)
	select {
	case <-ctx.Done():
		return fmt.Errorf("%w: %w", ErrExecuteFailed, ctx.Err())
	default:
	}

	if _, err := conn.Write(data); err != nil {
		c.errorsTotal.Add(1)
		return fmt.Errorf("%w: write: %w", ErrExecuteFailed, err)
	}

	return nil
}

// SetOnLine sets the callback for received lines.
//
// The callback is invoked from a single dispatcher goroutine, in arrival
// order. Panics in the callback are recovered and logged.
//
// Parameters:
//   - callback: Function to call for each received line
func (c *Client) SetOnLine(callback func(Line)) {
	c.callbackMu.Lock()
	c.onLine = callback
	c.callbackMu.Unlock()
}

// SetLogger sets the logger for this client.
func (c *Client) SetLogger(logger Logger) {
	c.loggerMu.Lock()
	c.logger = logger
	c.loggerMu.Unlock()
}

// IsConnected returns true if connected to the channel endpoint.
func (c *Client) IsConnected() bool {
	c.connMu.RLock()
	defer c.connMu.RUnlock()
	return c.connected
}

// Stats returns current operational statistics.
func (c *Client) Stats() Stats {
	return Stats{
		ScriptsTx:       c.scriptsTx.Load(),
		LinesRx:         c.linesRx.Load(),
		LinesDropped:    c.linesDropped.Load(),
		ErrorsTotal:     c.errorsTotal.Load(),
		ReconnectsTotal: c.reconnectsTotal.Load(),
		LastActivity:    time.Unix(c.lastActivity.Load(), 0),
		Connected:       c.IsConnected(),
		Reconnecting:    c.reconnecting.Load(),
	}
}

// HealthCheck verifies the connection is alive.
//
// Note: This only checks connection state. For active verification, run a
// probe against the device and wait for its sentinel.
func (c *Client) HealthCheck(_ context.Context) error {
	if !c.IsConnected() {
		return ErrNotConnected
	}
	return nil
}

// logInfo logs an info message if logger is set.
func (c *Client) logInfo(msg string, keysAndValues ...any) {
	c.loggerMu.RLock()
	logger := c.logger
	c.loggerMu.RUnlock()

	if logger != nil {
		logger.Info(msg, keysAndValues...)
	}
}

// logError logs an error message if logger is set.
func (c *Client) logError(msg string, err error) {
	c.loggerMu.RLock()
	logger := c.logger
	c.loggerMu.RUnlock()

	if logger != nil {
		logger.Error(msg, "error", err)
	}
}
