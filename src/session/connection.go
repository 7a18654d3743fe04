// Package session manages the long-lived broker connection and the producer and
// consumer handles built on top of it.
package session

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v5"

	"pulsar-mcp/src/broker"
	"pulsar-mcp/src/config"
	"pulsar-mcp/src/contracts"
	"pulsar-mcp/src/logger"
)

// State is the lifecycle state of the data-plane connection.
type State int

const (
	Disconnected State = iota
	Connecting
	Connected
	Failed
)

func (s State) String() string {
	switch s {
	case Disconnected:
		return "Disconnected"
	case Connecting:
		return "Connecting"
	case Connected:
		return "Connected"
	case Failed:
		return "Failed"
	default:
		return fmt.Sprintf("State(%d)", int(s))
	}
}

// errSessionClosed is returned by EnsureConnected after Close.
var errSessionClosed = errors.New("session closed")

// Connection owns the single logical connection to the broker.
// Transitions happen only in EnsureConnected (and the dial it starts), MarkLost and Close.
type Connection struct {
	driver      broker.Driver
	opts        broker.DialOptions
	probeTopic  string
	maxAttempts int
	backoffMin  time.Duration
	backoffMax  time.Duration
	log         logger.Logger

	mu         sync.Mutex
	state      State
	conn       broker.Conn
	generation uint64
	dialing    *dialCall
	closed     bool
}

// NewConnection creates a Connection in the Disconnected state. Nothing is dialed until
// the first EnsureConnected.
func NewConnection(cfg config.Config, driver broker.Driver, log logger.Logger) *Connection {
	return &Connection{
		driver: driver,
		opts: broker.DialOptions{
			ServiceURL:        cfg.ServiceURL,
			Token:             cfg.Token,
			TLSTrustCertsPath: cfg.TLSTrustCertsPath,
			TLSAllowInsecure:  cfg.TLSAllowInsecure,
			OperationTimeout:  cfg.OperationTimeout,
			ConnectionTimeout: cfg.ConnectionTimeout,
		},
		probeTopic:  cfg.Topic,
		maxAttempts: cfg.ConnectMaxAttempts,
		backoffMin:  cfg.ConnectBackoff,
		backoffMax:  cfg.ConnectBackoffMax,
		log:         log,
	}
}

// State returns the current connection state.
func (c *Connection) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// dialCall is a dial in progress. Callers wait on done under their own context.
type dialCall struct {
	done   chan struct{}
	cancel context.CancelFunc
	conn   broker.Conn
	gen    uint64
	err    error
}

// EnsureConnected returns the live connection and its generation, dialing it if needed.
// Dial failures are retried with exponential backoff up to the configured attempt
// ceiling; authentication failures are returned immediately as AuthError.
// Concurrent callers share one dial, and each stops waiting when its own ctx is done.
func (c *Connection) EnsureConnected(ctx context.Context) (broker.Conn, uint64, error) {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil, 0, contracts.NewError(contracts.KindConnection, "", "cannot connect", errSessionClosed)
	}

	if c.state == Connected {
		select {
		case <-c.conn.Lost():
			c.log.Warn("Broker connection lost, reconnecting to %s", c.opts.ServiceURL)
			c.dropLocked()
		default:
			conn, gen := c.conn, c.generation
			c.mu.Unlock()
			return conn, gen, nil
		}
	}

	call := c.dialing
	if call == nil {
		call = c.startDialLocked()
	}
	c.mu.Unlock()

	select {
	case <-call.done:
		return call.conn, call.gen, call.err
	case <-ctx.Done():
		return nil, 0, contracts.NewError(contracts.KindConnection, "",
			fmt.Sprintf("gave up waiting for connection to %s", c.opts.ServiceURL), ctx.Err())
	}
}

func (c *Connection) startDialLocked() *dialCall {
	ctx, cancel := context.WithCancel(context.Background())
	call := &dialCall{done: make(chan struct{}), cancel: cancel}
	c.dialing = call
	c.state = Connecting
	go c.dial(ctx, call)
	return call
}

func (c *Connection) dial(ctx context.Context, call *dialCall) {
	defer call.cancel()
	conn, err := c.dialWithRetry(ctx)

	c.mu.Lock()
	defer c.mu.Unlock()
	defer close(call.done)
	c.dialing = nil

	switch {
	case c.closed:
		if conn != nil {
			conn.Close()
		}
		call.err = contracts.NewError(contracts.KindConnection, "", "cannot connect", errSessionClosed)
	case errors.Is(err, broker.ErrAuth):
		c.state = Failed
		c.log.Error("Broker rejected credentials: %v", err)
		call.err = contracts.NewError(contracts.KindAuth, "", "broker rejected credentials", err)
	case err != nil:
		c.state = Failed
		c.log.Error("Failed to connect to %s: %v", c.opts.ServiceURL, err)
		call.err = contracts.NewError(contracts.KindConnection, "", fmt.Sprintf("failed to connect to %s", c.opts.ServiceURL), err)
	default:
		c.conn = conn
		c.generation++
		c.state = Connected
		call.conn, call.gen = conn, c.generation
		c.log.Info("Connected to Pulsar at %s (generation %d)", c.opts.ServiceURL, c.generation)
	}
}

func (c *Connection) dialWithRetry(ctx context.Context) (broker.Conn, error) {
	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = c.backoffMin
	bo.MaxInterval = c.backoffMax

	attempt := 0
	operation := func() (broker.Conn, error) {
		attempt++
		conn, err := c.driver.Dial(ctx, c.opts)
		if err == nil {
			pingCtx, cancel := context.WithTimeout(ctx, c.pingTimeout())
			err = conn.Ping(pingCtx, c.probeTopic)
			cancel()
			if err != nil {
				conn.Close()
			}
		}
		if err == nil {
			return conn, nil
		}
		if !isRetryableDial(err) {
			return nil, backoff.Permanent(err)
		}
		return nil, err
	}

	return backoff.Retry(ctx, operation,
		backoff.WithBackOff(bo),
		backoff.WithMaxTries(uint(c.maxAttempts)),
		backoff.WithNotify(func(err error, next time.Duration) {
			c.log.Warn("Connect attempt %d/%d to %s failed, retrying in %s: %v",
				attempt, c.maxAttempts, c.opts.ServiceURL, next, err)
		}),
	)
}

func (c *Connection) pingTimeout() time.Duration {
	if c.opts.OperationTimeout > 0 {
		return c.opts.OperationTimeout
	}
	return 30 * time.Second
}

// isRetryableDial returns false for failures a retry cannot fix.
func isRetryableDial(err error) bool {
	switch {
	case errors.Is(err, broker.ErrAuth),
		errors.Is(err, broker.ErrUnsupportedConfig),
		errors.Is(err, context.Canceled),
		errors.Is(err, context.DeadlineExceeded):
		return false
	}
	return true
}

// MarkLost records a transport failure observed by a caller holding a handle from
// generation gen. Reports about an older generation are ignored.
func (c *Connection) MarkLost(gen uint64, cause error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.state != Connected || gen != c.generation {
		return
	}
	c.log.Warn("Broker connection reported lost: %v", cause)
	c.dropLocked()
}

func (c *Connection) dropLocked() {
	if c.conn != nil {
		c.conn.Close()
		c.conn = nil
	}
	c.state = Disconnected
}

// Close tears the connection down and aborts a dial in progress. Later
// EnsureConnected calls fail.
func (c *Connection) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.closed = true
	if c.dialing != nil {
		c.dialing.cancel()
	}
	if c.conn != nil {
		c.dropLocked()
		c.log.Info("Disconnected from Pulsar")
	}
	c.state = Disconnected
}
