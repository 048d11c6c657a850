package wsclient

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"sync"
	"time"

	"nhooyr.io/websocket"

	"github.com/park285/cheese-live/internal/protocol"
)

type State string

const (
	StateDisconnected State = "disconnected"
	StateConnecting   State = "connecting"
	StateConnected    State = "connected"
	StateClosed       State = "closed"
	StateFailed       State = "failed"
)

type EventCallback func(ev protocol.Event)

type StateCallback func(state State)

type callbackEntry struct {
	id       int
	callback EventCallback
}

type stateCallbackEntry struct {
	id       int
	callback StateCallback
}

// Client speaks the game protocol over one websocket. A game cannot be
// resumed on a new connection, so there is no reconnect.
type Client struct {
	url    string
	header http.Header

	conn   *websocket.Conn
	state  State
	stateM sync.RWMutex

	evCbs    []callbackEntry
	stateCbs []stateCallbackEntry
	nextID   int
	cbM      sync.RWMutex

	pingInterval time.Duration

	stopCh   chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup

	rootCtx    context.Context
	rootCancel context.CancelFunc
}

type Option func(*Client)

// WithToken authenticates the handshake with a bearer token.
func WithToken(tok string) Option {
	return func(c *Client) {
		if tok = strings.TrimSpace(tok); tok != "" {
			c.header.Set("Authorization", "Bearer "+tok)
		}
	}
}

// WithPingInterval sets the keepalive period; zero disables pings.
func WithPingInterval(d time.Duration) Option {
	return func(c *Client) { c.pingInterval = d }
}

func New(url string, opts ...Option) *Client {
	c := &Client{
		url:          url,
		header:       http.Header{},
		state:        StateDisconnected,
		pingInterval: 30 * time.Second,
		stopCh:       make(chan struct{}),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Connect dials the server and starts the read and ping loops. The returned
// *http.Response is non-nil when the server refused the upgrade.
func (c *Client) Connect(ctx context.Context) (*http.Response, error) {
	c.stateM.Lock()
	if c.state == StateConnected || c.state == StateConnecting {
		c.stateM.Unlock()
		return nil, nil
	}
	c.stateM.Unlock()

	c.rootCtx, c.rootCancel = context.WithCancel(context.Background())
	c.setState(StateConnecting)

	dialCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	conn, resp, err := websocket.Dial(dialCtx, c.url, &websocket.DialOptions{
		CompressionMode: websocket.CompressionNoContextTakeover,
		HTTPHeader:      c.header,
	})
	if err != nil {
		c.setState(StateFailed)
		c.rootCancel()
		return resp, err
	}
	c.conn = conn
	c.setState(StateConnected)

	c.wg.Add(1)
	go c.listen()
	if c.pingInterval > 0 {
		c.wg.Add(1)
		go c.pingLoop()
	}
	return nil, nil
}

// Send writes one command frame.
func (c *Client) Send(ctx context.Context, cmd protocol.Command) error {
	if c.conn == nil {
		return errors.New("websocket not connected")
	}
	raw, err := protocol.EncodeCommand(cmd)
	if err != nil {
		return err
	}
	return c.conn.Write(ctx, websocket.MessageText, raw)
}

// SendRaw writes an arbitrary text frame.
func (c *Client) SendRaw(ctx context.Context, raw []byte) error {
	if c.conn == nil {
		return errors.New("websocket not connected")
	}
	return c.conn.Write(ctx, websocket.MessageText, raw)
}

func (c *Client) listen() {
	defer c.wg.Done()
	for {
		_, raw, err := c.conn.Read(c.rootCtx)
		if err != nil {
			if !c.isStopping() {
				c.setState(StateDisconnected)
			}
			return
		}
		ev, err := protocol.DecodeEvent(raw)
		if err != nil {
			continue
		}
		c.cbM.RLock()
		callbacks := make([]callbackEntry, len(c.evCbs))
		copy(callbacks, c.evCbs)
		c.cbM.RUnlock()
		for _, entry := range callbacks {
			if entry.callback != nil {
				entry.callback(ev)
			}
		}
	}
}

func (c *Client) pingLoop() {
	defer c.wg.Done()
	t := time.NewTicker(c.pingInterval)
	defer t.Stop()
	failures := 0
	for {
		select {
		case <-c.stopCh:
			return
		case <-c.rootCtx.Done():
			return
		case <-t.C:
			ctx, cancel := context.WithTimeout(c.rootCtx, 3*time.Second)
			err := c.conn.Ping(ctx)
			cancel()
			if err == nil {
				failures = 0
				continue
			}
			failures++
			if failures >= 2 {
				if !c.isStopping() {
					c.setState(StateDisconnected)
					_ = c.conn.Close(websocket.StatusGoingAway, "ping failure")
				}
				return
			}
		}
	}
}

func (c *Client) OnEvent(cb EventCallback) int {
	c.cbM.Lock()
	defer c.cbM.Unlock()
	c.nextID++
	c.evCbs = append(c.evCbs, callbackEntry{id: c.nextID, callback: cb})
	return c.nextID
}

func (c *Client) RemoveEventCallback(id int) {
	c.cbM.Lock()
	defer c.cbM.Unlock()
	for i, cb := range c.evCbs {
		if cb.id == id {
			c.evCbs = append(c.evCbs[:i], c.evCbs[i+1:]...)
			break
		}
	}
}

func (c *Client) OnStateChange(cb StateCallback) int {
	c.cbM.Lock()
	defer c.cbM.Unlock()
	c.nextID++
	c.stateCbs = append(c.stateCbs, stateCallbackEntry{id: c.nextID, callback: cb})
	return c.nextID
}

func (c *Client) State() State {
	c.stateM.RLock()
	defer c.stateM.RUnlock()
	return c.state
}

func (c *Client) setState(state State) {
	c.stateM.Lock()
	c.state = state
	c.stateM.Unlock()

	c.cbM.RLock()
	callbacks := make([]stateCallbackEntry, len(c.stateCbs))
	copy(callbacks, c.stateCbs)
	c.cbM.RUnlock()
	for _, entry := range callbacks {
		if entry.callback != nil {
			entry.callback(state)
		}
	}
}

// Close sends a normal closure and waits for the loops to exit.
func (c *Client) Close(ctx context.Context) error {
	c.stopOnce.Do(func() { close(c.stopCh) })
	if c.conn != nil {
		_ = c.conn.Close(websocket.StatusNormalClosure, "close")
	}
	done := make(chan struct{})
	go func() {
		c.wg.Wait()
		close(done)
	}()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-done:
		if c.rootCancel != nil {
			c.rootCancel()
		}
		c.setState(StateClosed)
		return nil
	}
}

func (c *Client) isStopping() bool {
	select {
	case <-c.stopCh:
		return true
	default:
		return false
	}
}
