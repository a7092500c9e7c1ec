package ws

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
)

const (
	frameRequest  = "request"
	frameResponse = "response"
	frameEvent    = "event"

	writeTimeout = 10 * time.Second
)

var ErrClosed = errors.New("realtime connection closed")

// frame is the single JSON envelope exchanged in both directions. Requests
// carry ID and Method; responses echo ID; events carry Topic.
type frame struct {
	Type    string          `json:"type"`
	ID      string          `json:"id,omitempty"`
	Method  string          `json:"method,omitempty"`
	Topic   string          `json:"topic,omitempty"`
	Error   string          `json:"error,omitempty"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

// RemoteError is an error reported by the realtime service for one request.
type RemoteError struct {
	Method  string
	Message string
}

func (e *RemoteError) Error() string {
	return fmt.Sprintf("%s: %s", e.Method, e.Message)
}

type route struct {
	ch   chan json.RawMessage
	stop chan struct{}
}

// conn multiplexes request/response pairs and topic events over one socket.
type conn struct {
	ws     *websocket.Conn
	logger *slog.Logger

	writeMu sync.Mutex

	mu      sync.Mutex
	pending map[string]chan frame
	routes  map[string]*route

	done      chan struct{}
	closeOnce sync.Once
	err       error
}

type dialConfig struct {
	url    string
	apiKey string
	token  string
	dialer *websocket.Dialer
	logger *slog.Logger
}

// dial opens the socket and completes the authenticate handshake. Nothing is
// left open when it fails.
func dial(ctx context.Context, cfg dialConfig, user any) (*conn, error) {
	dialer := cfg.dialer
	if dialer == nil {
		dialer = websocket.DefaultDialer
	}
	logger := cfg.logger
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}

	header := http.Header{}
	header.Set("Authorization", "Bearer "+cfg.token)
	if cfg.apiKey != "" {
		header.Set("X-Api-Key", cfg.apiKey)
	}

	socket, resp, err := dialer.DialContext(ctx, cfg.url, header)
	if resp != nil && resp.Body != nil {
		_ = resp.Body.Close()
	}
	if err != nil {
		return nil, fmt.Errorf("dial %s: %w", cfg.url, err)
	}

	c := &conn{
		ws:      socket,
		logger:  logger,
		pending: make(map[string]chan frame),
		routes:  make(map[string]*route),
		done:    make(chan struct{}),
	}
	go c.readLoop()

	success := false
	defer func() {
		if !success {
			_ = c.close()
		}
	}()

	if err := c.call(ctx, "connect", user, nil); err != nil {
		return nil, fmt.Errorf("authenticate: %w", err)
	}

	success = true
	return c, nil
}

// call sends a request and waits for its response. out may be nil.
func (c *conn) call(ctx context.Context, method string, params any, out any) error {
	payload, err := json.Marshal(params)
	if err != nil {
		return fmt.Errorf("encode %s: %w", method, err)
	}

	id := uuid.NewString()
	reply := make(chan frame, 1)

	c.mu.Lock()
	if c.isDone() {
		c.mu.Unlock()
		return c.closedErr()
	}
	c.pending[id] = reply
	c.mu.Unlock()
	defer func() {
		c.mu.Lock()
		delete(c.pending, id)
		c.mu.Unlock()
	}()

	if err := c.write(frame{Type: frameRequest, ID: id, Method: method, Payload: payload}); err != nil {
		return fmt.Errorf("send %s: %w", method, err)
	}

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-c.done:
		return c.closedErr()
	case resp := <-reply:
		if resp.Error != "" {
			return &RemoteError{Method: method, Message: resp.Error}
		}
		if out == nil || len(resp.Payload) == 0 {
			return nil
		}
		if err := json.Unmarshal(resp.Payload, out); err != nil {
			return fmt.Errorf("decode %s response: %w", method, err)
		}
		return nil
	}
}

func (c *conn) write(f frame) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	_ = c.ws.SetWriteDeadline(time.Now().Add(writeTimeout))
	return c.ws.WriteJSON(f)
}

// subscribe routes events for topic to the returned channel until
// unsubscribe is called or the connection ends, which closes the channel.
func (c *conn) subscribe(topic string, buffer int) (<-chan json.RawMessage, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.isDone() {
		return nil, c.closedErr()
	}
	if _, exists := c.routes[topic]; exists {
		return nil, fmt.Errorf("topic %s already subscribed", topic)
	}
	r := &route{ch: make(chan json.RawMessage, buffer), stop: make(chan struct{})}
	c.routes[topic] = r
	return r.ch, nil
}

func (c *conn) unsubscribe(topic string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if r, ok := c.routes[topic]; ok {
		delete(c.routes, topic)
		close(r.stop)
	}
}

func (c *conn) readLoop() {
	defer func() {
		c.mu.Lock()
		routes := c.routes
		c.routes = map[string]*route{}
		c.mu.Unlock()
		for _, r := range routes {
			close(r.ch)
		}
	}()

	for {
		var f frame
		if err := c.ws.ReadJSON(&f); err != nil {
			_ = c.shutdown(err)
			return
		}

		switch f.Type {
		case frameResponse:
			c.mu.Lock()
			reply, ok := c.pending[f.ID]
			c.mu.Unlock()
			if ok {
				reply <- f
			}
		case frameEvent:
			c.mu.Lock()
			r, ok := c.routes[f.Topic]
			c.mu.Unlock()
			if !ok {
				continue
			}
			select {
			case r.ch <- f.Payload:
			case <-r.stop:
			case <-c.done:
				return
			}
		default:
			c.logger.Debug("ignoring realtime frame", "type", f.Type)
		}
	}
}

func (c *conn) shutdown(err error) error {
	var closeErr error
	c.closeOnce.Do(func() {
		c.mu.Lock()
		c.err = err
		c.mu.Unlock()
		close(c.done)
		closeErr = c.ws.Close()
	})
	return closeErr
}

// close says goodbye to the peer and releases the socket. It is safe to call
// more than once.
func (c *conn) close() error {
	if !c.isDone() {
		msg := websocket.FormatCloseMessage(websocket.CloseNormalClosure, "")
		_ = c.ws.WriteControl(websocket.CloseMessage, msg, time.Now().Add(time.Second))
	}
	return c.shutdown(ErrClosed)
}

func (c *conn) isDone() bool {
	select {
	case <-c.done:
		return true
	default:
		return false
	}
}

func (c *conn) closedErr() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.err == nil || errors.Is(c.err, ErrClosed) {
		return ErrClosed
	}
	return fmt.Errorf("%w: %w", ErrClosed, c.err)
}
