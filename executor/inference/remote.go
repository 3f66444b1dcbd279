package inference

import (
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"

	"github.com/brensch/gomokuzero/executor/convert"
)

// Wire messages of the remote evaluator. X is the little-endian float32
// encoding of the input tensor.
type evalRequest struct {
	ID uint64 `json:"id"`
	X  []byte `json:"x"`
}

type evalResponse struct {
	ID     uint64    `json:"id"`
	Policy []float32 `json:"policy,omitempty"`
	Value  float32   `json:"value"`
	Error  string    `json:"error,omitempty"`
}

const (
	remotePingInterval = 30 * time.Second
	remoteMaxInFlight  = 512
)

// RemoteHandler serves a PlaneEvaluator over websocket. Requests on one
// connection are evaluated concurrently so a batching evaluator sees them
// together; responses carry the request id and may arrive out of order.
type RemoteHandler struct {
	Evaluator PlaneEvaluator
	Logger    *slog.Logger

	upgrader websocket.Upgrader
}

func NewRemoteHandler(eval PlaneEvaluator, logger *slog.Logger) *RemoteHandler {
	if logger == nil {
		logger = slog.Default()
	}
	return &RemoteHandler{
		Evaluator: eval,
		Logger:    logger,
		upgrader:  websocket.Upgrader{CheckOrigin: func(r *http.Request) bool { return true }},
	}
}

func (h *RemoteHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.Logger.Warn("websocket upgrade failed", "remote", r.RemoteAddr, "error", err)
		return
	}
	log := h.Logger.With("remote", r.RemoteAddr)
	log.Info("oracle client connected")

	send := make(chan evalResponse, 64)
	writerDone := make(chan struct{})
	go func() {
		defer close(writerDone)
		if err := writeWithHeartbeat(conn, send); err != nil {
			log.Warn("oracle client write failed", "error", err)
		}
	}()

	var wg sync.WaitGroup
	inFlight := make(chan struct{}, remoteMaxInFlight)
	for {
		var req evalRequest
		if err := conn.ReadJSON(&req); err != nil {
			if !websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				log.Warn("oracle client read failed", "error", err)
			}
			break
		}

		inFlight <- struct{}{}
		wg.Add(1)
		go func(req evalRequest) {
			defer wg.Done()
			defer func() { <-inFlight }()
			send <- h.evaluate(req)
		}(req)
	}

	wg.Wait()
	close(send)
	<-writerDone
	conn.Close()
	log.Info("oracle client disconnected")
}

func (h *RemoteHandler) evaluate(req evalRequest) evalResponse {
	x, err := convert.BytesToFloat32s(req.X)
	if err != nil {
		return evalResponse{ID: req.ID, Error: err.Error()}
	}
	policy, value, err := h.Evaluator.EvaluatePlanes(x)
	if err != nil {
		return evalResponse{ID: req.ID, Error: err.Error()}
	}
	return evalResponse{ID: req.ID, Policy: policy, Value: value}
}

// writeWithHeartbeat is the single writer of conn. It pings when the
// connection has been idle and returns once send is closed.
func writeWithHeartbeat(conn *websocket.Conn, send <-chan evalResponse) error {
	ticker := time.NewTicker(remotePingInterval)
	defer ticker.Stop()
	lastWrite := time.Now()

	var writeErr error
	for {
		select {
		case resp, ok := <-send:
			if !ok {
				return writeErr
			}
			if writeErr != nil {
				// Keep draining so evaluators never block on a dead peer.
				continue
			}
			if err := conn.WriteJSON(resp); err != nil {
				writeErr = err
				continue
			}
			lastWrite = time.Now()
		case <-ticker.C:
			if writeErr != nil || time.Since(lastWrite) < remotePingInterval {
				continue
			}
			if err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(5*time.Second)); err != nil {
				writeErr = err
				continue
			}
			lastWrite = time.Now()
		}
	}
}

// RemoteClient is a PlaneEvaluator backed by a RemoteHandler. It is safe for
// concurrent use; calls are multiplexed over one connection.
type RemoteClient struct {
	conn *websocket.Conn
	log  *slog.Logger

	writeMu sync.Mutex
	nextID  atomic.Uint64

	mu      sync.Mutex
	pending map[uint64]chan evalResponse
	err     error

	done chan struct{}
}

// DialRemote connects to a RemoteHandler at url (ws:// or wss://).
func DialRemote(url string, handshakeTimeout time.Duration, logger *slog.Logger) (*RemoteClient, error) {
	if logger == nil {
		logger = slog.Default()
	}
	dialer := websocket.Dialer{
		HandshakeTimeout: handshakeTimeout,
		Proxy:            http.ProxyFromEnvironment,
	}
	conn, _, err := dialer.Dial(url, nil)
	if err != nil {
		return nil, fmt.Errorf("dial oracle %s: %w", url, err)
	}

	c := &RemoteClient{
		conn:    conn,
		log:     logger.With("oracle", url),
		pending: make(map[uint64]chan evalResponse),
		done:    make(chan struct{}),
	}
	go c.readLoop()
	return c, nil
}

func (c *RemoteClient) EvaluatePlanes(x []float32) ([]float32, float32, error) {
	id := c.nextID.Add(1)
	respChan := make(chan evalResponse, 1)

	c.mu.Lock()
	if c.err != nil {
		err := c.err
		c.mu.Unlock()
		return nil, 0, err
	}
	c.pending[id] = respChan
	c.mu.Unlock()

	c.writeMu.Lock()
	err := c.conn.WriteJSON(evalRequest{ID: id, X: convert.Float32sToBytes(x, nil)})
	c.writeMu.Unlock()
	if err != nil {
		c.mu.Lock()
		delete(c.pending, id)
		c.mu.Unlock()
		return nil, 0, fmt.Errorf("send to oracle: %w", err)
	}

	resp, ok := <-respChan
	if !ok {
		c.mu.Lock()
		defer c.mu.Unlock()
		return nil, 0, c.err
	}
	if resp.Error != "" {
		return nil, 0, fmt.Errorf("remote oracle: %s", resp.Error)
	}
	return resp.Policy, resp.Value, nil
}

func (c *RemoteClient) readLoop() {
	defer close(c.done)
	for {
		var resp evalResponse
		if err := c.conn.ReadJSON(&resp); err != nil {
			if !errors.Is(err, websocket.ErrCloseSent) && !websocket.IsCloseError(err, websocket.CloseNormalClosure) {
				c.log.Warn("oracle connection lost", "error", err)
			}
			c.fail(fmt.Errorf("oracle connection: %w", err))
			return
		}

		c.mu.Lock()
		ch, ok := c.pending[resp.ID]
		delete(c.pending, resp.ID)
		c.mu.Unlock()
		if ok {
			ch <- resp
		}
	}
}

// fail closes every pending call with err; later calls get it immediately.
func (c *RemoteClient) fail(err error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.err == nil {
		c.err = err
	}
	for id, ch := range c.pending {
		close(ch)
		delete(c.pending, id)
	}
}

// Close sends a close frame and waits for the read loop to exit.
func (c *RemoteClient) Close() error {
	c.fail(ErrClosed)

	c.writeMu.Lock()
	err := c.conn.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), time.Now().Add(time.Second))
	c.writeMu.Unlock()

	select {
	case <-c.done:
	case <-time.After(2 * time.Second):
	}
	if cerr := c.conn.Close(); err == nil {
		err = cerr
	}
	if errors.Is(err, websocket.ErrCloseSent) {
		return nil
	}
	return err
}
