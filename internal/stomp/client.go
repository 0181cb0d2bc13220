package stomp

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/openmall/realtime/internal/transport"
)

const writeTimeout = 10 * time.Second

// MessageHandler receives MESSAGE frames for one subscription. Handlers run
// on the read loop goroutine, so frames for a topic are delivered in the
// order the transport produced them.
type MessageHandler func(frame *Frame)

// Callbacks are lifecycle hooks the connection manager installs.
type Callbacks struct {
	// OnConnected fires after the CONNECTED frame, before any MESSAGE.
	OnConnected func(frame *Frame)
	// OnError fires for server ERROR frames.
	OnError func(frame *Frame)
	// OnClose fires exactly once when the read loop stops, with the error
	// that stopped it (nil for a clean local Close).
	OnClose func(err error)
}

type subscription struct {
	id          string
	destination string
	handler     MessageHandler
}

// Client runs the frame protocol over one transport. A Client serves one
// connection; after the transport drops, build a new Client.
type Client struct {
	tr        transport.Transport
	log       *zerolog.Logger
	cb        Callbacks
	heartbeat time.Duration

	writeMu  sync.Mutex
	lastSent time.Time

	mu        sync.Mutex
	connected bool
	subs      map[string]*subscription
	byDest    map[string]string

	cancel    context.CancelFunc
	closeOnce sync.Once
}

// NewClient wraps a dialed transport. heartbeat is the client's desired
// heart-beat interval for both directions; 0 disables heart-beats.
func NewClient(tr transport.Transport, logger *zerolog.Logger, heartbeat time.Duration, cb Callbacks) *Client {
	return &Client{
		tr:        tr,
		log:       logger,
		cb:        cb,
		heartbeat: heartbeat,
		subs:      make(map[string]*subscription),
		byDest:    make(map[string]string),
	}
}

// Connect performs the CONNECT/CONNECTED handshake, then starts the read
// loop. The extra headers carry the auth token when one is available.
func (c *Client) Connect(ctx context.Context, headers map[string]string) error {
	beatMillis := int(c.heartbeat / time.Millisecond)

	frame := NewFrame(CmdConnect)
	frame.Headers[HdrAcceptVersion] = "1.2"
	frame.Headers[HdrHeartBeat] = fmt.Sprintf("%d,%d", beatMillis, beatMillis)
	for name, value := range headers {
		frame.Headers[name] = value
	}

	if err := c.write(ctx, frame.Marshal()); err != nil {
		return fmt.Errorf("send connect: %w", err)
	}

	reply, err := c.readFrame(ctx)
	if err != nil {
		return fmt.Errorf("await connected: %w", err)
	}
	switch reply.Command {
	case CmdConnected:
	case CmdError:
		return fmt.Errorf("server rejected connect: %s", reply.Header(HdrMessage))
	default:
		return fmt.Errorf("unexpected %s frame during handshake", reply.Command)
	}

	serverSend, serverRecv := ParseHeartBeatValues(reply.Header(HdrHeartBeat))
	sendEvery := negotiateInterval(beatMillis, serverRecv)
	expectEvery := negotiateInterval(beatMillis, serverSend)

	loopCtx, cancel := context.WithCancel(context.Background())

	c.mu.Lock()
	c.connected = true
	c.cancel = cancel
	c.mu.Unlock()

	if c.cb.OnConnected != nil {
		c.cb.OnConnected(reply)
	}

	go c.readLoop(loopCtx)
	if sendEvery > 0 {
		go c.heartbeatLoop(loopCtx, sendEvery)
	}
	c.log.Debug().
		Str("transport", c.tr.Name()).
		Dur("send_beat", sendEvery).
		Dur("expect_beat", expectEvery).
		Msg("stomp connected")
	return nil
}

// Subscribe registers a handler for a destination and returns the
// subscription handle. Returns false when not connected or the SUBSCRIBE
// frame cannot be sent; callers must check.
func (c *Client) Subscribe(destination string, handler MessageHandler) (string, bool) {
	if !c.Connected() {
		return "", false
	}

	sub := &subscription{
		id:          uuid.NewString(),
		destination: destination,
		handler:     handler,
	}

	// Register before the frame goes out: the server may flush pending
	// messages the instant the subscription lands, and those must route.
	c.mu.Lock()
	c.subs[sub.id] = sub
	c.byDest[destination] = sub.id
	c.mu.Unlock()

	frame := NewFrame(CmdSubscribe)
	frame.Headers[HdrID] = sub.id
	frame.Headers[HdrDestination] = destination
	if err := c.write(context.Background(), frame.Marshal()); err != nil {
		c.mu.Lock()
		delete(c.subs, sub.id)
		delete(c.byDest, destination)
		c.mu.Unlock()
		c.log.Warn().Err(err).Str("destination", destination).Msg("subscribe failed")
		return "", false
	}
	return sub.id, true
}

// Unsubscribe removes a subscription by handle. Unknown handles are a no-op.
func (c *Client) Unsubscribe(id string) {
	c.mu.Lock()
	sub, ok := c.subs[id]
	if ok {
		delete(c.subs, id)
		delete(c.byDest, sub.destination)
	}
	connected := c.connected
	c.mu.Unlock()
	if !ok || !connected {
		return
	}

	frame := NewFrame(CmdUnsubscribe)
	frame.Headers[HdrID] = id
	if err := c.write(context.Background(), frame.Marshal()); err != nil {
		c.log.Warn().Err(err).Str("id", id).Msg("unsubscribe failed")
	}
}

// Publish sends a SEND frame. It returns false instead of an error when the
// client is not connected or the write fails, matching the contract that a
// publish while disconnected fails fast and silently.
func (c *Client) Publish(destination string, body []byte) bool {
	if !c.Connected() {
		return false
	}

	frame := NewFrame(CmdSend)
	frame.Headers[HdrDestination] = destination
	frame.Headers[HdrContentType] = "application/json"
	frame.Body = body
	if err := c.write(context.Background(), frame.Marshal()); err != nil {
		c.log.Warn().Err(err).Str("destination", destination).Msg("publish failed")
		return false
	}
	return true
}

// Connected reports whether the handshake completed and the read loop runs.
func (c *Client) Connected() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.connected
}

// Close tears the connection down. Safe to call more than once.
func (c *Client) Close() {
	c.teardown(nil)
}

func (c *Client) readLoop(ctx context.Context) {
	for {
		raw, err := c.tr.ReadMessage(ctx)
		if err != nil {
			if ctx.Err() == nil {
				c.teardown(err)
			}
			return
		}

		frame, err := Parse(raw)
		if err != nil {
			// A malformed frame is a protocol error: log, keep the
			// connection, drop the frame.
			c.log.Warn().Err(err).Msg("dropping malformed frame")
			continue
		}
		if frame == nil {
			continue // server heart-beat
		}

		switch frame.Command {
		case CmdMessage:
			c.routeMessage(frame)
		case CmdError:
			c.log.Error().Str("message", frame.Header(HdrMessage)).Msg("server error frame")
			if c.cb.OnError != nil {
				c.cb.OnError(frame)
			}
		default:
			c.log.Warn().Str("command", frame.Command).Msg("unexpected frame")
		}
	}
}

func (c *Client) routeMessage(frame *Frame) {
	c.mu.Lock()
	sub := c.subs[frame.Header(HdrSubscription)]
	if sub == nil {
		if id, ok := c.byDest[frame.Header(HdrDestination)]; ok {
			sub = c.subs[id]
		}
	}
	c.mu.Unlock()

	if sub == nil {
		c.log.Debug().Str("destination", frame.Header(HdrDestination)).Msg("message for unknown subscription")
		return
	}
	sub.handler(frame)
}

func (c *Client) heartbeatLoop(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			c.writeMu.Lock()
			idle := time.Since(c.lastSent) >= interval
			c.writeMu.Unlock()
			if !idle {
				continue
			}
			if err := c.write(ctx, HeartBeat()); err != nil {
				return
			}
		}
	}
}

func (c *Client) readFrame(ctx context.Context) (*Frame, error) {
	for {
		raw, err := c.tr.ReadMessage(ctx)
		if err != nil {
			return nil, err
		}
		frame, err := Parse(raw)
		if err != nil {
			return nil, err
		}
		if frame != nil {
			return frame, nil
		}
	}
}

func (c *Client) write(ctx context.Context, data []byte) error {
	writeCtx, cancel := context.WithTimeout(ctx, writeTimeout)
	defer cancel()

	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	if err := c.tr.WriteMessage(writeCtx, data); err != nil {
		return err
	}
	c.lastSent = time.Now()
	return nil
}

func (c *Client) teardown(err error) {
	c.closeOnce.Do(func() {
		c.mu.Lock()
		c.connected = false
		if c.cancel != nil {
			c.cancel()
		}
		c.mu.Unlock()

		if closeErr := c.tr.Close(); closeErr != nil {
			c.log.Debug().Err(closeErr).Msg("transport close")
		}
		if c.cb.OnClose != nil {
			c.cb.OnClose(err)
		}
	})
}

// negotiateInterval applies the STOMP heart-beat rule: 0 on either side
// disables the direction, otherwise the larger of the two values wins.
func negotiateInterval(ours, theirs int) time.Duration {
	if ours == 0 || theirs == 0 {
		return 0
	}
	if theirs > ours {
		ours = theirs
	}
	return time.Duration(ours) * time.Millisecond
}
