package gateway

import (
	"context"
	"encoding/json"
	"log"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"golang.org/x/time/rate"

	"shardgate/pkg/types"
)

// sendBurst is the number of gateway commands that may go out back to back
// before the send limiter throttles writes.
const sendBurst = 5

// newSendLimiter returns the per-connection limiter for outgoing gateway
// commands, 120 per minute minus the burst headroom.
func newSendLimiter() *rate.Limiter {
	const perMinute = 120
	return rate.NewLimiter(rate.Every(time.Minute/(perMinute-sendBurst)), sendBurst)
}

// ConnConfig carries everything needed to establish one gateway session.
type ConnConfig struct {
	URL              string
	Token            string
	Info             types.ShardInfo
	HandshakeTimeout time.Duration

	// Resume holds prior session state for a resume handshake; nil means
	// a fresh identify.
	Resume *types.SessionState

	// OnDisconnect is invoked once when the connection drops for any
	// reason other than a local Close.
	OnDisconnect func(err error)
}

// Conn is one websocket gateway session belonging to a single shard. It owns
// the read loop and the heartbeat loop; writes are serialized through a
// mutex and paced by the send limiter.
type Conn struct {
	cfg     ConnConfig
	ws      *websocket.Conn
	limiter *rate.Limiter

	writeMu sync.Mutex // serializes websocket writes

	mu         sync.RWMutex
	sessionID  string
	resumeURL  string
	seq        int64
	lastEvent  time.Time
	eventCount int64
	closed     bool

	ctx       context.Context
	cancel    context.CancelFunc
	closeOnce sync.Once
}

// Dial establishes a gateway session: websocket dial, hello, then identify
// or resume. The connection's read and heartbeat loops are running when Dial
// returns; the READY dispatch is consumed asynchronously by the read loop.
func Dial(ctx context.Context, cfg ConnConfig) (*Conn, error) {
	url := cfg.URL
	if cfg.Resume != nil && cfg.Resume.ResumeURL != "" {
		url = cfg.Resume.ResumeURL
	}

	dialer := websocket.Dialer{HandshakeTimeout: cfg.HandshakeTimeout}
	ws, _, err := dialer.DialContext(ctx, url, nil)
	if err != nil {
		return nil, err
	}

	connCtx, cancel := context.WithCancel(context.Background())
	c := &Conn{
		cfg:       cfg,
		ws:        ws,
		limiter:   newSendLimiter(),
		lastEvent: time.Now(),
		ctx:       connCtx,
		cancel:    cancel,
	}
	if cfg.Resume != nil {
		c.sessionID = cfg.Resume.SessionID
		c.resumeURL = cfg.Resume.ResumeURL
		c.seq = cfg.Resume.Sequence
	}

	// The server speaks first: wait for hello to learn the heartbeat
	// cadence before sending anything.
	hello, err := c.readHello()
	if err != nil {
		_ = ws.Close()
		cancel()
		return nil, err
	}

	if err := c.sendOpening(); err != nil {
		_ = ws.Close()
		cancel()
		return nil, err
	}

	go c.readLoop()
	go c.heartbeatLoop(time.Duration(hello.HeartbeatInterval) * time.Millisecond)

	return c, nil
}

// readHello reads the opening frame within the handshake timeout.
func (c *Conn) readHello() (*helloData, error) {
	if c.cfg.HandshakeTimeout > 0 {
		if err := c.ws.SetReadDeadline(time.Now().Add(c.cfg.HandshakeTimeout)); err != nil {
			return nil, err
		}
		defer func() { _ = c.ws.SetReadDeadline(time.Time{}) }()
	}

	var p Payload
	if err := c.ws.ReadJSON(&p); err != nil {
		return nil, err
	}
	if p.Op != OpHello {
		log.Printf("Shard %s expected hello, got opcode %d", c.cfg.Info, p.Op)
		return nil, ErrUnexpectedOpcode
	}

	var hello helloData
	if err := json.Unmarshal(p.Data, &hello); err != nil {
		return nil, ErrHandshakeFailed
	}
	if hello.HeartbeatInterval <= 0 {
		return nil, ErrHandshakeFailed
	}
	return &hello, nil
}

// sendOpening sends identify for a fresh session or resume for a prior one.
func (c *Conn) sendOpening() error {
	if c.cfg.Resume != nil {
		log.Printf("Shard %s resuming session %s at seq %d",
			c.cfg.Info, c.cfg.Resume.SessionID, c.cfg.Resume.Sequence)
		return c.send(&Payload{
			Op: OpResume,
			Data: marshalData(resumeData{
				Token:     c.cfg.Token,
				SessionID: c.cfg.Resume.SessionID,
				Seq:       c.cfg.Resume.Sequence,
			}),
		})
	}

	log.Printf("Shard %s identifying", c.cfg.Info)
	return c.send(&Payload{
		Op: OpIdentify,
		Data: marshalData(identifyData{
			Token: c.cfg.Token,
			Shard: [2]int{c.cfg.Info.ShardID, c.cfg.Info.ShardTotal},
			Nonce: uuid.NewString(),
		}),
	})
}

// send writes one frame, paced by the send limiter.
func (c *Conn) send(p *Payload) error {
	if err := c.limiter.Wait(c.ctx); err != nil {
		return ErrConnClosed
	}

	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	if err := c.ws.SetWriteDeadline(time.Now().Add(10 * time.Second)); err != nil {
		return err
	}
	return c.ws.WriteJSON(p)
}

// readLoop consumes frames until the connection drops. Every frame counts as
// liveness for the watchdog.
func (c *Conn) readLoop() {
	for {
		var p Payload
		if err := c.ws.ReadJSON(&p); err != nil {
			c.handleReadError(err)
			return
		}

		c.mu.Lock()
		c.lastEvent = time.Now()
		c.eventCount++
		c.mu.Unlock()

		switch p.Op {
		case OpDispatch:
			c.handleDispatch(&p)
		case OpHeartbeat:
			// Server-requested heartbeat, answer right away.
			if err := c.send(&Payload{Op: OpHeartbeat, Seq: c.Sequence()}); err != nil {
				log.Printf("Shard %s failed to answer heartbeat request: %v", c.cfg.Info, err)
			}
		case OpHeartbeatACK:
			// Liveness already recorded above.
		case OpReconnect:
			log.Printf("Shard %s received reconnect request from the gateway", c.cfg.Info)
			c.dropped(ErrConnClosed)
			return
		default:
			log.Printf("Shard %s ignoring unknown opcode %d", c.cfg.Info, p.Op)
		}
	}
}

func (c *Conn) handleDispatch(p *Payload) {
	c.mu.Lock()
	if p.Seq > c.seq {
		c.seq = p.Seq
	}
	c.mu.Unlock()

	switch p.Type {
	case EventReady:
		var ready readyData
		if err := json.Unmarshal(p.Data, &ready); err != nil {
			log.Printf("Shard %s received malformed ready payload: %v", c.cfg.Info, err)
			return
		}
		c.mu.Lock()
		c.sessionID = ready.SessionID
		c.resumeURL = ready.ResumeURL
		c.mu.Unlock()
		log.Printf("Shard %s ready, session=%s", c.cfg.Info, ready.SessionID)
	case EventResumed:
		log.Printf("Shard %s resumed", c.cfg.Info)
	}
}

func (c *Conn) handleReadError(err error) {
	c.mu.RLock()
	closed := c.closed
	c.mu.RUnlock()
	if closed {
		return // local Close, not a drop
	}
	log.Printf("Shard %s connection lost: %v", c.cfg.Info, err)
	c.dropped(err)
}

// dropped tears the connection down and notifies the owner exactly once.
func (c *Conn) dropped(err error) {
	c.closeOnce.Do(func() {
		c.cancel()
		_ = c.ws.Close()
		if c.cfg.OnDisconnect != nil {
			c.cfg.OnDisconnect(err)
		}
	})
}

// heartbeatLoop sends a heartbeat every interval until the connection ends.
func (c *Conn) heartbeatLoop(interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			if err := c.send(&Payload{Op: OpHeartbeat, Seq: c.Sequence()}); err != nil {
				log.Printf("Shard %s heartbeat failed: %v", c.cfg.Info, err)
				return
			}
		case <-c.ctx.Done():
			return
		}
	}
}

// Session snapshots the resume state of this connection, or nil when no
// session has been established yet.
func (c *Conn) Session() *types.SessionState {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.sessionID == "" {
		return nil
	}
	return &types.SessionState{
		ShardID:   c.cfg.Info.ShardID,
		SessionID: c.sessionID,
		Sequence:  c.seq,
		ResumeURL: c.resumeURL,
		UpdatedAt: time.Now(),
	}
}

// Sequence returns the last dispatch sequence seen.
func (c *Conn) Sequence() int64 {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.seq
}

// LastEvent returns when the last frame arrived.
func (c *Conn) LastEvent() time.Time {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.lastEvent
}

// EventCount returns how many frames this connection has received.
func (c *Conn) EventCount() int64 {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.eventCount
}

// Close shuts the connection down locally without firing OnDisconnect.
func (c *Conn) Close() error {
	c.mu.Lock()
	c.closed = true
	c.mu.Unlock()

	var err error
	c.closeOnce.Do(func() {
		c.cancel()
		err = c.ws.Close()
	})
	return err
}
