package relay

import (
	"crypto/ed25519"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/agentchat/relay/internal/identity"
	"github.com/agentchat/relay/internal/protocol"
	"github.com/agentchat/relay/internal/ratelimit"
)

const (
	pongWait   = 60 * time.Second // time allowed to read the next pong
	pingPeriod = 30 * time.Second // must be < pongWait
	writeWait  = 10 * time.Second // time allowed to write a frame
	sendBuffer = 256              // per-connection outbound queue
)

type connState int

const (
	statePreAuth connState = iota
	stateChallenged
	stateAdmitted
)

// pendingChallenge is the admission challenge a connection must answer
// before a pubkey identity is accepted.
type pendingChallenge struct {
	id    string
	nonce string
	pub   ed25519.PublicKey
	nick  string
	timer *time.Timer
}

// Conn wraps one WebSocket. All writes go through the send channel into
// writePump; readPump is the only reader. Both pumps exit through close(),
// which runs exactly once.
type Conn struct {
	hub     *Hub
	ws      *websocket.Conn
	send    chan []byte
	done    chan struct{}
	once    sync.Once
	ip      string
	limiter *ratelimit.ConnLimiter
	onClose func()

	mu        sync.Mutex
	state     connState
	agent     *Agent
	challenge *pendingChallenge
}

func newConn(hub *Hub, ws *websocket.Conn, ip string, limiter *ratelimit.ConnLimiter, onClose func()) *Conn {
	return &Conn{
		hub:     hub,
		ws:      ws,
		send:    make(chan []byte, sendBuffer),
		done:    make(chan struct{}),
		ip:      ip,
		limiter: limiter,
		onClose: onClose,
	}
}

// run starts the pumps and blocks until the reader exits.
func (c *Conn) run() {
	go c.writePump()
	c.readPump()
}

// enqueue queues an encoded frame without blocking; a full queue drops it.
func (c *Conn) enqueue(data []byte) bool {
	if data == nil {
		return false
	}
	select {
	case c.send <- data:
		return true
	default:
		slog.Warn("send buffer full, dropping frame", "remote", c.ip)
		return false
	}
}

func (c *Conn) sendFrame(v any) bool {
	return c.enqueue(protocol.Encode(v))
}

// sendError surfaces a categorised error, closing the socket when fatal.
func (c *Conn) sendError(perr *protocol.Error) {
	c.sendFrame(&protocol.ErrorFrame{
		Type:    protocol.TypeError,
		Code:    perr.Code,
		Message: perr.Message,
	})
	if perr.Fatal() {
		c.closeWithPolicy(perr.Message)
	}
}

// closeWithPolicy writes a policy-violation close frame and tears down.
func (c *Conn) closeWithPolicy(reason string) {
	c.closeWithCode(websocket.ClosePolicyViolation, reason)
}

func (c *Conn) closeWithCode(code int, reason string) {
	deadline := time.Now().Add(writeWait)
	msg := websocket.FormatCloseMessage(code, reason)
	_ = c.ws.WriteControl(websocket.CloseMessage, msg, deadline)
	c.close()
}

// displace tells a connection its identity verified elsewhere, then closes
// it. The successor already owns the Agent, so teardown skips world state.
func (c *Conn) displace() {
	c.sendFrame(&protocol.SessionDisplaced{Type: protocol.TypeSessionDisplaced})
	// Give the frame a moment to flush before the close frame.
	time.AfterFunc(50*time.Millisecond, func() {
		c.closeWithPolicy("session displaced")
	})
}

func (c *Conn) close() {
	c.once.Do(func() {
		close(c.done)

		c.mu.Lock()
		agent := c.agent
		if c.challenge != nil {
			c.challenge.timer.Stop()
			c.challenge = nil
		}
		c.mu.Unlock()

		c.ws.Close()
		c.hub.HandleDisconnect(c, agent)
		if c.onClose != nil {
			c.onClose()
		}
	})
}

// writePump owns all writes: queued frames, keepalive pings, the close
// frame when the queue shuts.
func (c *Conn) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.close()
	}()

	for {
		select {
		case data, ok := <-c.send:
			c.ws.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				c.ws.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.ws.WriteMessage(websocket.TextMessage, data); err != nil {
				return
			}
			// Drain whatever queued behind the first frame.
			n := len(c.send)
			for i := 0; i < n; i++ {
				if err := c.ws.WriteMessage(websocket.TextMessage, <-c.send); err != nil {
					return
				}
			}

		case <-ticker.C:
			c.ws.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.ws.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}

		case <-c.done:
			return
		}
	}
}

// readPump owns all reads. Frames over the configured limit terminate the
// connection via the websocket read limit.
func (c *Conn) readPump() {
	defer c.close()

	c.ws.SetReadLimit(int64(c.hub.cfg.Limits.FrameMaxBytes))
	c.ws.SetReadDeadline(time.Now().Add(pongWait))
	c.ws.SetPongHandler(func(string) error {
		c.ws.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		_, frame, err := c.ws.ReadMessage()
		if err != nil {
			if errors.Is(err, websocket.ErrReadLimit) {
				slog.Warn("oversize frame, closing", "remote", c.ip)
			} else if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				slog.Debug("read failed", "remote", c.ip, "error", err)
			}
			return
		}
		if !c.handleFrame(frame) {
			return
		}
	}
}

// handleFrame decodes, rate-checks, and dispatches one frame. Returns
// false when the connection must stop reading.
func (c *Conn) handleFrame(frame []byte) bool {
	in, err := protocol.DecodeInbound(frame, c.hub.cfg.Limits.FrameMaxBytes)
	msgType := ""
	if in != nil {
		msgType = in.Type
	}

	// Every frame, valid or not, spends rate budget.
	switch c.limiter.Check(msgType, time.Now()) {
	case ratelimit.Close:
		slog.Warn("pre-admission flood", "remote", c.ip)
		c.hub.metrics.RateLimited.Inc()
		c.closeWithPolicy("rate limit exceeded")
		return false
	case ratelimit.Reject:
		c.hub.metrics.RateLimited.Inc()
		c.sendError(protocol.RateLimited("message budget exceeded"))
		return true
	}

	if err != nil {
		var perr *protocol.Error
		if errors.As(err, &perr) {
			c.sendError(perr)
			return !perr.Fatal()
		}
		// Malformed JSON: dropped silently.
		slog.Debug("malformed frame dropped", "remote", c.ip)
		return true
	}

	c.hub.metrics.MessagesTotal.WithLabelValues(in.Type).Inc()
	if perr := c.dispatch(in); perr != nil {
		c.sendError(perr)
		return !perr.Fatal()
	}
	return true
}

// ============================================================================
// ADMISSION STATE MACHINE
// ============================================================================

func (c *Conn) currentAgent() *Agent {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.agent
}

// handleIdentify is transition 1 and 2: ephemeral admission, or the start
// of the challenge-response path.
func (c *Conn) handleIdentify(in *protocol.Inbound) *protocol.Error {
	c.mu.Lock()
	if c.state != statePreAuth {
		c.mu.Unlock()
		return protocol.InvalidMsg("already identified")
	}
	c.mu.Unlock()

	payload, perr := protocol.Decode[protocol.Identify](in)
	if perr != nil {
		return perr
	}
	if payload.Nick != "" && !protocol.ValidNick(payload.Nick) {
		return protocol.InvalidMsg("nick must be 1-24 chars of [A-Za-z0-9_-]")
	}

	if payload.PubKey == "" {
		agent, aerr := c.hub.AdmitEphemeral(c, payload.Nick)
		if aerr != nil {
			return aerr
		}
		c.mu.Lock()
		c.state = stateAdmitted
		c.agent = agent
		c.mu.Unlock()
		c.limiter.Admit()

		c.sendFrame(&protocol.Welcome{
			Type:     protocol.TypeWelcome,
			AgentID:  agent.ID,
			Verified: false,
			Nick:     agent.Nick(),
		})
		return nil
	}

	pub, err := identity.ParsePublicKeyHex(payload.PubKey)
	if err != nil {
		return protocol.InvalidMsg("pubkey must be 32 bytes of hex")
	}
	if !c.hub.Allowed(payload.PubKey) {
		return protocol.Unauthorized(protocol.CodeNotInvited, "pubkey not on the allowlist").AsFatal()
	}

	nonce, nerr := identity.GenerateNonce()
	if nerr != nil {
		return protocol.Errf(protocol.KindResourceExhausted,
			protocol.CodeInvalidMsg, "cannot mint challenge nonce")
	}
	challenge := &pendingChallenge{
		id:    uuid.New().String(),
		nonce: nonce,
		pub:   pub,
		nick:  payload.Nick,
	}
	ttl := c.hub.cfg.ChallengeTTL()
	challenge.timer = time.AfterFunc(ttl, func() {
		c.expireChallenge(challenge.id)
	})

	c.mu.Lock()
	c.state = stateChallenged
	c.challenge = challenge
	c.mu.Unlock()

	c.sendFrame(&protocol.Challenge{
		Type:        protocol.TypeChallenge,
		Nonce:       challenge.nonce,
		ChallengeID: challenge.id,
		ExpiresAt:   time.Now().Add(ttl).UnixMilli(),
	})
	return nil
}

// handleVerify is transition 3: signature over the canonical auth string.
// Failure keeps the challenge open for retry until it expires.
func (c *Conn) handleVerify(in *protocol.Inbound) *protocol.Error {
	payload, perr := protocol.Decode[protocol.VerifyIdentity](in, "challenge_id", "signature", "timestamp")
	if perr != nil {
		return perr
	}

	c.mu.Lock()
	challenge := c.challenge
	if c.state != stateChallenged || challenge == nil || challenge.id != payload.ChallengeID {
		c.mu.Unlock()
		return protocol.InvalidMsg("no matching challenge")
	}
	c.mu.Unlock()

	canonical := identity.AuthChallengeString(challenge.nonce, challenge.id, payload.Timestamp)
	if !identity.Verify(challenge.pub, canonical, payload.Signature) {
		c.sendFrame(&protocol.VerificationFailed{
			Type:   protocol.TypeVerificationFailed,
			Reason: "signature verification failed",
		})
		return nil
	}

	agent, aerr := c.hub.AdmitVerified(c, challenge.pub, challenge.nick)
	if aerr != nil {
		return aerr
	}

	challenge.timer.Stop()
	c.mu.Lock()
	c.state = stateAdmitted
	c.agent = agent
	c.challenge = nil
	c.mu.Unlock()
	c.limiter.Admit()

	c.sendFrame(&protocol.Welcome{
		Type:     protocol.TypeWelcome,
		AgentID:  agent.ID,
		Verified: true,
		Nick:     agent.Nick(),
	})
	return nil
}

// expireChallenge is transition 4: the challenge lapsed unanswered.
func (c *Conn) expireChallenge(challengeID string) {
	c.mu.Lock()
	if c.state != stateChallenged || c.challenge == nil || c.challenge.id != challengeID {
		c.mu.Unlock()
		return
	}
	c.challenge = nil
	c.mu.Unlock()

	c.sendFrame(&protocol.VerificationExpired{Type: protocol.TypeVerificationExpired})
	// Let the frame flush before closing.
	time.AfterFunc(50*time.Millisecond, func() {
		c.closeWithPolicy("challenge expired")
	})
}
