package handlers

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"io"
	"time"

	"github.com/coder/websocket"
)

// Terminal frames are tagged JSON envelopes. Raw bytes travel base64
// encoded in "data" frames; "error" and "status" frames carry out-of-band
// text that can never be mistaken for terminal output.
type envelope struct {
	Type      string `json:"type"` // data | resize | error | status
	Data      string `json:"data,omitempty"`
	Message   string `json:"message,omitempty"`
	Status    string `json:"status,omitempty"`
	SessionID string `json:"session_id,omitempty"`
	Cols      uint16 `json:"cols,omitempty"`
	Rows      uint16 `json:"rows,omitempty"`
}

// maxInputMessageSize bounds a single decoded input frame to prevent DoS.
const maxInputMessageSize = 64 * 1024

// Resize bounds; values beyond these are clamped.
const (
	maxResizeCols uint16 = 500
	maxResizeRows uint16 = 500
)

// wsRateLimit is the maximum input frames per second per connection, with
// an equal burst so paste operations are not penalized.
const (
	wsRateLimit = 200
	wsRateBurst = 200
)

// tokenBucket is a simple token bucket rate limiter for terminal frames.
type tokenBucket struct {
	tokens     int
	maxTokens  int
	refillRate int // tokens added per second
	lastRefill time.Time
}

func newTokenBucket(maxTokens, refillRate int) *tokenBucket {
	return &tokenBucket{
		tokens:     maxTokens,
		maxTokens:  maxTokens,
		refillRate: refillRate,
		lastRefill: time.Now(),
	}
}

func (tb *tokenBucket) allow() bool {
	now := time.Now()
	elapsed := now.Sub(tb.lastRefill)
	tb.lastRefill = now

	tb.tokens += int(elapsed.Seconds() * float64(tb.refillRate))
	if tb.tokens > tb.maxTokens {
		tb.tokens = tb.maxTokens
	}

	if tb.tokens <= 0 {
		return false
	}
	tb.tokens--
	return true
}

// wsStream adapts a WebSocket connection to the io.ReadWriteCloser the
// bridge relays over. Reads surface decoded "data" frames; resize frames
// are applied via the callback and never reach the byte stream.
type wsStream struct {
	conn    *websocket.Conn
	ctx     context.Context
	resize  func(cols, rows uint16) error
	limiter *tokenBucket
	buf     []byte
}

func newWSStream(ctx context.Context, conn *websocket.Conn, resize func(cols, rows uint16) error) *wsStream {
	conn.SetReadLimit(1024 * 1024)
	return &wsStream{
		conn:    conn,
		ctx:     ctx,
		resize:  resize,
		limiter: newTokenBucket(wsRateBurst, wsRateLimit),
	}
}

func (s *wsStream) Read(p []byte) (int, error) {
	for len(s.buf) == 0 {
		_, data, err := s.conn.Read(s.ctx)
		if err != nil {
			return 0, io.EOF
		}

		var env envelope
		if err := json.Unmarshal(data, &env); err != nil {
			continue
		}

		switch env.Type {
		case "data":
			if !s.limiter.allow() {
				continue
			}
			raw, err := base64.StdEncoding.DecodeString(env.Data)
			if err != nil || len(raw) == 0 || len(raw) > maxInputMessageSize {
				continue
			}
			s.buf = raw

		case "resize":
			if s.resize == nil || env.Cols == 0 || env.Rows == 0 {
				continue
			}
			cols, rows := env.Cols, env.Rows
			if cols > maxResizeCols {
				cols = maxResizeCols
			}
			if rows > maxResizeRows {
				rows = maxResizeRows
			}
			s.resize(cols, rows)
		}
	}

	n := copy(p, s.buf)
	s.buf = s.buf[n:]
	return n, nil
}

func (s *wsStream) Write(p []byte) (int, error) {
	env := envelope{Type: "data", Data: base64.StdEncoding.EncodeToString(p)}
	data, _ := json.Marshal(env)
	if err := s.conn.Write(s.ctx, websocket.MessageText, data); err != nil {
		return 0, err
	}
	return len(p), nil
}

// Diagnose delivers an out-of-band error frame. Best effort with a short
// deadline so a stuck client cannot block teardown.
func (s *wsStream) Diagnose(msg string) {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	data, _ := json.Marshal(envelope{Type: "error", Message: msg})
	s.conn.Write(ctx, websocket.MessageText, data)
}

// sendStatus writes a status frame outside the relay.
func (s *wsStream) sendStatus(status, sessionID string) error {
	data, _ := json.Marshal(envelope{Type: "status", Status: status, SessionID: sessionID})
	return s.conn.Write(s.ctx, websocket.MessageText, data)
}

func (s *wsStream) Close() error {
	return s.conn.Close(websocket.StatusNormalClosure, "")
}
