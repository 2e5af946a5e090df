package http

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"time"

	"live-quiz-service/internal/app"
	"live-quiz-service/internal/domain"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxMessageSize = 4096
	sendBuffer     = 32
)

type inboundMessage struct {
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload"`
}

type outboundMessage[T any] struct {
	Type    string `json:"type"`
	Payload T      `json:"payload"`
}

type errorPayload struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

type cuePayload struct {
	Sound string `json:"sound"`
}

type speakPayload struct {
	Text string `json:"text,omitempty"`
	Stop bool   `json:"stop,omitempty"`
}

var errorCodes = []struct {
	err  error
	code string
}{
	{domain.ErrGameNotFound, "game_not_found"},
	{domain.ErrNotHost, "not_host"},
	{domain.ErrNoSession, "no_session"},
	{domain.ErrIdentityUnavailable, "identity_unavailable"},
	{domain.ErrNotRegistered, "not_registered"},
	{domain.ErrInvalidNickname, "invalid_nickname"},
	{domain.ErrUnknownAvatar, "unknown_avatar"},
	{domain.ErrUnknownTeam, "unknown_team"},
	{domain.ErrUnknownEmoji, "unknown_emoji"},
	{domain.ErrAnswerNotAllowed, "answer_not_allowed"},
	{domain.ErrAlreadyAnswered, "already_answered"},
	{domain.ErrChoiceNotFound, "choice_not_found"},
	{domain.ErrNotInLobby, "not_in_lobby"},
	{domain.ErrNotInQuiz, "not_in_quiz"},
	{domain.ErrNotRevealed, "not_revealed"},
	{domain.ErrQuestionOutOfRange, "question_out_of_range"},
	{domain.ErrSessionClosed, "session_closed"},
	{errUnsupported, "unsupported"},
	{errBadPayload, "bad_payload"},
}

func errorCode(err error) string {
	for _, e := range errorCodes {
		if errors.Is(err, e.err) {
			return e.code
		}
	}
	return "internal"
}

// wsConn owns the write side of a websocket. All writes go through one
// goroutine; pending messages are flushed before the socket closes.
type wsConn struct {
	ws  *websocket.Conn
	log *zap.SugaredLogger

	send     chan any
	quit     chan struct{}
	quitOnce sync.Once
	done     chan struct{}
}

var _ app.Cues = (*wsConn)(nil)

func newWSConn(ws *websocket.Conn, log *zap.SugaredLogger) *wsConn {
	c := &wsConn{
		ws:   ws,
		log:  log,
		send: make(chan any, sendBuffer),
		quit: make(chan struct{}),
		done: make(chan struct{}),
	}
	ws.SetReadLimit(maxMessageSize)
	_ = ws.SetReadDeadline(time.Now().Add(pongWait))
	ws.SetPongHandler(func(string) error {
		return ws.SetReadDeadline(time.Now().Add(pongWait))
	})
	go c.writePump()
	return c
}

func (c *wsConn) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.ws.Close()
		close(c.done)
	}()
	for {
		select {
		case msg := <-c.send:
			if !c.write(msg) {
				c.stop()
				return
			}
		case <-ticker.C:
			_ = c.ws.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.ws.WriteMessage(websocket.PingMessage, nil); err != nil {
				c.stop()
				return
			}
		case <-c.quit:
			for {
				select {
				case msg := <-c.send:
					if !c.write(msg) {
						return
					}
				default:
					_ = c.ws.WriteControl(websocket.CloseMessage,
						websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), time.Now().Add(writeWait))
					return
				}
			}
		}
	}
}

func (c *wsConn) write(msg any) bool {
	_ = c.ws.SetWriteDeadline(time.Now().Add(writeWait))
	if err := c.ws.WriteJSON(msg); err != nil {
		c.log.Debugw("ws write failed", "error", err)
		return false
	}
	return true
}

// stop flushes pending messages and closes the socket.
func (c *wsConn) stop() {
	c.quitOnce.Do(func() { close(c.quit) })
}

// wait blocks until the socket is closed.
func (c *wsConn) wait() {
	<-c.done
}

// push queues msg, waiting for room in the buffer.
func (c *wsConn) push(ctx context.Context, msg any) bool {
	select {
	case c.send <- msg:
		return true
	case <-c.quit:
		return false
	case <-ctx.Done():
		return false
	}
}

// offer queues msg unless the buffer is full. Used from session loops,
// which must never block on a slow device.
func (c *wsConn) offer(msg any) {
	select {
	case <-c.quit:
		return
	default:
	}
	select {
	case c.send <- msg:
	default:
		c.log.Warnw("ws send buffer full, dropping message")
	}
}

func (c *wsConn) sendError(ctx context.Context, err error) {
	c.push(ctx, outboundMessage[errorPayload]{
		Type:    "error",
		Payload: errorPayload{Code: errorCode(err), Message: err.Error()},
	})
}

func (c *wsConn) Play(sound string) {
	c.offer(outboundMessage[cuePayload]{Type: "cue", Payload: cuePayload{Sound: sound}})
}

func (c *wsConn) Speak(text string) {
	c.offer(outboundMessage[speakPayload]{Type: "speak", Payload: speakPayload{Text: text}})
}

func (c *wsConn) StopSpeaking() {
	c.offer(outboundMessage[speakPayload]{Type: "speak", Payload: speakPayload{Stop: true}})
}

// forwardViews pushes every view from views to the device until ctx ends.
func forwardViews[T any](ctx context.Context, c *wsConn, views <-chan T) error {
	for {
		select {
		case <-ctx.Done():
			return nil
		case v := <-views:
			if !c.push(ctx, outboundMessage[T]{Type: "view", Payload: v}) {
				return nil
			}
		}
	}
}
