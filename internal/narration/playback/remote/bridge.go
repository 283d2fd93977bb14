package remote

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"audiodesc/internal/domain/cue"
	"audiodesc/internal/narration/playback"
	"audiodesc/internal/narration/session"

	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"
)

const (
	helloTimeout = 10 * time.Second
	readTimeout  = 120 * time.Second
	writeTimeout = 5 * time.Second
)

// Attacher turns a connected player into a running session.
type Attacher interface {
	Attach(ctx context.Context, p playback.Player, track *cue.Track, attrs session.Attributes) (*session.Session, error)
	Detach(id string)
	Toggle(ctx context.Context, id string) (bool, error)
}

// Bridge is the WebSocket endpoint pages connect to.
type Bridge struct {
	attacher Attacher
	upgrader websocket.Upgrader
	log      *logrus.Entry
}

// NewBridge accepts connections from the given origins. An empty list
// accepts any origin.
func NewBridge(attacher Attacher, allowedOrigins []string) *Bridge {
	allowed := make(map[string]bool, len(allowedOrigins))
	for _, o := range allowedOrigins {
		allowed[strings.TrimRight(strings.ToLower(o), "/")] = true
	}

	b := &Bridge{
		attacher: attacher,
		log:      logrus.WithField("component", "bridge"),
	}
	b.upgrader = websocket.Upgrader{
		ReadBufferSize:  4096,
		WriteBufferSize: 1024,
		CheckOrigin: func(r *http.Request) bool {
			origin := r.Header.Get("Origin")
			if len(allowed) == 0 || origin == "" {
				return true
			}
			if u, err := url.Parse(origin); err == nil {
				origin = u.Scheme + "://" + u.Host
			}
			return allowed[strings.ToLower(origin)]
		},
	}
	return b
}

func (b *Bridge) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := b.upgrader.Upgrade(w, r, nil)
	if err != nil {
		b.log.WithError(err).Warn("websocket upgrade failed")
		return
	}
	b.handleConnection(r.Context(), conn)
}

// connection serializes writes; gorilla allows one concurrent writer.
type connection struct {
	conn *websocket.Conn
	mu   sync.Mutex
}

func (c *connection) send(msgType string, payload interface{}) error {
	msg, err := encode(msgType, payload)
	if err != nil {
		return fmt.Errorf("encode %s: %w", msgType, err)
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	c.conn.SetWriteDeadline(time.Now().Add(writeTimeout))
	if err := c.conn.WriteJSON(msg); err != nil {
		return fmt.Errorf("send %s: %w", msgType, err)
	}
	return nil
}

func (c *connection) sendError(code, message string) {
	c.send(TypeError, ErrorPayload{Code: code, Message: message})
}

func (b *Bridge) handleConnection(ctx context.Context, ws *websocket.Conn) {
	defer ws.Close()
	conn := &connection{conn: ws}
	log := b.log.WithField("remote", ws.RemoteAddr().String())

	hello, err := readHello(ws)
	if err != nil {
		log.WithError(err).Warn("rejected player connection")
		conn.sendError("invalid_hello", err.Error())
		return
	}

	kind, err := playback.ParseKind(hello.Kind)
	if err != nil {
		conn.sendError("invalid_hello", err.Error())
		return
	}

	player := newPlayer(hello.ID, kind, conn.send)
	defer player.close()
	if hello.State != nil {
		player.report(*hello.State)
	}

	sess, err := b.attacher.Attach(ctx, player, cue.NewTrack(hello.Cues), hello.Attributes)
	if err != nil {
		log.WithError(err).Warn("failed to attach player")
		conn.sendError("attach_failed", err.Error())
		return
	}
	defer b.attacher.Detach(sess.ID())

	log = log.WithFields(logrus.Fields{"session": sess.ID(), "player": hello.ID, "kind": kind})
	log.WithField("cues", len(hello.Cues)).Info("player connected")
	conn.send(TypeStatus, sess.Status())

	ws.SetReadDeadline(time.Now().Add(readTimeout))
	ws.SetPongHandler(func(string) error {
		ws.SetReadDeadline(time.Now().Add(readTimeout))
		return nil
	})

	for {
		var msg Message
		if err := ws.ReadJSON(&msg); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				log.WithError(err).Warn("player connection lost")
			} else {
				log.Info("player disconnected")
			}
			return
		}
		ws.SetReadDeadline(time.Now().Add(readTimeout))

		switch msg.Type {
		case TypeState:
			var state State
			if err := json.Unmarshal(msg.Payload, &state); err != nil {
				conn.sendError("invalid_payload", "invalid state payload")
				continue
			}
			player.report(state)

		case TypeCue:
			var c cue.Cue
			if err := json.Unmarshal(msg.Payload, &c); err != nil {
				conn.sendError("invalid_payload", "invalid cue payload")
				continue
			}
			player.notify(c)

		case TypeToggle:
			if _, err := b.attacher.Toggle(ctx, sess.ID()); err != nil {
				log.WithError(err).Warn("toggle failed")
				conn.sendError("toggle_failed", err.Error())
				continue
			}
			conn.send(TypeStatus, sess.Status())

		case TypePing:
			conn.send(TypePong, nil)

		default:
			conn.sendError("unknown_type", "unknown message type: "+msg.Type)
		}
	}
}

func readHello(ws *websocket.Conn) (Hello, error) {
	ws.SetReadDeadline(time.Now().Add(helloTimeout))

	var msg Message
	if err := ws.ReadJSON(&msg); err != nil {
		return Hello{}, fmt.Errorf("read hello: %w", err)
	}
	if msg.Type != TypeHello {
		return Hello{}, fmt.Errorf("expected %s, got %q", TypeHello, msg.Type)
	}

	var hello Hello
	if err := json.Unmarshal(msg.Payload, &hello); err != nil {
		return Hello{}, fmt.Errorf("parse hello: %w", err)
	}
	if hello.ID == "" {
		return Hello{}, errors.New("hello without player id")
	}
	return hello, nil
}
