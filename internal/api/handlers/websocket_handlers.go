package handlers

import (
	"context"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	jsoniter "github.com/json-iterator/go"
	log "github.com/sirupsen/logrus"

	"aws-face-recognition-go/internal/core/state"
	"aws-face-recognition-go/internal/server/sse"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// Websocket-Befehle
const (
	CommandGetLastResult    = "aws_face_recognition/get_last_result"
	CommandGetIndex         = "aws_face_recognition/get_index"
	CommandSubscribeUpdates = "aws_face_recognition/subscribe_updates"
	CommandGetFacesIndex    = "aws_face_recognition/get_faces_index"
	CommandSubscribeFaces   = "aws_face_recognition/subscribe_faces"
	CommandUnsubscribe      = "unsubscribe_events"
)

const (
	wsWriteWait    = 10 * time.Second
	wsPongWait     = 60 * time.Second
	wsPingInterval = 50 * time.Second
	wsMaxMessage   = 64 << 10
	wsQueue        = 64
)

type wsCommand struct {
	ID           int    `json:"id"`
	Type         string `json:"type"`
	Limit        *int   `json:"limit,omitempty"`
	Subscription int    `json:"subscription,omitempty"`
}

type wsError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

type wsMessage struct {
	ID      int      `json:"id"`
	Type    string   `json:"type"`
	Success *bool    `json:"success,omitempty"`
	Result  any      `json:"result,omitempty"`
	Event   any      `json:"event,omitempty"`
	Error   *wsError `json:"error,omitempty"`
}

func resultMessage(id int, result any) wsMessage {
	ok := true
	return wsMessage{ID: id, Type: "result", Success: &ok, Result: result}
}

func errorMessage(id int, code, message string) wsMessage {
	ok := false
	return wsMessage{ID: id, Type: "result", Success: &ok, Error: &wsError{Code: code, Message: message}}
}

// wsSession ist eine Websocket-Verbindung mit ihren Abonnements
type wsSession struct {
	h    *APIHandler
	conn *websocket.Conn
	out  chan wsMessage
	done chan struct{}
	once sync.Once

	mu   sync.Mutex
	subs map[int]func()
}

// Websocket öffnet eine Befehlsverbindung nach dem Home-Assistant-Schema
func (h *APIHandler) Websocket(c *gin.Context) {
	conn, err := h.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		log.WithError(err).Warn("Websocket upgrade failed")
		return
	}
	s := &wsSession{
		h:    h,
		conn: conn,
		out:  make(chan wsMessage, wsQueue),
		done: make(chan struct{}),
		subs: make(map[int]func()),
	}
	log.Debugf("Websocket client connected from %s", c.ClientIP())
	go s.writeLoop()
	s.readLoop(c.Request.Context())
	s.close()
	log.Debugf("Websocket client %s disconnected", c.ClientIP())
}

func (s *wsSession) readLoop(ctx context.Context) {
	s.conn.SetReadLimit(wsMaxMessage)
	_ = s.conn.SetReadDeadline(time.Now().Add(wsPongWait))
	s.conn.SetPongHandler(func(string) error {
		return s.conn.SetReadDeadline(time.Now().Add(wsPongWait))
	})
	for {
		_, data, err := s.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				log.WithError(err).Debug("Websocket read failed")
			}
			return
		}
		_ = s.conn.SetReadDeadline(time.Now().Add(wsPongWait))
		var cmd wsCommand
		if err := json.Unmarshal(data, &cmd); err != nil {
			s.send(errorMessage(0, "invalid_format", "message is not valid JSON"))
			continue
		}
		s.handle(ctx, cmd)
	}
}

func (s *wsSession) handle(ctx context.Context, cmd wsCommand) {
	deps := s.h.deps
	switch cmd.Type {
	case CommandGetLastResult:
		last, err := deps.State.LastResult(ctx)
		s.reply(cmd.ID, last, err)
	case CommandGetIndex:
		limit := state.DefaultIndexLimit
		if cmd.Limit != nil {
			limit = *cmd.Limit
		}
		idx, err := deps.State.Index(ctx, limit)
		s.reply(cmd.ID, idx, err)
	case CommandGetFacesIndex:
		faces, err := deps.State.FacesIndex(ctx)
		s.reply(cmd.ID, faces, err)
	case CommandSubscribeUpdates:
		s.subscribe(cmd.ID, sse.EventRecognitionUpdated)
	case CommandSubscribeFaces:
		s.subscribe(cmd.ID, sse.EventFacesUpdated)
	case CommandUnsubscribe:
		if !s.unsubscribe(cmd.Subscription) {
			s.send(errorMessage(cmd.ID, "not_found", "subscription not found"))
			return
		}
		s.send(resultMessage(cmd.ID, nil))
	default:
		s.send(errorMessage(cmd.ID, "unknown_command", "unknown command: "+cmd.Type))
	}
}

func (s *wsSession) reply(id int, result any, err error) {
	if err != nil {
		s.send(errorMessage(id, "unavailable", err.Error()))
		return
	}
	s.send(resultMessage(id, result))
}

// subscribe leitet Ereignisse eines Typs unter der Befehls-ID weiter
func (s *wsSession) subscribe(id int, eventType string) {
	s.mu.Lock()
	if _, exists := s.subs[id]; exists {
		s.mu.Unlock()
		s.send(errorMessage(id, "id_reuse", "subscription id already in use"))
		return
	}
	client, unsubscribe := s.h.deps.Events.Subscribe(16)
	s.subs[id] = unsubscribe
	s.mu.Unlock()

	go func() {
		for evt := range client {
			if evt.Type != eventType {
				continue
			}
			s.send(wsMessage{ID: id, Type: "event", Event: evt.Data})
		}
	}()
	s.send(resultMessage(id, map[string]bool{"subscribed": true}))
}

func (s *wsSession) unsubscribe(id int) bool {
	s.mu.Lock()
	unsubscribe, ok := s.subs[id]
	delete(s.subs, id)
	s.mu.Unlock()
	if ok {
		unsubscribe()
	}
	return ok
}

func (s *wsSession) send(msg wsMessage) {
	select {
	case s.out <- msg:
	case <-s.done:
	}
}

func (s *wsSession) writeLoop() {
	ping := time.NewTicker(wsPingInterval)
	defer ping.Stop()
	for {
		select {
		case <-s.done:
			return
		case msg := <-s.out:
			data, err := json.Marshal(msg)
			if err != nil {
				log.WithError(err).Warn("Failed to encode websocket message")
				continue
			}
			_ = s.conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
			if err := s.conn.WriteMessage(websocket.TextMessage, data); err != nil {
				log.WithError(err).Debug("Websocket write failed")
				s.close()
				return
			}
		case <-ping.C:
			_ = s.conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
			if err := s.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				s.close()
				return
			}
		}
	}
}

// close beendet alle Abonnements und die Verbindung
func (s *wsSession) close() {
	s.once.Do(func() {
		close(s.done)
		s.mu.Lock()
		subs := s.subs
		s.subs = map[int]func(){}
		s.mu.Unlock()
		for _, unsubscribe := range subs {
			unsubscribe()
		}
		_ = s.conn.Close()
	})
}
