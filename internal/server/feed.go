package server

// feed.go — feed websocket de eventos del autopilot.
//
// Hub clásico: un goroutine central serializa registro, baja y broadcast de
// clientes; cada conexión tiene su write pump con buffer propio. Un cliente
// lento no bloquea al resto: si su buffer se llena, se desconecta.

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/gorilla/websocket"

	"github.com/henrytanbeaver/reapbid/internal/domain"
)

const clientBuffer = 16

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	// El feed es de solo lectura y va detrás del token de admin; el origen
	// del navegador no aporta nada aquí.
	CheckOrigin: func(*http.Request) bool { return true },
}

// Feed reparte los eventos del monitor a los clientes websocket conectados.
type Feed struct {
	clients    map[*feedClient]bool
	register   chan *feedClient
	unregister chan *feedClient
	events     chan domain.Event
}

type feedClient struct {
	conn *websocket.Conn
	send chan domain.Event
}

// NewFeed crea el hub. Hay que arrancarlo con Run antes de publicar.
func NewFeed() *Feed {
	return &Feed{
		clients:    make(map[*feedClient]bool),
		register:   make(chan *feedClient),
		unregister: make(chan *feedClient),
		events:     make(chan domain.Event, 64),
	}
}

// Run atiende el hub hasta que el contexto se cancele.
func (f *Feed) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			for client := range f.clients {
				close(client.send)
				delete(f.clients, client)
			}
			return
		case client := <-f.register:
			f.clients[client] = true
		case client := <-f.unregister:
			if _, ok := f.clients[client]; ok {
				delete(f.clients, client)
				close(client.send)
			}
		case ev := <-f.events:
			for client := range f.clients {
				select {
				case client.send <- ev:
				default:
					// Cliente atascado: fuera.
					delete(f.clients, client)
					close(client.send)
				}
			}
		}
	}
}

// Publish encola un evento para broadcast. Nunca bloquea: si el hub va por
// detrás, el evento se descarta (el histórico completo vive en el monitor).
func (f *Feed) Publish(ev domain.Event) {
	select {
	case f.events <- ev:
	default:
		slog.Debug("event feed backlogged, dropping broadcast", "action", ev.Action)
	}
}

// handleStream actualiza la conexión a websocket y la registra en el hub.
func (f *Feed) handleStream(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		slog.Warn("websocket upgrade failed", "err", err)
		return
	}

	client := &feedClient{conn: conn, send: make(chan domain.Event, clientBuffer)}
	f.register <- client

	go client.writePump()
	go client.readPump(f)
}

// writePump envía los eventos encolados hasta que se cierre el canal.
func (c *feedClient) writePump() {
	defer c.conn.Close()
	for ev := range c.send {
		if err := c.conn.WriteJSON(ev); err != nil {
			return
		}
	}
	c.conn.WriteMessage(websocket.CloseMessage, nil)
}

// readPump descarta todo lo que llegue y detecta la desconexión.
func (c *feedClient) readPump(f *Feed) {
	defer func() {
		f.unregister <- c
		c.conn.Close()
	}()
	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			return
		}
	}
}
