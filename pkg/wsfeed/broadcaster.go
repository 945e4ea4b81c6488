// Package wsfeed рассылает обновления харнесса сравнения подключённым
// websocket-клиентам — живая замена стат-панелей исходной страницы.
package wsfeed

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"sync"

	"github.com/gorilla/websocket"
)

type client struct {
	conn *websocket.Conn
	send chan []byte
}

func newClient(conn *websocket.Conn) *client {
	c := &client{
		conn: conn,
		send: make(chan []byte, 64),
	}
	go c.writePump()
	return c
}

func (c *client) writePump() {
	defer c.conn.Close()
	for msg := range c.send {
		if err := c.conn.WriteMessage(websocket.TextMessage, msg); err != nil {
			return
		}
	}
}

func (c *client) close() {
	close(c.send)
}

// Broadcaster раздаёт JSON-сообщения всем подключённым клиентам.
// Медленный клиент с заполненной очередью отключается.
type Broadcaster struct {
	mu       sync.RWMutex
	clients  map[*client]bool
	upgrader websocket.Upgrader
	log      *slog.Logger
}

// NewBroadcaster создает рассыльщика.
func NewBroadcaster(log *slog.Logger) *Broadcaster {
	if log == nil {
		log = slog.Default()
	}
	return &Broadcaster{
		clients: make(map[*client]bool),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     func(*http.Request) bool { return true },
		},
		log: log,
	}
}

// ServeHTTP апгрейдит соединение и регистрирует клиента.
func (b *Broadcaster) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := b.upgrader.Upgrade(w, r, nil)
	if err != nil {
		b.log.Debug("сбой апгрейда websocket", "error", err)
		return
	}
	c := newClient(conn)

	b.mu.Lock()
	b.clients[c] = true
	b.mu.Unlock()

	// Читаем только ради детекции закрытия
	go func() {
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				b.remove(c)
				return
			}
		}
	}()
}

// Broadcast сериализует v и рассылает всем клиентам.
func (b *Broadcaster) Broadcast(v interface{}) {
	msg, err := json.Marshal(v)
	if err != nil {
		b.log.Warn("сбой сериализации сообщения", "error", err)
		return
	}

	b.mu.RLock()
	var overloaded []*client
	for c := range b.clients {
		select {
		case c.send <- msg:
		default:
			overloaded = append(overloaded, c)
		}
	}
	b.mu.RUnlock()

	for _, c := range overloaded {
		b.remove(c)
	}
}

// ClientCount возвращает число подключённых клиентов.
func (b *Broadcaster) ClientCount() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.clients)
}

// Close отключает всех клиентов.
func (b *Broadcaster) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()
	for c := range b.clients {
		c.close()
		delete(b.clients, c)
	}
}

func (b *Broadcaster) remove(c *client) {
	b.mu.Lock()
	if _, ok := b.clients[c]; !ok {
		b.mu.Unlock()
		return
	}
	delete(b.clients, c)
	b.mu.Unlock()
	c.close()
}
