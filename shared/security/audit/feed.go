package audit

import (
	"context"
	"log"
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
)

const feedWriteTimeout = 5 * time.Second

// FeedMessage is the frame pushed to subscribers.
type FeedMessage struct {
	Type  string `json:"type"`
	Entry *Entry `json:"entry,omitempty"`
}

type subscriber struct {
	id             string
	userID         string
	organizationID string
	conn           *websocket.Conn
}

// Feed streams audit entries to connected administrators over WebSocket.
// A subscriber only receives entries of its own organization.
type Feed struct {
	subscribers map[string]*subscriber
	mutex       sync.RWMutex
	upgrader    websocket.Upgrader
	register    chan *subscriber
	unregister  chan *subscriber
	broadcast   chan Entry
	done        chan struct{}
	stopOnce    sync.Once
}

// NewFeed creates a feed accepting connections from allowedOrigins. An
// empty list accepts same-origin requests only.
func NewFeed(allowedOrigins ...string) *Feed {
	return &Feed{
		subscribers: make(map[string]*subscriber),
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool {
				origin := r.Header.Get("Origin")
				if origin == "" {
					return true
				}
				for _, allowed := range allowedOrigins {
					if origin == allowed {
						return true
					}
				}
				log.Printf("🚫 Security feed connection rejected from origin: %s", origin)
				return false
			},
		},
		register:   make(chan *subscriber, 16),
		unregister: make(chan *subscriber, 16),
		broadcast:  make(chan Entry, 256),
		done:       make(chan struct{}),
	}
}

// Run processes registrations and broadcasts until ctx is cancelled.
// Connections arriving after Run returned are closed immediately.
func (f *Feed) Run(ctx context.Context) {
	defer f.stopOnce.Do(func() { close(f.done) })

	for {
		select {
		case <-ctx.Done():
			f.closeAll()
			return
		case sub := <-f.register:
			f.mutex.Lock()
			f.subscribers[sub.id] = sub
			total := len(f.subscribers)
			f.mutex.Unlock()
			log.Printf("🔌 Security feed subscriber connected: %s org=%s (Total: %d)", sub.userID, sub.organizationID, total)
			f.send(sub, FeedMessage{Type: "connection"})
		case sub := <-f.unregister:
			f.remove(sub)
		case entry := <-f.broadcast:
			f.fanOut(entry)
		}
	}
}

// Publish queues entry for every subscriber; it drops the entry when the
// queue is full.
func (f *Feed) Publish(entry Entry) {
	select {
	case f.broadcast <- entry:
	default:
		log.Printf("⚠️ Security feed queue full, dropping %s", entry.EventType)
	}
}

// SubscriberCount returns the number of open connections.
func (f *Feed) SubscriberCount() int {
	f.mutex.RLock()
	defer f.mutex.RUnlock()
	return len(f.subscribers)
}

func (f *Feed) fanOut(entry Entry) {
	f.mutex.RLock()
	subs := make([]*subscriber, 0, len(f.subscribers))
	for _, sub := range f.subscribers {
		if entry.OrganizationID != "" && sub.organizationID == entry.OrganizationID {
			subs = append(subs, sub)
		}
	}
	f.mutex.RUnlock()

	for _, sub := range subs {
		e := entry
		f.send(sub, FeedMessage{Type: "audit_event", Entry: &e})
	}
}

func (f *Feed) send(sub *subscriber, message FeedMessage) {
	sub.conn.SetWriteDeadline(time.Now().Add(feedWriteTimeout))
	if err := sub.conn.WriteJSON(message); err != nil {
		log.Printf("❌ Failed to push security event to %s: %v", sub.userID, err)
		f.remove(sub)
	}
}

func (f *Feed) remove(sub *subscriber) {
	f.mutex.Lock()
	defer f.mutex.Unlock()

	if _, exists := f.subscribers[sub.id]; exists {
		delete(f.subscribers, sub.id)
		sub.conn.Close()
		log.Printf("🔌 Security feed subscriber disconnected: %s (Total: %d)", sub.userID, len(f.subscribers))
	}
}

func (f *Feed) stopped() bool {
	select {
	case <-f.done:
		return true
	default:
		return false
	}
}

// reject closes a connection that arrived after Run returned.
func (f *Feed) reject(sub *subscriber) {
	log.Printf("⚠️ Security feed stopped, closing connection of %s", sub.userID)
	sub.conn.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseGoingAway, "feed stopped"),
		time.Now().Add(time.Second))
	sub.conn.Close()
}

func (f *Feed) closeAll() {
	f.mutex.Lock()
	defer f.mutex.Unlock()
	for id, sub := range f.subscribers {
		sub.conn.Close()
		delete(f.subscribers, id)
	}
}

// HandleConnection upgrades an authenticated request and keeps the
// connection open until the client goes away. userID identifies the
// subscriber in logs and organizationID selects the entries it receives.
func (f *Feed) HandleConnection(c *gin.Context, userID, organizationID string) {
	conn, err := f.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		log.Printf("❌ Failed to upgrade security feed connection: %v", err)
		return
	}

	sub := &subscriber{id: uuid.New().String(), userID: userID, organizationID: organizationID, conn: conn}
	if f.stopped() {
		f.reject(sub)
		return
	}
	select {
	case f.register <- sub:
	case <-f.done:
		f.reject(sub)
		return
	}
	defer func() {
		select {
		case f.unregister <- sub:
		default:
			f.remove(sub)
		}
	}()

	// Subscribers never send data; reading only detects the close.
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				log.Printf("❌ Security feed error for %s: %v", userID, err)
			}
			return
		}
	}
}
