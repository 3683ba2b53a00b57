package audit

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newFeedServer(t *testing.T, feed *Feed) string {
	t.Helper()
	gin.SetMode(gin.TestMode)

	router := gin.New()
	router.GET("/ws", func(c *gin.Context) {
		feed.HandleConnection(c, "admin-1", c.Query("org"))
	})
	server := httptest.NewServer(router)
	t.Cleanup(server.Close)

	return "ws" + strings.TrimPrefix(server.URL, "http") + "/ws?org=org-1"
}

func TestFeed_StreamsPublishedEntries(t *testing.T) {
	feed := NewFeed("http://localhost:3000")
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go feed.Run(ctx)

	url := newFeedServer(t, feed)
	header := http.Header{"Origin": []string{"http://localhost:3000"}}
	conn, _, err := websocket.DefaultDialer.Dial(url, header)
	require.NoError(t, err)
	defer conn.Close()

	conn.SetReadDeadline(time.Now().Add(5 * time.Second))

	var hello FeedMessage
	require.NoError(t, conn.ReadJSON(&hello))
	assert.Equal(t, "connection", hello.Type)
	assert.Equal(t, 1, feed.SubscriberCount())

	// Entries of other tenants and entries without a tenant are not streamed.
	feed.Publish(Entry{ID: "foreign", EventType: EventLoginFailure, OrganizationID: "org-2", Email: "other@example.com"})
	feed.Publish(Entry{ID: "unscoped", EventType: EventLoginFailure, Email: "ghost@example.com"})
	feed.Publish(Entry{ID: "entry-1", EventType: EventAccountLocked, OrganizationID: "org-1", Email: "user@example.com"})

	var message FeedMessage
	require.NoError(t, conn.ReadJSON(&message))
	assert.Equal(t, "audit_event", message.Type)
	require.NotNil(t, message.Entry)
	assert.Equal(t, "entry-1", message.Entry.ID)
	assert.Equal(t, EventAccountLocked, message.Entry.EventType)
	assert.Equal(t, "user@example.com", message.Entry.Email)

	conn.Close()
	assert.Eventually(t, func() bool { return feed.SubscriberCount() == 0 }, 2*time.Second, 10*time.Millisecond)
}

func TestFeed_RejectsForeignOrigin(t *testing.T) {
	feed := NewFeed("http://localhost:3000")
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go feed.Run(ctx)

	url := newFeedServer(t, feed)
	header := http.Header{"Origin": []string{"http://evil.example"}}
	_, resp, err := websocket.DefaultDialer.Dial(url, header)
	require.Error(t, err)
	require.NotNil(t, resp)
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)
	assert.Equal(t, 0, feed.SubscriberCount())
}

func TestFeed_PublishWithoutSubscribers(t *testing.T) {
	feed := NewFeed()
	ctx, cancel := context.WithCancel(context.Background())
	go feed.Run(ctx)

	for i := 0; i < 10; i++ {
		feed.Publish(Entry{EventType: EventLoginFailure})
	}
	cancel()
	assert.Equal(t, 0, feed.SubscriberCount())
}

func TestFeed_ConnectionsAfterStopAreClosed(t *testing.T) {
	feed := NewFeed()
	ctx, cancel := context.WithCancel(context.Background())
	stopped := make(chan struct{})
	go func() {
		feed.Run(ctx)
		close(stopped)
	}()
	cancel()
	<-stopped

	url := newFeedServer(t, feed)

	// More connections than the register buffer holds.
	for i := 0; i < 20; i++ {
		conn, _, err := websocket.DefaultDialer.Dial(url, nil)
		require.NoError(t, err)

		conn.SetReadDeadline(time.Now().Add(2 * time.Second))
		_, _, err = conn.ReadMessage()
		conn.Close()
		require.Error(t, err)
		assert.True(t, websocket.IsCloseError(err, websocket.CloseGoingAway), "connection %d: %v", i, err)
	}
	assert.Equal(t, 0, feed.SubscriberCount())
}
