package event

import (
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
)

func TestEmitterDispatch(t *testing.T) {
	e := NewEmitter()

	var specific, wildcard []string
	unsub := e.On(LeadUpdated, func(ev Event) { specific = append(specific, ev.EventName()) })
	e.OnAny(func(ev Event) { wildcard = append(wildcard, ev.EventName()) })

	e.Emit(LeadUpdatedEvent{SessionID: "s1", Fields: []string{"company_name"}})
	e.Emit(MediaShownEvent{SessionID: "s1", MediaType: "demo"})

	if len(specific) != 1 || specific[0] != LeadUpdated {
		t.Fatalf("specific listener got %v", specific)
	}
	if len(wildcard) != 2 {
		t.Fatalf("wildcard listener got %v", wildcard)
	}

	unsub()
	unsub()
	e.Emit(LeadUpdatedEvent{SessionID: "s1"})
	if len(specific) != 1 {
		t.Fatalf("unsubscribed listener still called: %v", specific)
	}
	if got := e.ListenerCount(LeadUpdated); got != 1 {
		t.Fatalf("ListenerCount = %d, want 1", got)
	}
}

func TestUnsubscribeOnlyRemovesOwnListener(t *testing.T) {
	e := NewEmitter()
	var a, b int
	unsubA := e.On(TurnCommitted, func(Event) { a++ })
	e.On(TurnCommitted, func(Event) { b++ })

	unsubA()
	e.Emit(TurnCommittedEvent{SessionID: "s"})
	if a != 0 || b != 1 {
		t.Fatalf("a=%d b=%d, want 0 and 1", a, b)
	}
}

func TestWSHandlerFiltersBySession(t *testing.T) {
	gin.SetMode(gin.TestMode)
	e := NewEmitter()
	h := NewWSHandler(e, nil)
	r := gin.New()
	r.GET("/events", h.Handle)
	srv := httptest.NewServer(r)
	defer srv.Close()

	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/events?session_id=keep&events=media.shown"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close()

	deadline := time.Now().Add(2 * time.Second)
	for e.ListenerCount(MediaShown) == 0 {
		if time.Now().After(deadline) {
			t.Fatal("handler never subscribed")
		}
		time.Sleep(10 * time.Millisecond)
	}

	e.Emit(MediaShownEvent{SessionID: "other", MediaType: "demo", Topic: "general"})
	e.Emit(LeadUpdatedEvent{SessionID: "keep"})
	e.Emit(MediaShownEvent{SessionID: "keep", MediaType: "pricing", Topic: "enterprise"})

	_ = conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	var msg WSMessage
	if err := conn.ReadJSON(&msg); err != nil {
		t.Fatalf("read: %v", err)
	}
	if msg.Event != MediaShown || msg.Data["sessionId"] != "keep" || msg.Data["mediaType"] != "pricing" {
		t.Fatalf("unexpected message: %+v", msg)
	}
}
