package matrix

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"maunium.net/go/mautrix/event"
	"maunium.net/go/mautrix/id"
)

func TestIsAllowed(t *testing.T) {
	open := New(Config{})
	assert.True(t, open.isAllowed("@anyone:example.org"))

	blank := New(Config{AllowedUsers: []string{""}})
	assert.True(t, blank.isAllowed("@anyone:example.org"))

	c := New(Config{AllowedUsers: []string{"@anna:example.org"}})
	assert.True(t, c.isAllowed("@anna:example.org"))
	assert.False(t, c.isAllowed("@mallory:example.org"))
}

func textEvent(sender id.UserID, ts int64, body string) *event.Event {
	return &event.Event{
		Sender:    sender,
		RoomID:    "!room:example.org",
		Timestamp: ts,
		Content:   event.Content{Parsed: &event.MessageEventContent{MsgType: event.MsgText, Body: body}},
	}
}

func TestAccept(t *testing.T) {
	c := New(Config{AllowedUsers: []string{"@anna:example.org"}})
	c.startTime = 1000

	msg, ok := c.accept(textEvent("@anna:example.org", 2000, "напомни позвонить Ивану"))
	require.True(t, ok)
	assert.Equal(t, "anna", msg.SenderName)
	assert.Equal(t, "!room:example.org", msg.RoomID)
	assert.Equal(t, "matrix", msg.Source)

	_, ok = c.accept(textEvent("@anna:example.org", 500, "старое"))
	assert.False(t, ok, "messages from before start are ignored")

	_, ok = c.accept(textEvent("@mallory:example.org", 2000, "привет"))
	assert.False(t, ok)

	_, ok = c.accept(textEvent("@anna:example.org", 2000, "   "))
	assert.False(t, ok)
}

func TestPermanent(t *testing.T) {
	assert.True(t, permanent(stringErr("M_FORBIDDEN: bad password")))
	assert.False(t, permanent(stringErr("connection refused")))
}

type stringErr string

func (e stringErr) Error() string { return string(e) }

func TestIsRoomID(t *testing.T) {
	assert.True(t, IsRoomID("!room:example.org"))
	assert.False(t, IsRoomID("http:@anna:example.org"))
	assert.False(t, IsRoomID(""))
	assert.False(t, IsRoomID("!noserver"))
}
