package remind

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"smack-remind/models"
)

func dedupeFixture() (models.ReminderPayload, time.Time, string) {
	p := models.ReminderPayload{
		Content:  "Take out bins",
		Datetime: "2025-02-03T19:00:00Z",
		Repeat:   models.RepeatWeekly,
	}
	occurrence := time.Date(2025, 2, 3, 19, 0, 0, 0, time.UTC)
	return p, occurrence, Signature("room-1", "m-1", p, occurrence)
}

func TestShouldSendCleanPath(t *testing.T) {
	net := newFakeNetwork()
	c := net.client("alice")
	st := newFakeStore()
	d := NewDeduper(c, st, "tab-1", testGrace)

	p, occurrence, sig := dedupeFixture()
	assert.True(t, d.ShouldSend("room-1", "m-1", sig, p, occurrence))

	// The winning decision records the signature before the send happens.
	seen, err := st.SeenSignature(sig)
	require.NoError(t, err)
	assert.True(t, seen)

	// A rerun of the same occurrence is a sent-cache hit.
	assert.False(t, d.ShouldSend("room-1", "m-1", sig, p, occurrence))
}

func TestShouldSendSkipsWhenRoomHasDueMessage(t *testing.T) {
	net := newFakeNetwork()
	c := net.client("alice")
	d := NewDeduper(c, newFakeStore(), "tab-1", testGrace)

	p, occurrence, sig := dedupeFixture()
	net.deliver(models.Message{
		ID:        "peer-due",
		ChannelID: "room-1",
		UserID:    "alice",
		Content:   EncodeDue(p, "m-1"),
		CreatedAt: time.Now(),
	})

	assert.False(t, d.ShouldSend("room-1", "m-1", sig, p, occurrence))
}

func TestShouldSendFallbackMatchWithoutSourceID(t *testing.T) {
	net := newFakeNetwork()
	c := net.client("alice")
	d := NewDeduper(c, newFakeStore(), "tab-1", testGrace)

	p, _, _ := dedupeFixture()
	occurrence := time.Now()
	sig := Signature("room-1", SignaturePlaceholder, p, occurrence)

	// Delivered by a peer that also lacked the confirmed id: no relation,
	// matched by body plus timestamp proximity.
	net.deliver(models.Message{
		ID:        "peer-due",
		ChannelID: "room-1",
		UserID:    "alice",
		Content:   EncodeDue(p, ""),
		CreatedAt: occurrence.Add(testGrace / 2),
	})

	assert.False(t, d.ShouldSend("room-1", "", sig, p, occurrence))
}

func TestShouldSendSkipsWhenPeerDeliversDuringGrace(t *testing.T) {
	net := newFakeNetwork()
	c := net.client("alice")
	d := NewDeduper(c, newFakeStore(), "tab-1", 150*time.Millisecond)

	p, _, _ := dedupeFixture()
	occurrence := time.Now()
	sig := Signature("room-1", "m-1", p, occurrence)

	go func() {
		time.Sleep(40 * time.Millisecond)
		c.injectEvent(models.Event{
			Message: models.Message{
				ID:        "peer-due",
				ChannelID: "room-1",
				UserID:    "alice",
				Content:   EncodeDue(p, "m-1"),
				CreatedAt: time.Now(),
			},
			RoomID: "room-1",
			Live:   true,
		})
	}()

	assert.False(t, d.ShouldSend("room-1", "m-1", sig, p, occurrence))
}

func TestShouldSendSkipsWhenLockClaimed(t *testing.T) {
	net := newFakeNetwork()
	c := net.client("alice")
	st := newFakeStore()
	d := NewDeduper(c, st, "tab-1", testGrace)

	p, occurrence, sig := dedupeFixture()
	acquired, err := st.TryAcquireSendLock(sig, "tab-2")
	require.NoError(t, err)
	require.True(t, acquired)

	assert.False(t, d.ShouldSend("room-1", "m-1", sig, p, occurrence))
}

func TestShouldSendFailsOpenOnStorageErrors(t *testing.T) {
	net := newFakeNetwork()
	c := net.client("alice")
	st := newFakeStore()
	st.seenErr = errSendFailed
	st.lockErr = errSendFailed
	st.recordErr = errSendFailed
	d := NewDeduper(c, st, "tab-1", testGrace)

	p, occurrence, sig := dedupeFixture()
	assert.True(t, d.ShouldSend("room-1", "m-1", sig, p, occurrence))
}

func TestMatchIgnoresUnrelatedMessages(t *testing.T) {
	net := newFakeNetwork()
	c := net.client("alice")
	d := NewDeduper(c, newFakeStore(), "tab-1", testGrace)

	p, occurrence, _ := dedupeFixture()

	// A due message for a different reminder.
	other := p
	other.Content = "Water the plants"
	assert.False(t, d.matches(models.Message{
		Content:   EncodeDue(other, "m-2"),
		CreatedAt: occurrence,
	}, "m-1", p, occurrence))

	// An ordinary chat message.
	assert.False(t, d.matches(models.Message{
		Content:   models.MessageContent{Body: "Reminder due: Take out bins"},
		CreatedAt: occurrence,
	}, "m-1", p, occurrence))

	// Same body but far outside the proximity window, no relation.
	assert.False(t, d.matches(models.Message{
		Content:   EncodeDue(p, ""),
		CreatedAt: occurrence.Add(time.Hour),
	}, "", p, occurrence))
}
