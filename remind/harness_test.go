package remind

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"smack-remind/models"
)

// fakeNetwork is the shared side of the fakes: one timeline visible to every
// attached client, the way one account's rooms look the same from every
// process.
type fakeNetwork struct {
	mu       sync.Mutex
	timeline map[string][]models.Message
	clients  []*fakeClient
	nextID   int
}

func newFakeNetwork() *fakeNetwork {
	return &fakeNetwork{timeline: make(map[string][]models.Message)}
}

func (n *fakeNetwork) client(userID string) *fakeClient {
	c := &fakeClient{
		net:       n,
		userID:    userID,
		eventSubs: make(map[int]chan models.Event),
		echoSubs:  make(map[int]chan models.EchoUpdate),
		unsealing: make(map[string][]chan models.Event),
		pending:   make(map[string][]models.Message),
	}
	n.mu.Lock()
	n.clients = append(n.clients, c)
	n.mu.Unlock()
	return c
}

// deliver commits a message to the shared timeline and streams it to every
// attached client.
func (n *fakeNetwork) deliver(msg models.Message) {
	n.mu.Lock()
	n.timeline[msg.ChannelID] = append(n.timeline[msg.ChannelID], msg)
	clients := append([]*fakeClient(nil), n.clients...)
	n.mu.Unlock()

	for _, c := range clients {
		c.injectEvent(models.Event{Message: msg, RoomID: msg.ChannelID, Live: true})
	}
}

func (n *fakeNetwork) sentDueCount(roomID string) int {
	n.mu.Lock()
	defer n.mu.Unlock()
	count := 0
	for _, msg := range n.timeline[roomID] {
		if msg.Content.MsgType == models.MsgTypeReminderDue {
			count++
		}
	}
	return count
}

type fakeClient struct {
	net    *fakeNetwork
	userID string

	mu        sync.Mutex
	eventSubs map[int]chan models.Event
	echoSubs  map[int]chan models.EchoUpdate
	unsealing map[string][]chan models.Event
	nextSub   int
	pending   map[string][]models.Message
	sent      []models.Message
	sendErr   error
}

func (c *fakeClient) UserID() string { return c.userID }

func (c *fakeClient) SubscribeEvents() (<-chan models.Event, func()) {
	c.mu.Lock()
	defer c.mu.Unlock()
	id := c.nextSub
	c.nextSub++
	ch := make(chan models.Event, 64)
	c.eventSubs[id] = ch
	return ch, func() {
		c.mu.Lock()
		defer c.mu.Unlock()
		delete(c.eventSubs, id)
	}
}

func (c *fakeClient) SubscribeEchoes() (<-chan models.EchoUpdate, func()) {
	c.mu.Lock()
	defer c.mu.Unlock()
	id := c.nextSub
	c.nextSub++
	ch := make(chan models.EchoUpdate, 16)
	c.echoSubs[id] = ch
	return ch, func() {
		c.mu.Lock()
		defer c.mu.Unlock()
		delete(c.echoSubs, id)
	}
}

func (c *fakeClient) AwaitUnsealed(messageID string) <-chan models.Event {
	c.mu.Lock()
	defer c.mu.Unlock()
	ch := make(chan models.Event, 1)
	c.unsealing[messageID] = append(c.unsealing[messageID], ch)
	return ch
}

func (c *fakeClient) SendMessage(roomID string, threadID *string, content models.MessageContent) (*models.Message, error) {
	c.mu.Lock()
	if c.sendErr != nil {
		err := c.sendErr
		c.mu.Unlock()
		return nil, err
	}
	c.mu.Unlock()

	c.net.mu.Lock()
	c.net.nextID++
	id := fmt.Sprintf("srv-%d", c.net.nextID)
	c.net.mu.Unlock()

	msg := models.Message{
		ID:        id,
		ChannelID: roomID,
		UserID:    c.userID,
		Content:   content,
		ThreadID:  threadID,
		CreatedAt: time.Now(),
	}

	c.mu.Lock()
	c.sent = append(c.sent, msg)
	c.mu.Unlock()

	c.net.deliver(msg)
	return &msg, nil
}

func (c *fakeClient) RoomMessages(roomID string, limit int) []models.Message {
	c.net.mu.Lock()
	defer c.net.mu.Unlock()
	msgs := c.net.timeline[roomID]
	if limit > 0 && len(msgs) > limit {
		msgs = msgs[len(msgs)-limit:]
	}
	out := make([]models.Message, len(msgs))
	copy(out, msgs)
	return out
}

func (c *fakeClient) PendingMessages(roomID string) []models.Message {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]models.Message, len(c.pending[roomID]))
	copy(out, c.pending[roomID])
	return out
}

func (c *fakeClient) sentCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.sent)
}

func (c *fakeClient) lastSent() (models.Message, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if len(c.sent) == 0 {
		return models.Message{}, false
	}
	return c.sent[len(c.sent)-1], true
}

// injectEvent streams an event to this client's subscribers only.
func (c *fakeClient) injectEvent(ev models.Event) {
	c.mu.Lock()
	subs := make([]chan models.Event, 0, len(c.eventSubs))
	for _, ch := range c.eventSubs {
		subs = append(subs, ch)
	}
	c.mu.Unlock()
	for _, ch := range subs {
		select {
		case ch <- ev:
		default:
		}
	}
}

func (c *fakeClient) injectEcho(update models.EchoUpdate) {
	c.mu.Lock()
	subs := make([]chan models.EchoUpdate, 0, len(c.echoSubs))
	for _, ch := range c.echoSubs {
		subs = append(subs, ch)
	}
	c.mu.Unlock()
	for _, ch := range subs {
		select {
		case ch <- update:
		default:
		}
	}
}

func (c *fakeClient) unsealNow(ev models.Event) {
	c.mu.Lock()
	waiters := c.unsealing[ev.Message.ID]
	delete(c.unsealing, ev.Message.ID)
	c.mu.Unlock()
	for _, ch := range waiters {
		ch <- ev
		close(ch)
	}
}

type fakeLock struct {
	owner      string
	acquiredAt time.Time
}

type fakeStore struct {
	mu    sync.Mutex
	seen  map[string]bool
	locks map[string]fakeLock

	lockTTL      time.Duration
	denyLock     bool
	seenErr      error
	recordErr    error
	lockErr      error
	lockAttempts int
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		seen:    make(map[string]bool),
		locks:   make(map[string]fakeLock),
		lockTTL: 30 * time.Second,
	}
}

func (s *fakeStore) SeenSignature(signature string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.seenErr != nil {
		return false, s.seenErr
	}
	return s.seen[signature], nil
}

func (s *fakeStore) RecordSent(signature string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.recordErr != nil {
		return s.recordErr
	}
	s.seen[signature] = true
	return nil
}

func (s *fakeStore) TryAcquireSendLock(signature, ownerID string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.lockAttempts++
	if s.lockErr != nil {
		return false, s.lockErr
	}
	if s.denyLock {
		return false, nil
	}
	if lock, ok := s.locks[signature]; ok && time.Since(lock.acquiredAt) < s.lockTTL {
		return false, nil
	}
	s.locks[signature] = fakeLock{owner: ownerID, acquiredAt: time.Now()}
	return true, nil
}

type fakeNotifier struct {
	mu        sync.Mutex
	permitted bool
	silenced  bool
	notifyErr error
	calls     []string
}

func newFakeNotifier() *fakeNotifier {
	return &fakeNotifier{permitted: true}
}

func (n *fakeNotifier) Permitted() bool { return n.permitted }
func (n *fakeNotifier) Silenced() bool  { return n.silenced }

func (n *fakeNotifier) Notify(title, body, roomID string) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.notifyErr != nil {
		return n.notifyErr
	}
	n.calls = append(n.calls, body)
	return nil
}

func (n *fakeNotifier) notifyCount() int {
	n.mu.Lock()
	defer n.mu.Unlock()
	return len(n.calls)
}

var errSendFailed = errors.New("send failed")
