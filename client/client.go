package client

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"

	"smack-remind/models"
)

// timelinePerRoom bounds the in-memory timeline kept per room.
const timelinePerRoom = 200

type tokenClaims struct {
	UserID string `json:"user_id"`
	jwt.RegisteredClaims
}

// Client is a headless Smack account session: REST for sending and a
// WebSocket for the live stream. Messages sent through it get a provisional
// local id first and an echo update once the server confirms.
type Client struct {
	baseURL string
	token   string
	userID  string
	httpc   *http.Client

	mu        sync.Mutex
	timeline  map[string][]models.Message
	pending   map[string][]models.Message
	eventSubs map[int]chan models.Event
	echoSubs  map[int]chan models.EchoUpdate
	unsealing map[string][]chan models.Event
	nextSub   int

	closed    chan struct{}
	closeOnce sync.Once
}

// Login exchanges account credentials for a token.
func Login(baseURL, username, password string) (string, error) {
	body, _ := json.Marshal(map[string]string{
		"username": username,
		"password": password,
	})
	resp, err := http.Post(strings.TrimRight(baseURL, "/")+"/api/auth/login", "application/json", bytes.NewReader(body))
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("login failed: %s", resp.Status)
	}
	var out struct {
		Token string `json:"token"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return "", err
	}
	return out.Token, nil
}

// Dial builds a client for the given account token and connects the live
// stream. The local user id comes from the token claims; the signature is
// the server's to verify, so it is read unverified here.
func Dial(baseURL, token string) (*Client, error) {
	claims := &tokenClaims{}
	if _, _, err := jwt.NewParser().ParseUnverified(token, claims); err != nil {
		return nil, fmt.Errorf("invalid token: %w", err)
	}
	if claims.UserID == "" {
		return nil, errors.New("token carries no user id")
	}

	c := &Client{
		baseURL:   strings.TrimRight(baseURL, "/"),
		token:     token,
		userID:    claims.UserID,
		httpc:     &http.Client{Timeout: 30 * time.Second},
		timeline:  make(map[string][]models.Message),
		pending:   make(map[string][]models.Message),
		eventSubs: make(map[int]chan models.Event),
		echoSubs:  make(map[int]chan models.EchoUpdate),
		unsealing: make(map[string][]chan models.Event),
		closed:    make(chan struct{}),
	}

	go c.runStream()
	return c, nil
}

func (c *Client) UserID() string {
	return c.userID
}

// Close tears down the stream and detaches all subscriptions. Subscription
// channels are abandoned rather than closed; consumers watch their own
// shutdown signal.
func (c *Client) Close() {
	c.closeOnce.Do(func() {
		close(c.closed)
		c.mu.Lock()
		for id := range c.eventSubs {
			delete(c.eventSubs, id)
		}
		for id := range c.echoSubs {
			delete(c.echoSubs, id)
		}
		for id, waiters := range c.unsealing {
			for _, ch := range waiters {
				close(ch)
			}
			delete(c.unsealing, id)
		}
		c.mu.Unlock()
	})
}

// SubscribeEvents attaches a live-event subscription. Slow consumers drop
// deliveries rather than stall the stream.
func (c *Client) SubscribeEvents() (<-chan models.Event, func()) {
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

func (c *Client) SubscribeEchoes() (<-chan models.EchoUpdate, func()) {
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

// AwaitUnsealed resolves once the sealed message becomes readable. The
// channel closes without a delivery if the client shuts down first.
func (c *Client) AwaitUnsealed(messageID string) <-chan models.Event {
	c.mu.Lock()
	defer c.mu.Unlock()
	ch := make(chan models.Event, 1)
	select {
	case <-c.closed:
		close(ch)
		return ch
	default:
	}
	c.unsealing[messageID] = append(c.unsealing[messageID], ch)
	return ch
}

// SendMessage posts a message. The caller observes it first as a live
// provisional event, then as an echo update carrying the confirmed id.
func (c *Client) SendMessage(roomID string, threadID *string, content models.MessageContent) (*models.Message, error) {
	provisionalID := "local-" + uuid.New().String()
	echo := models.Message{
		ID:        provisionalID,
		ChannelID: roomID,
		UserID:    c.userID,
		Content:   content,
		ThreadID:  threadID,
		CreatedAt: time.Now(),
	}

	c.mu.Lock()
	c.pending[roomID] = append(c.pending[roomID], echo)
	c.mu.Unlock()
	c.emitEvent(models.Event{
		Message:     echo,
		RoomID:      roomID,
		Live:        true,
		Provisional: true,
	})

	confirmed, err := c.postMessage(models.SendMessageRequest{
		ChannelID: roomID,
		Content:   content,
		ThreadID:  threadID,
		ClientKey: provisionalID,
	})
	if err != nil {
		c.dropPending(roomID, provisionalID)
		return nil, err
	}

	c.mu.Lock()
	c.removePendingLocked(roomID, provisionalID)
	c.appendTimelineLocked(roomID, *confirmed)
	echoSubs := make([]chan models.EchoUpdate, 0, len(c.echoSubs))
	for _, ch := range c.echoSubs {
		echoSubs = append(echoSubs, ch)
	}
	c.mu.Unlock()

	update := models.EchoUpdate{
		Message:    *confirmed,
		RoomID:     roomID,
		PreviousID: provisionalID,
	}
	for _, ch := range echoSubs {
		select {
		case ch <- update:
		default:
		}
	}
	return confirmed, nil
}

func (c *Client) postMessage(req models.SendMessageRequest) (*models.Message, error) {
	body, err := json.Marshal(req)
	if err != nil {
		return nil, err
	}
	httpReq, err := http.NewRequest(http.MethodPost, c.baseURL+"/api/messages", bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Authorization", "Bearer "+c.token)

	resp, err := c.httpc.Do(httpReq)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusCreated {
		data, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, fmt.Errorf("send failed: %s: %s", resp.Status, strings.TrimSpace(string(data)))
	}

	var msg models.Message
	if err := json.NewDecoder(resp.Body).Decode(&msg); err != nil {
		return nil, err
	}
	return &msg, nil
}

// RoomMessages returns the most recent known timeline for a room, newest
// last, at most limit entries.
func (c *Client) RoomMessages(roomID string, limit int) []models.Message {
	c.mu.Lock()
	defer c.mu.Unlock()
	msgs := c.timeline[roomID]
	if limit > 0 && len(msgs) > limit {
		msgs = msgs[len(msgs)-limit:]
	}
	out := make([]models.Message, len(msgs))
	copy(out, msgs)
	return out
}

func (c *Client) PendingMessages(roomID string) []models.Message {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]models.Message, len(c.pending[roomID]))
	copy(out, c.pending[roomID])
	return out
}

func (c *Client) dropPending(roomID, id string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.removePendingLocked(roomID, id)
}

func (c *Client) removePendingLocked(roomID, id string) {
	pending := c.pending[roomID]
	for i, msg := range pending {
		if msg.ID == id {
			c.pending[roomID] = append(pending[:i], pending[i+1:]...)
			return
		}
	}
}

func (c *Client) appendTimelineLocked(roomID string, msg models.Message) {
	for _, existing := range c.timeline[roomID] {
		if existing.ID == msg.ID {
			return
		}
	}
	c.timeline[roomID] = append(c.timeline[roomID], msg)
	if len(c.timeline[roomID]) > timelinePerRoom {
		c.timeline[roomID] = c.timeline[roomID][len(c.timeline[roomID])-timelinePerRoom:]
	}
}

func (c *Client) removeTimelineLocked(roomID, id string) {
	msgs := c.timeline[roomID]
	for i, msg := range msgs {
		if msg.ID == id {
			c.timeline[roomID] = append(msgs[:i], msgs[i+1:]...)
			return
		}
	}
}

func (c *Client) emitEvent(ev models.Event) {
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

func (c *Client) resolveUnsealed(ev models.Event) {
	c.mu.Lock()
	waiters := c.unsealing[ev.Message.ID]
	delete(c.unsealing, ev.Message.ID)
	c.mu.Unlock()
	for _, ch := range waiters {
		ch <- ev
		close(ch)
	}
}

func (c *Client) wsURL() (string, error) {
	u, err := url.Parse(c.baseURL)
	if err != nil {
		return "", err
	}
	switch u.Scheme {
	case "http":
		u.Scheme = "ws"
	case "https":
		u.Scheme = "wss"
	}
	u.Path = "/api/ws"
	u.RawQuery = "token=" + url.QueryEscape(c.token)
	return u.String(), nil
}
