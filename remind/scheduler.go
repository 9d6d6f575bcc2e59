package remind

import (
	"log"
	"sync"
	"time"

	"smack-remind/models"
)

// maxTimerDelay clamps any single timer arm. Expiry before the true
// occurrence re-arms for the remainder, which also absorbs wall-clock jumps
// across suspend/resume.
const maxTimerDelay = 24 * time.Hour

// timerDelay is the duration to arm for an occurrence at next: never
// negative, never beyond the clamp.
func timerDelay(next, now time.Time) time.Duration {
	delay := next.Sub(now)
	if delay < 0 {
		delay = 0
	}
	if delay > maxTimerDelay {
		delay = maxTimerDelay
	}
	return delay
}

// Client is the slice of the chat client the scheduler depends on.
type Client interface {
	UserID() string

	// SubscribeEvents returns a live event channel and a detach func.
	SubscribeEvents() (<-chan models.Event, func())
	// SubscribeEchoes returns local-echo-update deliveries and a detach func.
	SubscribeEchoes() (<-chan models.EchoUpdate, func())
	// AwaitUnsealed delivers the readable event exactly once when a sealed
	// message finishes decrypting. The channel closes without a delivery if
	// the message never unseals.
	AwaitUnsealed(messageID string) <-chan models.Event

	SendMessage(roomID string, threadID *string, content models.MessageContent) (*models.Message, error)
	RoomMessages(roomID string, limit int) []models.Message
	PendingMessages(roomID string) []models.Message
}

// SharedStore is the cross-process state the dedupe protocol runs against.
type SharedStore interface {
	SeenSignature(signature string) (bool, error)
	RecordSent(signature string) error
	TryAcquireSendLock(signature, ownerID string) (bool, error)
}

// Notifier dispatches local desktop notifications.
type Notifier interface {
	Notify(title, body, roomID string) error
	Permitted() bool
	Silenced() bool
}

type entry struct {
	key      string
	roomID   string
	threadID *string
	reminder models.ReminderPayload
	next     time.Time
	last     *time.Time
	// sourceID is the confirmed message id, empty while the source is still
	// a local echo under a provisional key.
	sourceID string
	timer    *time.Timer
	gen      int
}

type fire struct {
	e   *entry
	gen int
}

// Scheduler watches the live stream for reminder messages authored by the
// local account, arms one timer per entry, and posts the due notice when an
// occurrence arrives. One Scheduler runs per agent process; all entry state
// lives on the run loop goroutine and is touched nowhere else.
type Scheduler struct {
	client   Client
	store    SharedStore
	notifier Notifier
	deduper  *Deduper

	entries map[string]*entry
	fires   chan fire
	cmds    chan func()
	resub   chan models.Event
	done    chan struct{}
	stopped chan struct{}

	started  bool
	stopOnce sync.Once

	now func() time.Time
}

// NewScheduler wires a scheduler; Start begins watching the stream.
func NewScheduler(client Client, store SharedStore, notifier Notifier, instanceID string, grace time.Duration) *Scheduler {
	return &Scheduler{
		client:   client,
		store:    store,
		notifier: notifier,
		deduper:  NewDeduper(client, store, instanceID, grace),
		entries:  make(map[string]*entry),
		fires:    make(chan fire, 16),
		cmds:     make(chan func(), 16),
		resub:    make(chan models.Event, 16),
		done:     make(chan struct{}),
		stopped:  make(chan struct{}),
		now:      time.Now,
	}
}

func (s *Scheduler) Start() {
	s.started = true
	events, detachEvents := s.client.SubscribeEvents()
	echoes, detachEchoes := s.client.SubscribeEchoes()
	go s.run(events, echoes, detachEvents, detachEchoes)
}

// Stop tears the scheduler down: detaches from the stream, clears every
// pending timer, and empties the entry map. Idempotent, and safe on a
// scheduler that was never started.
func (s *Scheduler) Stop() {
	s.stopOnce.Do(func() {
		close(s.done)
		if !s.started {
			close(s.stopped)
		}
	})
	<-s.stopped
}

func (s *Scheduler) run(events <-chan models.Event, echoes <-chan models.EchoUpdate, detachEvents, detachEchoes func()) {
	defer close(s.stopped)
	defer detachEvents()
	defer detachEchoes()
	defer s.clear()

	for {
		select {
		case <-s.done:
			return
		case ev, ok := <-events:
			if !ok {
				return
			}
			s.handleEvent(ev)
		case ev := <-s.resub:
			s.handleEvent(ev)
		case echo, ok := <-echoes:
			if !ok {
				return
			}
			s.handleEcho(echo)
		case f := <-s.fires:
			s.handleFire(f)
		case cmd := <-s.cmds:
			cmd()
		}
	}
}

func (s *Scheduler) clear() {
	for key, e := range s.entries {
		if e.timer != nil {
			e.timer.Stop()
		}
		delete(s.entries, key)
	}
}

func (s *Scheduler) handleEvent(ev models.Event) {
	if ev.Removed {
		s.unschedule(ev.Message.ID)
		return
	}
	if ev.Historical || !ev.Live {
		return
	}
	if ev.Message.UserID != s.client.UserID() {
		return
	}

	if ev.Sealed {
		s.deferUntilUnsealed(ev.Message.ID)
		return
	}

	payload := Decode(ev.Message.Content)
	rel := ev.Message.Content.RelatesTo

	if rel != nil && rel.Type == models.RelReplace && ev.Message.Content.MsgType != models.MsgTypeReminderDue {
		// Edit of an existing reminder: the entry stays keyed by the
		// original message; a block that no longer decodes cancels it.
		if payload == nil {
			s.unschedule(rel.MessageID)
			return
		}
		if e := s.lookup(rel.MessageID); e != nil {
			s.update(e, *payload)
			return
		}
		// Edit for a message this process never scheduled; treat as new.
		s.schedule(rel.MessageID, ev, *payload)
		return
	}

	if payload == nil {
		return
	}
	s.schedule(ev.Message.ID, ev, *payload)
}

// deferUntilUnsealed retries scheduling exactly once, when the sealed
// message becomes readable.
func (s *Scheduler) deferUntilUnsealed(messageID string) {
	ch := s.client.AwaitUnsealed(messageID)
	go func() {
		select {
		case ev, ok := <-ch:
			if !ok {
				return
			}
			select {
			case s.resub <- ev:
			case <-s.done:
			}
		case <-s.done:
		}
	}()
}

func (s *Scheduler) lookup(key string) *entry {
	if e, ok := s.entries[key]; ok {
		return e
	}
	// A re-keyed entry is findable by its confirmed source id too.
	for _, e := range s.entries {
		if e.sourceID == key {
			return e
		}
	}
	return nil
}

func (s *Scheduler) schedule(key string, ev models.Event, payload models.ReminderPayload) {
	if e := s.lookup(key); e != nil {
		s.update(e, payload)
		return
	}

	next, ok := NextOccurrence(payload, time.Time{})
	if !ok {
		log.Printf("[SCHED] unschedulable reminder %s in %s, retiring", key, ev.RoomID)
		return
	}

	e := &entry{
		key:      key,
		roomID:   ev.RoomID,
		threadID: ev.Message.ThreadID,
		reminder: payload,
		next:     next,
	}
	if !ev.Provisional {
		e.sourceID = ev.Message.ID
	}
	s.entries[key] = e
	s.arm(e)
	log.Printf("[SCHED] armed %s in %s for %s (repeat=%s)", key, e.roomID, next.Format(time.RFC3339), payload.Repeat)
}

// update handles Armed -> Armed on edit: replace the payload, recompute the
// occurrence, discard the old timer. A no-op edit keeps the running timer.
func (s *Scheduler) update(e *entry, payload models.ReminderPayload) {
	next, ok := NextOccurrence(payload, time.Time{})
	if !ok {
		log.Printf("[SCHED] edit made %s unschedulable, retiring", e.key)
		s.retire(e)
		return
	}
	if e.reminder == payload && e.next.Equal(next) {
		return
	}
	e.reminder = payload
	e.next = next
	e.last = nil
	s.arm(e)
	log.Printf("[SCHED] re-armed %s for %s after edit", e.key, next.Format(time.RFC3339))
}

func (s *Scheduler) handleEcho(echo models.EchoUpdate) {
	e, ok := s.entries[echo.PreviousID]
	if !ok {
		return
	}
	// Re-key provisional -> confirmed without touching the timer. The
	// confirmed message can stream in ahead of the echo update and get
	// scheduled under its own key; that duplicate loses to the original.
	delete(s.entries, echo.PreviousID)
	if dup, ok := s.entries[echo.Message.ID]; ok && dup != e {
		s.retire(dup)
	}
	e.key = echo.Message.ID
	e.sourceID = echo.Message.ID
	s.entries[e.key] = e
	log.Printf("[SCHED] re-keyed %s -> %s", echo.PreviousID, e.key)
}

func (s *Scheduler) unschedule(key string) {
	e := s.lookup(key)
	if e == nil {
		return
	}
	s.retire(e)
	log.Printf("[SCHED] retired %s", e.key)
}

func (s *Scheduler) retire(e *entry) {
	if e.timer != nil {
		e.timer.Stop()
		e.timer = nil
	}
	e.gen++
	delete(s.entries, e.key)
}

// arm schedules the entry's timer. Overdue entries fire on the next loop
// turn rather than synchronously. Long delays are clamped; expiry re-checks
// arrival and re-arms the remainder.
func (s *Scheduler) arm(e *entry) {
	if e.timer != nil {
		e.timer.Stop()
	}
	e.gen++
	gen := e.gen

	delay := timerDelay(e.next, s.now())

	target := e
	e.timer = time.AfterFunc(delay, func() {
		select {
		case s.fires <- fire{e: target, gen: gen}:
		case <-s.done:
		}
	})
}

func (s *Scheduler) handleFire(f fire) {
	e := f.e
	if s.entries[e.key] != e || e.gen != f.gen {
		return
	}

	now := s.now()
	if now.Before(e.next) {
		// Clamped timer or early wakeup; not actually due yet.
		s.arm(e)
		return
	}

	occurrence := e.next
	sourceID := e.sourceID
	if sourceID == "" {
		sourceID = SignaturePlaceholder
	}
	sig := Signature(e.roomID, sourceID, e.reminder, occurrence)

	// Fire-and-forget: delivery never blocks the state machine.
	go s.deliver(e.roomID, e.threadID, e.sourceID, sig, e.reminder, occurrence)

	if e.reminder.Repeat == models.RepeatNone {
		s.retire(e)
		log.Printf("[SCHED] fired %s, single-shot, retired", e.key)
		return
	}

	e.last = &occurrence
	next, ok := NextOccurrence(e.reminder, advance(occurrence, e.reminder.Repeat))
	if !ok {
		log.Printf("[SCHED] %s became unschedulable after firing, retiring", e.key)
		s.retire(e)
		return
	}
	e.next = next
	s.arm(e)
	log.Printf("[SCHED] fired %s, re-armed for %s", e.key, next.Format(time.RFC3339))
}

func (s *Scheduler) deliver(roomID string, threadID *string, sourceID, sig string, payload models.ReminderPayload, occurrence time.Time) {
	if s.deduper.ShouldSend(roomID, sourceID, sig, payload, occurrence) {
		content := EncodeDue(payload, sourceID)
		if _, err := s.client.SendMessage(roomID, threadID, content); err != nil {
			log.Printf("[SCHED] failed to send due message for %s: %v", sig, err)
		}
	}

	// Every process notifies its own user, whichever one sent the message.
	if s.notifier.Permitted() && !s.notifier.Silenced() {
		if err := s.notifier.Notify("Reminder", payload.Content, roomID); err != nil {
			log.Printf("[SCHED] notification failed: %v", err)
		}
	}
}

// Snapshot returns the armed entries, for the admin API.
func (s *Scheduler) Snapshot() []models.ScheduledReminderView {
	reply := make(chan []models.ScheduledReminderView, 1)
	cmd := func() {
		views := make([]models.ScheduledReminderView, 0, len(s.entries))
		for _, e := range s.entries {
			views = append(views, models.ScheduledReminderView{
				Key:            e.key,
				RoomID:         e.roomID,
				ThreadID:       e.threadID,
				Reminder:       e.reminder,
				NextOccurrence: e.next,
				LastOccurrence: e.last,
			})
		}
		reply <- views
	}
	select {
	case s.cmds <- cmd:
		select {
		case views := <-reply:
			return views
		case <-s.done:
		}
	case <-s.done:
	}
	return nil
}

// Cancel retires an entry by key, for the admin API.
func (s *Scheduler) Cancel(key string) {
	cmd := func() { s.unschedule(key) }
	select {
	case s.cmds <- cmd:
	case <-s.done:
	}
}
