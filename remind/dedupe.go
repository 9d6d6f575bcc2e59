package remind

import (
	"log"
	"time"

	"smack-remind/models"
)

// timelineScanLimit bounds how far back the room timeline is scanned for an
// already-delivered due message.
const timelineScanLimit = 100

// Deduper decides whether this process should be the one to send the due
// message for an occurrence. Several agent processes on the same account run
// the same protocol against the same shared store; the layered checks keep
// double-sends rare, not impossible. The shared store has no compare-and-swap,
// so every step fails open: on storage trouble a duplicate send is preferred
// over a silent miss.
type Deduper struct {
	client     Client
	store      SharedStore
	instanceID string
	grace      time.Duration
}

func NewDeduper(client Client, store SharedStore, instanceID string, grace time.Duration) *Deduper {
	return &Deduper{
		client:     client,
		store:      store,
		instanceID: instanceID,
		grace:      grace,
	}
}

// ShouldSend runs the protocol for one occurrence:
//
//  1. signature already in the sent-cache -> skip
//  2. a matching due message already in the room timeline or pending -> skip
//  3. grace-window wait for one to arrive from a peer -> skip if it does
//  4. advisory lock attempt -> skip if some fresh claim exists
//  5. one last timeline re-check -> skip if found
//  6. record the signature and send
func (d *Deduper) ShouldSend(roomID, sourceID, signature string, payload models.ReminderPayload, occurrence time.Time) bool {
	seen, err := d.store.SeenSignature(signature)
	if err != nil {
		log.Printf("[DEDUPE] sent-cache read failed, continuing: %v", err)
	} else if seen {
		log.Printf("[DEDUPE] %s already in sent-cache, skipping", signature)
		return false
	}

	if d.roomHasDueMessage(roomID, sourceID, payload, occurrence) {
		log.Printf("[DEDUPE] due message for %s already in room, skipping", signature)
		return false
	}

	if d.waitForPeerDelivery(roomID, sourceID, payload, occurrence) {
		log.Printf("[DEDUPE] peer delivered %s during grace window, skipping", signature)
		return false
	}

	acquired, err := d.store.TryAcquireSendLock(signature, d.instanceID)
	if err != nil {
		log.Printf("[DEDUPE] lock attempt failed, continuing: %v", err)
	} else if !acquired {
		log.Printf("[DEDUPE] send-lock for %s already claimed, skipping", signature)
		return false
	}

	if d.roomHasDueMessage(roomID, sourceID, payload, occurrence) {
		log.Printf("[DEDUPE] due message for %s appeared after lock, skipping", signature)
		return false
	}

	if err := d.store.RecordSent(signature); err != nil {
		log.Printf("[DEDUPE] sent-cache write failed, sending anyway: %v", err)
	}
	return true
}

// roomHasDueMessage scans the known timeline plus locally pending messages.
func (d *Deduper) roomHasDueMessage(roomID, sourceID string, payload models.ReminderPayload, occurrence time.Time) bool {
	for _, msg := range d.client.RoomMessages(roomID, timelineScanLimit) {
		if d.matches(msg, sourceID, payload, occurrence) {
			return true
		}
	}
	for _, msg := range d.client.PendingMessages(roomID) {
		if d.matches(msg, sourceID, payload, occurrence) {
			return true
		}
	}
	return false
}

// waitForPeerDelivery listens on the live stream for a matching due message
// for one grace window.
func (d *Deduper) waitForPeerDelivery(roomID, sourceID string, payload models.ReminderPayload, occurrence time.Time) bool {
	events, detach := d.client.SubscribeEvents()
	defer detach()

	deadline := time.NewTimer(d.grace)
	defer deadline.Stop()

	for {
		select {
		case ev, ok := <-events:
			if !ok {
				return false
			}
			if ev.Removed || ev.RoomID != roomID {
				continue
			}
			if d.matches(ev.Message, sourceID, payload, occurrence) {
				return true
			}
		case <-deadline.C:
			return false
		}
	}
}

// matches recognizes a due message for this occurrence: by relation to the
// source message when both sides carry one, otherwise by body equality plus
// timestamp proximity. The fallback is heuristic; two reminders with the
// same content due at nearly the same instant can cross-match.
func (d *Deduper) matches(msg models.Message, sourceID string, payload models.ReminderPayload, occurrence time.Time) bool {
	if msg.Content.MsgType != models.MsgTypeReminderDue {
		return false
	}
	if sourceID != "" && msg.Content.RelatesTo != nil {
		return msg.Content.RelatesTo.MessageID == sourceID
	}
	if msg.Content.Body != EncodeDue(payload, sourceID).Body {
		return false
	}
	diff := msg.CreatedAt.Sub(occurrence)
	if diff < 0 {
		diff = -diff
	}
	return diff <= d.grace
}
