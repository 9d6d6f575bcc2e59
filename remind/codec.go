package remind

import (
	"smack-remind/models"
)

// Encode builds the message content for a reminder-creation message: the
// structured block plus a plain-text fallback line for clients that don't
// understand reminders.
func Encode(payload models.ReminderPayload) models.MessageContent {
	return models.MessageContent{
		Body:    FallbackBody(payload),
		MsgType: models.MsgTypeReminder,
		Reminder: &models.ReminderContent{
			ReminderPayload: payload,
			Version:         models.ReminderContentVersion,
		},
	}
}

// EncodeEdit builds the content for an edited reminder: a full replacement
// block relating back to the message being replaced. The codec keeps no edit
// history; each edit is a complete new payload.
func EncodeEdit(payload models.ReminderPayload, replacesID string) models.MessageContent {
	content := Encode(payload)
	content.RelatesTo = &models.Relation{
		Type:      models.RelReplace,
		MessageID: replacesID,
	}
	return content
}

// EncodeDue builds the content of the due notice for one occurrence,
// relating back to the reminder message when its id is known.
func EncodeDue(payload models.ReminderPayload, sourceID string) models.MessageContent {
	content := models.MessageContent{
		Body:    "Reminder due: " + payload.Content,
		MsgType: models.MsgTypeReminderDue,
	}
	if sourceID != "" {
		content.RelatesTo = &models.Relation{
			Type:      models.RelReplace,
			MessageID: sourceID,
		}
	}
	return content
}

// Decode extracts a reminder payload from message content. Returns nil for
// anything that is not a valid reminder of the understood schema version:
// missing block, missing fields, bad datetime, unknown cadence, version
// mismatch. Never an error; such messages degrade to their fallback body.
func Decode(content models.MessageContent) *models.ReminderPayload {
	block := content.Reminder
	if block == nil {
		return nil
	}
	if block.Version != models.ReminderContentVersion {
		return nil
	}
	if block.Content == "" || block.Datetime == "" {
		return nil
	}
	if !block.Repeat.Valid() {
		return nil
	}
	if _, err := block.Time(); err != nil {
		return nil
	}
	payload := block.ReminderPayload
	return &payload
}

// FallbackBody renders the human-readable line shown by unaware clients.
func FallbackBody(payload models.ReminderPayload) string {
	when, err := payload.Time()
	if err != nil {
		return "Reminder: " + payload.Content
	}
	local := when.Local()
	return "Reminder: " + payload.Content + " - " + local.Format("Jan 2, 2006") + " " + local.Format("15:04")
}
