package handlers

import (
	"encoding/json"
	"net/http"
	"strings"
	"time"

	"smack-remind/client"
	"smack-remind/models"
	"smack-remind/remind"
)

type ReminderHandler struct {
	scheduler *remind.Scheduler
	client    *client.Client
}

func NewReminderHandler(s *remind.Scheduler, c *client.Client) *ReminderHandler {
	return &ReminderHandler{scheduler: s, client: c}
}

// Create authors a reminder message through the account. The scheduler picks
// it up from its own local echo; nothing is armed directly here.
func (h *ReminderHandler) Create(w http.ResponseWriter, r *http.Request) {
	var req models.CreateReminderRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		return
	}

	if req.Content == "" {
		http.Error(w, "Content is required", http.StatusBadRequest)
		return
	}
	if req.RoomID == "" {
		http.Error(w, "Room ID is required", http.StatusBadRequest)
		return
	}

	repeat := models.Repeat(req.Repeat)
	if req.Repeat == "" {
		repeat = models.RepeatNone
	}
	if !repeat.Valid() {
		http.Error(w, "Invalid repeat cadence", http.StatusBadRequest)
		return
	}

	remindAt, err := parseRemindTime(req.Datetime)
	if err != nil {
		http.Error(w, "Invalid time format: "+err.Error(), http.StatusBadRequest)
		return
	}

	payload := models.ReminderPayload{
		Content:  req.Content,
		Datetime: remindAt.Format(time.RFC3339),
		Repeat:   repeat,
	}

	msg, err := h.client.SendMessage(req.RoomID, req.ThreadID, remind.Encode(payload))
	if err != nil {
		http.Error(w, "Failed to create reminder", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusCreated)
	json.NewEncoder(w).Encode(msg)
}

func (h *ReminderHandler) List(w http.ResponseWriter, r *http.Request) {
	reminders := h.scheduler.Snapshot()
	if reminders == nil {
		reminders = []models.ScheduledReminderView{}
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(reminders)
}

func (h *ReminderHandler) Delete(w http.ResponseWriter, r *http.Request) {
	key := r.PathValue("key")
	if key == "" {
		http.Error(w, "Reminder key required", http.StatusBadRequest)
		return
	}

	h.scheduler.Cancel(key)

	w.WriteHeader(http.StatusOK)
	json.NewEncoder(w).Encode(map[string]string{"status": "cancelled"})
}

// parseRemindTime parses various time formats
func parseRemindTime(input string) (time.Time, error) {
	input = strings.TrimSpace(input)

	// Try ISO 8601 first
	if t, err := time.Parse(time.RFC3339, input); err == nil {
		return t, nil
	}

	// Try common formats
	formats := []string{
		"2006-01-02T15:04:05",
		"2006-01-02 15:04:05",
		"2006-01-02 15:04",
		"2006-01-02",
	}
	for _, format := range formats {
		if t, err := time.Parse(format, input); err == nil {
			return t, nil
		}
	}

	input = strings.ToLower(input)

	// Parse relative times like "in 5 minutes", "in 1 hour", "tomorrow"
	now := time.Now()

	if strings.HasPrefix(input, "in ") {
		return parseRelativeTime(input[3:], now)
	}

	switch input {
	case "tomorrow":
		return now.Add(24 * time.Hour), nil
	case "next week":
		return now.Add(7 * 24 * time.Hour), nil
	}

	// Try parsing as duration directly
	return parseRelativeTime(input, now)
}

func parseRelativeTime(input string, now time.Time) (time.Time, error) {
	input = strings.TrimSpace(input)

	// Parse "5 minutes", "1 hour", "2 days", etc.
	var value int
	var unit string

	_, err := parseTimeComponents(input, &value, &unit)
	if err != nil {
		return time.Time{}, err
	}

	unit = strings.TrimSuffix(unit, "s") // normalize plural

	switch unit {
	case "second":
		return now.Add(time.Duration(value) * time.Second), nil
	case "minute", "min":
		return now.Add(time.Duration(value) * time.Minute), nil
	case "hour", "hr":
		return now.Add(time.Duration(value) * time.Hour), nil
	case "day":
		return now.Add(time.Duration(value) * 24 * time.Hour), nil
	case "week":
		return now.Add(time.Duration(value) * 7 * 24 * time.Hour), nil
	default:
		return time.Time{}, &time.ParseError{Message: "unknown time unit: " + unit}
	}
}

func parseTimeComponents(input string, value *int, unit *string) (bool, error) {
	parts := strings.Fields(input)
	if len(parts) < 2 {
		// Try parsing "5min", "1hr" format
		for i, c := range input {
			if c < '0' || c > '9' {
				numStr := input[:i]
				*unit = input[i:]
				_, err := parseNumber(numStr, value)
				return err == nil, err
			}
		}
		return false, &time.ParseError{Message: "invalid time format"}
	}

	_, err := parseNumber(parts[0], value)
	if err != nil {
		return false, err
	}
	*unit = parts[1]
	return true, nil
}

func parseNumber(s string, result *int) (bool, error) {
	n := 0
	for _, c := range s {
		if c < '0' || c > '9' {
			return false, &time.ParseError{Message: "invalid number"}
		}
		n = n*10 + int(c-'0')
	}
	*result = n
	return true, nil
}
