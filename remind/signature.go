package remind

import (
	"encoding/hex"
	"strconv"
	"time"

	"golang.org/x/crypto/blake2b"

	"smack-remind/models"
)

// Signature derives the de-duplication key for one occurrence of one
// reminder in one room. Every agent process computing the signature for the
// same firing must arrive at the same string, so the digest covers only
// stable inputs and the occurrence instant is reduced to unix seconds.
//
// sourceID is the reminder message id, or a fixed placeholder while the
// message is still a local echo.
func Signature(roomID, sourceID string, payload models.ReminderPayload, occurrence time.Time) string {
	h, _ := blake2b.New256(nil)
	for _, part := range []string{
		roomID,
		sourceID,
		payload.Content,
		payload.Datetime,
		string(payload.Repeat),
		strconv.FormatInt(occurrence.Unix(), 10),
	} {
		h.Write([]byte(part))
		h.Write([]byte{0})
	}
	return hex.EncodeToString(h.Sum(nil))
}

// SignaturePlaceholder stands in for the source message id while a reminder
// only exists as a local echo.
const SignaturePlaceholder = "pending"
