package valentine

import (
	"context"
	"strings"

	"github.com/smith3v/valentine-bot/pkg/apperr"
	"github.com/smith3v/valentine-bot/pkg/db"
	"github.com/smith3v/valentine-bot/pkg/messenger"
)

// Deliverer turns a valentine into messenger payloads. Direct sends and the
// scheduler share it so both produce the same side effects.
type Deliverer struct {
	m messenger.Messenger
}

func NewDeliverer(m messenger.Messenger) *Deliverer {
	return &Deliverer{m: m}
}

// Deliver sends the text first, then any voice or photo attachment. The first
// failure aborts the rest.
func (d *Deliverer) Deliver(ctx context.Context, v *db.Valentine) error {
	if v.ReceiverID == nil {
		return apperr.Precondition("valentine has no receiver yet")
	}
	for _, payload := range Payloads(v) {
		if err := d.m.Send(ctx, *v.ReceiverID, payload); err != nil {
			return err
		}
	}
	return nil
}

func Payloads(v *db.Valentine) []messenger.Payload {
	var b strings.Builder
	if v.IsPremium {
		b.WriteString("✨💎✨ ")
	}
	b.WriteString("💌 You received an anonymous valentine!")
	if v.Message != "" {
		b.WriteString("\n\n")
		if v.IsPoem {
			b.WriteString("📜 A poem for you:\n\n")
		}
		b.WriteString(v.Message)
	}
	if v.IsPremium {
		b.WriteString("\n\n💖💖💖")
	}
	if v.GiftEmoji != "" {
		b.WriteString("\n\nGift: ")
		b.WriteString(v.GiftEmoji)
	}
	if v.MusicURL != "" {
		b.WriteString("\n\nSong: ")
		b.WriteString(v.MusicURL)
	}

	out := []messenger.Payload{{Text: b.String()}}
	if v.VoiceFileID != "" {
		out = append(out, messenger.Payload{VoiceFileID: v.VoiceFileID, Caption: "🎤 Voice valentine"})
	}
	if v.PhotoFileID != "" {
		out = append(out, messenger.Payload{PhotoFileID: v.PhotoFileID, Caption: "📸 Photo valentine"})
	}
	return out
}
