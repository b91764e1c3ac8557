package valentine

import (
	"strings"
	"testing"

	"github.com/smith3v/valentine-bot/pkg/db"
)

func TestPayloads(t *testing.T) {
	tests := []struct {
		name     string
		v        db.Valentine
		payloads int
		contains []string
		absent   []string
	}{
		{
			name:     "plain text",
			v:        db.Valentine{Message: "hi"},
			payloads: 1,
			contains: []string{"anonymous valentine", "hi"},
			absent:   []string{"💎", "poem"},
		},
		{
			name:     "premium poem with gift",
			v:        db.Valentine{Message: "roses are red", IsPremium: true, IsPoem: true, GiftEmoji: "🌹"},
			payloads: 1,
			contains: []string{"✨💎✨", "A poem for you", "roses are red", "Gift: 🌹"},
		},
		{
			name:     "voice without caption",
			v:        db.Valentine{VoiceFileID: "voice-1"},
			payloads: 2,
			absent:   []string{"poem"},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Payloads(&tt.v)
			if len(got) != tt.payloads {
				t.Fatalf("expected %d payloads, got %d", tt.payloads, len(got))
			}
			for _, want := range tt.contains {
				if !strings.Contains(got[0].Text, want) {
					t.Fatalf("expected %q in %q", want, got[0].Text)
				}
			}
			for _, unwanted := range tt.absent {
				if strings.Contains(got[0].Text, unwanted) {
					t.Fatalf("did not expect %q in %q", unwanted, got[0].Text)
				}
			}
		})
	}
}
