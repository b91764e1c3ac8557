package bot

import (
	"strings"
	"testing"

	"github.com/go-telegram/bot"
)

func TestCommandsAreWellFormed(t *testing.T) {
	seen := make(map[string]bool)
	for _, c := range commands {
		if c.name == "" || strings.HasPrefix(c.name, "/") {
			t.Fatalf("bad command name %q", c.name)
		}
		if c.name != strings.ToLower(c.name) {
			t.Fatalf("command %q must be lower case", c.name)
		}
		if seen[c.name] {
			t.Fatalf("duplicate command %q", c.name)
		}
		seen[c.name] = true
		if c.description == "" {
			t.Fatalf("command %q has no description", c.name)
		}
		if c.handler(nil) == nil {
			t.Fatalf("command %q has no handler", c.name)
		}
	}
}

func TestArgumentCommandsMatchByPrefix(t *testing.T) {
	withArgs := map[string]bool{"start": true, "inbox": true, "reveal": true, "bundle": true, "subscribe": true,
		"chat": true, "join": true, "gift": true, "buy": true}
	for _, c := range commands {
		want := bot.MatchTypeExact
		if withArgs[c.name] {
			want = bot.MatchTypePrefix
		}
		if c.match != want {
			t.Fatalf("command %q has match type %v, want %v", c.name, c.match, want)
		}
	}
}
