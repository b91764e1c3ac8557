package compat

import (
	"fmt"
	"strings"
)

type Question struct {
	Text    string
	Options []string
}

var Questions = []Question{
	{"🌅 Your ideal date?", []string{"🏠 A cosy evening at home", "🍽️ A restaurant", "🎬 The movies", "🌳 A long walk"}},
	{"🐾 Cats or dogs?", []string{"🐱 Cats", "🐶 Dogs", "🐹 Something else", "🚫 No pets"}},
	{"🎵 Favourite music?", []string{"🎸 Rock", "🎤 Pop", "🎹 Classical", "🎧 Electronic or rap"}},
	{"☀️ Morning or evening?", []string{"🌅 Early bird", "🌙 Night owl", "🦉 Very much a night owl", "🤷 Depends on the day"}},
	{"🏖️ Ideal holiday?", []string{"🏖️ Beach", "🏔️ Mountains", "🏙️ City", "🏕️ Camping"}},
	{"🍕 Favourite food?", []string{"🍕 Pizza", "🍣 Sushi", "🥗 Something healthy", "🍔 Fast food"}},
	{"💝 What matters most in a relationship?", []string{"🗣️ Talking", "🤗 Hugs", "🎁 Gifts", "✨ Doing things together"}},
}

// QuestionText renders question i (zero based) with numbered options.
func QuestionText(i int) string {
	q := Questions[i]
	var b strings.Builder
	fmt.Fprintf(&b, "💞 Question %d of %d\n\n%s\n", i+1, len(Questions), q.Text)
	for n, option := range q.Options {
		fmt.Fprintf(&b, "\n%d. %s", n+1, option)
	}
	b.WriteString("\n\nReply with the number of your answer.")
	return b.String()
}

func verdict(percent int) string {
	switch {
	case percent >= 80:
		return "🔥 A perfect match. You really are a couple!"
	case percent >= 60:
		return "💕 Great compatibility. You have a lot in common!"
	case percent >= 40:
		return "💛 Not bad. Opposites attract!"
	case percent >= 20:
		return "🤔 You are different, and that can be interesting!"
	default:
		return "😅 Complete opposites. Love still wins!"
	}
}

func ResultText(percent int) string {
	return fmt.Sprintf("💞 Compatibility result\n\n%s\n\n%d%% compatible!\n\n%s",
		strings.Repeat("🔥", percent/20+1), percent, verdict(percent))
}
