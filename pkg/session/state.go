package session

import (
	"encoding/json"
	"fmt"
	"time"
)

type StateName string

const (
	Idle                 StateName = "idle"
	AwaitRecipient       StateName = "await_recipient"
	AwaitMessage         StateName = "await_message"
	AwaitVoice           StateName = "await_voice"
	AwaitPhoto           StateName = "await_photo"
	AwaitSchedule        StateName = "await_schedule"
	AwaitRouletteMessage StateName = "await_roulette_message"
	AwaitCompatAnswer    StateName = "await_compat_answer"
	InChat               StateName = "in_chat"
)

// State is one step of a multi-message conversation. Each implementation
// carries only what that step needs.
type State interface {
	Name() StateName
}

// Content says what the user will send once the recipient is known.
type Content string

const (
	ContentText  Content = "text"
	ContentVoice Content = "voice"
	ContentPhoto Content = "photo"
)

// Extras are the paid options picked when a send flow starts.
type Extras struct {
	Premium  bool `json:"premium,omitempty"`
	Poem     bool `json:"poem,omitempty"`
	Schedule bool `json:"schedule,omitempty"`
}

// Draft is what a send flow has collected once the recipient is known.
type Draft struct {
	Recipient    string     `json:"recipient"`
	Premium      bool       `json:"premium,omitempty"`
	Poem         bool       `json:"poem,omitempty"`
	ScheduledFor *time.Time `json:"scheduled_for,omitempty"`
}

type IdleState struct{}

type AwaitRecipientState struct {
	Content Content `json:"content"`
	Extras
}

// AwaitScheduleState asks for the delivery time of a scheduled valentine.
type AwaitScheduleState struct {
	Content Content `json:"content"`
	Draft
}

type AwaitMessageState struct {
	Draft
}

type AwaitVoiceState struct {
	Draft
}

type AwaitPhotoState struct {
	Draft
}

type AwaitRouletteMessageState struct{}

// AwaitCompatAnswerState collects questionnaire answers one at a time.
type AwaitCompatAnswerState struct {
	TestID  string `json:"test_id"`
	Answers []int  `json:"answers,omitempty"`
}

type InChatState struct {
	ChatID string `json:"chat_id"`
}

func (IdleState) Name() StateName                 { return Idle }
func (AwaitRecipientState) Name() StateName       { return AwaitRecipient }
func (AwaitScheduleState) Name() StateName        { return AwaitSchedule }
func (AwaitMessageState) Name() StateName         { return AwaitMessage }
func (AwaitVoiceState) Name() StateName           { return AwaitVoice }
func (AwaitPhotoState) Name() StateName           { return AwaitPhoto }
func (AwaitRouletteMessageState) Name() StateName { return AwaitRouletteMessage }
func (AwaitCompatAnswerState) Name() StateName    { return AwaitCompatAnswer }
func (InChatState) Name() StateName               { return InChat }

// DraftFor starts a draft for recipient carrying the picked extras.
func (s AwaitRecipientState) DraftFor(recipient string) Draft {
	return Draft{Recipient: recipient, Premium: s.Premium, Poem: s.Poem}
}

// NextForContent is the state that asks for the content once the draft is
// complete.
func NextForContent(content Content, d Draft) State {
	switch content {
	case ContentVoice:
		return AwaitVoiceState{Draft: d}
	case ContentPhoto:
		return AwaitPhotoState{Draft: d}
	default:
		return AwaitMessageState{Draft: d}
	}
}

var transitions = map[StateName][]StateName{
	Idle:                 {AwaitRecipient, AwaitRouletteMessage, AwaitCompatAnswer, InChat},
	AwaitRecipient:       {AwaitSchedule, AwaitMessage, AwaitVoice, AwaitPhoto, Idle},
	AwaitSchedule:        {AwaitMessage, AwaitVoice, AwaitPhoto, Idle},
	AwaitMessage:         {Idle},
	AwaitVoice:           {Idle},
	AwaitPhoto:           {Idle},
	AwaitRouletteMessage: {Idle},
	AwaitCompatAnswer:    {AwaitCompatAnswer, Idle},
	InChat:               {Idle},
}

// Allowed reports whether the table permits moving from one state to another.
func Allowed(from, to StateName) bool {
	for _, next := range transitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

func encodeState(s State) ([]byte, error) {
	return json.Marshal(s)
}

func decodeState(name StateName, raw []byte) (State, error) {
	if len(raw) == 0 {
		raw = []byte("{}")
	}
	var (
		state State
		err   error
	)
	switch name {
	case Idle:
		return IdleState{}, nil
	case AwaitRecipient:
		var s AwaitRecipientState
		err = json.Unmarshal(raw, &s)
		state = s
	case AwaitSchedule:
		var s AwaitScheduleState
		err = json.Unmarshal(raw, &s)
		state = s
	case AwaitMessage:
		var s AwaitMessageState
		err = json.Unmarshal(raw, &s)
		state = s
	case AwaitVoice:
		var s AwaitVoiceState
		err = json.Unmarshal(raw, &s)
		state = s
	case AwaitPhoto:
		var s AwaitPhotoState
		err = json.Unmarshal(raw, &s)
		state = s
	case AwaitRouletteMessage:
		return AwaitRouletteMessageState{}, nil
	case AwaitCompatAnswer:
		var s AwaitCompatAnswerState
		err = json.Unmarshal(raw, &s)
		state = s
	case InChat:
		var s InChatState
		err = json.Unmarshal(raw, &s)
		state = s
	default:
		return nil, fmt.Errorf("unknown session state %q", name)
	}
	if err != nil {
		return nil, fmt.Errorf("decode %s state: %w", name, err)
	}
	return state, nil
}
