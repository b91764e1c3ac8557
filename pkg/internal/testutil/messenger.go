package testutil

import (
	"context"
	"errors"
	"sync"

	"github.com/smith3v/valentine-bot/pkg/messenger"
)

type SentMessage struct {
	UserID  int64
	Payload messenger.Payload
}

// FakeMessenger records every payload. Users listed in Fail get an error.
type FakeMessenger struct {
	mu   sync.Mutex
	Sent []SentMessage
	Fail map[int64]bool
}

func NewFakeMessenger() *FakeMessenger {
	return &FakeMessenger{Fail: make(map[int64]bool)}
}

func (m *FakeMessenger) Send(_ context.Context, userID int64, payload messenger.Payload) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.Fail[userID] {
		return errors.New("messenger unavailable")
	}
	m.Sent = append(m.Sent, SentMessage{UserID: userID, Payload: payload})
	return nil
}

func (m *FakeMessenger) SetFail(userID int64, fail bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Fail[userID] = fail
}

func (m *FakeMessenger) SentTo(userID int64) []messenger.Payload {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []messenger.Payload
	for _, s := range m.Sent {
		if s.UserID == userID {
			out = append(out, s.Payload)
		}
	}
	return out
}

func (m *FakeMessenger) Count() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.Sent)
}
