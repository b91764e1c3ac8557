package messenger

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"testing"
	"time"

	telegram "github.com/go-telegram/bot"
	"github.com/smith3v/valentine-bot/pkg/apperr"
)

type recordedRequest struct {
	path string
	body string
}

type mockClient struct {
	mu       sync.Mutex
	requests []recordedRequest
	response string
	status   int
}

func newMockClient() *mockClient {
	return &mockClient{
		response: `{"ok":true,"result":{}}`,
		status:   http.StatusOK,
	}
}

func (m *mockClient) Do(req *http.Request) (*http.Response, error) {
	body, err := io.ReadAll(req.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read request body: %w", err)
	}
	if err := req.Body.Close(); err != nil {
		return nil, fmt.Errorf("failed to close request body: %w", err)
	}
	m.mu.Lock()
	m.requests = append(m.requests, recordedRequest{path: req.URL.Path, body: string(body)})
	m.mu.Unlock()

	return &http.Response{
		StatusCode: m.status,
		Body:       io.NopCloser(strings.NewReader(m.response)),
		Header:     make(http.Header),
	}, nil
}

func newTestTelegramBot(t *testing.T, client *mockClient) *telegram.Bot {
	t.Helper()
	b, err := telegram.New("test-token",
		telegram.WithSkipGetMe(),
		telegram.WithHTTPClient(time.Second, client),
	)
	if err != nil {
		t.Fatalf("failed to create test bot: %v", err)
	}
	return b
}

func TestTelegramSendRoutesByPayload(t *testing.T) {
	cases := []struct {
		name     string
		payload  Payload
		endpoint string
		contains string
	}{
		{name: "text", payload: Payload{Text: "You have a valentine"}, endpoint: "/sendMessage", contains: "You have a valentine"},
		{name: "voice", payload: Payload{VoiceFileID: "voice-1", Caption: "listen"}, endpoint: "/sendVoice", contains: "voice-1"},
		{name: "photo", payload: Payload{PhotoFileID: "photo-1", Caption: "look"}, endpoint: "/sendPhoto", contains: "photo-1"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			client := newMockClient()
			m := NewTelegram(newTestTelegramBot(t, client), time.Second)

			if err := m.Send(context.Background(), 77, tc.payload); err != nil {
				t.Fatalf("Send returned error: %v", err)
			}
			if len(client.requests) != 1 {
				t.Fatalf("expected one request, got %d", len(client.requests))
			}
			req := client.requests[0]
			if !strings.HasSuffix(req.path, tc.endpoint) {
				t.Fatalf("expected %s, got %s", tc.endpoint, req.path)
			}
			if !strings.Contains(req.body, tc.contains) {
				t.Fatalf("expected body to contain %q, got %s", tc.contains, req.body)
			}
		})
	}
}

func TestTelegramSendWrapsFailures(t *testing.T) {
	client := newMockClient()
	client.status = http.StatusForbidden
	client.response = `{"ok":false,"error_code":403,"description":"Forbidden: bot was blocked by the user"}`
	m := NewTelegram(newTestTelegramBot(t, client), 0)

	err := m.Send(context.Background(), 77, Payload{Text: "hi"})
	if err == nil {
		t.Fatalf("expected error from blocked user")
	}
	if !errors.Is(err, apperr.ErrDelivery) {
		t.Fatalf("expected delivery error, got %v", err)
	}
}
