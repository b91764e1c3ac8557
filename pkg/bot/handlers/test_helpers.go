package handlers

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"mime"
	"mime/multipart"
	"net/http"
	"strings"
	"sync"
	"testing"
	"time"

	telegram "github.com/go-telegram/bot"
	"github.com/go-telegram/bot/models"
	"github.com/smith3v/valentine-bot/pkg/achievement"
	"github.com/smith3v/valentine-bot/pkg/anonchat"
	"github.com/smith3v/valentine-bot/pkg/clock"
	"github.com/smith3v/valentine-bot/pkg/compat"
	"github.com/smith3v/valentine-bot/pkg/config"
	"github.com/smith3v/valentine-bot/pkg/entitlement"
	"github.com/smith3v/valentine-bot/pkg/internal/testutil"
	"github.com/smith3v/valentine-bot/pkg/logger"
	"github.com/smith3v/valentine-bot/pkg/payment"
	"github.com/smith3v/valentine-bot/pkg/quota"
	"github.com/smith3v/valentine-bot/pkg/roulette"
	"github.com/smith3v/valentine-bot/pkg/session"
	"github.com/smith3v/valentine-bot/pkg/subscription"
	"github.com/smith3v/valentine-bot/pkg/users"
	"github.com/smith3v/valentine-bot/pkg/valentine"
	"gorm.io/gorm"
)

type recordedRequest struct {
	path        string
	method      string
	contentType string
	body        []byte
}

type mockClient struct {
	mu       sync.Mutex
	requests []recordedRequest
	response string
}

func newMockClient() *mockClient {
	return &mockClient{
		response: `{"ok":true,"result":{}}`,
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
	m.requests = append(m.requests, recordedRequest{
		path:        req.URL.Path,
		method:      req.Method,
		contentType: req.Header.Get("Content-Type"),
		body:        body,
	})
	m.mu.Unlock()

	response := m.response
	if strings.HasSuffix(req.URL.Path, "/answerPreCheckoutQuery") {
		response = `{"ok":true,"result":true}`
	}
	resp := &http.Response{
		StatusCode: http.StatusOK,
		Body:       io.NopCloser(strings.NewReader(response)),
		Header:     make(http.Header),
	}
	return resp, nil
}

// lastRequestTo returns the newest request whose path ends with method.
func (m *mockClient) lastRequestTo(t *testing.T, method string) recordedRequest {
	t.Helper()
	m.mu.Lock()
	defer m.mu.Unlock()
	for i := len(m.requests) - 1; i >= 0; i-- {
		if strings.HasSuffix(m.requests[i].path, "/"+method) {
			return m.requests[i]
		}
	}
	t.Fatalf("no %s request recorded", method)
	return recordedRequest{}
}

func (m *mockClient) lastMessageText(t *testing.T) string {
	t.Helper()
	return m.field(t, m.lastRequestTo(t, "sendMessage"), "text")
}

func (m *mockClient) field(t *testing.T, req recordedRequest, fieldName string) string {
	t.Helper()
	mediaType, params, err := mime.ParseMediaType(req.contentType)
	if err != nil {
		t.Fatalf("failed to parse media type: %v", err)
	}
	if !strings.HasPrefix(mediaType, "multipart/") {
		t.Fatalf("unexpected media type: %s", mediaType)
	}

	reader := multipart.NewReader(bytes.NewReader(req.body), params["boundary"])
	for {
		part, err := reader.NextPart()
		if err == io.EOF {
			break
		}
		if err != nil {
			t.Fatalf("failed to read multipart part: %v", err)
		}
		if part.FormName() == fieldName {
			data, err := io.ReadAll(part)
			if err != nil {
				t.Fatalf("failed to read multipart field: %v", err)
			}
			return string(data)
		}
	}
	return ""
}

func (m *mockClient) count(method string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for _, req := range m.requests {
		if strings.HasSuffix(req.path, "/"+method) {
			n++
		}
	}
	return n
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

func newTestUpdate(text string, userID int64, username string) *models.Update {
	return &models.Update{
		Message: &models.Message{
			From: &models.User{
				ID:        userID,
				Username:  username,
				FirstName: "Test",
			},
			Chat: models.Chat{
				ID:   userID,
				Type: models.ChatTypePrivate,
			},
			Text: text,
		},
	}
}

// updateFromJSON decodes a raw Bot API update, the way Telegram delivers it.
func updateFromJSON(t *testing.T, raw string) *models.Update {
	t.Helper()
	var update models.Update
	if err := json.Unmarshal([]byte(raw), &update); err != nil {
		t.Fatalf("failed to decode update: %v", err)
	}
	return &update
}

type testEnv struct {
	gdb       *gorm.DB
	clock     *clock.Fake
	cfg       config.Config
	messenger *testutil.FakeMessenger
	handlers  *Handlers
	client    *mockClient
	bot       *telegram.Bot
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	logger.SetLogLevel(logger.ERROR)
	gdb := testutil.SetupTestDB(t)
	fake := clock.NewFake(time.Date(2025, 2, 14, 8, 0, 0, 0, time.UTC))
	cfg := config.Default()
	m := testutil.NewFakeMessenger()

	subs := subscription.NewManager(gdb, fake.Now)
	directory := users.NewDirectory(gdb, subs)
	ledger := quota.NewLedger(gdb, subs, cfg.Limits, time.UTC, fake.Now)
	ents := entitlement.NewStore(gdb, fake.Now)
	achievements := achievement.NewStore(gdb, fake.Now)
	store := valentine.NewStore(gdb, cfg.Limits.InboxPageSize, fake.Now)
	service := valentine.NewService(valentine.Deps{
		DB:           gdb,
		Store:        store,
		Ledger:       ledger,
		Subs:         subs,
		Entitlements: ents,
		Achievements: achievements,
		Directory:    directory,
		Messenger:    m,
		Limits:       cfg.Limits,
		Now:          fake.Now,
	})

	tests := compat.NewService(gdb, m, fake.Now)
	chats := anonchat.NewService(anonchat.Deps{
		DB:         gdb,
		Valentines: store,
		Messenger:  m,
		MaxLength:  cfg.Limits.MaxMessageLength,
		Now:        fake.Now,
	})

	h := New(Services{
		Users:      directory,
		Valentines: service,
		Roulette: roulette.NewMatcher(roulette.Deps{
			DB:           gdb,
			Valentines:   store,
			Deliverer:    service.Deliverer(),
			Ledger:       ledger,
			Entitlements: ents,
			Achievements: achievements,
			Messenger:    m,
			MaxLength:    cfg.Limits.MaxMessageLength,
			Now:          fake.Now,
		}),
		Payments: payment.NewReconciler(payment.Deps{
			DB:           gdb,
			Valentines:   store,
			Ledger:       ledger,
			Subs:         subs,
			Entitlements: ents,
			Achievements: achievements,
			Compat:       tests,
			Messenger:    m,
			Prices:       cfg.Prices,
			Limits:       cfg.Limits,
			Gifts:        cfg.Gifts,
			Now:          fake.Now,
		}),
		Compat:   tests,
		Chats:    chats,
		Sessions: session.NewStore(gdb, cfg.Sessions.TTL(), fake.Now),
		Gifts:    cfg.Gifts,
		Location: time.UTC,
		Now:      fake.Now,
	})

	client := newMockClient()
	return &testEnv{
		gdb:       gdb,
		clock:     fake,
		cfg:       cfg,
		messenger: m,
		handlers:  h,
		client:    client,
		bot:       newTestTelegramBot(t, client),
	}
}
