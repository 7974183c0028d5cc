package notify

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"github.com/vigil-sec/vigil/internal/alarm"
	"github.com/vigil-sec/vigil/internal/camera"
)

type telegramCall struct {
	method string
	chatID string
	text   string
}

// fakeTelegram serves the Bot API envelope and records calls
type fakeTelegram struct {
	mu    sync.Mutex
	calls []telegramCall
	fail  bool
}

func (f *fakeTelegram) handler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		parts := strings.Split(r.URL.Path, "/")
		method := parts[len(parts)-1]

		call := telegramCall{method: method}
		if strings.HasPrefix(r.Header.Get("Content-Type"), "multipart/form-data") {
			if err := r.ParseMultipartForm(1 << 20); err == nil {
				call.chatID = r.FormValue("chat_id")
				call.text = r.FormValue("caption")
			}
		} else {
			if err := r.ParseForm(); err == nil {
				call.chatID = r.FormValue("chat_id")
				call.text = r.FormValue("text")
			}
		}

		f.mu.Lock()
		f.calls = append(f.calls, call)
		fail := f.fail
		f.mu.Unlock()

		if fail {
			w.Write([]byte(`{"ok":false,"description":"chat not found"}`))
			return
		}
		w.Write([]byte(`{"ok":true,"result":{}}`))
	}
}

func (f *fakeTelegram) recorded() []telegramCall {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]telegramCall(nil), f.calls...)
}

func newTestClient(t *testing.T, fake *fakeTelegram, chatIDs ...int64) *TelegramClient {
	t.Helper()
	srv := httptest.NewServer(fake.handler())
	t.Cleanup(srv.Close)

	client := NewTelegramClient("test-token", chatIDs)
	client.baseURL = srv.URL
	return client
}

func TestSendMessage(t *testing.T) {
	fake := &fakeTelegram{}
	client := newTestClient(t, fake, 42)

	if err := client.Send(context.Background(), "Person detected", nil); err != nil {
		t.Fatalf("Send failed: %v", err)
	}

	calls := fake.recorded()
	if len(calls) != 1 || calls[0].method != "sendMessage" {
		t.Fatalf("Unexpected calls %+v", calls)
	}
	if calls[0].chatID != "42" || calls[0].text != "Person detected" {
		t.Errorf("Unexpected payload %+v", calls[0])
	}
}

func TestSendPhoto(t *testing.T) {
	fake := &fakeTelegram{}
	client := newTestClient(t, fake, 42)

	if err := client.Send(context.Background(), "Intruder", []byte{0xff, 0xd8}); err != nil {
		t.Fatalf("Send failed: %v", err)
	}

	calls := fake.recorded()
	if len(calls) != 1 || calls[0].method != "sendPhoto" {
		t.Fatalf("Unexpected calls %+v", calls)
	}
	if calls[0].text != "Intruder" {
		t.Errorf("Caption = %q", calls[0].text)
	}
}

func TestSendFansOutToAllChats(t *testing.T) {
	fake := &fakeTelegram{}
	client := newTestClient(t, fake, 1, 2, 3)

	if err := client.Send(context.Background(), "hello", nil); err != nil {
		t.Fatalf("Send failed: %v", err)
	}
	if got := len(fake.recorded()); got != 3 {
		t.Errorf("Expected 3 deliveries, got %d", got)
	}
}

func TestSendAPIError(t *testing.T) {
	fake := &fakeTelegram{fail: true}
	client := newTestClient(t, fake, 42)

	err := client.Send(context.Background(), "hello", nil)
	if err == nil || !strings.Contains(err.Error(), "chat not found") {
		t.Errorf("Expected API error, got %v", err)
	}
}

// fakeController implements alarm.Controller for bot tests
type fakeController struct {
	mu       sync.Mutex
	armed    int
	disarmed int
	frame    *camera.Frame
}

func (f *fakeController) Arm() (bool, string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.armed++
	return true, ""
}

func (f *fakeController) Disarm() (bool, string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.disarmed++
	return true, ""
}

func (f *fakeController) Status() alarm.Status {
	return alarm.Status{State: "armed", CameraOpen: true}
}

func (f *fakeController) CurrentFrame() *camera.Frame { return f.frame }

func TestBotArmCommand(t *testing.T) {
	fake := &fakeTelegram{}
	client := newTestClient(t, fake, 42)
	controller := &fakeController{}
	bot := NewBot(client, controller, nil)

	bot.handleCommand(context.Background(), 42, "/arm")

	if controller.armed != 1 {
		t.Error("Arm was not invoked")
	}
	calls := fake.recorded()
	if len(calls) != 1 || !strings.Contains(calls[0].text, "System armed") {
		t.Errorf("Unexpected reply %+v", calls)
	}
}

func TestBotDisarmCommand(t *testing.T) {
	fake := &fakeTelegram{}
	client := newTestClient(t, fake, 42)
	controller := &fakeController{}
	bot := NewBot(client, controller, nil)

	bot.handleCommand(context.Background(), 42, "/disarm")

	if controller.disarmed != 1 {
		t.Error("Disarm was not invoked")
	}
}

func TestBotStatusCommand(t *testing.T) {
	fake := &fakeTelegram{}
	client := newTestClient(t, fake, 42)
	bot := NewBot(client, &fakeController{}, nil)

	bot.handleCommand(context.Background(), 42, "/status")

	calls := fake.recorded()
	if len(calls) != 1 || !strings.Contains(calls[0].text, "State: armed") {
		t.Errorf("Unexpected reply %+v", calls)
	}
}

func TestFormatStatusUptime(t *testing.T) {
	s := alarm.Status{State: "armed", UptimeSeconds: 42.7}

	text := formatStatus(s)
	if !strings.Contains(text, "Uptime: 43s") {
		t.Errorf("Uptime rendered as %q", text)
	}
	if strings.Contains(text, "%!") {
		t.Errorf("Status contains a formatting error: %q", text)
	}
}

func TestBotSnapshotCommand(t *testing.T) {
	fake := &fakeTelegram{}
	client := newTestClient(t, fake, 42)
	controller := &fakeController{frame: &camera.Frame{Data: []byte{1}, Width: 1, Height: 1}}
	encoder := func(f *camera.Frame) ([]byte, error) { return []byte{0xff, 0xd8}, nil }
	bot := NewBot(client, controller, encoder)

	bot.handleCommand(context.Background(), 42, "/snapshot")

	calls := fake.recorded()
	if len(calls) != 1 || calls[0].method != "sendPhoto" {
		t.Errorf("Expected a photo reply, got %+v", calls)
	}
}

func TestBotIgnoresUnauthorizedChat(t *testing.T) {
	fake := &fakeTelegram{}
	client := newTestClient(t, fake, 42)
	controller := &fakeController{}
	bot := NewBot(client, controller, nil)

	bot.handleCommand(context.Background(), 999, "/arm")

	if controller.armed != 0 {
		t.Error("Unauthorized chat must not arm the system")
	}
	if len(fake.recorded()) != 0 {
		t.Error("Unauthorized chat must not receive a reply")
	}
}

func TestBotStripsBotSuffix(t *testing.T) {
	fake := &fakeTelegram{}
	client := newTestClient(t, fake, 42)
	controller := &fakeController{}
	bot := NewBot(client, controller, nil)

	bot.handleCommand(context.Background(), 42, "/arm@vigil_bot")

	if controller.armed != 1 {
		t.Error("Command with bot suffix was not recognized")
	}
}
