package notify

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/vigil-sec/vigil/internal/alarm"
	"github.com/vigil-sec/vigil/internal/camera"
)

const (
	pollTimeout  = 30 * time.Second
	pollErrDelay = 5 * time.Second
)

// Bot runs the Telegram command loop. Only chats in the configured
// allowlist may control the system.
type Bot struct {
	client     *TelegramClient
	controller alarm.Controller
	encoder    func(*camera.Frame) ([]byte, error)
	allowed    map[int64]bool
	logger     *slog.Logger

	mu      sync.Mutex
	running bool
	cancel  context.CancelFunc
	doneCh  chan struct{}
}

// NewBot creates the command bot. The encoder turns frames into JPEG
// for /snapshot replies and may be nil.
func NewBot(client *TelegramClient, controller alarm.Controller, encoder func(*camera.Frame) ([]byte, error)) *Bot {
	allowed := make(map[int64]bool, len(client.chatIDs))
	for _, id := range client.chatIDs {
		allowed[id] = true
	}
	return &Bot{
		client:     client,
		controller: controller,
		encoder:    encoder,
		allowed:    allowed,
		logger:     slog.Default().With("component", "telegram_bot"),
	}
}

// Start launches the long-poll loop
func (b *Bot) Start() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.running {
		return
	}
	ctx, cancel := context.WithCancel(context.Background())
	b.cancel = cancel
	b.doneCh = make(chan struct{})
	b.running = true
	go b.poll(ctx, b.doneCh)
	b.logger.Info("Bot command loop started")
}

// Stop cancels the loop and waits for it to exit
func (b *Bot) Stop() {
	b.mu.Lock()
	if !b.running {
		b.mu.Unlock()
		return
	}
	b.running = false
	cancel, doneCh := b.cancel, b.doneCh
	b.mu.Unlock()

	cancel()
	<-doneCh
	b.logger.Info("Bot command loop stopped")
}

// poll long-polls getUpdates and dispatches commands
func (b *Bot) poll(ctx context.Context, doneCh chan struct{}) {
	defer close(doneCh)

	var offset int64
	for {
		updates, err := b.client.getUpdates(ctx, offset, pollTimeout)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			b.logger.Warn("Failed to poll updates", "error", err)
			select {
			case <-ctx.Done():
				return
			case <-time.After(pollErrDelay):
			}
			continue
		}

		for _, u := range updates {
			if u.UpdateID >= offset {
				offset = u.UpdateID + 1
			}
			if u.Message == nil {
				continue
			}
			b.handleCommand(ctx, u.Message.Chat.ID, u.Message.Text)
		}
	}
}

// handleCommand executes one bot command and replies to the chat
func (b *Bot) handleCommand(ctx context.Context, chatID int64, text string) {
	if !b.allowed[chatID] {
		b.logger.Warn("Command from unauthorized chat", "chat_id", chatID)
		return
	}

	command := strings.ToLower(strings.TrimSpace(text))
	if i := strings.Index(command, "@"); i > 0 {
		command = command[:i]
	}

	switch command {
	case "/arm":
		ok, msg := b.controller.Arm()
		b.reply(ctx, chatID, commandReply(ok, "System armed", msg))
	case "/disarm":
		ok, msg := b.controller.Disarm()
		b.reply(ctx, chatID, commandReply(ok, "System disarmed", msg))
	case "/status":
		b.reply(ctx, chatID, formatStatus(b.controller.Status()))
	case "/snapshot":
		b.sendSnapshot(ctx, chatID)
	case "/help", "/start":
		b.reply(ctx, chatID, "Commands: /arm /disarm /status /snapshot")
	default:
		b.logger.Debug("Unknown command", "text", text)
	}
}

func (b *Bot) sendSnapshot(ctx context.Context, chatID int64) {
	frame := b.controller.CurrentFrame()
	if frame == nil || b.encoder == nil {
		b.reply(ctx, chatID, "No frame available")
		return
	}
	jpeg, err := b.encoder(frame)
	if err != nil {
		b.logger.Error("Failed to encode snapshot", "error", err)
		b.reply(ctx, chatID, "Snapshot failed")
		return
	}
	if err := b.client.sendPhoto(ctx, chatID, "Current view", jpeg); err != nil {
		b.logger.Error("Failed to send snapshot", "error", err)
	}
}

func (b *Bot) reply(ctx context.Context, chatID int64, text string) {
	if err := b.client.sendMessage(ctx, chatID, text); err != nil {
		b.logger.Error("Failed to send reply", "error", err)
	}
}

func commandReply(ok bool, success, msg string) string {
	if ok {
		if msg != "" {
			return fmt.Sprintf("%s (%s)", success, msg)
		}
		return success
	}
	return "Failed: " + msg
}

// formatStatus renders the system status for chat
func formatStatus(s alarm.Status) string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "State: %s\n", s.State)
	fmt.Fprintf(&sb, "Camera: open=%v index=%d fps=%.1f\n", s.CameraOpen, s.CameraIndex, s.CameraFPS)
	fmt.Fprintf(&sb, "Detections: %d total, %d person, %d animal\n",
		s.Detections.Total, s.Detections.Person, s.Detections.Animal)
	if s.LastDetection != nil {
		fmt.Fprintf(&sb, "Last detection: %s\n", s.LastDetection.Format(time.RFC3339))
	}
	fmt.Fprintf(&sb, "CPU: %.1f%%  RAM: %.1f%%\n", s.CPUUsage, s.MemoryUsage)
	fmt.Fprintf(&sb, "Uptime: %.0fs", s.UptimeSeconds)
	return sb.String()
}
