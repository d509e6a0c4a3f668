// Package whatsapp delivers notifications over WhatsApp using
// whatsmeow. The channel is send-only: it holds a logged-in session
// and maps butler users to WhatsApp JIDs.
package whatsapp

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"go.mau.fi/whatsmeow"
	"go.mau.fi/whatsmeow/proto/waE2E"
	"go.mau.fi/whatsmeow/store/sqlstore"
	"go.mau.fi/whatsmeow/types"
	waLog "go.mau.fi/whatsmeow/util/log"
	"google.golang.org/protobuf/proto"

	_ "github.com/mattn/go-sqlite3" // SQLite driver for whatsmeow
)

// Config holds the WhatsApp channel settings.
type Config struct {
	// SessionPath is the whatsmeow session database file.
	SessionPath string `yaml:"session_path"`
	// Recipients maps butler user IDs to WhatsApp JIDs
	// (e.g. "4915112345678@s.whatsapp.net").
	Recipients map[string]string `yaml:"recipients"`
}

// DefaultConfig returns the default channel settings.
func DefaultConfig() *Config {
	return &Config{
		SessionPath: "~/.butler/whatsapp.db",
		Recipients:  map[string]string{},
	}
}

// Channel sends notification messages through a WhatsApp session.
type Channel struct {
	config *Config
	client *whatsmeow.Client
	store  *sqlstore.Container
	logger *slog.Logger

	connMu    sync.RWMutex
	connected bool

	cancelFunc context.CancelFunc
	wg         sync.WaitGroup
}

// New opens the session store and builds the channel. Connect must be
// called before messages can be sent.
func New(cfg *Config, logger *slog.Logger) (*Channel, error) {
	if cfg == nil {
		cfg = DefaultConfig()
	}
	if logger == nil {
		logger = slog.Default()
	}

	sessionPath := expandPath(cfg.SessionPath)
	if err := os.MkdirAll(filepath.Dir(sessionPath), 0755); err != nil {
		return nil, fmt.Errorf("failed to create session directory: %w", err)
	}

	container, err := sqlstore.New(context.Background(), "sqlite3",
		fmt.Sprintf("file:%s?_foreign_keys=on", sessionPath),
		waLog.Noop)
	if err != nil {
		return nil, fmt.Errorf("failed to create store: %w", err)
	}

	return &Channel{
		config: cfg,
		store:  container,
		logger: logger.With("component", "whatsapp"),
	}, nil
}

// Connect logs in to WhatsApp. A fresh session prints a QR pairing
// code to the log; an existing session reconnects silently.
func (c *Channel) Connect(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	c.cancelFunc = cancel

	device, err := c.store.GetFirstDevice(ctx)
	if err != nil {
		return fmt.Errorf("failed to get device: %w", err)
	}

	c.client = whatsmeow.NewClient(device, waLog.Noop)

	if c.client.Store.ID == nil {
		qrChan, err := c.client.GetQRChannel(ctx)
		if err != nil {
			return fmt.Errorf("failed to get QR channel: %w", err)
		}
		if err := c.client.Connect(); err != nil {
			return fmt.Errorf("failed to connect: %w", err)
		}

		c.wg.Add(1)
		go func() {
			defer c.wg.Done()
			for {
				select {
				case <-ctx.Done():
					return
				case evt, ok := <-qrChan:
					if !ok {
						return
					}
					switch evt.Event {
					case "code":
						c.logger.Info("scan QR code to pair WhatsApp", "code", evt.Code)
					case "success":
						c.setConnected(true)
						c.logger.Info("whatsapp paired")
						return
					}
				}
			}
		}()
	} else {
		if err := c.client.Connect(); err != nil {
			return fmt.Errorf("failed to connect: %w", err)
		}
		c.setConnected(true)
	}

	return nil
}

// Close disconnects and releases the session store.
func (c *Channel) Close() error {
	if c.cancelFunc != nil {
		c.cancelFunc()
	}
	c.wg.Wait()

	if c.client != nil {
		c.client.Disconnect()
	}
	c.setConnected(false)
	if c.store != nil {
		if err := c.store.Close(); err != nil {
			return fmt.Errorf("failed to close store: %w", err)
		}
	}
	return nil
}

// Name returns "whatsapp".
func (c *Channel) Name() string { return "whatsapp" }

// Send delivers one message to the user's configured JID. Returns the
// number of recipients reached: 1 on success, 0 with an error when the
// session is down or the user has no mapping.
func (c *Channel) Send(ctx context.Context, userID, title, body, category string) (int, error) {
	if !c.isConnected() {
		return 0, fmt.Errorf("not connected to WhatsApp")
	}

	peerID, ok := c.config.Recipients[userID]
	if !ok || peerID == "" {
		return 0, fmt.Errorf("no WhatsApp recipient configured for user %q", userID)
	}

	jid, err := types.ParseJID(peerID)
	if err != nil {
		return 0, fmt.Errorf("invalid recipient JID %q: %w", peerID, err)
	}

	text := body
	if title != "" {
		text = fmt.Sprintf("*%s*\n%s", title, body)
	}

	waMsg := &waE2E.Message{
		Conversation: proto.String(text),
	}
	if _, err := c.client.SendMessage(ctx, jid, waMsg); err != nil {
		return 0, fmt.Errorf("failed to send message: %w", err)
	}
	return 1, nil
}

func (c *Channel) isConnected() bool {
	c.connMu.RLock()
	defer c.connMu.RUnlock()
	return c.connected
}

func (c *Channel) setConnected(connected bool) {
	c.connMu.Lock()
	defer c.connMu.Unlock()
	c.connected = connected
}

func expandPath(path string) string {
	if strings.HasPrefix(path, "~/") {
		home, err := os.UserHomeDir()
		if err == nil {
			return filepath.Join(home, path[2:])
		}
	}
	return path
}
