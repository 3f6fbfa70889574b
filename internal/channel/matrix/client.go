// Package matrix is the Matrix transport of scribe, built on mautrix-go.
package matrix

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"maunium.net/go/mautrix"
	"maunium.net/go/mautrix/event"
	"maunium.net/go/mautrix/id"

	"github.com/nous-labs/scribe/pkg/channel"
)

// Apology is sent when a message could not be handled. Raw errors never
// reach the chat.
const Apology = "Не получилось обработать сообщение. Попробуйте ещё раз чуть позже."

// Config holds Matrix connection settings.
type Config struct {
	Homeserver   string   `json:"homeserver" yaml:"homeserver"`
	UserID       string   `json:"user_id" yaml:"user_id"` // localpart, e.g. "scribe"
	Password     string   `json:"password" yaml:"password"`
	ServerName   string   `json:"server_name" yaml:"server_name"`
	AllowedUsers []string `json:"allowed_users" yaml:"allowed_users"`
	DataDir      string   `json:"-" yaml:"-"`
}

// Channel implements channel.Channel for Matrix.
type Channel struct {
	config    Config
	client    *mautrix.Client
	handler   channel.MessageHandler
	startTime int64
	credFile  string
	chunkGap  time.Duration
}

type credentials struct {
	AccessToken string `json:"access_token"`
	UserID      string `json:"user_id"`
	DeviceID    string `json:"device_id"`
}

// New creates a Matrix channel.
func New(cfg Config) *Channel {
	return &Channel{
		config:   cfg,
		credFile: filepath.Join(cfg.DataDir, "matrix_credentials.json"),
		chunkGap: 500 * time.Millisecond,
	}
}

// Name returns "matrix".
func (c *Channel) Name() string { return "matrix" }

// Start logs in and syncs until ctx is cancelled. Sync errors reconnect
// after 15s.
func (c *Channel) Start(ctx context.Context, handler channel.MessageHandler) error {
	c.handler = handler
	c.startTime = time.Now().UnixMilli()

	if err := os.MkdirAll(c.config.DataDir, 0o755); err != nil {
		return fmt.Errorf("create matrix data dir: %w", err)
	}

	fullUserID := fmt.Sprintf("@%s:%s", c.config.UserID, c.config.ServerName)
	client, err := mautrix.NewClient(c.config.Homeserver, id.UserID(fullUserID), "")
	if err != nil {
		return fmt.Errorf("create matrix client: %w", err)
	}
	client.Store = mautrix.NewMemorySyncStore()
	c.client = client

	if err := c.login(ctx, fullUserID); err != nil {
		return err
	}

	syncer := client.Syncer.(*mautrix.DefaultSyncer)
	syncer.OnEventType(event.EventMessage, c.onMessage)
	syncer.OnEventType(event.StateMember, c.onMemberEvent)

	slog.Info("matrix channel ready, starting sync", "user", fullUserID)
	for {
		err := client.SyncWithContext(ctx)
		if ctx.Err() != nil {
			return nil
		}
		if err != nil {
			slog.Warn("matrix sync error, reconnecting in 15s", "error", err)
			select {
			case <-ctx.Done():
				return nil
			case <-time.After(15 * time.Second):
			}
		}
	}
}

// login reuses saved credentials, or logs in with the password using
// capped exponential backoff.
func (c *Channel) login(ctx context.Context, fullUserID string) error {
	if err := c.loadCredentials(); err == nil {
		slog.Info("loaded saved Matrix credentials", "user", fullUserID)
		return nil
	}

	const maxAttempts = 10
	backoff := 2 * time.Second
	for attempt := 1; ; attempt++ {
		resp, err := c.client.Login(ctx, &mautrix.ReqLogin{
			Type:             mautrix.AuthTypePassword,
			Identifier:       mautrix.UserIdentifier{Type: mautrix.IdentifierTypeUser, User: c.config.UserID},
			Password:         c.config.Password,
			StoreCredentials: true,
		})
		if err == nil {
			slog.Info("logged into Matrix", "user", resp.UserID, "device", resp.DeviceID)
			c.saveCredentials(credentials{
				AccessToken: resp.AccessToken,
				UserID:      string(resp.UserID),
				DeviceID:    string(resp.DeviceID),
			})
			return nil
		}
		if permanent(err) {
			return fmt.Errorf("matrix login: %w (non-retryable)", err)
		}
		if attempt == maxAttempts {
			return fmt.Errorf("matrix login: %w (after %d attempts)", err, maxAttempts)
		}

		slog.Warn("matrix login failed, retrying", "error", err, "attempt", attempt, "backoff", backoff)
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(backoff):
		}
		backoff = min(backoff*2, 2*time.Minute)
	}
}

func permanent(err error) bool {
	msg := err.Error()
	for _, code := range []string{"M_FORBIDDEN", "M_UNKNOWN_TOKEN", "M_INVALID_PARAM", "M_USER_DEACTIVATED"} {
		if strings.Contains(msg, code) {
			return true
		}
	}
	return false
}

// Send delivers a message, split into numbered parts of at most
// channel.MaxMessageRunes runes.
func (c *Channel) Send(ctx context.Context, resp channel.Response) error {
	roomID := id.RoomID(resp.RoomID)
	chunks := channel.Split(resp.Content, channel.MaxMessageRunes-10)
	for i, chunk := range chunks {
		if len(chunks) > 1 {
			chunk = fmt.Sprintf("[%d/%d] %s", i+1, len(chunks), chunk)
		}
		if _, err := c.client.SendText(ctx, roomID, chunk); err != nil {
			slog.Error("matrix send failed", "room", roomID, "chunk", i+1, "error", err)
			return fmt.Errorf("send to %s: %w", roomID, err)
		}
		if i < len(chunks)-1 {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(c.chunkGap):
			}
		}
	}
	slog.Debug("matrix message sent", "room", roomID, "chunks", len(chunks))
	return nil
}

// Stop stops syncing.
func (c *Channel) Stop() error {
	if c.client != nil {
		c.client.StopSync()
	}
	return nil
}

func (c *Channel) onMessage(ctx context.Context, evt *event.Event) {
	msg, ok := c.accept(evt)
	if !ok {
		return
	}
	slog.Info("matrix message received", "sender", msg.SenderID, "room", msg.RoomID, "len", len(msg.Content))
	go c.dispatch(ctx, msg)
}

// accept filters out our own, old and unauthorized messages.
func (c *Channel) accept(evt *event.Event) (channel.Message, bool) {
	if c.client != nil && evt.Sender == c.client.UserID {
		return channel.Message{}, false
	}
	if evt.Timestamp < c.startTime || !c.isAllowed(evt.Sender) {
		return channel.Message{}, false
	}
	content := evt.Content.AsMessage()
	if content == nil || strings.TrimSpace(content.Body) == "" {
		return channel.Message{}, false
	}
	return channel.Message{
		Source:     "matrix",
		SenderID:   string(evt.Sender),
		SenderName: evt.Sender.Localpart(),
		RoomID:     string(evt.RoomID),
		Content:    content.Body,
		Timestamp:  evt.Timestamp,
	}, true
}

func (c *Channel) dispatch(ctx context.Context, msg channel.Message) {
	reply, err := c.handle(ctx, msg)
	if err != nil {
		slog.Error("message handler error", "sender", msg.SenderID, "error", err)
		reply = Apology
	}
	if reply == "" {
		return
	}
	if err := c.Send(ctx, channel.Response{RoomID: msg.RoomID, Content: reply}); err != nil {
		slog.Error("reply not delivered", "room", msg.RoomID, "error", err)
	}
}

func (c *Channel) handle(ctx context.Context, msg channel.Message) (reply string, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("handler panic: %v", r)
		}
	}()
	return c.handler(ctx, msg)
}

func (c *Channel) onMemberEvent(ctx context.Context, evt *event.Event) {
	if evt.GetStateKey() != string(c.client.UserID) {
		return
	}
	member := evt.Content.AsMember()
	if member == nil || member.Membership != event.MembershipInvite {
		return
	}
	if !c.isAllowed(evt.Sender) {
		slog.Warn("rejecting invite from unauthorized user", "sender", evt.Sender)
		return
	}
	slog.Info("accepting room invite", "room", evt.RoomID, "from", evt.Sender)
	if _, err := c.client.JoinRoomByID(ctx, evt.RoomID); err != nil {
		slog.Error("failed to join room", "room", evt.RoomID, "error", err)
	}
}

func (c *Channel) loadCredentials() error {
	data, err := os.ReadFile(c.credFile)
	if err != nil {
		return err
	}
	var creds credentials
	if err := json.Unmarshal(data, &creds); err != nil {
		return err
	}
	c.client.AccessToken = creds.AccessToken
	c.client.UserID = id.UserID(creds.UserID)
	c.client.DeviceID = id.DeviceID(creds.DeviceID)
	return nil
}

func (c *Channel) saveCredentials(creds credentials) {
	data, _ := json.MarshalIndent(creds, "", "  ")
	if err := os.WriteFile(c.credFile, data, 0o600); err != nil {
		slog.Warn("save matrix credentials failed", "error", err)
	}
}

// IsRoomID reports whether chatID names a Matrix room this channel can
// send to.
func IsRoomID(chatID string) bool {
	return strings.HasPrefix(chatID, "!") && strings.Contains(chatID, ":")
}

// isAllowed reports whether sender may talk to the bot. An empty list
// allows everyone.
func (c *Channel) isAllowed(sender id.UserID) bool {
	if len(c.config.AllowedUsers) == 0 || c.config.AllowedUsers[0] == "" {
		return true
	}
	for _, allowed := range c.config.AllowedUsers {
		if string(sender) == allowed {
			return true
		}
	}
	return false
}
