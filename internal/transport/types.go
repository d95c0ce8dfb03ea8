package transport

import (
	"context"
	"strings"
)

type UpdateKind string

const (
	UpdateMessage  UpdateKind = "message"
	UpdateCallback UpdateKind = "callback"
)

type Update struct {
	Kind     UpdateKind
	Message  *Message
	Callback *Callback
}

type Message struct {
	ID           int
	ChatID       int64
	ThreadID     int // forum topic thread id (0 if none)
	FromID       int64
	FromUsername string
	FromName     string
	Text         string
	IsGroup      bool

	// ReplyTo is the message this one answers, if any.
	ReplyTo *MessageRef
}

type Callback struct {
	ID           string
	FromID       int64
	FromUsername string
	FromName     string
	ChatID       int64
	ThreadID     int
	MessageID    int
	Data         string
}

type ChatTarget struct {
	ChatID   int64
	ThreadID int
}

type MessageRef struct {
	ChatID    int64
	ThreadID  int
	MessageID int
}

func (r MessageRef) Target() ChatTarget { return ChatTarget{ChatID: r.ChatID, ThreadID: r.ThreadID} }

// Button is one inline keyboard button. Data is the callback payload; URL
// makes it a link button instead.
type Button struct {
	Text string
	Data string
	URL  string
}

type SendOptions struct {
	ParseMode      string
	DisablePreview bool

	// Buttons is an inline keyboard, row by row. On edit, nil removes the
	// keyboard.
	Buttons [][]Button

	// ReplyTo threads the message under an earlier one (0: none).
	ReplyTo int
}

// Member is a chat member as the platform reports it.
type Member struct {
	UserID int64
	// Status is one of creator, administrator, member, restricted, left,
	// kicked.
	Status string
	// Title is the custom admin title, if any.
	Title string
}

func (m Member) IsAdmin() bool { return m.Status == "creator" || m.Status == "administrator" }

func (m Member) InChat() bool {
	return m.Status != "" && m.Status != "left" && m.Status != "kicked"
}

// Roles returns the capability names a giveaway role gate can match: the
// member status, "admin" for administrators, and the custom title.
func (m Member) Roles() []string {
	if !m.InChat() {
		return nil
	}
	out := []string{m.Status}
	if m.IsAdmin() {
		out = append(out, "admin")
	}
	if t := strings.TrimSpace(m.Title); t != "" {
		out = append(out, t)
	}
	return out
}

// HasRole matches role case-insensitively against Roles. An empty role is
// always held.
func (m Member) HasRole(role string) bool {
	role = strings.TrimSpace(role)
	if role == "" {
		return true
	}
	for _, r := range m.Roles() {
		if strings.EqualFold(r, role) {
			return true
		}
	}
	return false
}

type Adapter interface {
	Start(ctx context.Context, out chan<- Update) error
	Stop(ctx context.Context) error

	SendText(ctx context.Context, to ChatTarget, text string, opt *SendOptions) (MessageRef, error)
	EditText(ctx context.Context, ref MessageRef, text string, opt *SendOptions) error
	AnswerCallback(ctx context.Context, callbackID string, text string) error

	// Member resolves userID's membership in chatID.
	Member(ctx context.Context, chatID, userID int64) (Member, error)
}

// BotCommand represents a single bot command menu entry.
type BotCommand struct {
	Command     string
	Description string
}

// CommandMenuUpdater is an optional interface that adapters can implement
// to update platform-specific bot command menus (e.g. Telegram /menu list).
type CommandMenuUpdater interface {
	UpdateMenuCommands(ctx context.Context, cmds []BotCommand) error
}
