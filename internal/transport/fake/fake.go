// Package fake is an in-memory transport.Adapter for tests.
package fake

import (
	"context"
	"sync"

	kit "giveawaybot/internal/transport"
)

type Sent struct {
	Ref  kit.MessageRef
	Text string
	Opt  kit.SendOptions
}

type Edit struct {
	Ref  kit.MessageRef
	Text string
	Opt  kit.SendOptions
}

type Answer struct {
	ID   string
	Text string
}

// Adapter records everything sent through it. Message ids start at 100.
type Adapter struct {
	mu      sync.Mutex
	nextID  int
	sent    []Sent
	edits   []Edit
	answers []Answer
	members map[int64]map[int64]kit.Member

	// SendErr and EditErr, when set, fail every call.
	SendErr error
	EditErr error

	notify chan struct{}
}

func New() *Adapter {
	return &Adapter{nextID: 100, members: map[int64]map[int64]kit.Member{}, notify: make(chan struct{}, 1024)}
}

// Activity receives a value after every recorded call.
func (a *Adapter) Activity() <-chan struct{} { return a.notify }

func (a *Adapter) poke() {
	select {
	case a.notify <- struct{}{}:
	default:
	}
}

func (a *Adapter) SetMember(chatID int64, m kit.Member) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.members[chatID] == nil {
		a.members[chatID] = map[int64]kit.Member{}
	}
	a.members[chatID][m.UserID] = m
}

func (a *Adapter) Start(context.Context, chan<- kit.Update) error { return nil }
func (a *Adapter) Stop(context.Context) error                     { return nil }

func (a *Adapter) SendText(_ context.Context, to kit.ChatTarget, text string, opt *kit.SendOptions) (kit.MessageRef, error) {
	a.mu.Lock()
	defer a.poke()
	defer a.mu.Unlock()
	if a.SendErr != nil {
		return kit.MessageRef{}, a.SendErr
	}
	a.nextID++
	ref := kit.MessageRef{ChatID: to.ChatID, ThreadID: to.ThreadID, MessageID: a.nextID}
	s := Sent{Ref: ref, Text: text}
	if opt != nil {
		s.Opt = *opt
	}
	a.sent = append(a.sent, s)
	return ref, nil
}

func (a *Adapter) EditText(_ context.Context, ref kit.MessageRef, text string, opt *kit.SendOptions) error {
	a.mu.Lock()
	defer a.poke()
	defer a.mu.Unlock()
	if a.EditErr != nil {
		return a.EditErr
	}
	e := Edit{Ref: ref, Text: text}
	if opt != nil {
		e.Opt = *opt
	}
	a.edits = append(a.edits, e)
	return nil
}

func (a *Adapter) AnswerCallback(_ context.Context, id, text string) error {
	a.mu.Lock()
	defer a.poke()
	defer a.mu.Unlock()
	a.answers = append(a.answers, Answer{ID: id, Text: text})
	return nil
}

func (a *Adapter) Member(_ context.Context, chatID, userID int64) (kit.Member, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	m, ok := a.members[chatID][userID]
	if !ok {
		// Telegram reports strangers as having left.
		return kit.Member{UserID: userID, Status: "left"}, nil
	}
	return m, nil
}

func (a *Adapter) Sent() []Sent {
	a.mu.Lock()
	defer a.mu.Unlock()
	return append([]Sent(nil), a.sent...)
}

func (a *Adapter) Edits() []Edit {
	a.mu.Lock()
	defer a.mu.Unlock()
	return append([]Edit(nil), a.edits...)
}

func (a *Adapter) Answers() []Answer {
	a.mu.Lock()
	defer a.mu.Unlock()
	return append([]Answer(nil), a.answers...)
}
