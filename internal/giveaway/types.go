package giveaway

import (
	"context"
	"slices"
	"time"
)

// State is the lifecycle state of a giveaway. The only transition is
// StateActive -> StateEnded.
type State string

const (
	StateActive State = "active"
	StateEnded  State = "ended"
)

func (s State) Valid() bool { return s == StateActive || s == StateEnded }

// Key identifies a giveaway: one record per community and reference.
type Key struct {
	CommunityID string
	Reference   string
}

func (k Key) String() string { return k.CommunityID + "|" + k.Reference }

func (k Key) IsZero() bool { return k.CommunityID == "" && k.Reference == "" }

// Giveaway is the persisted record.
//
// Everything except State, EndedAt and Entries is fixed at creation.
// Entries keep insertion order and are frozen once State is StateEnded.
type Giveaway struct {
	CommunityID  string
	Reference    string
	State        State
	ExpiresAt    time.Time
	Prize        string
	WinnerCount  int
	RequiredRole string

	// Display and audit metadata.
	Message   string
	CreatedBy string
	CreatedAt time.Time
	EndedAt   time.Time

	Entries []string
}

func (g Giveaway) Key() Key { return Key{CommunityID: g.CommunityID, Reference: g.Reference} }

func (g Giveaway) Active() bool { return g.State == StateActive }

func (g Giveaway) HasEntry(userID string) bool { return slices.Contains(g.Entries, userID) }

func (g Giveaway) EntryCount() int { return len(g.Entries) }

// Outcome is the result of a draw, either at termination or on reroll.
// Giveaway is the snapshot the winners were drawn from.
type Outcome struct {
	Giveaway Giveaway
	Winners  []string
	Reroll   bool
	DrawnAt  time.Time
}

// NoEntries reports whether the draw had nobody to choose from.
func (o Outcome) NoEntries() bool { return len(o.Giveaway.Entries) == 0 }

// Store persists giveaways. Implementations must make AddEntry,
// RemoveEntry and End single atomic operations against the record so that
// concurrent callers across processes never lose or resurrect entries.
type Store interface {
	// Create inserts a new active record; ErrExists if the key is taken.
	Create(ctx context.Context, g Giveaway) error
	// Get returns the record or ErrNotFound.
	Get(ctx context.Context, key Key) (Giveaway, error)
	// ListActive returns every record still in StateActive.
	ListActive(ctx context.Context) ([]Giveaway, error)
	// AddEntry adds userID and returns the new entry count.
	// Errors: ErrNotFound, ErrNotActive, ErrAlreadyEntered.
	AddEntry(ctx context.Context, key Key, userID string) (int, error)
	// RemoveEntry removes userID and returns the new entry count.
	// Errors: ErrNotFound, ErrNotActive, ErrNotEntered.
	RemoveEntry(ctx context.Context, key Key, userID string) (int, error)
	// End moves the record to StateEnded only if it is still active.
	// applied is false when another caller got there first. The returned
	// record carries the entries frozen by the transition.
	End(ctx context.Context, key Key, at time.Time) (g Giveaway, applied bool, err error)
	Close() error
}

// Scheduler arranges for Terminate to run at a giveaway's expiry.
type Scheduler interface {
	Register(key Key, expiresAt time.Time)
}

// Announcer publishes draw results to the hosting platform.
type Announcer interface {
	AnnounceEnded(ctx context.Context, out Outcome) error
	AnnounceReroll(ctx context.Context, out Outcome) error
}

// CreateParams describes a new giveaway.
type CreateParams struct {
	CommunityID  string
	Reference    string
	ExpiresAt    time.Time
	Prize        string
	WinnerCount  int
	RequiredRole string
	Message      string
	CreatedBy    string
}
