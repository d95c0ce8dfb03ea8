package storage

import (
	"fmt"
	"strings"

	"giveawaybot/internal/giveaway"
)

// checkNew rejects records no driver should persist.
func checkNew(g giveaway.Giveaway) error {
	switch {
	case strings.TrimSpace(g.CommunityID) == "" || strings.TrimSpace(g.Reference) == "":
		return fmt.Errorf("%w: community and reference are required", giveaway.ErrInvalidGiveaway)
	case g.WinnerCount < 1:
		return giveaway.ErrInvalidWinnerCount
	case g.ExpiresAt.IsZero():
		return fmt.Errorf("%w: expiry is required", giveaway.ErrInvalidGiveaway)
	case g.State != "" && g.State != giveaway.StateActive:
		return fmt.Errorf("%w: new giveaways start active", giveaway.ErrInvalidGiveaway)
	}
	return nil
}

func checkKey(key giveaway.Key) error {
	if key.CommunityID == "" || key.Reference == "" {
		return fmt.Errorf("%w: empty key", giveaway.ErrNotFound)
	}
	return nil
}

// entryIndex collects user ids per key, preserving row order.
type entryIndex map[giveaway.Key][]string

func (ix entryIndex) add(community, refKey, user string) {
	k := giveaway.Key{CommunityID: community, Reference: UnescapeKey(refKey)}
	ix[k] = append(ix[k], user)
}
