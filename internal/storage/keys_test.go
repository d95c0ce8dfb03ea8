package storage

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"giveawaybot/internal/giveaway"
)

func newTestGiveaway(community, ref string) giveaway.Giveaway {
	return giveaway.Giveaway{
		CommunityID: community,
		Reference:   ref,
		ExpiresAt:   time.Now().Add(time.Hour),
		Prize:       "Nitro",
		WinnerCount: 1,
	}
}

func TestEscapeKey(t *testing.T) {
	cases := map[string]string{
		"plain":              "plain",
		"a.b":                "a[D]b",
		"a:b":                "a[C]b",
		"[x]":                "[B]x]",
		"https://t.me/c/1/2": "https[C]//t[D]me/c/1/2",
		"[D]":                "[B]D]",
	}
	for in, want := range cases {
		got := EscapeKey(in)
		require.Equal(t, want, got, "escape %q", in)
		require.Equal(t, in, UnescapeKey(got), "round trip %q", in)
	}
}

func TestEscapedKeyHasNoSeparators(t *testing.T) {
	got := EscapeKey("a.b:c.d")
	require.NotContains(t, got, ".")
	require.NotContains(t, got, ":")
}
