package transport

import (
	"errors"
	"testing"
)

func TestMessageLinkRoundTrip(t *testing.T) {
	cases := []struct {
		ref  MessageRef
		link string
	}{
		{MessageRef{ChatID: -1001234567890, MessageID: 42}, "https://t.me/c/1234567890/42"},
		{MessageRef{ChatID: -1001234567890, ThreadID: 7, MessageID: 42}, "https://t.me/c/1234567890/7/42"},
	}
	for _, c := range cases {
		got, err := MessageLink(c.ref)
		if err != nil {
			t.Fatalf("MessageLink(%+v): %v", c.ref, err)
		}
		if got != c.link {
			t.Fatalf("MessageLink(%+v) = %q, want %q", c.ref, got, c.link)
		}
		back, err := ParseMessageLink(got)
		if err != nil {
			t.Fatalf("ParseMessageLink(%q): %v", got, err)
		}
		if back != c.ref {
			t.Fatalf("round trip %+v -> %+v", c.ref, back)
		}
	}
}

func TestMessageLinkThreadStarter(t *testing.T) {
	// The first message of a topic is its own thread id.
	got, err := MessageLink(MessageRef{ChatID: -1000000000001, ThreadID: 5, MessageID: 5})
	if err != nil || got != "https://t.me/c/1/5" {
		t.Fatalf("got %q, %v", got, err)
	}
}

func TestMessageLinkRejectsBasicGroups(t *testing.T) {
	if _, err := MessageLink(MessageRef{ChatID: -4567, MessageID: 1}); !errors.Is(err, ErrBadLink) {
		t.Fatalf("err = %v", err)
	}
	if _, err := MessageLink(MessageRef{ChatID: 12345, MessageID: 1}); !errors.Is(err, ErrBadLink) {
		t.Fatalf("err = %v", err)
	}
}

func TestParseMessageLink(t *testing.T) {
	ok := map[string]MessageRef{
		"t.me/c/99/3":                 {ChatID: -1000000000099, MessageID: 3},
		"https://t.me/c/99/3?single":  {ChatID: -1000000000099, MessageID: 3},
		"https://telegram.me/c/99/3/": {ChatID: -1000000000099, MessageID: 3},
	}
	for in, want := range ok {
		got, err := ParseMessageLink(in)
		if err != nil || got != want {
			t.Fatalf("ParseMessageLink(%q) = %+v, %v", in, got, err)
		}
	}
	for _, bad := range []string{"", "https://example.com/c/1/2", "https://t.me/durov/5", "https://t.me/c/1", "https://t.me/c/x/2", "https://t.me/c/1/-2"} {
		if _, err := ParseMessageLink(bad); !errors.Is(err, ErrBadLink) {
			t.Fatalf("ParseMessageLink(%q) err = %v", bad, err)
		}
	}
}

func TestMemberRoles(t *testing.T) {
	admin := Member{Status: "administrator", Title: "Moderator"}
	if !admin.HasRole("admin") || !admin.HasRole("moderator") || !admin.HasRole("") {
		t.Fatalf("admin roles = %v", admin.Roles())
	}
	if admin.HasRole("creator") {
		t.Fatal("administrator is not creator")
	}
	gone := Member{Status: "left"}
	if gone.HasRole("member") || gone.InChat() {
		t.Fatal("a member who left holds no roles")
	}
	if !(Member{Status: "member"}).HasRole("MEMBER") {
		t.Fatal("role match is case-insensitive")
	}
}
