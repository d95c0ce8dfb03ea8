package tgui

import (
	"errors"
	"strings"
	"testing"
)

func TestData(t *testing.T) {
	d, err := Data("gw", "enter", "")
	if err != nil || d != "gw:enter" {
		t.Fatalf("Data = %q, %v", d, err)
	}
	scope, action, payload, ok := ParseData("gw:leave:x:y")
	if !ok || scope != "gw" || action != "leave" || payload != "x:y" {
		t.Fatalf("ParseData = %q %q %q %v", scope, action, payload, ok)
	}
	if _, _, _, ok := ParseData("gw"); ok {
		t.Fatal("scope without action accepted")
	}
	if _, err := Data("gw", "enter", strings.Repeat("p", 64)); !errors.Is(err, ErrCallbackDataTooLong) {
		t.Fatalf("err = %v", err)
	}
}

func TestHTML(t *testing.T) {
	if got := B("<a & b>"); got != "<b>&lt;a &amp; b&gt;</b>" {
		t.Fatalf("B = %q", got)
	}
	if got := Mention("", 42); got != `<a href="tg://user?id=42">user 42</a>` {
		t.Fatalf("Mention = %q", got)
	}
	if got := JoinH(", ", Esc("a"), "", Esc("b")); got != "a, b" {
		t.Fatalf("JoinH = %q", got)
	}
	if got := Lines(Esc("a"), "", Esc("b")); got != "a\n\nb" {
		t.Fatalf("Lines = %q", got)
	}
}

func TestTruncRunes(t *testing.T) {
	if got := TruncRunes("héllo", 3); got != "hél…" {
		t.Fatalf("got %q", got)
	}
	if got := TruncRunes("hi", 3); got != "hi" {
		t.Fatalf("got %q", got)
	}
}
