package storage

import "strings"

// References are message links, so they carry '.' (a path separator in
// document stores) and ':' (the Redis key separator). EscapeKey replaces both
// with bracket tokens and escapes '[' itself so the mapping is reversible.
var (
	keyEscaper   = strings.NewReplacer("[", "[B]", ".", "[D]", ":", "[C]")
	keyUnescaper = strings.NewReplacer("[B]", "[", "[D]", ".", "[C]", ":")
)

func EscapeKey(s string) string { return keyEscaper.Replace(s) }

func UnescapeKey(s string) string { return keyUnescaper.Replace(s) }
