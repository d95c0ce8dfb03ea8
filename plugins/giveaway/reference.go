package giveaway

import (
	"errors"
	"fmt"
	"strconv"
	"strings"

	kit "giveawaybot/internal/transport"
)

// Basic groups have no t.me/c links; their posts are keyed as
// "tg:<chat>/<message>" instead.
const localRefPrefix = "tg:"

var errNotAPost = errors.New("not a giveaway message reference")

// referenceOf is the giveaway Reference for a posted message. The thread is
// dropped so button presses, replies and links all map to the same key.
func referenceOf(ref kit.MessageRef) string {
	ref.ThreadID = 0
	if link, err := kit.MessageLink(ref); err == nil {
		return link
	}
	return fmt.Sprintf("%s%d/%d", localRefPrefix, ref.ChatID, ref.MessageID)
}

func parseReference(s string) (kit.MessageRef, error) {
	rest, ok := strings.CutPrefix(strings.TrimSpace(s), localRefPrefix)
	if !ok {
		ref, err := kit.ParseMessageLink(s)
		if err != nil {
			return kit.MessageRef{}, err
		}
		ref.ThreadID = 0
		return ref, nil
	}
	chat, msg, ok := strings.Cut(rest, "/")
	if !ok {
		return kit.MessageRef{}, errNotAPost
	}
	chatID, err1 := strconv.ParseInt(chat, 10, 64)
	msgID, err2 := strconv.Atoi(msg)
	if err1 != nil || err2 != nil || msgID <= 0 {
		return kit.MessageRef{}, errNotAPost
	}
	return kit.MessageRef{ChatID: chatID, MessageID: msgID}, nil
}

func communityOf(chatID int64) string { return strconv.FormatInt(chatID, 10) }

// linkOf returns a clickable link for a reference, or "" for basic groups.
func linkOf(reference string) string {
	if strings.HasPrefix(reference, localRefPrefix) {
		return ""
	}
	return reference
}
