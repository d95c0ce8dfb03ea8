package transport

import (
	"errors"
	"fmt"
	"net/url"
	"strconv"
	"strings"
)

var ErrBadLink = errors.New("not a private message link")

// supergroup ids carry this prefix; t.me/c links drop it.
const channelPrefix = 1_000_000_000_000

// MessageLink formats ref as a https://t.me/c/<chat>/<message> link. Forum
// topic messages get the thread in between. Only supergroup and channel ids
// (-100...) have such links.
func MessageLink(ref MessageRef) (string, error) {
	internal := -ref.ChatID - channelPrefix
	if internal <= 0 || ref.MessageID <= 0 {
		return "", fmt.Errorf("%w: chat %d", ErrBadLink, ref.ChatID)
	}
	if ref.ThreadID > 0 && ref.ThreadID != ref.MessageID {
		return fmt.Sprintf("https://t.me/c/%d/%d/%d", internal, ref.ThreadID, ref.MessageID), nil
	}
	return fmt.Sprintf("https://t.me/c/%d/%d", internal, ref.MessageID), nil
}

// ParseMessageLink is the inverse of MessageLink. It also accepts links
// without a scheme and with a query string.
func ParseMessageLink(s string) (MessageRef, error) {
	s = strings.TrimSpace(s)
	if !strings.Contains(s, "://") {
		s = "https://" + s
	}
	u, err := url.Parse(s)
	if err != nil {
		return MessageRef{}, fmt.Errorf("%w: %v", ErrBadLink, err)
	}
	host := strings.ToLower(u.Host)
	if host != "t.me" && host != "telegram.me" {
		return MessageRef{}, fmt.Errorf("%w: host %q", ErrBadLink, u.Host)
	}
	parts := strings.Split(strings.Trim(u.Path, "/"), "/")
	if len(parts) < 3 || len(parts) > 4 || parts[0] != "c" {
		return MessageRef{}, ErrBadLink
	}
	nums := make([]int64, 0, 3)
	for _, p := range parts[1:] {
		n, err := strconv.ParseInt(p, 10, 64)
		if err != nil || n <= 0 {
			return MessageRef{}, fmt.Errorf("%w: %q", ErrBadLink, p)
		}
		nums = append(nums, n)
	}
	ref := MessageRef{ChatID: -(nums[0] + channelPrefix)}
	if len(nums) == 3 {
		ref.ThreadID = int(nums[1])
		ref.MessageID = int(nums[2])
	} else {
		ref.MessageID = int(nums[1])
	}
	return ref, nil
}
