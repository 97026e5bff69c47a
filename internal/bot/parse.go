package bot

import (
	"fmt"
	"net/url"
	"strings"

	"github.com/google/uuid"
)

// ParseAddArgs splits "/add <url> [name]" arguments. The name may contain spaces.
func ParseAddArgs(args string) (feedURL, name string, err error) {
	parts := strings.Fields(args)
	if len(parts) == 0 {
		return "", "", fmt.Errorf("usage: /add <url> [name]")
	}

	u, err := url.ParseRequestURI(parts[0])
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return "", "", fmt.Errorf("invalid feed URL %q: use an http or https address", parts[0])
	}

	return u.String(), strings.Join(parts[1:], " "), nil
}

// feedKey is a fixed-length name for a feed URL. Callback data is capped at
// 64 bytes, which long feed URLs exceed.
func feedKey(feedURL string) string {
	return uuid.NewSHA1(uuid.NameSpaceURL, []byte(feedURL)).String()
}

func callbackData(action, feedURL string) string {
	return action + ":" + feedKey(feedURL)
}

// ParseCallbackData splits callback data into its action and feed key.
func ParseCallbackData(data string) (action, key string, ok bool) {
	if data == actionCancel {
		return actionCancel, "", true
	}
	action, key, ok = strings.Cut(data, ":")
	if !ok || key == "" {
		return "", "", false
	}
	switch action {
	case actionDelete, actionConfirm:
		return action, key, true
	default:
		return "", "", false
	}
}
