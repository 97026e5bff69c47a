package bot

import (
	"fmt"
	"strings"

	"news_bot/internal/model"
)

const emptyListText = "No feeds are watched yet. Use /add <url> [name] to add one."

// FormatFeedList formats the watched feeds for display.
func FormatFeedList(feeds []model.FeedSource) string {
	if len(feeds) == 0 {
		return emptyListText
	}
	var b strings.Builder
	fmt.Fprintf(&b, "Watched feeds (%d):\n", len(feeds))
	for i, f := range feeds {
		fmt.Fprintf(&b, "\n%d. %s\n   %s\n", i+1, feedLabel(f), f.URL)
	}
	return b.String()
}

func feedLabel(f model.FeedSource) string {
	if f.Name != "" {
		return f.Name
	}
	return f.URL
}
