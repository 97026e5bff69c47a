// Package publisher delivers finished posts to a Telegram channel.
package publisher

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"unicode/utf8"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"news_bot/internal/model"
)

// Telegram limits, counted on the visible text after HTML parsing.
const (
	maxCaptionLen = 1024
	maxMessageLen = 4096
)

// Sender is the part of the Telegram bot API the publisher needs.
type Sender interface {
	Send(c tgbotapi.Chattable) (tgbotapi.Message, error)
}

// Telegram publishes posts to one channel.
type Telegram struct {
	api      Sender
	chatID   int64
	username string
	log      *slog.Logger
}

// NewTelegram creates a publisher for channel, given either as "@username"
// (the "@" may be omitted) or as a numeric chat ID.
func NewTelegram(api Sender, channel string, log *slog.Logger) (*Telegram, error) {
	channel = strings.TrimSpace(channel)
	if channel == "" {
		return nil, fmt.Errorf("channel is required")
	}
	t := &Telegram{api: api, log: log}
	if id, err := strconv.ParseInt(channel, 10, 64); err == nil {
		t.chatID = id
	} else {
		t.username = "@" + strings.TrimPrefix(channel, "@")
	}
	return t, nil
}

// Publish sends post as a photo with caption when it has an image and the
// caption fits, otherwise as a text message.
func (t *Telegram) Publish(ctx context.Context, post model.Post) error {
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("%w: %w", model.ErrPublish, err)
	}

	summary := SanitizeSummary(post.Summary)
	caption := FormatCaption(post.Title, summary, post.Link)

	if post.ImageURL != "" && visibleLen(caption) <= maxCaptionLen {
		_, err := t.api.Send(t.photo(post.ImageURL, caption))
		if err == nil {
			return nil
		}
		// A bad image URL is the usual cause; the text form still gets the news out.
		t.log.Warn("send photo, falling back to text", "title", post.Title, "image", post.ImageURL, "error", err)
	}

	if visibleLen(caption) > maxMessageLen {
		caption = fitMessage(post.Title, summary, post.Link)
	}

	if _, err := t.api.Send(t.message(caption)); err != nil {
		return fmt.Errorf("%w: send message: %w", model.ErrPublish, err)
	}
	return nil
}

func (t *Telegram) photo(imageURL, caption string) tgbotapi.PhotoConfig {
	var p tgbotapi.PhotoConfig
	if t.username != "" {
		p = tgbotapi.NewPhotoToChannel(t.username, tgbotapi.FileURL(imageURL))
	} else {
		p = tgbotapi.NewPhoto(t.chatID, tgbotapi.FileURL(imageURL))
	}
	p.Caption = caption
	p.ParseMode = tgbotapi.ModeHTML
	return p
}

func (t *Telegram) message(text string) tgbotapi.MessageConfig {
	var m tgbotapi.MessageConfig
	if t.username != "" {
		m = tgbotapi.NewMessageToChannel(t.username, text)
	} else {
		m = tgbotapi.NewMessage(t.chatID, text)
	}
	m.ParseMode = tgbotapi.ModeHTML
	return m
}

// fitMessage shortens a caption to the text message limit. The summary is
// cut first; when the title and link alone are over the limit the summary is
// dropped and the title is cut instead.
func fitMessage(title, summary, link string) string {
	// "\n\n" separates the summary from the title.
	budget := maxMessageLen - visibleLen(FormatCaption(title, "", link)) - 2
	if budget > 0 {
		plain := truncateRunes(PlainText(summary), budget)
		return FormatCaption(title, escapeText(plain), link)
	}
	titleBudget := maxMessageLen - visibleLen(FormatCaption("", "", link))
	return FormatCaption(truncateRunes(strings.TrimSpace(title), titleBudget), "", link)
}

func visibleLen(s string) int {
	return utf8.RuneCountInString(PlainText(s))
}
