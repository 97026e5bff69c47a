package bot

import (
	"context"
	"fmt"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"news_bot/internal/model"
)

const (
	actionDelete  = "del"
	actionConfirm = "delok"
	actionCancel  = "cancel"
)

func (b *Bot) handleCallback(ctx context.Context, cb *tgbotapi.CallbackQuery) {
	b.answer(cb.ID, "")
	if cb.Message == nil {
		return
	}
	chatID := cb.Message.Chat.ID
	messageID := cb.Message.MessageID

	action, key, ok := ParseCallbackData(cb.Data)
	if !ok {
		return
	}

	b.log.Info("callback",
		"action", action,
		"chat_id", chatID,
		"user_id", cb.From.ID,
		"username", cb.From.UserName,
	)

	if action == actionCancel {
		b.edit(chatID, messageID, "Cancelled.", nil)
		return
	}

	src, err := b.findFeed(ctx, key)
	if err != nil {
		b.log.Error("list feeds", "error", err)
		b.edit(chatID, messageID, fmt.Sprintf("Error: %v", err), nil)
		return
	}
	if src == nil {
		b.edit(chatID, messageID, "RSS feed not found!", nil)
		return
	}

	switch action {
	case actionDelete:
		markup := tgbotapi.NewInlineKeyboardMarkup(
			tgbotapi.NewInlineKeyboardRow(
				tgbotapi.NewInlineKeyboardButtonData("Yes, delete", callbackData(actionConfirm, src.URL)),
				tgbotapi.NewInlineKeyboardButtonData("Cancel", actionCancel),
			),
		)
		b.edit(chatID, messageID, fmt.Sprintf("Delete \"%s\"?\n%s", src.Name, src.URL), &markup)
	case actionConfirm:
		b.deleteFeed(ctx, chatID, messageID, *src)
	}
}

// deleteFeed removes the feed and forgets how far it was read, so adding it
// again later starts fresh.
func (b *Bot) deleteFeed(ctx context.Context, chatID int64, messageID int, src model.FeedSource) {
	removed, err := b.registry.RemoveFeed(ctx, src.URL)
	if err != nil {
		b.log.Error("remove feed", "url", src.URL, "error", err)
		b.edit(chatID, messageID, fmt.Sprintf("Error deleting feed: %v", err), nil)
		return
	}
	if !removed {
		b.edit(chatID, messageID, "RSS feed not found!", nil)
		return
	}
	if err := b.marks.DeleteWatermark(ctx, src.URL); err != nil {
		b.log.Warn("delete watermark", "url", src.URL, "error", err)
	}

	b.log.Info("feed deleted", "url", src.URL, "chat_id", chatID)
	b.edit(chatID, messageID, fmt.Sprintf("Deleted RSS feed: %s", src.URL), nil)
}

// findFeed resolves a callback key back to a registered feed.
func (b *Bot) findFeed(ctx context.Context, key string) (*model.FeedSource, error) {
	feeds, err := b.registry.ListFeeds(ctx)
	if err != nil {
		return nil, err
	}
	for _, f := range feeds {
		if feedKey(f.URL) == key {
			return &f, nil
		}
	}
	return nil, nil
}

func (b *Bot) edit(chatID int64, messageID int, text string, markup *tgbotapi.InlineKeyboardMarkup) {
	var msg tgbotapi.EditMessageTextConfig
	if markup != nil {
		msg = tgbotapi.NewEditMessageTextAndMarkup(chatID, messageID, text, *markup)
	} else {
		msg = tgbotapi.NewEditMessageText(chatID, messageID, text)
	}
	if _, err := b.api.Send(msg); err != nil {
		b.log.Error("edit message", "chat_id", chatID, "error", err)
	}
}
