package bot

import (
	"context"
	"errors"
	"fmt"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"news_bot/internal/model"
	"news_bot/internal/storage"
)

const (
	cmdStart  = "start"
	cmdHelp   = "help"
	cmdList   = "list"
	cmdAdd    = "add"
	cmdDelete = "delete"
)

var commands = []tgbotapi.BotCommand{
	{Command: cmdList, Description: "Show watched feeds"},
	{Command: cmdAdd, Description: "Watch a new feed"},
	{Command: cmdDelete, Description: "Stop watching a feed"},
	{Command: cmdHelp, Description: "Command reference"},
}

func (b *Bot) handleStart(chatID int64) {
	b.reply(chatID, `Welcome to News Bot!

I watch RSS feeds, pick the articles that fit the channel topic and post a short summary of each one.

Use /add <url> to watch a feed and /help for the full command reference.`)
}

func (b *Bot) handleHelp(chatID int64) {
	b.reply(chatID, `Feed management:
/list - show watched feeds
/add <url> [name] - watch a new feed (name defaults to the feed title)
/delete - choose a feed to stop watching

Changes are picked up at the start of the next polling cycle.`)
}

func (b *Bot) handleList(ctx context.Context, chatID int64) {
	feeds, err := b.registry.ListFeeds(ctx)
	if err != nil {
		b.log.Error("list feeds", "error", err)
		b.reply(chatID, fmt.Sprintf("Error: %v", err))
		return
	}
	b.reply(chatID, FormatFeedList(feeds))
}

func (b *Bot) handleAdd(ctx context.Context, chatID int64, args string) {
	feedURL, name, err := ParseAddArgs(args)
	if err != nil {
		b.reply(chatID, err.Error())
		return
	}

	feed, err := b.feeds.Fetch(ctx, feedURL)
	if err != nil {
		b.reply(chatID, fmt.Sprintf("Failed to fetch feed: %v", err))
		return
	}

	if name == "" {
		name = feed.Title
	}
	if name == "" {
		name = feedURL
	}

	existing, err := b.findFeed(ctx, feedKey(feedURL))
	if err != nil {
		b.log.Error("list feeds", "error", err)
		b.reply(chatID, fmt.Sprintf("Failed to save feed: %v", err))
		return
	}
	if existing != nil {
		b.reply(chatID, fmt.Sprintf("Feed is already watched: %s", feedURL))
		return
	}
	// A pipeline still running when the feed was deleted may have stored its
	// watermark again after /delete cleared it.
	if err := b.marks.DeleteWatermark(ctx, feedURL); err != nil {
		b.log.Warn("clear stale watermark", "url", feedURL, "error", err)
	}

	src := model.FeedSource{URL: feedURL, Name: name}
	if err := b.registry.AddFeed(ctx, src); err != nil {
		if errors.Is(err, storage.ErrFeedExists) {
			b.reply(chatID, fmt.Sprintf("Feed is already watched: %s", feedURL))
			return
		}
		b.log.Error("add feed", "url", feedURL, "error", err)
		b.reply(chatID, fmt.Sprintf("Failed to save feed: %v", err))
		return
	}

	b.log.Info("feed added", "url", feedURL, "name", name, "chat_id", chatID)
	b.reply(chatID, fmt.Sprintf("Added RSS feed: %s\nURL: %s\nEntries: %d", name, feedURL, len(feed.Items)))
}

func (b *Bot) handleDelete(ctx context.Context, chatID int64) {
	feeds, err := b.registry.ListFeeds(ctx)
	if err != nil {
		b.log.Error("list feeds", "error", err)
		b.reply(chatID, fmt.Sprintf("Error: %v", err))
		return
	}
	if len(feeds) == 0 {
		b.reply(chatID, emptyListText)
		return
	}

	rows := make([][]tgbotapi.InlineKeyboardButton, 0, len(feeds))
	for _, f := range feeds {
		rows = append(rows, tgbotapi.NewInlineKeyboardRow(
			tgbotapi.NewInlineKeyboardButtonData(feedLabel(f), callbackData(actionDelete, f.URL)),
		))
	}

	msg := tgbotapi.NewMessage(chatID, "Select the RSS feed to delete:")
	msg.ReplyMarkup = tgbotapi.NewInlineKeyboardMarkup(rows...)
	if _, err := b.api.Send(msg); err != nil {
		b.log.Error("send delete keyboard", "error", err)
	}
}
