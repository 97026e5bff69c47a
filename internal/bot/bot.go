// Package bot handles the Telegram chat commands that manage the watched feeds.
package bot

import (
	"context"
	"log/slog"
	"strings"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/mmcdole/gofeed"

	"news_bot/internal/storage"
)

type telegramAPI interface {
	Send(c tgbotapi.Chattable) (tgbotapi.Message, error)
	Request(c tgbotapi.Chattable) (*tgbotapi.APIResponse, error)
	GetUpdatesChan(config tgbotapi.UpdateConfig) tgbotapi.UpdatesChannel
	StopReceivingUpdates()
}

// FeedValidator downloads and parses a feed to check that it is usable.
type FeedValidator interface {
	Fetch(ctx context.Context, feedURL string) (*gofeed.Feed, error)
}

// Bot answers management commands from allowed users.
type Bot struct {
	api      telegramAPI
	registry storage.FeedRegistry
	marks    storage.WatermarkStore
	feeds    FeedValidator
	allowed  func(userID int64) bool
	log      *slog.Logger
}

// New creates a Bot. A nil allowed func lets every user in.
func New(api telegramAPI, registry storage.FeedRegistry, marks storage.WatermarkStore, feeds FeedValidator, allowed func(int64) bool, log *slog.Logger) *Bot {
	if allowed == nil {
		allowed = func(int64) bool { return true }
	}
	return &Bot{
		api:      api,
		registry: registry,
		marks:    marks,
		feeds:    feeds,
		allowed:  allowed,
		log:      log,
	}
}

// Run registers the command menu and long-polls for updates until ctx is cancelled.
func (b *Bot) Run(ctx context.Context) {
	if _, err := b.api.Request(tgbotapi.NewSetMyCommands(commands...)); err != nil {
		b.log.Warn("set bot commands", "error", err)
	}

	u := tgbotapi.NewUpdate(0)
	u.Timeout = 60

	updates := b.api.GetUpdatesChan(u)

	for {
		select {
		case <-ctx.Done():
			b.api.StopReceivingUpdates()
			return
		case update, ok := <-updates:
			if !ok {
				return
			}
			b.handleUpdate(ctx, update)
		}
	}
}

func (b *Bot) handleUpdate(ctx context.Context, update tgbotapi.Update) {
	if cb := update.CallbackQuery; cb != nil {
		if cb.From == nil || !b.allowed(cb.From.ID) {
			b.answer(cb.ID, "Access denied.")
			return
		}
		b.handleCallback(ctx, cb)
		return
	}

	msg := update.Message
	if msg == nil || !msg.IsCommand() {
		return
	}
	if msg.From == nil || !b.allowed(msg.From.ID) {
		b.reply(msg.Chat.ID, "Access denied.")
		return
	}
	b.handleCommand(ctx, msg)
}

func (b *Bot) handleCommand(ctx context.Context, msg *tgbotapi.Message) {
	cmd := msg.Command()
	args := strings.TrimSpace(msg.CommandArguments())
	chatID := msg.Chat.ID

	b.log.Debug("command", "cmd", cmd, "args", args, "chat_id", chatID, "user_id", msg.From.ID)

	switch cmd {
	case cmdStart:
		b.handleStart(chatID)
	case cmdHelp:
		b.handleHelp(chatID)
	case cmdList:
		b.handleList(ctx, chatID)
	case cmdAdd:
		b.handleAdd(ctx, chatID, args)
	case cmdDelete:
		b.handleDelete(ctx, chatID)
	default:
		b.reply(chatID, "Unknown command. Use /help for a list of commands.")
	}
}

func (b *Bot) reply(chatID int64, text string) {
	msg := tgbotapi.NewMessage(chatID, text)
	msg.DisableWebPagePreview = true
	if _, err := b.api.Send(msg); err != nil {
		b.log.Error("send message", "chat_id", chatID, "error", err)
	}
}

func (b *Bot) answer(callbackID, text string) {
	if _, err := b.api.Request(tgbotapi.NewCallback(callbackID, text)); err != nil {
		b.log.Error("answer callback", "error", err)
	}
}
