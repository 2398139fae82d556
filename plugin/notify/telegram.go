package notify

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"strings"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/pkg/errors"

	"github.com/hrygo/routinesense/store"
)

// telegramBot is the part of *tgbotapi.BotAPI the sink uses.
type telegramBot interface {
	Send(c tgbotapi.Chattable) (tgbotapi.Message, error)
	Request(c tgbotapi.Chattable) (*tgbotapi.APIResponse, error)
	GetUpdatesChan(config tgbotapi.UpdateConfig) tgbotapi.UpdatesChannel
	StopReceivingUpdates()
}

// ResponseHandler applies a user's answer to a pattern.
// *proactive.Responder implements it.
type ResponseHandler interface {
	AcceptAutomation(ctx context.Context, userID int32, uid string) (*store.Pattern, error)
	DeclineAutomation(ctx context.Context, userID int32, uid string) (*store.Pattern, error)
	PausePattern(ctx context.Context, userID int32, uid string) (*store.Pattern, error)
}

// TelegramConfig holds configuration for the Telegram sink.
type TelegramConfig struct {
	BotToken string
	// Chats maps user IDs to Telegram chat IDs.
	Chats map[int32]int64
	// DefaultChat receives notifications for users without a mapping. Zero drops them.
	DefaultChat int64
}

// TelegramSink sends notifications through a Telegram bot.
type TelegramSink struct {
	bot    telegramBot
	config *TelegramConfig
}

// NewTelegramSink connects to the bot API.
func NewTelegramSink(config *TelegramConfig) (*TelegramSink, error) {
	bot, err := tgbotapi.NewBotAPI(config.BotToken)
	if err != nil {
		return nil, errors.Wrap(err, "failed to create Telegram bot")
	}
	return newTelegramSink(bot, config), nil
}

func newTelegramSink(bot telegramBot, config *TelegramConfig) *TelegramSink {
	return &TelegramSink{bot: bot, config: config}
}

func (s *TelegramSink) chatID(userID int32) (int64, bool) {
	if id, ok := s.config.Chats[userID]; ok {
		return id, true
	}
	return s.config.DefaultChat, s.config.DefaultChat != 0
}

// Emit sends the notification as a text message. Notifications listing actions
// carry inline buttons whose callback data is "<action>:<userId>:<patternUid>".
func (s *TelegramSink) Emit(ctx context.Context, n *store.Notification) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	chatID, ok := s.chatID(n.UserID)
	if !ok {
		return errors.Errorf("no telegram chat for user %d", n.UserID)
	}

	msg := tgbotapi.NewMessage(chatID, formatTelegramText(n))
	if uid := patternUID(n); uid != "" {
		if actions, ok := n.Payload["actions"].([]string); ok && len(actions) > 0 {
			msg.ReplyMarkup = actionKeyboard(n.UserID, uid, actions)
		}
	}
	if _, err := s.bot.Send(msg); err != nil {
		return errors.Wrapf(err, "failed to send telegram message to chat %d", chatID)
	}
	return nil
}

func formatTelegramText(n *store.Notification) string {
	var b strings.Builder
	if n.Priority == store.PatternPriorityCritical {
		b.WriteString("[!] ")
	}
	b.WriteString(n.Title)
	b.WriteString("\n\n")
	b.WriteString(n.Body)
	return b.String()
}

func actionKeyboard(userID int32, uid string, actions []string) tgbotapi.InlineKeyboardMarkup {
	buttons := make([]tgbotapi.InlineKeyboardButton, 0, len(actions))
	for _, action := range actions {
		label := strings.ToUpper(action[:1]) + action[1:]
		buttons = append(buttons, tgbotapi.NewInlineKeyboardButtonData(label, fmt.Sprintf("%s:%d:%s", action, userID, uid)))
	}
	return tgbotapi.NewInlineKeyboardMarkup(tgbotapi.NewInlineKeyboardRow(buttons...))
}

// ListenCallbacks long-polls the bot for presses of the buttons Emit attaches
// and applies them through handler until ctx is done.
func (s *TelegramSink) ListenCallbacks(ctx context.Context, handler ResponseHandler, logger *slog.Logger) {
	if logger == nil {
		logger = slog.Default()
	}
	u := tgbotapi.NewUpdate(0)
	u.Timeout = 30
	u.AllowedUpdates = []string{"callback_query"}
	updates := s.bot.GetUpdatesChan(u)
	defer s.bot.StopReceivingUpdates()

	for {
		select {
		case <-ctx.Done():
			return
		case update, ok := <-updates:
			if !ok {
				return
			}
			if update.CallbackQuery == nil {
				continue
			}
			reply := s.handleCallback(ctx, handler, update.CallbackQuery, logger)
			if _, err := s.bot.Request(tgbotapi.NewCallback(update.CallbackQuery.ID, reply)); err != nil {
				logger.Warn("telegram: failed to answer callback", "error", err)
			}
		}
	}
}

// handleCallback applies one button press and returns the text shown to the user.
// The press must come from the chat the user's notifications go to.
func (s *TelegramSink) handleCallback(ctx context.Context, handler ResponseHandler, q *tgbotapi.CallbackQuery, logger *slog.Logger) string {
	action, rest, ok := strings.Cut(q.Data, ":")
	if !ok {
		return "Unknown action"
	}
	rawUser, uid, ok := strings.Cut(rest, ":")
	if !ok || uid == "" {
		return "Unknown action"
	}
	userID, err := strconv.ParseInt(rawUser, 10, 32)
	if err != nil {
		return "Unknown action"
	}
	chatID, ok := s.chatID(int32(userID))
	if !ok || q.Message == nil || q.Message.Chat == nil || q.Message.Chat.ID != chatID {
		logger.Warn("telegram: callback from an unlinked chat", "user_id", userID, "pattern_uid", uid)
		return "This chat cannot answer for that user"
	}

	var reply string
	switch action {
	case "accept":
		_, err = handler.AcceptAutomation(ctx, int32(userID), uid)
		reply = "Automation enabled"
	case "decline":
		_, err = handler.DeclineAutomation(ctx, int32(userID), uid)
		reply = "Got it, no automation"
	case "pause":
		_, err = handler.PausePattern(ctx, int32(userID), uid)
		reply = "Reminders paused"
	default:
		return "Unknown action"
	}
	if err != nil {
		logger.Warn("telegram: failed to apply callback",
			"user_id", userID,
			"pattern_uid", uid,
			"action", action,
			"error", err)
		return "Could not apply your answer"
	}
	return reply
}
