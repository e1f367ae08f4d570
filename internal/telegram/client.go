// Package telegram runs the forecasting game over the Telegram Bot API:
// commands, inline menus, the bet and operator dialogues, and delivery of
// settlement results.
package telegram

import (
	"context"
	"fmt"
	"runtime/debug"
	"strings"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/rewired-gh/forecastbot/internal/dialogue"
	"github.com/rewired-gh/forecastbot/internal/engine"
	"github.com/rewired-gh/forecastbot/internal/logger"
	"github.com/rewired-gh/forecastbot/internal/models"
)

// Game is the part of the engine the bot drives.
type Game interface {
	Config() engine.Config
	Touch(ctx context.Context, p models.Participant) (*models.Participant, error)
	Balance(ctx context.Context, participantID int64) (int64, error)
	CreateQuestion(ctx context.Context, title string, kind models.Kind, rawStep string) (int64, error)
	ListOpenQuestions(ctx context.Context) ([]models.Question, error)
	GetQuestion(ctx context.Context, id int64) (*models.Question, error)
	QuestionBets(ctx context.Context, id int64) (*models.Question, []models.QuestionBet, error)
	PlaceBet(ctx context.Context, p models.Participant, questionID int64, rawForecast string, points int64) (*models.BetPreview, error)
	Settle(ctx context.Context, questionID int64, rawFact string) ([]models.SettlementResult, error)
	ListMyBets(ctx context.Context, participantID int64) ([]models.MyBet, error)
}

// sender is the subset of *tgbotapi.BotAPI used to talk to chats.
type sender interface {
	Send(c tgbotapi.Chattable) (tgbotapi.Message, error)
	Request(c tgbotapi.Chattable) (*tgbotapi.APIResponse, error)
}

type Options struct {
	AdminIDs       []int64
	PollTimeout    time.Duration
	MaxRetries     int
	RetryDelayBase time.Duration
	Location       *time.Location
}

// Client is the chat front end of the game. It also implements
// engine.Notifier.
type Client struct {
	bot       *tgbotapi.BotAPI
	api       sender
	game      Game
	dialogues *dialogue.Tracker
	admins    map[int64]bool

	pollTimeout    int
	maxRetries     int
	retryDelayBase time.Duration
	location       *time.Location
}

// NewClient connects to the Bot API with the given token.
func NewClient(botToken string, game Game, opts Options) (*Client, error) {
	bot, err := tgbotapi.NewBotAPI(botToken)
	if err != nil {
		return nil, fmt.Errorf("failed to create Telegram bot: %w", err)
	}
	logger.Info("Authorized on Telegram as @%s", bot.Self.UserName)

	c := newClient(bot, game, opts)
	c.bot = bot
	return c, nil
}

func newClient(api sender, game Game, opts Options) *Client {
	if opts.MaxRetries <= 0 {
		opts.MaxRetries = 3
	}
	if opts.RetryDelayBase <= 0 {
		opts.RetryDelayBase = time.Second
	}
	if opts.PollTimeout <= 0 {
		opts.PollTimeout = 60 * time.Second
	}
	if opts.Location == nil {
		opts.Location = time.UTC
	}

	admins := make(map[int64]bool, len(opts.AdminIDs))
	for _, id := range opts.AdminIDs {
		admins[id] = true
	}

	return &Client{
		api:            api,
		game:           game,
		dialogues:      dialogue.NewTracker(),
		admins:         admins,
		pollTimeout:    int(opts.PollTimeout / time.Second),
		maxRetries:     opts.MaxRetries,
		retryDelayBase: opts.RetryDelayBase,
		location:       opts.Location,
	}
}

// ListenForCommands starts a goroutine that long-polls for updates and
// handles them one at a time. It returns immediately; the goroutine stops
// when ctx is cancelled.
func (c *Client) ListenForCommands(ctx context.Context) {
	u := tgbotapi.NewUpdate(0)
	u.Timeout = c.pollTimeout
	updates := c.bot.GetUpdatesChan(u)

	go func() {
		for {
			select {
			case <-ctx.Done():
				c.bot.StopReceivingUpdates()
				return
			case update, ok := <-updates:
				if !ok {
					return
				}
				c.safeHandleUpdate(ctx, update)
			}
		}
	}()
}

// safeHandleUpdate confines a handler panic to the update that caused it.
func (c *Client) safeHandleUpdate(ctx context.Context, update tgbotapi.Update) {
	defer func() {
		if r := recover(); r != nil {
			logger.Error("Panic while handling update %d: %v\n%s", update.UpdateID, r, debug.Stack())
		}
	}()
	c.handleUpdate(ctx, update)
}

func (c *Client) handleUpdate(ctx context.Context, update tgbotapi.Update) {
	switch {
	case update.CallbackQuery != nil:
		c.handleCallback(ctx, update.CallbackQuery)
	case update.Message != nil && update.Message.From != nil:
		if update.Message.IsCommand() {
			c.handleCommand(ctx, update.Message)
			return
		}
		c.handleText(ctx, update.Message)
	}
}

// NotifyResult sends a settlement result to the participant's private chat.
func (c *Client) NotifyResult(ctx context.Context, r models.SettlementResult) error {
	return c.send(ctx, r.Participant.ID, renderResult(r), nil)
}

func (c *Client) isAdmin(id int64) bool {
	return c.admins[id]
}

func participantOf(u *tgbotapi.User) models.Participant {
	name := strings.TrimSpace(u.FirstName + " " + u.LastName)
	if name == "" {
		name = u.UserName
	}
	return models.Participant{ID: u.ID, Name: name}
}

// send delivers a MarkdownV2 message with linear-backoff retry.
func (c *Client) send(ctx context.Context, chatID int64, text string, markup any) error {
	msg := tgbotapi.NewMessage(chatID, text)
	msg.ParseMode = tgbotapi.ModeMarkdownV2
	if markup != nil {
		msg.ReplyMarkup = markup
	}

	var lastErr error
	for i := 0; i < c.maxRetries; i++ {
		_, err := c.api.Send(msg)
		if err == nil {
			return nil
		}
		lastErr = err
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(c.retryDelayBase * time.Duration(i+1)):
		}
	}
	return fmt.Errorf("failed after %d retries: %w", c.maxRetries, lastErr)
}

// reply is send for interactive answers, where a failure is only logged.
func (c *Client) reply(ctx context.Context, chatID int64, text string, markup any) {
	if err := c.send(ctx, chatID, text, markup); err != nil {
		logger.Warn("Failed to reply in chat %d: %v", chatID, err)
	}
}

func (c *Client) answerCallback(cb *tgbotapi.CallbackQuery, text string) {
	if _, err := c.api.Request(tgbotapi.NewCallback(cb.ID, text)); err != nil {
		logger.Debug("Failed to answer callback %s: %v", cb.ID, err)
	}
}

// escapeMarkdownV2 escapes special characters for Telegram MarkdownV2.
func escapeMarkdownV2(text string) string {
	var b strings.Builder
	b.Grow(len(text) + len(text)/4)
	for _, char := range text {
		switch char {
		case '_', '*', '[', ']', '(', ')', '~', '`', '>', '#', '+', '-', '=', '|', '{', '}', '.', '!', '\\':
			b.WriteByte('\\')
		}
		b.WriteRune(char)
	}
	return b.String()
}
