package telegram

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/rewired-gh/forecastbot/internal/codec"
	"github.com/rewired-gh/forecastbot/internal/dialogue"
	"github.com/rewired-gh/forecastbot/internal/logger"
	"github.com/rewired-gh/forecastbot/internal/models"
)

// Callback data prefixes. Question-bound actions carry the id after the colon.
const (
	cbMenu       = "menu"
	cbBet        = "bet"
	cbShow       = "show"
	cbSettle     = "settle"
	cbKind       = "kind"
	cbCancel     = "cancel"
	menuBet      = "bet"
	menuMyBets   = "mybets"
	menuBalance  = "balance"
	menuCreate   = "create"
	menuShowBets = "show"
	menuSettle   = "settle"
)

func callbackData(action, arg string) string {
	return action + ":" + arg
}

func (c *Client) mainMenu(admin bool) tgbotapi.InlineKeyboardMarkup {
	rows := [][]tgbotapi.InlineKeyboardButton{
		tgbotapi.NewInlineKeyboardRow(
			tgbotapi.NewInlineKeyboardButtonData("🎯 Make a forecast", callbackData(cbMenu, menuBet)),
		),
		tgbotapi.NewInlineKeyboardRow(
			tgbotapi.NewInlineKeyboardButtonData("📋 My bets", callbackData(cbMenu, menuMyBets)),
			tgbotapi.NewInlineKeyboardButtonData("💰 Balance", callbackData(cbMenu, menuBalance)),
		),
	}
	if admin {
		rows = append(rows,
			tgbotapi.NewInlineKeyboardRow(
				tgbotapi.NewInlineKeyboardButtonData("➕ New question", callbackData(cbMenu, menuCreate)),
			),
			tgbotapi.NewInlineKeyboardRow(
				tgbotapi.NewInlineKeyboardButtonData("👥 Show bets", callbackData(cbMenu, menuShowBets)),
				tgbotapi.NewInlineKeyboardButtonData("🏁 Settle", callbackData(cbMenu, menuSettle)),
			),
		)
	}
	return tgbotapi.NewInlineKeyboardMarkup(rows...)
}

func questionMenu(action string, questions []models.Question) tgbotapi.InlineKeyboardMarkup {
	rows := make([][]tgbotapi.InlineKeyboardButton, 0, len(questions)+1)
	for _, q := range questions {
		label := questionLabel(q)
		if r := []rune(label); len(r) > 60 {
			label = string(r[:59]) + "…"
		}
		rows = append(rows, tgbotapi.NewInlineKeyboardRow(
			tgbotapi.NewInlineKeyboardButtonData(label, callbackData(action, strconv.FormatInt(q.ID, 10))),
		))
	}
	rows = append(rows, tgbotapi.NewInlineKeyboardRow(
		tgbotapi.NewInlineKeyboardButtonData("✖️ Cancel", callbackData(cbCancel, "")),
	))
	return tgbotapi.NewInlineKeyboardMarkup(rows...)
}

func kindMenu() tgbotapi.InlineKeyboardMarkup {
	return tgbotapi.NewInlineKeyboardMarkup(
		tgbotapi.NewInlineKeyboardRow(
			tgbotapi.NewInlineKeyboardButtonData("🔢 Number", callbackData(cbKind, string(models.KindNumeric))),
			tgbotapi.NewInlineKeyboardButtonData("🕘 Time of day", callbackData(cbKind, string(models.KindTime))),
		),
	)
}

func (c *Client) handleCommand(ctx context.Context, msg *tgbotapi.Message) {
	p := participantOf(msg.From)
	chatID := msg.Chat.ID

	switch msg.Command() {
	case "start":
		c.dialogues.Clear(p.ID)
		stored, err := c.game.Touch(ctx, p)
		if err != nil {
			logger.Error("Failed to register participant %d: %v", p.ID, err)
			c.reply(ctx, chatID, userMessage(err, nil, c.game.Config()), nil)
			return
		}
		c.reply(ctx, chatID, renderWelcome(stored.DisplayName(), stored.Balance, c.isAdmin(p.ID)), c.mainMenu(c.isAdmin(p.ID)))
	case "help":
		c.reply(ctx, chatID, renderHelp(c.game.Config(), c.isAdmin(p.ID)), nil)
	case "cancel":
		c.dialogues.Clear(p.ID)
		c.reply(ctx, chatID, "Cancelled\\.", c.mainMenu(c.isAdmin(p.ID)))
	case "ping":
		c.reply(ctx, chatID, "Pong", nil)
	default:
		c.reply(ctx, chatID, "Unknown command, try /help\\.", nil)
	}
}

func (c *Client) handleCallback(ctx context.Context, cb *tgbotapi.CallbackQuery) {
	c.answerCallback(cb, "")
	if cb.From == nil || cb.Message == nil || cb.Message.Chat == nil {
		return
	}
	p := participantOf(cb.From)
	chatID := cb.Message.Chat.ID
	action, arg, _ := strings.Cut(cb.Data, ":")

	switch action {
	case cbMenu:
		c.handleMenu(ctx, chatID, p, arg)
	case cbBet:
		id, err := strconv.ParseInt(arg, 10, 64)
		if err != nil {
			return
		}
		c.chooseQuestion(ctx, chatID, p, id)
	case cbShow, cbSettle, cbKind:
		if !c.isAdmin(p.ID) {
			c.reply(ctx, chatID, "This action is for operators only\\.", nil)
			return
		}
		c.handleAdminCallback(ctx, chatID, p, action, arg)
	case cbCancel:
		c.dialogues.Clear(p.ID)
		c.reply(ctx, chatID, "Cancelled\\.", c.mainMenu(c.isAdmin(p.ID)))
	default:
		logger.Debug("Unknown callback %q from %d", cb.Data, p.ID)
	}
}

func (c *Client) handleMenu(ctx context.Context, chatID int64, p models.Participant, item string) {
	switch item {
	case menuBet:
		c.offerQuestions(ctx, chatID, p, cbBet, dialogue.AwaitingQuestionChoice)
	case menuMyBets:
		c.dialogues.Clear(p.ID)
		bets, err := c.game.ListMyBets(ctx, p.ID)
		if err != nil {
			logger.Error("Failed to list bets of %d: %v", p.ID, err)
			c.reply(ctx, chatID, userMessage(err, nil, c.game.Config()), nil)
			return
		}
		c.reply(ctx, chatID, renderMyBets(bets, c.location), nil)
	case menuBalance:
		c.dialogues.Clear(p.ID)
		balance, err := c.game.Balance(ctx, p.ID)
		if err != nil {
			logger.Error("Failed to read balance of %d: %v", p.ID, err)
			c.reply(ctx, chatID, userMessage(err, nil, c.game.Config()), nil)
			return
		}
		c.reply(ctx, chatID, fmt.Sprintf("💰 Balance: %s points", bold(fmt.Sprint(balance))), nil)
	case menuCreate, menuShowBets, menuSettle:
		if !c.isAdmin(p.ID) {
			c.reply(ctx, chatID, "This action is for operators only\\.", nil)
			return
		}
		c.handleAdminMenu(ctx, chatID, p, item)
	}
}

// offerQuestions lists open questions as buttons bound to action.
func (c *Client) offerQuestions(ctx context.Context, chatID int64, p models.Participant, action string, stage dialogue.Stage) {
	questions, err := c.game.ListOpenQuestions(ctx)
	if err != nil {
		logger.Error("Failed to list open questions: %v", err)
		c.reply(ctx, chatID, userMessage(err, nil, c.game.Config()), nil)
		return
	}
	if len(questions) == 0 {
		c.dialogues.Clear(p.ID)
		c.reply(ctx, chatID, "There are no open questions right now\\.", nil)
		return
	}
	c.dialogues.Set(p.ID, dialogue.State{Stage: stage})
	c.reply(ctx, chatID, "Choose a question:", questionMenu(action, questions))
}

func (c *Client) chooseQuestion(ctx context.Context, chatID int64, p models.Participant, questionID int64) {
	q, err := c.openQuestion(ctx, chatID, p, questionID)
	if err != nil {
		return
	}
	c.dialogues.Set(p.ID, dialogue.State{Stage: dialogue.AwaitingForecast, QuestionID: q.ID})
	c.reply(ctx, chatID, renderForecastPrompt(q), nil)
}

// openQuestion loads a question the participant is about to bet on. A
// missing or closed question ends the conversation.
func (c *Client) openQuestion(ctx context.Context, chatID int64, p models.Participant, questionID int64) (*models.Question, error) {
	q, err := c.game.GetQuestion(ctx, questionID)
	if err == nil && !q.IsOpen() {
		err = models.ErrQuestionClosed
	}
	if err != nil {
		c.dialogues.Clear(p.ID)
		c.reply(ctx, chatID, userMessage(err, q, c.game.Config()), nil)
		return nil, err
	}
	return q, nil
}

func (c *Client) handleText(ctx context.Context, msg *tgbotapi.Message) {
	p := participantOf(msg.From)
	chatID := msg.Chat.ID
	text := strings.TrimSpace(msg.Text)
	state := c.dialogues.Get(p.ID)

	if !state.Stage.ExpectsText() {
		c.reply(ctx, chatID, "Use the menu below or /help\\.", c.mainMenu(c.isAdmin(p.ID)))
		return
	}

	switch state.Stage {
	case dialogue.AwaitingForecast:
		c.receiveForecast(ctx, chatID, p, state, text)
	case dialogue.AwaitingPoints:
		c.receivePoints(ctx, chatID, p, state, text)
	case dialogue.AwaitingTitle, dialogue.AwaitingStep, dialogue.AwaitingFact:
		if !c.isAdmin(p.ID) {
			c.dialogues.Clear(p.ID)
			return
		}
		c.handleAdminText(ctx, chatID, state, p, text)
	}
}

func (c *Client) receiveForecast(ctx context.Context, chatID int64, p models.Participant, state dialogue.State, text string) {
	q, err := c.openQuestion(ctx, chatID, p, state.QuestionID)
	if err != nil {
		return
	}
	forecast, err := codec.Parse(text, q.Kind, q.Step)
	if err != nil {
		c.reply(ctx, chatID, userMessage(err, q, c.game.Config()), nil)
		return
	}
	balance, err := c.game.Balance(ctx, p.ID)
	if err != nil {
		logger.Error("Failed to read balance of %d: %v", p.ID, err)
		c.reply(ctx, chatID, userMessage(err, q, c.game.Config()), nil)
		return
	}

	state.Stage = dialogue.AwaitingPoints
	state.Forecast = codec.Format(forecast, q.Kind)
	c.dialogues.Set(p.ID, state)
	c.reply(ctx, chatID, renderPointsPrompt(q, forecast, balance, c.game.Config()), nil)
}

func (c *Client) receivePoints(ctx context.Context, chatID int64, p models.Participant, state dialogue.State, text string) {
	points, err := strconv.ParseInt(text, 10, 64)
	if err != nil {
		c.reply(ctx, chatID, userMessage(models.ErrInvalidPoints, nil, c.game.Config()), nil)
		return
	}

	preview, err := c.game.PlaceBet(ctx, p, state.QuestionID, state.Forecast, points)
	switch {
	case err == nil:
		c.dialogues.Clear(p.ID)
		c.reply(ctx, chatID, renderPreview(preview), c.mainMenu(c.isAdmin(p.ID)))
	case errors.Is(err, models.ErrInsufficientBalance), errors.Is(err, models.ErrInvalidPoints):
		// stay on the points prompt
		c.reply(ctx, chatID, userMessage(err, nil, c.game.Config()), nil)
	case errors.Is(err, models.ErrQuestionClosed), errors.Is(err, models.ErrQuestionNotFound):
		c.dialogues.Clear(p.ID)
		c.reply(ctx, chatID, userMessage(err, nil, c.game.Config()), nil)
	default:
		logger.Error("Bet by %d on #%d failed: %v", p.ID, state.QuestionID, err)
		c.dialogues.Clear(p.ID)
		c.reply(ctx, chatID, userMessage(err, nil, c.game.Config()), nil)
	}
}
