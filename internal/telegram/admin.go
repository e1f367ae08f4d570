package telegram

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"unicode/utf8"

	"github.com/rewired-gh/forecastbot/internal/codec"
	"github.com/rewired-gh/forecastbot/internal/dialogue"
	"github.com/rewired-gh/forecastbot/internal/logger"
	"github.com/rewired-gh/forecastbot/internal/models"
)

const (
	minTitleLen = 3
	maxTitleLen = 512
)

func (c *Client) handleAdminMenu(ctx context.Context, chatID int64, p models.Participant, item string) {
	switch item {
	case menuCreate:
		c.dialogues.Set(p.ID, dialogue.State{Stage: dialogue.AwaitingTitle})
		c.reply(ctx, chatID, "Send the question title\\.", nil)
	case menuShowBets:
		c.offerQuestions(ctx, chatID, p, cbShow, dialogue.AwaitingQuestionChoice)
	case menuSettle:
		c.offerQuestions(ctx, chatID, p, cbSettle, dialogue.AwaitingQuestionChoice)
	}
}

func (c *Client) handleAdminCallback(ctx context.Context, chatID int64, p models.Participant, action, arg string) {
	if action == cbKind {
		c.receiveKind(ctx, chatID, p, arg)
		return
	}

	id, err := strconv.ParseInt(arg, 10, 64)
	if err != nil {
		return
	}
	switch action {
	case cbShow:
		c.dialogues.Clear(p.ID)
		q, bets, err := c.game.QuestionBets(ctx, id)
		if err != nil {
			c.reply(ctx, chatID, userMessage(err, nil, c.game.Config()), nil)
			return
		}
		c.reply(ctx, chatID, renderQuestionBets(q, bets), nil)
	case cbSettle:
		q, err := c.game.GetQuestion(ctx, id)
		if err == nil && !q.IsOpen() {
			err = models.ErrAlreadySettled
		}
		if err != nil {
			c.dialogues.Clear(p.ID)
			c.reply(ctx, chatID, userMessage(err, q, c.game.Config()), nil)
			return
		}
		c.dialogues.Set(p.ID, dialogue.State{Stage: dialogue.AwaitingFact, QuestionID: q.ID})
		hint := "a number"
		if q.Kind == models.KindTime {
			hint = "a time as HH:MM"
		}
		c.reply(ctx, chatID, fmt.Sprintf("Send the fact for %s, %s\\.",
			bold(questionLabel(*q)), escapeMarkdownV2(hint)), nil)
	}
}

func (c *Client) receiveKind(ctx context.Context, chatID int64, p models.Participant, arg string) {
	state := c.dialogues.Get(p.ID)
	if state.Stage != dialogue.AwaitingKind {
		return
	}
	kind, err := models.ParseKind(arg)
	if err != nil {
		c.reply(ctx, chatID, userMessage(err, nil, c.game.Config()), kindMenu())
		return
	}
	state.Kind = kind
	state.Stage = dialogue.AwaitingStep
	c.dialogues.Set(p.ID, state)

	prompt := "Send the step: forecasts must be multiples of it \\(e\\.g\\. 1 or 0\\.5\\)\\."
	if kind == models.KindTime {
		prompt = escapeMarkdownV2(fmt.Sprintf("Send the step in minutes, 1 to %d (e.g. 5).", codec.MaxTimeStep))
	}
	c.reply(ctx, chatID, prompt, nil)
}

func (c *Client) handleAdminText(ctx context.Context, chatID int64, state dialogue.State, p models.Participant, text string) {
	cfg := c.game.Config()

	switch state.Stage {
	case dialogue.AwaitingTitle:
		if n := utf8.RuneCountInString(text); n < minTitleLen || n > maxTitleLen {
			c.reply(ctx, chatID, userMessage(models.ErrInvalidQuestion, nil, cfg), nil)
			return
		}
		c.dialogues.Set(p.ID, dialogue.State{Stage: dialogue.AwaitingKind, Title: text})
		c.reply(ctx, chatID, "Choose the answer type:", kindMenu())

	case dialogue.AwaitingStep:
		id, err := c.game.CreateQuestion(ctx, state.Title, state.Kind, text)
		if errors.Is(err, models.ErrInvalidFormat) {
			c.reply(ctx, chatID, userMessage(err, nil, cfg), nil)
			return
		}
		c.dialogues.Clear(p.ID)
		if err != nil {
			logger.Error("Failed to create question for %d: %v", p.ID, err)
			c.reply(ctx, chatID, userMessage(err, nil, cfg), nil)
			return
		}
		c.reply(ctx, chatID, fmt.Sprintf("➕ Question %s is open for bets\\.",
			bold(fmt.Sprintf("#%d %s", id, state.Title))), c.mainMenu(true))

	case dialogue.AwaitingFact:
		results, err := c.game.Settle(ctx, state.QuestionID, text)
		if errors.Is(err, models.ErrInvalidFormat) {
			q, _ := c.game.GetQuestion(ctx, state.QuestionID)
			c.reply(ctx, chatID, userMessage(err, q, cfg), nil)
			return
		}
		c.dialogues.Clear(p.ID)
		if err != nil {
			c.reply(ctx, chatID, userMessage(err, nil, cfg), nil)
			return
		}
		if n := c.dialogues.ClearQuestion(state.QuestionID); n > 0 {
			logger.Debug("Dropped %d conversations bound to settled question #%d", n, state.QuestionID)
		}

		q, err := c.game.GetQuestion(ctx, state.QuestionID)
		if err != nil || q.Fact == nil {
			logger.Error("Failed to reload settled question #%d: %v", state.QuestionID, err)
			return
		}
		c.reply(ctx, chatID, renderSettled(q, codec.Format(*q.Fact, q.Kind), results), c.mainMenu(true))
	}
}
