package telegram

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/rewired-gh/forecastbot/internal/codec"
	"github.com/rewired-gh/forecastbot/internal/engine"
	"github.com/rewired-gh/forecastbot/internal/models"
	"github.com/shopspring/decimal"
)

// maxMessageLen leaves headroom under Telegram's 4096 character limit for
// the escape characters MarkdownV2 adds.
const maxMessageLen = 3800

func bold(s string) string {
	return "*" + escapeMarkdownV2(s) + "*"
}

func kindLabel(k models.Kind) string {
	if k == models.KindTime {
		return "time of day"
	}
	return "number"
}

func questionLabel(q models.Question) string {
	return fmt.Sprintf("#%d %s", q.ID, q.Title)
}

func renderWelcome(name string, balance int64, admin bool) string {
	var b strings.Builder
	fmt.Fprintf(&b, "👋 Hi, %s\\!\n\n", escapeMarkdownV2(name))
	b.WriteString("Forecast the outcome of open questions and wager points on your answer\\. ")
	b.WriteString("Accurate forecasts that few others made pay the most\\.\n\n")
	fmt.Fprintf(&b, "💰 Balance: %s points", bold(fmt.Sprint(balance)))
	if admin {
		b.WriteString("\n\n🛠 You are an operator\\.")
	}
	return b.String()
}

func renderHelp(cfg engine.Config, admin bool) string {
	var b strings.Builder
	b.WriteString("*How it works*\n\n")
	b.WriteString("1\\. Pick an open question and send your forecast\\.\n")
	fmt.Fprintf(&b, "2\\. Wager %s points\\. Sending a new bet replaces your previous one on that question\\.\n",
		escapeMarkdownV2(fmt.Sprintf("%d-%d", cfg.MinPoints, cfg.MaxPoints)))
	b.WriteString("3\\. When the fact is published, a forecast within 10% of itself earns up to 2x accuracy, ")
	b.WriteString("and a forecast shared by few others earns up to 2\\.8x uniqueness\\.\n\n")
	b.WriteString("/start \\- main menu\n/cancel \\- abort the current input\n/help \\- this message")
	if admin {
		b.WriteString("\n\nOperators can create questions, list bets and settle from the menu\\.")
	}
	return b.String()
}

func renderForecastPrompt(q *models.Question) string {
	var b strings.Builder
	fmt.Fprintf(&b, "❓ %s\n\n", bold(questionLabel(*q)))
	if q.Kind == models.KindTime {
		fmt.Fprintf(&b, "Send a time as HH:MM, on a %s grid \\(e\\.g\\. %s\\)\\.",
			escapeMarkdownV2(codec.FormatStep(q.Step, q.Kind)),
			escapeMarkdownV2(codec.Clock(9*60)))
	} else {
		fmt.Fprintf(&b, "Send a number that is a multiple of %s\\.",
			escapeMarkdownV2(codec.FormatStep(q.Step, q.Kind)))
	}
	return b.String()
}

func renderPointsPrompt(q *models.Question, forecast decimal.Decimal, balance int64, cfg engine.Config) string {
	return fmt.Sprintf("Forecast %s on %s\\.\n\nHow many points do you wager? \\(%s, balance %s\\)",
		bold(codec.Format(forecast, q.Kind)),
		escapeMarkdownV2(fmt.Sprintf("#%d", q.ID)),
		escapeMarkdownV2(fmt.Sprintf("%d-%d", cfg.MinPoints, cfg.MaxPoints)),
		escapeMarkdownV2(fmt.Sprint(balance)))
}

func renderPreview(p *models.BetPreview) string {
	q := p.Question
	var b strings.Builder
	if p.Replaced {
		b.WriteString("✅ *Bet updated*\n\n")
	} else {
		b.WriteString("✅ *Bet accepted*\n\n")
	}
	fmt.Fprintf(&b, "❓ %s\n", escapeMarkdownV2(questionLabel(q)))
	fmt.Fprintf(&b, "🎯 Forecast: %s\n", bold(codec.Format(p.Forecast, q.Kind)))
	if p.Replaced && p.PointsBefore != p.Points {
		fmt.Fprintf(&b, "💵 Points: %s \\(was %d\\)\n", bold(fmt.Sprint(p.Points)), p.PointsBefore)
	} else {
		fmt.Fprintf(&b, "💵 Points: %s\n", bold(fmt.Sprint(p.Points)))
	}
	fmt.Fprintf(&b, "👥 Cluster %s: %d of %d forecasts\n",
		escapeMarkdownV2(fmt.Sprintf("[%s; %s)",
			codec.FormatRounded(p.ClusterFrom, q.Kind),
			codec.FormatRounded(p.ClusterTo, q.Kind))),
		p.BinCount, p.Total)
	fmt.Fprintf(&b, "✨ Uniqueness so far: %s \\(final value is fixed at settlement\\)\n",
		escapeMarkdownV2("x"+p.Unique.String()))
	fmt.Fprintf(&b, "💰 Balance: %s", escapeMarkdownV2(fmt.Sprint(p.Balance)))
	return b.String()
}

func renderResult(r models.SettlementResult) string {
	var b strings.Builder
	b.WriteString("🏁 *Question settled*\n\n")
	fmt.Fprintf(&b, "❓ %s\n", escapeMarkdownV2(fmt.Sprintf("#%d %s", r.QuestionID, r.QuestionTitle)))
	fmt.Fprintf(&b, "🎯 Your forecast: %s\n", bold(codec.Format(r.Forecast, r.Kind)))
	fmt.Fprintf(&b, "📌 Fact: %s\n", bold(codec.Format(r.Fact, r.Kind)))
	fmt.Fprintf(&b, "📏 Error: %s, tolerance: %s\n",
		escapeMarkdownV2(codec.FormatSpan(r.Score.Error, r.Kind)),
		escapeMarkdownV2(codec.FormatSpan(r.Score.Tolerance, r.Kind)))
	fmt.Fprintf(&b, "🎚 Accuracy: %s\n", escapeMarkdownV2("x"+r.Score.Accuracy.String()))
	fmt.Fprintf(&b, "✨ Uniqueness: %s \\(%d of %d in your cluster\\)\n",
		escapeMarkdownV2("x"+r.Score.Unique.String()), r.Score.BinCount, r.Score.Total)
	fmt.Fprintf(&b, "💵 Stake: %d, credited: %s\n", r.Points, bold(fmt.Sprint(r.Credited)))
	fmt.Fprintf(&b, "💰 Balance: %s", escapeMarkdownV2(fmt.Sprint(r.Balance)))
	return b.String()
}

func renderSettled(q *models.Question, fact string, results []models.SettlementResult) string {
	var credited int64
	paid := 0
	for _, r := range results {
		credited += r.Credited
		if r.Credited > 0 {
			paid++
		}
	}
	return fmt.Sprintf("🏁 %s settled with fact %s\\.\n\n%d bets scored, %d paid, %d points credited\\.",
		bold(fmt.Sprintf("#%d", q.ID)), bold(fact), len(results), paid, credited)
}

func renderMyBets(bets []models.MyBet, loc *time.Location) string {
	if len(bets) == 0 {
		return "You have no bets yet\\."
	}
	var b strings.Builder
	b.WriteString("📋 *Your bets*\n")
	for _, mb := range bets {
		q := mb.Question
		status := "open"
		if !q.IsOpen() && q.Fact != nil {
			status = "fact " + codec.Format(*q.Fact, q.Kind)
		}
		line := fmt.Sprintf("#%d %s: %s x %d (%s, %s)",
			q.ID, q.Title, codec.Format(mb.Forecast, q.Kind), mb.Points, status,
			mb.PlacedAt.In(loc).Format("2006-01-02 15:04"))
		b.WriteString("\n• " + escapeMarkdownV2(line))
	}
	return b.String()
}

func renderQuestionBets(q *models.Question, bets []models.QuestionBet) string {
	var b strings.Builder
	fmt.Fprintf(&b, "📋 %s\n", bold(questionLabel(*q)))
	fmt.Fprintf(&b, "%s, step %s, %d bets\n",
		escapeMarkdownV2(kindLabel(q.Kind)), escapeMarkdownV2(codec.FormatStep(q.Step, q.Kind)), len(bets))

	var total int64
	for _, qb := range bets {
		total += qb.Bet.Points
	}
	fmt.Fprintf(&b, "Points at stake: %d\n", total)

	for i, qb := range bets {
		line := "\n• " + escapeMarkdownV2(fmt.Sprintf("%s: %s x %d",
			qb.Participant.DisplayName(), codec.Format(qb.Bet.Forecast, q.Kind), qb.Bet.Points))
		if b.Len()+len(line) > maxMessageLen {
			fmt.Fprintf(&b, "\n… and %d more", len(bets)-i)
			break
		}
		b.WriteString(line)
	}
	return b.String()
}

// userMessage turns an engine error into a reply for the participant.
func userMessage(err error, q *models.Question, cfg engine.Config) string {
	var insufficient *models.InsufficientBalanceError
	switch {
	case errors.As(err, &insufficient):
		return fmt.Sprintf("Not enough points: this bet needs %d more, you have %d \\(short by %d\\)\\.",
			insufficient.Need, insufficient.Have, insufficient.Shortfall())
	case errors.Is(err, models.ErrInvalidStep):
		if q != nil {
			return fmt.Sprintf("The value must be a multiple of %s\\.", escapeMarkdownV2(codec.FormatStep(q.Step, q.Kind)))
		}
		return "The value is not on the step grid\\."
	case errors.Is(err, models.ErrInvalidFormat):
		if q != nil && q.Kind == models.KindTime {
			return "Could not read that time, use HH:MM\\."
		}
		return "Could not read that value\\."
	case errors.Is(err, models.ErrInvalidPoints):
		return escapeMarkdownV2(fmt.Sprintf("Points must be a whole number from %d to %d.", cfg.MinPoints, cfg.MaxPoints))
	case errors.Is(err, models.ErrQuestionClosed):
		return "This question is closed for bets\\."
	case errors.Is(err, models.ErrQuestionNotFound):
		return "Question not found\\."
	case errors.Is(err, models.ErrAlreadySettled):
		return "This question has already been settled\\."
	case errors.Is(err, models.ErrInvalidQuestion):
		return "The title must be between 3 and 512 characters\\."
	case errors.Is(err, models.ErrInvalidKind):
		return "Unknown answer type\\."
	}
	return "Something went wrong, please try again later\\."
}
