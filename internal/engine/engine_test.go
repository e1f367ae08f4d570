package engine

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"

	"github.com/rewired-gh/forecastbot/internal/metrics"
	"github.com/rewired-gh/forecastbot/internal/models"
	"github.com/rewired-gh/forecastbot/internal/storage"
	"github.com/shopspring/decimal"
)

type fakeNotifier struct {
	mu     sync.Mutex
	failOn map[int64]bool
	sent   map[int64]models.SettlementResult
	tried  int
}

func newFakeNotifier(failOn ...int64) *fakeNotifier {
	f := &fakeNotifier{failOn: map[int64]bool{}, sent: map[int64]models.SettlementResult{}}
	for _, id := range failOn {
		f.failOn[id] = true
	}
	return f
}

func (f *fakeNotifier) NotifyResult(_ context.Context, r models.SettlementResult) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.tried++
	if f.failOn[r.Participant.ID] {
		return errors.New("chat blocked the bot")
	}
	f.sent[r.Participant.ID] = r
	return nil
}

func newTestEngine(t *testing.T, startBalance int64, n Notifier) *Engine {
	t.Helper()
	s, err := storage.New(":memory:", startBalance)
	if err != nil {
		t.Fatalf("storage.New: %v", err)
	}
	t.Cleanup(func() { _ = s.Close() })
	return New(s, n, metrics.New(), DefaultConfig())
}

func participant(id int64) models.Participant {
	return models.Participant{ID: id, Name: fmt.Sprintf("player-%d", id)}
}

func mustQuestion(t *testing.T, e *Engine, kind models.Kind, step string) int64 {
	t.Helper()
	id, err := e.CreateQuestion(context.Background(), "How many tickets today?", kind, step)
	if err != nil {
		t.Fatalf("CreateQuestion: %v", err)
	}
	return id
}

func mustBet(t *testing.T, e *Engine, pid, qid int64, forecast string, points int64) *models.BetPreview {
	t.Helper()
	preview, err := e.PlaceBet(context.Background(), participant(pid), qid, forecast, points)
	if err != nil {
		t.Fatalf("PlaceBet(%d, %q, %d): %v", pid, forecast, points, err)
	}
	return preview
}

func balanceOf(t *testing.T, e *Engine, pid int64) int64 {
	t.Helper()
	bal, err := e.Balance(context.Background(), pid)
	if err != nil {
		t.Fatalf("Balance: %v", err)
	}
	return bal
}

func TestSettle_ConsensusAndMiss(t *testing.T) {
	n := newFakeNotifier()
	e := newTestEngine(t, 1000, n)
	qid := mustQuestion(t, e, models.KindNumeric, "1")

	mustBet(t, e, 1, qid, "10", 100)
	mustBet(t, e, 2, qid, "10", 100)
	mustBet(t, e, 3, qid, "50", 100)

	results, err := e.Settle(context.Background(), qid, "10")
	if err != nil {
		t.Fatalf("Settle: %v", err)
	}
	if len(results) != 3 {
		t.Fatalf("got %d results, want 3", len(results))
	}

	byID := map[int64]models.SettlementResult{}
	for _, r := range results {
		byID[r.Participant.ID] = r
	}

	for _, pid := range []int64{1, 2} {
		r := byID[pid]
		if r.Score.BinCount != 2 || r.Score.Total != 3 {
			t.Errorf("participant %d: k/N = %d/%d, want 2/3", pid, r.Score.BinCount, r.Score.Total)
		}
		if !r.Score.Unique.Equal(decimal.RequireFromString("1.1")) {
			t.Errorf("participant %d: K_unique = %s, want 1.1", pid, r.Score.Unique)
		}
		if !r.Score.Accuracy.Equal(decimal.NewFromInt(2)) {
			t.Errorf("participant %d: K_accuracy = %s, want 2", pid, r.Score.Accuracy)
		}
		if r.Credited != 220 || r.Balance != 1120 {
			t.Errorf("participant %d: credited %d balance %d, want 220 and 1120", pid, r.Credited, r.Balance)
		}
	}

	miss := byID[3]
	if !miss.Score.Error.Equal(decimal.NewFromInt(40)) || !miss.Score.Tolerance.Equal(decimal.NewFromInt(5)) {
		t.Errorf("miss: err %s T %s, want 40 and 5", miss.Score.Error, miss.Score.Tolerance)
	}
	if miss.Credited != 0 || miss.Balance != 900 {
		t.Errorf("miss: credited %d balance %d, want 0 and 900", miss.Credited, miss.Balance)
	}

	if got := balanceOf(t, e, 1); got != 1120 {
		t.Errorf("ledger balance of 1 = %d, want 1120", got)
	}
	if len(n.sent) != 3 {
		t.Errorf("notified %d participants, want 3", len(n.sent))
	}

	q, _ := e.GetQuestion(context.Background(), qid)
	if q.Status != models.StatusSettled || q.Fact == nil || !q.Fact.Equal(decimal.NewFromInt(10)) {
		t.Errorf("question after settlement: %+v", q)
	}
	if q.SettlementID == "" || q.SettlementID != results[0].SettlementID {
		t.Errorf("settlement id mismatch: %q vs %q", q.SettlementID, results[0].SettlementID)
	}
}

func TestSettle_Twice(t *testing.T) {
	e := newTestEngine(t, 1000, nil)
	qid := mustQuestion(t, e, models.KindNumeric, "1")
	mustBet(t, e, 1, qid, "10", 100)

	if _, err := e.Settle(context.Background(), qid, "10"); err != nil {
		t.Fatalf("first Settle: %v", err)
	}
	before := balanceOf(t, e, 1)

	_, err := e.Settle(context.Background(), qid, "10")
	if !errors.Is(err, models.ErrAlreadySettled) {
		t.Fatalf("second Settle error = %v, want ErrAlreadySettled", err)
	}
	if after := balanceOf(t, e, 1); after != before {
		t.Errorf("balance changed on second settlement: %d -> %d", before, after)
	}
}

func TestSettle_Concurrent(t *testing.T) {
	e := newTestEngine(t, 1000, nil)
	qid := mustQuestion(t, e, models.KindNumeric, "1")
	mustBet(t, e, 1, qid, "10", 100)

	const attempts = 8
	var (
		wg       sync.WaitGroup
		mu       sync.Mutex
		ok       int
		refusals int
	)
	for i := 0; i < attempts; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := e.Settle(context.Background(), qid, "10")
			mu.Lock()
			defer mu.Unlock()
			switch {
			case err == nil:
				ok++
			case errors.Is(err, models.ErrAlreadySettled):
				refusals++
			default:
				t.Errorf("unexpected error: %v", err)
			}
		}()
	}
	wg.Wait()

	if ok != 1 || refusals != attempts-1 {
		t.Errorf("ok=%d refusals=%d, want 1 and %d", ok, refusals, attempts-1)
	}
	// 900 after the stake, +floor(100*2*1.1) once
	if got := balanceOf(t, e, 1); got != 1120 {
		t.Errorf("balance = %d, want 1120", got)
	}
	if e.questionLocks.size() != 0 {
		t.Errorf("question locks leaked: %d", e.questionLocks.size())
	}
}

func TestSettle_Refusals(t *testing.T) {
	e := newTestEngine(t, 1000, nil)
	ctx := context.Background()

	if _, err := e.Settle(ctx, 404, "1"); !errors.Is(err, models.ErrQuestionNotFound) {
		t.Errorf("missing question: %v", err)
	}

	qid := mustQuestion(t, e, models.KindTime, "5")
	mustBet(t, e, 1, qid, "09:05", 10)

	if _, err := e.Settle(ctx, qid, "25:00"); !errors.Is(err, models.ErrInvalidFormat) {
		t.Errorf("bad fact: %v", err)
	}
	q, _ := e.GetQuestion(ctx, qid)
	if !q.IsOpen() {
		t.Fatal("question must stay open after a rejected fact")
	}
	if got := balanceOf(t, e, 1); got != 990 {
		t.Errorf("balance touched by rejected settlement: %d", got)
	}

	// facts need not sit on the step grid
	results, err := e.Settle(ctx, qid, "09:07")
	if err != nil {
		t.Fatalf("Settle: %v", err)
	}
	r := results[0]
	if r.Fact.IntPart() != 547 || r.Score.Error.IntPart() != 2 {
		t.Errorf("fact %s err %s, want 547 and 2", r.Fact, r.Score.Error)
	}
	// T = max(5, 54.5); acc = 2 - 2/54.5 = 1.9633
	if !r.Score.Accuracy.Equal(decimal.RequireFromString("1.9633")) {
		t.Errorf("accuracy = %s, want 1.9633", r.Score.Accuracy)
	}
	// lone forecaster: ratio 1 -> 1.1; 10 * 1.9633 * 1.1 = 21.5963 -> 21
	if r.Credited != 21 {
		t.Errorf("credited = %d, want 21", r.Credited)
	}
}

func TestSettle_NoBets(t *testing.T) {
	n := newFakeNotifier()
	e := newTestEngine(t, 1000, n)
	qid := mustQuestion(t, e, models.KindNumeric, "0.5")

	results, err := e.Settle(context.Background(), qid, "3,5")
	if err != nil {
		t.Fatalf("Settle: %v", err)
	}
	if len(results) != 0 {
		t.Errorf("got %d results, want none", len(results))
	}
	q, _ := e.GetQuestion(context.Background(), qid)
	if q.Status != models.StatusSettled {
		t.Errorf("status = %s, want SETTLED", q.Status)
	}
	if n.tried != 0 {
		t.Errorf("notifier called %d times", n.tried)
	}
}

func TestSettle_NotificationFailureIsIsolated(t *testing.T) {
	n := newFakeNotifier(2)
	e := newTestEngine(t, 1000, n)
	qid := mustQuestion(t, e, models.KindNumeric, "1")
	for pid := int64(1); pid <= 3; pid++ {
		mustBet(t, e, pid, qid, "100", 10)
	}

	results, err := e.Settle(context.Background(), qid, "100")
	if err != nil {
		t.Fatalf("Settle: %v", err)
	}
	if len(results) != 3 {
		t.Fatalf("got %d results", len(results))
	}
	if n.tried != 3 {
		t.Errorf("delivery attempts = %d, want 3", n.tried)
	}
	if _, ok := n.sent[2]; ok {
		t.Error("participant 2 should have failed delivery")
	}
	// 10 * 2 * 1.1 = 22 regardless of delivery
	if got := balanceOf(t, e, 2); got != 1012 {
		t.Errorf("balance of 2 = %d, want 1012", got)
	}
}

func TestPlaceBet_ClosedQuestion(t *testing.T) {
	e := newTestEngine(t, 1000, nil)
	qid := mustQuestion(t, e, models.KindNumeric, "1")
	if _, err := e.Settle(context.Background(), qid, "1"); err != nil {
		t.Fatalf("Settle: %v", err)
	}

	_, err := e.PlaceBet(context.Background(), participant(1), qid, "5", 10)
	if !errors.Is(err, models.ErrQuestionClosed) {
		t.Errorf("error = %v, want ErrQuestionClosed", err)
	}
	if _, err := e.PlaceBet(context.Background(), participant(1), 999, "5", 10); !errors.Is(err, models.ErrQuestionNotFound) {
		t.Errorf("error = %v, want ErrQuestionNotFound", err)
	}
	if got := balanceOf(t, e, 1); got != 1000 {
		t.Errorf("balance = %d, want untouched 1000", got)
	}
}

func TestPlaceBet_Validation(t *testing.T) {
	e := newTestEngine(t, 1000, nil)
	num := mustQuestion(t, e, models.KindNumeric, "0.5")
	clock := mustQuestion(t, e, models.KindTime, "5")

	tests := []struct {
		name     string
		qid      int64
		forecast string
		points   int64
		wantErr  error
	}{
		{"numeric ok", num, "2,5", 10, nil},
		{"numeric off step", num, "2.3", 10, models.ErrInvalidStep},
		{"numeric garbage", num, "lots", 10, models.ErrInvalidFormat},
		{"time ok", clock, "09:05", 10, nil},
		{"time off step", clock, "09:07", 10, models.ErrInvalidStep},
		{"time garbage", clock, "9h05", 10, models.ErrInvalidFormat},
		{"zero points", num, "1", 0, models.ErrInvalidPoints},
		{"too many points", num, "1", 10_001, models.ErrInvalidPoints},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := e.PlaceBet(context.Background(), participant(1), tt.qid, tt.forecast, tt.points)
			if tt.wantErr == nil {
				if err != nil {
					t.Fatalf("PlaceBet: %v", err)
				}
				return
			}
			if !errors.Is(err, tt.wantErr) {
				t.Errorf("error = %v, want %v", err, tt.wantErr)
			}
		})
	}

	bets, _ := e.ListMyBets(context.Background(), 1)
	if len(bets) != 2 {
		t.Fatalf("got %d bets, want 2", len(bets))
	}
	if bets[0].Question.ID != clock || bets[0].Forecast.IntPart() != 545 {
		t.Errorf("latest bet = %+v, want 09:05 on the time question", bets[0])
	}
}

func TestPlaceBet_InsufficientBalance(t *testing.T) {
	e := newTestEngine(t, 80, nil)
	qid := mustQuestion(t, e, models.KindNumeric, "1")
	mustBet(t, e, 1, qid, "10", 30)
	if got := balanceOf(t, e, 1); got != 50 {
		t.Fatalf("balance = %d, want 50", got)
	}

	_, err := e.PlaceBet(context.Background(), participant(1), qid, "12", 100)
	var ibe *models.InsufficientBalanceError
	if !errors.As(err, &ibe) {
		t.Fatalf("error = %v, want InsufficientBalanceError", err)
	}
	if ibe.Need != 70 || ibe.Have != 50 || ibe.Shortfall() != 20 {
		t.Errorf("need %d have %d shortfall %d, want 70/50/20", ibe.Need, ibe.Have, ibe.Shortfall())
	}
	if !errors.Is(err, models.ErrInsufficientBalance) {
		t.Error("error should match ErrInsufficientBalance")
	}

	if got := balanceOf(t, e, 1); got != 50 {
		t.Errorf("balance = %d, want 50", got)
	}
	bets, _ := e.ListMyBets(context.Background(), 1)
	if len(bets) != 1 || bets[0].Points != 30 || !bets[0].Forecast.Equal(decimal.NewFromInt(10)) {
		t.Errorf("previous bet should stand: %+v", bets)
	}
}

func TestPlaceBet_ReplaceMovesOnlyDelta(t *testing.T) {
	e := newTestEngine(t, 1000, nil)
	qid := mustQuestion(t, e, models.KindNumeric, "1")

	first := mustBet(t, e, 1, qid, "10", 300)
	if first.Replaced || first.Balance != 700 {
		t.Errorf("first bet: replaced=%v balance=%d", first.Replaced, first.Balance)
	}

	raised := mustBet(t, e, 1, qid, "11", 500)
	if !raised.Replaced || raised.PointsBefore != 300 || raised.Balance != 500 {
		t.Errorf("raised: %+v", raised)
	}

	lowered := mustBet(t, e, 1, qid, "11", 100)
	if lowered.Balance != 900 {
		t.Errorf("lowered balance = %d, want 900", lowered.Balance)
	}

	_, bets, err := e.QuestionBets(context.Background(), qid)
	if err != nil {
		t.Fatalf("QuestionBets: %v", err)
	}
	if len(bets) != 1 || bets[0].Bet.Points != 100 {
		t.Errorf("bets = %+v", bets)
	}
}

func TestPlaceBet_Preview(t *testing.T) {
	e := newTestEngine(t, 1000, nil)
	qid := mustQuestion(t, e, models.KindNumeric, "1")

	p := mustBet(t, e, 1, qid, "100", 10)
	// alone: k=N=1, ratio 1; W = max(1, 10) = 10
	if p.BinCount != 1 || p.Total != 1 || !p.Unique.Equal(decimal.RequireFromString("1.1")) {
		t.Errorf("first preview: %d/%d %s", p.BinCount, p.Total, p.Unique)
	}
	if !p.ClusterFrom.Equal(decimal.NewFromInt(100)) || !p.ClusterTo.Equal(decimal.NewFromInt(110)) {
		t.Errorf("bounds = [%s; %s), want [100; 110)", p.ClusterFrom, p.ClusterTo)
	}

	for pid := int64(2); pid <= 10; pid++ {
		mustBet(t, e, pid, qid, "100", 10)
	}
	lone := mustBet(t, e, 11, qid, "500", 10)
	// 1 of 11 is between 0.07 and 0.17
	if lone.BinCount != 1 || lone.Total != 11 || !lone.Unique.Equal(decimal.NewFromInt(2)) {
		t.Errorf("lone preview: %d/%d %s", lone.BinCount, lone.Total, lone.Unique)
	}
}

func TestTouch(t *testing.T) {
	ctx := context.Background()
	e := newTestEngine(t, 1000, nil)

	got, err := e.Touch(ctx, participant(1))
	if err != nil {
		t.Fatalf("Touch: %v", err)
	}
	if got.Name != "player-1" || got.Balance != 1000 {
		t.Errorf("first contact = %+v", got)
	}

	qid := mustQuestion(t, e, models.KindNumeric, "1")
	mustBet(t, e, 1, qid, "7", 40)

	got, err = e.Touch(ctx, models.Participant{ID: 1})
	if err != nil {
		t.Fatalf("Touch: %v", err)
	}
	if got.Name != "player-1" {
		t.Errorf("empty name replaced stored one: %q", got.Name)
	}
	if got.Balance != 960 {
		t.Errorf("balance = %d, want 960", got.Balance)
	}
}

func TestPlaceBet_ConcurrentSameParticipant(t *testing.T) {
	e := newTestEngine(t, 1000, nil)
	const questions = 25
	qids := make([]int64, questions)
	for i := range qids {
		qids[i] = mustQuestion(t, e, models.KindNumeric, "1")
	}

	var (
		wg       sync.WaitGroup
		mu       sync.Mutex
		accepted int
	)
	for _, qid := range qids {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := e.PlaceBet(context.Background(), participant(1), qid, "7", 50)
			mu.Lock()
			defer mu.Unlock()
			if err == nil {
				accepted++
			} else if !errors.Is(err, models.ErrInsufficientBalance) {
				t.Errorf("unexpected error: %v", err)
			}
		}()
	}
	wg.Wait()

	if accepted != 20 {
		t.Errorf("accepted %d bets, want 20", accepted)
	}
	if got := balanceOf(t, e, 1); got != 0 {
		t.Errorf("balance = %d, want 0", got)
	}
	if e.participantLocks.size() != 0 {
		t.Errorf("participant locks leaked: %d", e.participantLocks.size())
	}
}

func TestCreateQuestion_Validation(t *testing.T) {
	e := newTestEngine(t, 1000, nil)
	ctx := context.Background()

	tests := []struct {
		name    string
		title   string
		kind    models.Kind
		step    string
		wantErr error
	}{
		{"short title", "ab", models.KindNumeric, "1", models.ErrInvalidQuestion},
		{"bad kind", "Valid title", models.Kind("X"), "1", models.ErrInvalidKind},
		{"zero step", "Valid title", models.KindNumeric, "0", models.ErrInvalidFormat},
		{"time step too big", "Valid title", models.KindTime, "300", models.ErrInvalidFormat},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := e.CreateQuestion(ctx, tt.title, tt.kind, tt.step); !errors.Is(err, tt.wantErr) {
				t.Errorf("error = %v, want %v", err, tt.wantErr)
			}
		})
	}

	open, _ := e.ListOpenQuestions(ctx)
	if len(open) != 0 {
		t.Errorf("invalid questions were stored: %d", len(open))
	}
}

func TestOutcome(t *testing.T) {
	tests := []struct {
		err  error
		want string
	}{
		{nil, "ok"},
		{fmt.Errorf("wrap: %w", models.ErrInvalidStep), "invalid_step"},
		{&models.InsufficientBalanceError{Need: 2, Have: 1}, "insufficient_balance"},
		{models.ErrAlreadySettled, "already_settled"},
		{errors.New("disk full"), "error"},
	}
	for _, tt := range tests {
		if got := outcome(tt.err); got != tt.want {
			t.Errorf("outcome(%v) = %q, want %q", tt.err, got, tt.want)
		}
	}
}
