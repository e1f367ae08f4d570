// Package dialogue tracks where each participant is in a multi-step chat
// conversation (choosing a question, typing a forecast, wagering points, or
// one of the admin flows).
package dialogue

import (
	"sync"

	"github.com/rewired-gh/forecastbot/internal/models"
)

// Stage is the input the bot is waiting for from a participant.
type Stage int

const (
	Idle Stage = iota
	AwaitingQuestionChoice
	AwaitingForecast
	AwaitingPoints
	AwaitingTitle
	AwaitingKind
	AwaitingStep
	AwaitingFact
)

var stageNames = map[Stage]string{
	Idle:                   "idle",
	AwaitingQuestionChoice: "awaiting_question_choice",
	AwaitingForecast:       "awaiting_forecast",
	AwaitingPoints:         "awaiting_points",
	AwaitingTitle:          "awaiting_title",
	AwaitingKind:           "awaiting_kind",
	AwaitingStep:           "awaiting_step",
	AwaitingFact:           "awaiting_fact",
}

func (s Stage) String() string {
	if name, ok := stageNames[s]; ok {
		return name
	}
	return "unknown"
}

// ExpectsText reports whether the stage is completed by a free-text message
// rather than a button press.
func (s Stage) ExpectsText() bool {
	switch s {
	case AwaitingForecast, AwaitingPoints, AwaitingTitle, AwaitingStep, AwaitingFact:
		return true
	}
	return false
}

// State is one participant's conversation. Fields are filled as the flow
// advances; which ones are meaningful depends on Stage.
type State struct {
	Stage      Stage
	QuestionID int64

	// bet flow
	Forecast string

	// question creation flow
	Title string
	Kind  models.Kind
}

// Tracker holds conversation state per participant id.
type Tracker struct {
	mu     sync.Mutex
	states map[int64]State
}

func NewTracker() *Tracker {
	return &Tracker{states: make(map[int64]State)}
}

// Get returns the participant's state, or an Idle state if none is stored.
func (t *Tracker) Get(participantID int64) State {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.states[participantID]
}

// Set stores s. Setting an Idle state is the same as Clear.
func (t *Tracker) Set(participantID int64, s State) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if s.Stage == Idle {
		delete(t.states, participantID)
		return
	}
	t.states[participantID] = s
}

func (t *Tracker) Clear(participantID int64) {
	t.mu.Lock()
	defer t.mu.Unlock()
	delete(t.states, participantID)
}

// ClearQuestion drops every conversation bound to a question, so that
// participants mid-bet on a settled question start over.
func (t *Tracker) ClearQuestion(questionID int64) int {
	t.mu.Lock()
	defer t.mu.Unlock()
	n := 0
	for id, s := range t.states {
		if s.QuestionID == questionID {
			delete(t.states, id)
			n++
		}
	}
	return n
}

// Len returns the number of participants with an active conversation.
func (t *Tracker) Len() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.states)
}
