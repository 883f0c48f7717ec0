/*
Package game runs the trivia rounds of one player.

A round moves Idle → Loading → Presented → Answered, and Answered → Loading is
the only way to the next round. Operations on one Engine run one at a time;
snapshots stay readable while a backend call is pending. A failed operation
never replaces the last valid round or score.
*/
package game

import (
	"context"
	"errors"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"globetrotter/internal/app/gateway"
	"globetrotter/internal/app/notify"
	"globetrotter/internal/pkg/errs"
	"globetrotter/internal/pkg/logx"
	"globetrotter/internal/pkg/metrics"
	"globetrotter/internal/pkg/randx"
)

const (
	// OptionCount is the number of choices in a round.
	OptionCount = 4

	// DistractorCount is the number of wrong choices in a round.
	DistractorCount = OptionCount - 1

	// maxDistractorFetches bounds how often distractors are re-fetched to fill duplicates.
	maxDistractorFetches = 3

	// DefaultPersistTimeout bounds the detached remote score write.
	DefaultPersistTimeout = 10 * time.Second
)

var errNoDestination = errors.New("random destination came back empty")

// Phase is where the current round is in its lifecycle.
type Phase string

const (
	PhaseIdle      Phase = "idle"
	PhaseLoading   Phase = "loading"
	PhasePresented Phase = "presented"
	PhaseAnswered  Phase = "answered"
)

// Score counts answered rounds for the lifetime of an Engine.
type Score struct {
	Correct int `json:"correct"`
	Total   int `json:"total"`
}

// Round is one target with its options and, once answered, the guess and its result.
type Round struct {
	Target  gateway.Destination
	Options []gateway.Destination
	Answer  string
	Result  *gateway.AnswerResult
}

// State is a copy of the engine's state.
type State struct {
	Phase Phase
	Round *Round
	Score Score
	Error string
}

// IdentitySource tells the engine who is signed in, if anyone.
type IdentitySource interface {
	CurrentIdentity() *gateway.Identity
}

// StatsRecorder receives every checked answer.
type StatsRecorder interface {
	RecordAnswer(correct bool)
}

// Options configures an Engine. Destinations is required.
type Options struct {
	DeviceID     string
	Destinations gateway.Destinations
	Identity     IdentitySource
	Stats        StatsRecorder
	Notifier     notify.Notifier
	Metrics      *metrics.Recorder

	// OnChange is called with a fresh state after every change, outside the engine's locks.
	OnChange func(State)

	PersistTimeout time.Duration

	// Intn picks the target's slot; it defaults to randx.Intn.
	Intn func(n int) (int, error)
}

// Engine owns the rounds and the score of one player.
type Engine struct {
	destinations   gateway.Destinations
	identity       IdentitySource
	stats          StatsRecorder
	notifier       notify.Notifier
	metrics        *metrics.Recorder
	onChange       func(State)
	persistTimeout time.Duration
	intn           func(n int) (int, error)
	log            zerolog.Logger

	// opMu serializes LoadNewGame and SubmitAnswer.
	opMu sync.Mutex

	mu     sync.RWMutex
	phase  Phase
	round  *Round
	score  Score
	errMsg string

	persistWG sync.WaitGroup
}

// NewEngine returns an Engine in the Idle phase.
func NewEngine(opts Options) *Engine {
	e := &Engine{
		destinations:   opts.Destinations,
		identity:       opts.Identity,
		stats:          opts.Stats,
		notifier:       opts.Notifier,
		metrics:        opts.Metrics,
		onChange:       opts.OnChange,
		persistTimeout: opts.PersistTimeout,
		intn:           opts.Intn,
		log:            logx.Component("game").With().Str("device_id", opts.DeviceID).Logger(),
		phase:          PhaseIdle,
	}

	if e.notifier == nil {
		e.notifier = notify.Discard
	}
	if e.persistTimeout <= 0 {
		e.persistTimeout = DefaultPersistTimeout
	}
	if e.intn == nil {
		e.intn = randx.Intn
	}

	return e
}

// LoadNewGame replaces the current round with a freshly fetched one. It is
// rejected while a round awaits its answer. On failure the previous round,
// phase and score are kept and a notification is emitted.
func (e *Engine) LoadNewGame(ctx context.Context) error {
	e.opMu.Lock()
	defer e.opMu.Unlock()

	e.mu.Lock()
	if e.phase == PhasePresented {
		e.mu.Unlock()
		return errs.NewError(errs.ErrRoundInProgress)
	}
	previous := e.phase
	e.phase = PhaseLoading
	e.mu.Unlock()
	e.changed()

	round, err := e.buildRound(ctx)
	if err != nil {
		e.log.Error().Err(err).Msg("Error loading game")
		e.metrics.RoundLoaded(false)
		e.update(func() {
			e.phase = previous
			e.errMsg = "Failed to load game data"
		})
		e.notifier.Notify(notify.Error("Error", "Failed to load game data. Please try again."))
		return errs.NewError(errs.ErrDataUnavailable).Wrap(err)
	}

	e.metrics.RoundLoaded(true)
	e.update(func() {
		e.round = round
		e.phase = PhasePresented
		e.errMsg = ""
	})
	return nil
}

// buildRound fetches a target and three distinct distractors and places the
// target at a uniformly random slot.
func (e *Engine) buildRound(ctx context.Context) (*Round, error) {
	targets, err := e.destinations.RandomDestination(ctx)
	if err != nil {
		return nil, err
	}
	if len(targets) == 0 {
		return nil, errNoDestination
	}
	target := targets[0]

	seen := map[int64]bool{target.ID: true}
	distractors := make([]gateway.Destination, 0, DistractorCount)

	for fetch := 0; fetch < maxDistractorFetches && len(distractors) < DistractorCount; fetch++ {
		batch, err := e.destinations.MultipleDestinations(ctx, DistractorCount)
		if err != nil {
			return nil, err
		}
		for _, d := range batch {
			if seen[d.ID] {
				continue
			}
			seen[d.ID] = true
			distractors = append(distractors, d)
			if len(distractors) == DistractorCount {
				break
			}
		}
	}

	if len(distractors) < DistractorCount {
		return nil, errors.New("not enough distinct destinations for the options")
	}

	slot, err := e.intn(OptionCount)
	if err != nil {
		return nil, err
	}

	options := make([]gateway.Destination, 0, OptionCount)
	options = append(options, distractors[:slot]...)
	options = append(options, target)
	options = append(options, distractors[slot:]...)

	return &Round{Target: target, Options: options}, nil
}

// SubmitAnswer records guess for the presented round and checks it. A second
// answer for the same round is rejected without touching the score, as is a
// guess that arrives while the next round loads. When the check fails the
// guess is withdrawn so the round can be answered again.
func (e *Engine) SubmitAnswer(ctx context.Context, guess string) (gateway.AnswerResult, error) {
	guess = strings.TrimSpace(guess)
	if guess == "" {
		return gateway.AnswerResult{}, errs.NewError(errs.ErrInvalidGuess)
	}

	// The guess belongs to the round on screen now, not to whatever round
	// holds the engine once opMu is free.
	e.mu.RLock()
	pending := e.round
	err := answerable(pending, e.phase)
	e.mu.RUnlock()
	if err != nil {
		return gateway.AnswerResult{}, err
	}

	e.opMu.Lock()
	defer e.opMu.Unlock()

	e.mu.Lock()
	if e.round != pending {
		e.mu.Unlock()
		return gateway.AnswerResult{}, errs.NewError(errs.ErrAlreadyAnswered)
	}
	if err := answerable(e.round, e.phase); err != nil {
		e.mu.Unlock()
		return gateway.AnswerResult{}, err
	}
	if !e.round.hasOption(guess) {
		e.mu.Unlock()
		return gateway.AnswerResult{}, errs.NewError(errs.ErrInvalidGuess)
	}
	round := e.round
	round.Answer = guess
	e.phase = PhaseAnswered
	targetID := round.Target.ID
	e.mu.Unlock()
	e.changed()

	result, err := e.destinations.CheckAnswer(ctx, targetID, guess)
	if err != nil {
		e.log.Error().Err(err).Int64("destination_id", targetID).Msg("Error submitting answer")
		e.update(func() {
			if e.round == round {
				round.Answer = ""
				e.phase = PhasePresented
			}
			e.errMsg = "Failed to submit answer"
		})
		e.notifier.Notify(notify.Error("Error", "Failed to submit your answer. Please try again."))
		return gateway.AnswerResult{}, errs.NewError(errs.ErrDataUnavailable).Wrap(err)
	}

	e.update(func() {
		res := result
		round.Result = &res
		if result.Correct {
			e.score.Correct++
		}
		e.score.Total++
		e.errMsg = ""
	})
	e.metrics.AnswerChecked(result.Correct)

	if e.stats != nil {
		e.stats.RecordAnswer(result.Correct)
	}
	if e.identity != nil {
		if user := e.identity.CurrentIdentity(); user != nil {
			e.persistScore(ctx, user.ID, result.Correct)
		}
	}

	return result, nil
}

// answerable reports why round cannot take a guess in phase, if it cannot.
func answerable(round *Round, phase Phase) error {
	switch {
	case round == nil, phase == PhaseLoading, phase == PhaseIdle:
		return errs.NewError(errs.ErrNoActiveRound)
	case phase == PhaseAnswered:
		return errs.NewError(errs.ErrAlreadyAnswered)
	}
	return nil
}

// hasOption reports whether guess names one of the round's cities.
func (r *Round) hasOption(guess string) bool {
	for _, o := range r.Options {
		if strings.EqualFold(o.City, guess) {
			return true
		}
	}
	return false
}

// persistScore writes the answer to the remote profile in the background.
// The write outlives the caller's request but not persistTimeout; a failure
// is logged and counted, never rolled back.
func (e *Engine) persistScore(parent context.Context, userID string, correct bool) {
	e.persistWG.Add(1)

	go func() {
		defer e.persistWG.Done()

		ctx, cancel := context.WithTimeout(context.WithoutCancel(parent), e.persistTimeout)
		defer cancel()

		if err := e.destinations.UpdateUserScore(ctx, userID, correct); err != nil {
			e.log.Warn().Err(err).Str("user_id", userID).Msg("Error updating user score")
			e.metrics.ScorePersistFailed()
		}
	}()
}

// Wait blocks until pending score writes have finished.
func (e *Engine) Wait() {
	e.persistWG.Wait()
}

// Snapshot returns a copy of the current state.
func (e *Engine) Snapshot() State {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.snapshotLocked()
}

func (e *Engine) snapshotLocked() State {
	s := State{Phase: e.phase, Score: e.score, Error: e.errMsg}
	if e.round != nil {
		r := *e.round
		r.Options = append([]gateway.Destination(nil), e.round.Options...)
		if e.round.Result != nil {
			res := *e.round.Result
			r.Result = &res
		}
		s.Round = &r
	}
	return s
}

func (e *Engine) update(fn func()) {
	e.mu.Lock()
	fn()
	e.mu.Unlock()
	e.changed()
}

func (e *Engine) changed() {
	if e.onChange != nil {
		e.onChange(e.Snapshot())
	}
}
