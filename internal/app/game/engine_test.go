package game

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"globetrotter/internal/app/gateway"
	"globetrotter/internal/app/gateway/gatewaytest"
	"globetrotter/internal/app/notify"
	"globetrotter/internal/pkg/errs"
	"globetrotter/internal/pkg/metrics"
)

var (
	paris  = gateway.Destination{ID: 1, City: "Paris", Country: "France", Clues: []string{"Iron lady"}, FunFact: []string{"Paris has 6,100 streets."}}
	london = gateway.Destination{ID: 2, City: "London", Country: "United Kingdom"}
	tokyo  = gateway.Destination{ID: 3, City: "Tokyo", Country: "Japan"}
	cairo  = gateway.Destination{ID: 4, City: "Cairo", Country: "Egypt"}
	lima   = gateway.Destination{ID: 5, City: "Lima", Country: "Peru"}
)

type fixedIdentity struct{ id *gateway.Identity }

func (f fixedIdentity) CurrentIdentity() *gateway.Identity { return f.id }

type statsSpy struct {
	mu      sync.Mutex
	answers []bool
}

func (s *statsSpy) RecordAnswer(correct bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.answers = append(s.answers, correct)
}

type notes struct {
	mu  sync.Mutex
	all []notify.Notification
}

func (n *notes) Notify(note notify.Notification) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.all = append(n.all, note)
}

func (n *notes) count() int {
	n.mu.Lock()
	defer n.mu.Unlock()
	return len(n.all)
}

func newEngine(dest *gatewaytest.Destinations, opts ...func(*Options)) (*Engine, *notes) {
	n := &notes{}
	o := Options{DeviceID: "device-1", Destinations: dest, Notifier: n}
	for _, fn := range opts {
		fn(&o)
	}
	return NewEngine(o), n
}

func parisCatalogue() *gatewaytest.Destinations {
	d := gatewaytest.NewDestinations(paris, london, tokyo, cairo, lima)
	d.Distractors = nil
	return d
}

func countTarget(r *Round) int {
	n := 0
	for _, o := range r.Options {
		if o.ID == r.Target.ID {
			n++
		}
	}
	return n
}

func TestLoadNewGameBuildsFourOptionsWithTargetOnce(t *testing.T) {
	for i := 0; i < 50; i++ {
		dest := parisCatalogue()
		e, _ := newEngine(dest)

		require.NoError(t, e.LoadNewGame(context.Background()))

		s := e.Snapshot()
		assert.Equal(t, PhasePresented, s.Phase)
		require.NotNil(t, s.Round)
		assert.Len(t, s.Round.Options, OptionCount)
		assert.Equal(t, 1, countTarget(s.Round))
		assert.Empty(t, s.Round.Answer)
		assert.Nil(t, s.Round.Result)
	}
}

func TestLoadNewGameDeduplicatesDistractors(t *testing.T) {
	dest := gatewaytest.NewDestinations(paris, london, tokyo, cairo)
	dest.Distractors = [][]gateway.Destination{
		{paris, london, london},
		{tokyo, paris, cairo},
	}
	e, _ := newEngine(dest)

	require.NoError(t, e.LoadNewGame(context.Background()))

	s := e.Snapshot()
	ids := map[int64]bool{}
	for _, o := range s.Round.Options {
		assert.False(t, ids[o.ID], "option %d repeated", o.ID)
		ids[o.ID] = true
	}
	assert.Len(t, ids, OptionCount)
	assert.Equal(t, 2, dest.MultipleCalls)
}

func TestLoadNewGameTruncatesExtraDistractors(t *testing.T) {
	dest := gatewaytest.NewDestinations(paris, london, tokyo, cairo, lima)
	dest.Distractors = [][]gateway.Destination{{london, tokyo, cairo, lima}}
	e, _ := newEngine(dest)

	require.NoError(t, e.LoadNewGame(context.Background()))
	assert.Len(t, e.Snapshot().Round.Options, OptionCount)
}

func TestLoadNewGameGivesUpWithoutEnoughDistinctOptions(t *testing.T) {
	dest := gatewaytest.NewDestinations(paris, london)
	e, n := newEngine(dest)

	err := e.LoadNewGame(context.Background())

	assert.ErrorIs(t, err, errs.NewError(errs.ErrDataUnavailable))
	assert.Equal(t, maxDistractorFetches, dest.MultipleCalls)
	assert.Equal(t, PhaseIdle, e.Snapshot().Phase)
	assert.Equal(t, 1, n.count())
}

func TestTargetSlotIsUniform(t *testing.T) {
	const trials = 4000
	e, _ := newEngine(parisCatalogue())

	var counts [OptionCount]int
	for i := 0; i < trials; i++ {
		r, err := e.buildRound(context.Background())
		require.NoError(t, err)
		for slot, o := range r.Options {
			if o.ID == r.Target.ID {
				counts[slot]++
			}
		}
	}

	// Expected 1000 per slot; 800..1200 is more than six standard deviations wide.
	for slot, c := range counts {
		assert.InDelta(t, trials/OptionCount, c, 200, "slot %d", slot)
	}
}

func TestTargetSlotFollowsIntn(t *testing.T) {
	for slot := 0; slot < OptionCount; slot++ {
		e, _ := newEngine(parisCatalogue(), func(o *Options) {
			o.Intn = func(int) (int, error) { return slot, nil }
		})

		require.NoError(t, e.LoadNewGame(context.Background()))
		assert.Equal(t, paris.ID, e.Snapshot().Round.Options[slot].ID)
	}
}

func TestEmptyFetchKeepsPreviousRound(t *testing.T) {
	dest := parisCatalogue()
	e, n := newEngine(dest)
	ctx := context.Background()

	require.NoError(t, e.LoadNewGame(ctx))
	_, err := e.SubmitAnswer(ctx, "Paris")
	require.NoError(t, err)
	before := e.Snapshot()

	dest.Random = []gateway.Destination{}
	err = e.LoadNewGame(ctx)

	assert.ErrorIs(t, err, errs.NewError(errs.ErrDataUnavailable))
	after := e.Snapshot()
	assert.Equal(t, before.Round, after.Round)
	assert.Equal(t, before.Score, after.Score)
	assert.Equal(t, PhaseAnswered, after.Phase)
	assert.Equal(t, "Failed to load game data", after.Error)
	assert.Equal(t, 1, n.count())
}

func TestFetchErrorFromIdle(t *testing.T) {
	dest := parisCatalogue()
	dest.RandomErr = errors.New("connection reset")
	e, n := newEngine(dest)

	err := e.LoadNewGame(context.Background())

	var customErr *errs.CustomError
	require.ErrorAs(t, err, &customErr)
	assert.Equal(t, errs.KindDataUnavailable, customErr.Kind)
	assert.Equal(t, PhaseIdle, e.Snapshot().Phase)
	assert.Nil(t, e.Snapshot().Round)
	assert.Equal(t, 1, n.count())
}

func TestLoadRejectedWhileRoundPresented(t *testing.T) {
	e, _ := newEngine(parisCatalogue())
	ctx := context.Background()

	require.NoError(t, e.LoadNewGame(ctx))
	first := e.Snapshot().Round

	err := e.LoadNewGame(ctx)
	assert.ErrorIs(t, err, errs.NewError(errs.ErrRoundInProgress))
	assert.Equal(t, first, e.Snapshot().Round)
}

func TestParisAndLondon(t *testing.T) {
	ctx := context.Background()
	dest := parisCatalogue()
	e, _ := newEngine(dest)

	require.NoError(t, e.LoadNewGame(ctx))
	res, err := e.SubmitAnswer(ctx, "Paris")
	require.NoError(t, err)
	assert.True(t, res.Correct)
	assert.Equal(t, "Paris has 6,100 streets.", res.Fact)
	assert.Equal(t, Score{Correct: 1, Total: 1}, e.Snapshot().Score)

	require.NoError(t, e.LoadNewGame(ctx))
	res, err = e.SubmitAnswer(ctx, "London")
	require.NoError(t, err)
	assert.False(t, res.Correct)
	assert.Equal(t, Score{Correct: 1, Total: 2}, e.Snapshot().Score)

	s := e.Snapshot()
	assert.Equal(t, PhaseAnswered, s.Phase)
	assert.Equal(t, "London", s.Round.Answer)
	require.NotNil(t, s.Round.Result)
	assert.False(t, s.Round.Result.Correct)
}

func TestDoubleSubmitIsRejected(t *testing.T) {
	ctx := context.Background()
	dest := parisCatalogue()
	e, _ := newEngine(dest)

	require.NoError(t, e.LoadNewGame(ctx))
	_, err := e.SubmitAnswer(ctx, "Paris")
	require.NoError(t, err)

	_, err = e.SubmitAnswer(ctx, "Paris")
	assert.ErrorIs(t, err, errs.NewError(errs.ErrAlreadyAnswered))
	assert.Equal(t, Score{Correct: 1, Total: 1}, e.Snapshot().Score)
	assert.Equal(t, 1, dest.CheckCalls)
}

func TestConcurrentSubmitsCountOnce(t *testing.T) {
	ctx := context.Background()
	e, _ := newEngine(parisCatalogue())
	require.NoError(t, e.LoadNewGame(ctx))

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, _ = e.SubmitAnswer(ctx, "Paris")
		}()
	}
	wg.Wait()

	assert.Equal(t, 1, e.Snapshot().Score.Total)
}

func TestRepeatedGuessDuringNextLoadIsRejected(t *testing.T) {
	ctx := context.Background()
	dest := parisCatalogue()
	e, _ := newEngine(dest)

	require.NoError(t, e.LoadNewGame(ctx))
	_, err := e.SubmitAnswer(ctx, "Paris")
	require.NoError(t, err)
	gate := make(chan struct{})
	dest.RandomBlocker = gate
	loaded := make(chan error, 1)
	go func() { loaded <- e.LoadNewGame(ctx) }()

	require.Eventually(t, func() bool {
		return e.Snapshot().Phase == PhaseLoading
	}, time.Second, time.Millisecond)

	_, err = e.SubmitAnswer(ctx, "Paris")
	assert.ErrorIs(t, err, errs.NewError(errs.ErrNoActiveRound))

	close(gate)
	require.NoError(t, <-loaded)

	s := e.Snapshot()
	assert.Equal(t, PhasePresented, s.Phase)
	assert.Empty(t, s.Round.Answer)
	assert.Nil(t, s.Round.Result)
	assert.Equal(t, Score{Correct: 1, Total: 1}, s.Score)
	assert.Equal(t, 1, dest.CheckCalls)
}

func TestGuessMustBeAnOption(t *testing.T) {
	ctx := context.Background()
	dest := parisCatalogue()
	e, _ := newEngine(dest)
	require.NoError(t, e.LoadNewGame(ctx))

	_, err := e.SubmitAnswer(ctx, "Atlantis")
	assert.ErrorIs(t, err, errs.NewError(errs.ErrInvalidGuess))
	assert.Equal(t, PhasePresented, e.Snapshot().Phase)
	assert.Equal(t, 0, dest.CheckCalls)

	res, err := e.SubmitAnswer(ctx, "paris")
	require.NoError(t, err)
	assert.True(t, res.Correct)
}

func TestSubmitWithoutRound(t *testing.T) {
	e, _ := newEngine(parisCatalogue())

	_, err := e.SubmitAnswer(context.Background(), "Paris")
	assert.ErrorIs(t, err, errs.NewError(errs.ErrNoActiveRound))

	_, err = e.SubmitAnswer(context.Background(), "   ")
	assert.ErrorIs(t, err, errs.NewError(errs.ErrInvalidGuess))
}

func TestCheckFailureWithdrawsGuess(t *testing.T) {
	ctx := context.Background()
	dest := parisCatalogue()
	e, n := newEngine(dest)
	require.NoError(t, e.LoadNewGame(ctx))

	dest.CheckErr = errors.New("rpc failed")
	_, err := e.SubmitAnswer(ctx, "Paris")

	assert.ErrorIs(t, err, errs.NewError(errs.ErrDataUnavailable))
	s := e.Snapshot()
	assert.Equal(t, PhasePresented, s.Phase)
	assert.Empty(t, s.Round.Answer)
	assert.Equal(t, Score{}, s.Score)
	assert.Equal(t, "Failed to submit answer", s.Error)
	assert.Equal(t, 1, n.count())

	dest.CheckErr = nil
	res, err := e.SubmitAnswer(ctx, "Paris")
	require.NoError(t, err)
	assert.True(t, res.Correct)
	assert.Empty(t, e.Snapshot().Error)
}

func TestScoreMatchesAnswersRegardlessOfPersistence(t *testing.T) {
	ctx := context.Background()
	dest := parisCatalogue()
	dest.UpdateErr = errors.New("write failed")
	spy := &statsSpy{}
	rec := metrics.New()
	user := &gateway.Identity{ID: "user-1"}

	e, _ := newEngine(dest, func(o *Options) {
		o.Identity = fixedIdentity{id: user}
		o.Stats = spy
		o.Metrics = rec
	})

	guesses := []string{"Paris", "London", "Paris", "Tokyo", "Paris"}
	for _, g := range guesses {
		require.NoError(t, e.LoadNewGame(ctx))
		_, err := e.SubmitAnswer(ctx, g)
		require.NoError(t, err)
	}
	e.Wait()

	assert.Equal(t, Score{Correct: 3, Total: 5}, e.Snapshot().Score)
	assert.Equal(t, []bool{true, false, true, false, true}, spy.answers)
	assert.Empty(t, dest.Updates())
}

func TestScorePersistedWhenSignedIn(t *testing.T) {
	ctx := context.Background()
	dest := parisCatalogue()
	user := &gateway.Identity{ID: "user-1"}
	e, _ := newEngine(dest, func(o *Options) { o.Identity = fixedIdentity{id: user} })

	require.NoError(t, e.LoadNewGame(ctx))
	_, err := e.SubmitAnswer(ctx, "Paris")
	require.NoError(t, err)
	e.Wait()

	assert.Equal(t, []gatewaytest.ScoreUpdate{{UserID: "user-1", Correct: true}}, dest.Updates())
}

func TestScoreNotPersistedWhenSignedOut(t *testing.T) {
	ctx := context.Background()
	dest := parisCatalogue()
	e, _ := newEngine(dest, func(o *Options) { o.Identity = fixedIdentity{} })

	require.NoError(t, e.LoadNewGame(ctx))
	_, err := e.SubmitAnswer(ctx, "Paris")
	require.NoError(t, err)
	e.Wait()

	assert.Empty(t, dest.Updates())
}

func TestScorePersistOutlivesRequestContext(t *testing.T) {
	dest := parisCatalogue()
	dest.UpdateBlocker = make(chan struct{})
	user := &gateway.Identity{ID: "user-1"}
	e, _ := newEngine(dest, func(o *Options) {
		o.Identity = fixedIdentity{id: user}
		o.PersistTimeout = time.Minute
	})

	ctx, cancel := context.WithCancel(context.Background())
	require.NoError(t, e.LoadNewGame(ctx))
	_, err := e.SubmitAnswer(ctx, "Paris")
	require.NoError(t, err)
	cancel()

	close(dest.UpdateBlocker)
	e.Wait()

	assert.Len(t, dest.Updates(), 1)
}

func TestOnChangeSeesLoadingPhase(t *testing.T) {
	var mu sync.Mutex
	var phases []Phase
	e, _ := newEngine(parisCatalogue(), func(o *Options) {
		o.OnChange = func(s State) {
			mu.Lock()
			defer mu.Unlock()
			phases = append(phases, s.Phase)
		}
	})

	require.NoError(t, e.LoadNewGame(context.Background()))

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, []Phase{PhaseLoading, PhasePresented}, phases)
}

func TestSnapshotIsACopy(t *testing.T) {
	e, _ := newEngine(parisCatalogue())
	require.NoError(t, e.LoadNewGame(context.Background()))

	s := e.Snapshot()
	s.Round.Options[0] = gateway.Destination{ID: 999}
	s.Round.Answer = "tampered"

	fresh := e.Snapshot()
	assert.NotEqual(t, int64(999), fresh.Round.Options[0].ID)
	assert.Empty(t, fresh.Round.Answer)
}
