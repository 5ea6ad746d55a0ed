package game

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/cardroom/engine/internal/deck"
)

// callerProvider calls any live bet and otherwise checks.
type callerProvider struct{}

func (callerProvider) NextAction(_ context.Context, view View) (Action, error) {
	for _, seat := range view.Seats {
		if seat.SeatNo != view.Acting {
			continue
		}
		if view.CurrentBet > seat.CommittedInRound {
			return NewAction(ActionCall, 0)
		}
		return NewAction(ActionCheck, 0)
	}
	return Action{}, ErrRunnerMisconfigured
}

type failingProvider struct{}

func (failingProvider) NextAction(context.Context, View) (Action, error) {
	return Action{}, fmt.Errorf("provider unavailable")
}

func TestRunHandPlaysToCompletion(t *testing.T) {
	t.Parallel()

	runner := New(callerProvider{}, RunnerConfig{Shuffler: deck.NewSeededShuffler(17)})
	result, err := runner.RunHand(context.Background(), RunHandInput{
		TableID:    "table-1",
		HandNo:     1,
		ButtonSeat: 1,
		Seats:      testSeats(10_000, 10_000),
		Config:     DefaultConfig(),
	})
	if err != nil {
		t.Fatalf("RunHand failed: %v", err)
	}
	if result.FinalHand.Phase != PhaseComplete {
		t.Fatalf("expected complete, got %s", result.FinalHand.Phase)
	}
	if result.ActionCount == 0 {
		t.Fatal("expected at least one action")
	}
	if result.FallbackCount != 0 {
		t.Fatalf("expected no fallbacks, got %d", result.FallbackCount)
	}
	assertChipsConserved(t, result.FinalHand, 20_000)
}

func TestRunHandFallsBackWhenProviderFails(t *testing.T) {
	t.Parallel()

	runner := New(failingProvider{}, RunnerConfig{Shuffler: deck.NewSeededShuffler(17)})
	result, err := runner.RunHand(context.Background(), RunHandInput{
		TableID:    "table-1",
		HandNo:     1,
		ButtonSeat: 1,
		Seats:      testSeats(10_000, 10_000),
		Config:     DefaultConfig(),
	})
	if err != nil {
		t.Fatalf("RunHand failed: %v", err)
	}
	if result.FinalHand.Phase != PhaseComplete {
		t.Fatalf("expected complete, got %s", result.FinalHand.Phase)
	}
	if result.FallbackCount == 0 {
		t.Fatal("expected fallback actions")
	}
	if result.FallbackCount != result.ActionCount {
		t.Fatalf("every action should be a fallback: %d of %d", result.FallbackCount, result.ActionCount)
	}
}

func TestRunHandCompletesWithShortBigBlind(t *testing.T) {
	t.Parallel()

	// A seat blinded down below the small blind posts a short all-in big
	// blind; the hand must still close its preflop round and finish well
	// inside the action cap.
	runner := New(callerProvider{}, RunnerConfig{
		Shuffler:          deck.NewSeededShuffler(17),
		MaxActionsPerHand: 64,
	})
	result, err := runner.RunHand(context.Background(), RunHandInput{
		TableID:    "table-1",
		HandNo:     1,
		ButtonSeat: 1,
		Seats:      testSeats(10_000, 30),
		Config:     DefaultConfig(),
	})
	if err != nil {
		t.Fatalf("RunHand failed: %v", err)
	}
	if result.FinalHand.Phase != PhaseComplete {
		t.Fatalf("expected complete, got %s", result.FinalHand.Phase)
	}
	assertChipsConserved(t, result.FinalHand, 10_030)
}

func TestRunHandEnforcesActionLimit(t *testing.T) {
	t.Parallel()

	runner := New(callerProvider{}, RunnerConfig{
		Shuffler:          deck.NewSeededShuffler(17),
		MaxActionsPerHand: 1,
	})
	_, err := runner.RunHand(context.Background(), RunHandInput{
		TableID:    "table-1",
		HandNo:     1,
		ButtonSeat: 1,
		Seats:      testSeats(10_000, 10_000),
		Config:     DefaultConfig(),
	})
	if !errors.Is(err, ErrActionLimitExceeded) {
		t.Fatalf("expected ErrActionLimitExceeded, got %v", err)
	}
}

func TestRunHandObservesActions(t *testing.T) {
	t.Parallel()

	var observed int
	runner := New(callerProvider{}, RunnerConfig{
		Shuffler: deck.NewSeededShuffler(23),
		OnAction: func(view View, action Action, isFallback bool) {
			if isFallback {
				t.Errorf("unexpected fallback for %s by seat %d", action.Kind, view.Acting)
			}
			if view.Acting == 0 {
				t.Error("observed action without an acting seat")
			}
			observed++
		},
	})
	result, err := runner.RunHand(context.Background(), RunHandInput{
		TableID:    "table-1",
		HandNo:     1,
		ButtonSeat: 1,
		Seats:      testSeats(10_000, 10_000),
		Config:     DefaultConfig(),
	})
	if err != nil {
		t.Fatalf("RunHand failed: %v", err)
	}
	if observed != result.ActionCount {
		t.Fatalf("observed %d actions, runner counted %d", observed, result.ActionCount)
	}
}

func TestRunTablePlaysRequestedHands(t *testing.T) {
	t.Parallel()

	var started, completed int
	runner := New(callerProvider{}, RunnerConfig{
		Shuffler:       deck.NewSeededShuffler(29),
		OnHandStart:    func(View) { started++ },
		OnHandComplete: func(HandSummary) { completed++ },
	})
	result, err := runner.RunTable(context.Background(), RunTableInput{
		TableID:      "table-1",
		StartingHand: 1,
		HandsToRun:   5,
		ButtonSeat:   1,
		Seats:        testSeats(10_000, 10_000),
		Config:       DefaultConfig(),
	})
	if err != nil {
		t.Fatalf("RunTable failed: %v", err)
	}
	if result.HandsCompleted != 5 {
		t.Fatalf("expected 5 hands, got %d", result.HandsCompleted)
	}
	if started != 5 || completed != 5 {
		t.Fatalf("expected 5 start/complete callbacks, got %d/%d", started, completed)
	}
	if len(result.HandSummaries) != 5 {
		t.Fatalf("expected 5 summaries, got %d", len(result.HandSummaries))
	}
	for i, summary := range result.HandSummaries {
		if summary.HandNo != uint64(i+1) {
			t.Fatalf("summary %d: expected hand no %d, got %d", i, i+1, summary.HandNo)
		}
	}

	total := uint64(0)
	for _, seat := range result.FinalSeats {
		total += uint64(seat.Stack)
	}
	if total != 20_000 {
		t.Fatalf("chips not conserved across hands: %d", total)
	}
}

func TestRunTableRotatesButton(t *testing.T) {
	t.Parallel()

	runner := New(callerProvider{}, RunnerConfig{Shuffler: deck.NewSeededShuffler(31)})
	result, err := runner.RunTable(context.Background(), RunTableInput{
		TableID:      "table-1",
		StartingHand: 1,
		HandsToRun:   1,
		ButtonSeat:   1,
		Seats:        testSeats(10_000, 10_000, 10_000),
		Config:       DefaultConfig(),
	})
	if err != nil {
		t.Fatalf("RunTable failed: %v", err)
	}
	if result.FinalButton != 2 {
		t.Fatalf("expected button on seat 2 after one hand, got %d", result.FinalButton)
	}
}

func TestRunTableRejectsInvalidHandCount(t *testing.T) {
	t.Parallel()

	runner := New(callerProvider{}, RunnerConfig{})
	if _, err := runner.RunTable(context.Background(), RunTableInput{
		TableID:    "table-1",
		HandsToRun: 0,
		ButtonSeat: 1,
		Seats:      testSeats(10_000, 10_000),
		Config:     DefaultConfig(),
	}); !errors.Is(err, ErrInvalidHandsToRun) {
		t.Fatalf("expected ErrInvalidHandsToRun, got %v", err)
	}
}

func TestRunTableStopsOnCancelledContext(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	runner := New(callerProvider{}, RunnerConfig{Shuffler: deck.NewSeededShuffler(17)})
	_, err := runner.RunTable(ctx, RunTableInput{
		TableID:      "table-1",
		StartingHand: 1,
		HandsToRun:   3,
		ButtonSeat:   1,
		Seats:        testSeats(10_000, 10_000),
		Config:       DefaultConfig(),
	})
	if !errors.Is(err, ErrContextCancelled) {
		t.Fatalf("expected ErrContextCancelled, got %v", err)
	}
}

func TestRunTableStopsWithoutEnoughPlayableSeats(t *testing.T) {
	t.Parallel()

	// An empty stack is marked busted before the first hand, leaving a single
	// playable seat.
	runner := New(callerProvider{}, RunnerConfig{Shuffler: deck.NewSeededShuffler(17)})
	result, err := runner.RunTable(context.Background(), RunTableInput{
		TableID:      "table-1",
		StartingHand: 1,
		HandsToRun:   3,
		ButtonSeat:   1,
		Seats:        testSeats(10_000, 0),
		Config:       DefaultConfig(),
	})
	if !errors.Is(err, ErrInsufficientActiveSeats) {
		t.Fatalf("expected ErrInsufficientActiveSeats, got %v", err)
	}
	if result.HandsCompleted != 0 {
		t.Fatalf("expected no completed hands, got %d", result.HandsCompleted)
	}
}
