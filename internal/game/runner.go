package game

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/cardroom/engine/internal/deck"
	"github.com/cardroom/engine/internal/domain"
)

const defaultMaxActionsPerHand = 512

var (
	ErrActionLimitExceeded     = errors.New("action limit exceeded")
	ErrRunnerMisconfigured     = errors.New("runner misconfigured")
	ErrContextCancelled        = errors.New("runner context cancelled")
	ErrInvalidHandsToRun       = errors.New("hands to run must be greater than zero")
	ErrInsufficientActiveSeats = errors.New("insufficient active seats to start hand")
)

// View is the snapshot handed to an ActionProvider when its seat must act.
// HoleCards holds only the acting seat's own cards.
type View struct {
	TableID    string        `json:"table_id"`
	HandID     string        `json:"hand_id"`
	HandNo     uint64        `json:"hand_no"`
	Phase      Phase         `json:"phase"`
	Button     SeatNo        `json:"button"`
	Acting     SeatNo        `json:"acting"`
	Pot        uint32        `json:"pot"`
	CurrentBet uint32        `json:"current_bet"`
	MinRaiseTo uint32        `json:"min_raise_to"`
	Board      []domain.Card `json:"board"`
	Seats      []SeatState   `json:"seats"`
	HoleCards  []domain.Card `json:"hole_cards"`
}

// View snapshots the hand for the acting seat.
func (h *Hand) View() View {
	return View{
		TableID:    h.TableID,
		HandID:     h.HandID,
		HandNo:     h.HandNo,
		Phase:      h.Phase,
		Button:     h.Button,
		Acting:     h.Acting,
		Pot:        h.Pot,
		CurrentBet: h.CurrentBet,
		MinRaiseTo: h.MinRaiseTo,
		Board:      append([]domain.Card(nil), h.Board...),
		Seats:      append([]SeatState(nil), h.Seats...),
		HoleCards:  h.HoleCards(h.Acting),
	}
}

// ActionProvider decides the acting seat's next move.
type ActionProvider interface {
	NextAction(ctx context.Context, view View) (Action, error)
}

type RunnerConfig struct {
	MaxActionsPerHand int
	Shuffler          deck.Shuffler
	Logger            *slog.Logger
	OnHandStart       func(View)
	OnAction          func(view View, action Action, isFallback bool)
	OnHandComplete    func(HandSummary)
}

// Runner plays hands against an ActionProvider, substituting a fallback
// check-then-fold whenever the provider errors or returns an illegal action.
type Runner struct {
	provider ActionProvider
	config   RunnerConfig
	logger   *slog.Logger
}

func New(provider ActionProvider, config RunnerConfig) Runner {
	logger := config.Logger
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return Runner{provider: provider, config: config, logger: logger}
}

type RunHandInput struct {
	TableID    string
	HandNo     uint64
	ButtonSeat SeatNo
	Seats      []SeatState
	Config     Config
}

type RunHandResult struct {
	FinalHand     *Hand
	ActionCount   int
	FallbackCount int
}

type HandSummary struct {
	HandID        string
	HandNo        uint64
	FinalPhase    Phase
	Board         []domain.Card
	Pot           uint32
	Awards        []PotAward
	Seats         []SeatState
	ActionCount   int
	FallbackCount int
}

type RunTableInput struct {
	TableID      string
	StartingHand uint64
	HandsToRun   int
	ButtonSeat   SeatNo
	Seats        []SeatState
	Config       Config
}

type RunTableResult struct {
	HandsCompleted int
	FinalButton    SeatNo
	FinalSeats     []SeatState
	TotalActions   int
	TotalFallbacks int
	HandSummaries  []HandSummary
}

// RunTable plays consecutive hands, rotating the button and carrying stacks
// forward, until the requested count is reached, the context is cancelled or
// too few seats can still post a stack.
func (r Runner) RunTable(ctx context.Context, input RunTableInput) (RunTableResult, error) {
	var result RunTableResult

	if input.HandsToRun <= 0 {
		return result, ErrInvalidHandsToRun
	}
	if r.provider == nil {
		return result, ErrRunnerMisconfigured
	}

	seats := prepareSeatsForNextHand(input.Seats)
	button := input.ButtonSeat
	result.HandSummaries = make([]HandSummary, 0, input.HandsToRun)

	for i := 0; i < input.HandsToRun; i++ {
		if err := checkContext(ctx); err != nil {
			result.FinalButton = button
			result.FinalSeats = seats
			return result, err
		}
		if countPlayableSeats(seats) < int(input.Config.MinPlayersToStart) {
			result.FinalButton = button
			result.FinalSeats = seats
			return result, ErrInsufficientActiveSeats
		}

		currentButton, err := normalizeButton(button, seats)
		if err != nil {
			result.FinalButton = button
			result.FinalSeats = seats
			return result, err
		}

		handNo := input.StartingHand + uint64(i)
		handResult, err := r.RunHand(ctx, RunHandInput{
			TableID:    input.TableID,
			HandNo:     handNo,
			ButtonSeat: currentButton,
			Seats:      append([]SeatState(nil), seats...),
			Config:     input.Config,
		})
		if err != nil {
			result.FinalButton = currentButton
			result.FinalSeats = seats
			return result, err
		}

		summary := HandSummary{
			HandID:        handResult.FinalHand.HandID,
			HandNo:        handNo,
			FinalPhase:    handResult.FinalHand.Phase,
			Board:         append([]domain.Card(nil), handResult.FinalHand.Board...),
			Pot:           handResult.FinalHand.Pot,
			Awards:        append([]PotAward(nil), handResult.FinalHand.Awards...),
			Seats:         append([]SeatState(nil), handResult.FinalHand.Seats...),
			ActionCount:   handResult.ActionCount,
			FallbackCount: handResult.FallbackCount,
		}
		result.HandsCompleted++
		result.TotalActions += handResult.ActionCount
		result.TotalFallbacks += handResult.FallbackCount
		result.HandSummaries = append(result.HandSummaries, summary)
		if r.config.OnHandComplete != nil {
			r.config.OnHandComplete(summary)
		}

		seats = prepareSeatsForNextHand(handResult.FinalHand.Seats)
		nextButton, err := nextButtonSeat(currentButton, seats)
		if err != nil {
			result.FinalButton = currentButton
			result.FinalSeats = seats
			return result, err
		}
		button = nextButton
	}

	result.FinalButton = button
	result.FinalSeats = seats
	return result, nil
}

// RunHand plays one hand to completion.
func (r Runner) RunHand(ctx context.Context, input RunHandInput) (RunHandResult, error) {
	var result RunHandResult

	if r.provider == nil {
		return result, ErrRunnerMisconfigured
	}
	maxActions := r.config.MaxActionsPerHand
	if maxActions <= 0 {
		maxActions = defaultMaxActionsPerHand
	}

	hand, err := StartHand(StartHandInput{
		TableID:    input.TableID,
		HandNo:     input.HandNo,
		Seats:      input.Seats,
		ButtonSeat: input.ButtonSeat,
		Config:     input.Config,
		Shuffler:   r.config.Shuffler,
		Logger:     r.logger,
	})
	if err != nil {
		return result, err
	}
	result.FinalHand = hand
	if r.config.OnHandStart != nil {
		r.config.OnHandStart(hand.View())
	}

	for hand.Phase != PhaseComplete {
		if err := checkContext(ctx); err != nil {
			return result, err
		}

		view := hand.View()
		action, err := r.provider.NextAction(ctx, view)
		if err == nil {
			err = hand.Apply(action)
		}
		if err != nil {
			if ctxErr := checkContext(ctx); ctxErr != nil {
				return result, ctxErr
			}
			r.logger.Debug("applying fallback action",
				"hand_id", hand.HandID,
				"seat", hand.Acting,
				"cause", err,
			)
			applied, fallbackErr := r.applyFallback(hand)
			if fallbackErr != nil {
				return result, fmt.Errorf("apply fallback: %w", fallbackErr)
			}
			result.FallbackCount++
			if r.config.OnAction != nil {
				r.config.OnAction(view, applied, true)
			}
		} else if r.config.OnAction != nil {
			r.config.OnAction(view, action, false)
		}
		result.ActionCount++
		if result.ActionCount > maxActions {
			return result, fmt.Errorf("%w: applied %d actions (max %d)", ErrActionLimitExceeded, result.ActionCount, maxActions)
		}
	}

	return result, nil
}

func (r Runner) applyFallback(hand *Hand) (Action, error) {
	check, _ := NewAction(ActionCheck, 0)
	checkErr := hand.Apply(check)
	if checkErr == nil {
		return check, nil
	}
	fold, _ := NewAction(ActionFold, 0)
	if foldErr := hand.Apply(fold); foldErr != nil {
		return Action{}, fmt.Errorf("fallback check failed (%v) and fallback fold failed (%w)", checkErr, foldErr)
	}
	return fold, nil
}

func checkContext(ctx context.Context) error {
	select {
	case <-ctx.Done():
		return fmt.Errorf("%w: %w", ErrContextCancelled, ctx.Err())
	default:
		return nil
	}
}

// prepareSeatsForNextHand clears per-hand state and marks emptied stacks
// busted.
func prepareSeatsForNextHand(seats []SeatState) []SeatState {
	prepared := append([]SeatState(nil), seats...)
	for i := range prepared {
		prepared[i].CommittedInRound = 0
		prepared[i].TotalCommitted = 0
		prepared[i].HasActedThisRound = false
		if prepared[i].Stack == 0 {
			prepared[i].Status = SeatStatusBusted
		} else if prepared[i].Status != SeatStatusBusted {
			prepared[i].Status = SeatStatusActive
		}
	}
	return prepared
}

func countPlayableSeats(seats []SeatState) int {
	count := 0
	for _, seat := range seats {
		if seat.Status == SeatStatusActive && seat.Stack > 0 {
			count++
		}
	}
	return count
}

func normalizeButton(current SeatNo, seats []SeatState) (SeatNo, error) {
	for _, seat := range seats {
		if seat.SeatNo == current && seat.Status == SeatStatusActive && seat.Stack > 0 {
			return current, nil
		}
	}
	return nextButtonSeat(current, seats)
}

func nextButtonSeat(current SeatNo, seats []SeatState) (SeatNo, error) {
	if len(seats) == 0 {
		return 0, ErrInsufficientActiveSeats
	}
	ordered := append([]SeatState(nil), seats...)
	sortSeats(ordered)

	start := -1
	for i, seat := range ordered {
		if seat.SeatNo == current {
			start = i
			break
		}
	}
	if start < 0 {
		return 0, ErrInsufficientActiveSeats
	}
	for i := 1; i <= len(ordered); i++ {
		candidate := ordered[(start+i)%len(ordered)]
		if candidate.Status != SeatStatusBusted && candidate.Stack > 0 {
			return candidate.SeatNo, nil
		}
	}
	return 0, ErrInsufficientActiveSeats
}
