package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"

	"github.com/cardroom/engine/internal/domain"
	"github.com/cardroom/engine/internal/game"
)

var errUnsupportedAction = errors.New("unsupported action")

// callerProvider calls any outstanding bet and checks otherwise.
type callerProvider struct{}

func (p callerProvider) NextAction(_ context.Context, view game.View) (game.Action, error) {
	acting, ok := seatInView(view, view.Acting)
	if !ok {
		return game.Action{}, game.ErrRunnerMisconfigured
	}
	if view.CurrentBet > acting.CommittedInRound {
		return game.NewAction(game.ActionCall, 0)
	}
	return game.NewAction(game.ActionCheck, 0)
}

type humanProvider struct {
	in  *bufio.Scanner
	out io.Writer
}

func newHumanProvider(in io.Reader, out io.Writer) humanProvider {
	return humanProvider{in: bufio.NewScanner(in), out: out}
}

func (p humanProvider) NextAction(ctx context.Context, view game.View) (game.Action, error) {
	for {
		if err := ctx.Err(); err != nil {
			return game.Action{}, err
		}

		toCall := toCallInView(view)
		options := "fold(f)/check(k)/bet(b) <amt>"
		if toCall > 0 {
			options = "fold(f)/check(k)/call(c)/raise(r) <amt>"
		}

		fmt.Fprint(p.out, renderTablePrompt(view, toCall, options))
		if !p.in.Scan() {
			if err := p.in.Err(); err != nil {
				return game.Action{}, err
			}
			return game.Action{}, io.EOF
		}

		rawInput := strings.ToLower(strings.TrimSpace(p.in.Text()))
		if rawInput == "bet" || rawInput == "b" {
			amount := view.MinRaiseTo
			label := "minimum bet"
			kind := game.ActionBet
			if toCall > 0 {
				label = "minimum raise"
				kind = game.ActionRaise
			}
			fmt.Fprintf(p.out, "interpreting bare 'bet' as %s to %d\n", label, amount)
			action, err := game.NewAction(kind, amount)
			if err != nil {
				fmt.Fprintf(p.out, "invalid action. valid: %s\n", options)
				continue
			}
			if err := validateHumanAction(view, action); err != nil {
				fmt.Fprintf(p.out, "illegal action: %v\n", err)
				continue
			}
			return action, nil
		}

		action, err := parseHumanAction(rawInput)
		if err != nil {
			fmt.Fprintf(p.out, "invalid action. valid: %s\n", options)
			continue
		}
		if err := validateHumanAction(view, action); err != nil {
			fmt.Fprintf(p.out, "illegal action: %v\n", err)
			continue
		}
		if action.Kind == game.ActionCheck {
			fmt.Fprintf(p.out, "checked on %s\n", view.Phase)
		}
		return action, nil
	}
}

func parseHumanAction(input string) (game.Action, error) {
	parts := strings.Fields(strings.ToLower(strings.TrimSpace(input)))
	if len(parts) == 0 {
		return game.Action{}, fmt.Errorf("%w: empty action", errUnsupportedAction)
	}

	switch parts[0] {
	case "fold", "f":
		if len(parts) != 1 {
			return game.Action{}, fmt.Errorf("%w: fold does not take an amount", errUnsupportedAction)
		}
		return game.NewAction(game.ActionFold, 0)
	case "check", "k":
		if len(parts) != 1 {
			return game.Action{}, fmt.Errorf("%w: check does not take an amount", errUnsupportedAction)
		}
		return game.NewAction(game.ActionCheck, 0)
	case "call", "c":
		if len(parts) != 1 {
			return game.Action{}, fmt.Errorf("%w: call does not take an amount", errUnsupportedAction)
		}
		return game.NewAction(game.ActionCall, 0)
	case "bet", "b", "raise", "r":
		if len(parts) != 2 {
			return game.Action{}, fmt.Errorf("%w: %s requires an amount", errUnsupportedAction, parts[0])
		}
		parsed, err := strconv.ParseUint(parts[1], 10, 32)
		if err != nil || parsed == 0 {
			return game.Action{}, fmt.Errorf("%w: invalid amount %q", errUnsupportedAction, parts[1])
		}
		kind := game.ActionBet
		if parts[0] == "raise" || parts[0] == "r" {
			kind = game.ActionRaise
		}
		return game.NewAction(kind, uint32(parsed))
	default:
		return game.Action{}, fmt.Errorf("%w: %q", errUnsupportedAction, input)
	}
}

func validateHumanAction(view game.View, action game.Action) error {
	acting, ok := seatInView(view, view.Acting)
	if !ok {
		return fmt.Errorf("acting seat %d not found", view.Acting)
	}
	toCall := toCallInView(view)

	switch action.Kind {
	case game.ActionFold:
		return nil
	case game.ActionCheck:
		if toCall != 0 {
			return fmt.Errorf("cannot check when to_call is %d", toCall)
		}
		return nil
	case game.ActionCall:
		if toCall == 0 {
			return errors.New("cannot call when there is no bet to call")
		}
		return nil
	case game.ActionBet:
		if toCall != 0 || view.CurrentBet != 0 {
			return errors.New("cannot bet when facing an existing bet; use raise")
		}
		if action.Amount == 0 {
			return errors.New("bet requires a positive amount")
		}
		if action.Amount > acting.Stack {
			return fmt.Errorf("bet amount %d exceeds stack %d", action.Amount, acting.Stack)
		}
		return nil
	case game.ActionRaise:
		if toCall == 0 || view.CurrentBet == 0 {
			return errors.New("cannot raise when there is no existing bet; use bet")
		}
		if action.Amount == 0 {
			return errors.New("raise requires a positive amount")
		}
		if action.Amount < view.MinRaiseTo {
			return fmt.Errorf("raise amount %d is below min_raise_to %d", action.Amount, view.MinRaiseTo)
		}
		if action.Amount <= acting.CommittedInRound {
			return fmt.Errorf("raise amount %d must exceed your current committed amount %d", action.Amount, acting.CommittedInRound)
		}
		requiredDelta := action.Amount - acting.CommittedInRound
		if requiredDelta > acting.Stack {
			return fmt.Errorf("raise requires %d chips but stack is %d", requiredDelta, acting.Stack)
		}
		return nil
	default:
		return fmt.Errorf("unsupported action kind %q", action.Kind)
	}
}

// seatProvider routes the human seat to the interactive provider and every
// other seat to the bot.
type seatProvider struct {
	humanSeat game.SeatNo
	human     game.ActionProvider
	bot       game.ActionProvider
	out       io.Writer
}

func (p seatProvider) NextAction(ctx context.Context, view game.View) (game.Action, error) {
	out := p.out
	if out == nil {
		out = os.Stdout
	}
	if view.Acting == p.humanSeat {
		action, err := p.human.NextAction(ctx, view)
		if err != nil {
			return action, err
		}
		fmt.Fprintf(out, "you (seat %d) -> %s\n", view.Acting, formatAction(action))
		return action, nil
	}
	action, err := p.bot.NextAction(ctx, view)
	if err != nil {
		return action, err
	}
	fmt.Fprintf(out, "bot (seat %d) -> %s\n", view.Acting, formatAction(action))
	return action, nil
}

func formatAction(action game.Action) string {
	if action.Amount == 0 {
		return string(action.Kind)
	}
	return fmt.Sprintf("%s %d", action.Kind, action.Amount)
}

func seatInView(view game.View, seatNo game.SeatNo) (game.SeatState, bool) {
	for _, seat := range view.Seats {
		if seat.SeatNo == seatNo {
			return seat, true
		}
	}
	return game.SeatState{}, false
}

func toCallInView(view game.View) uint32 {
	acting, ok := seatInView(view, view.Acting)
	if !ok {
		return 0
	}
	if view.CurrentBet > acting.CommittedInRound {
		return view.CurrentBet - acting.CommittedInRound
	}
	return 0
}

const tablePromptWidth = 58

func renderTablePrompt(view game.View, toCall uint32, options string) string {
	lines := []string{
		"MINI ASCII POKER TABLE",
		fmt.Sprintf("Hand #%d | Table: %s", view.HandNo, view.TableID),
		fmt.Sprintf("Phase: %s | Pot: %d | To Call: %d", view.Phase, view.Pot, toCall),
		fmt.Sprintf("Current Bet: %d | Min Raise To: %d", view.CurrentBet, view.MinRaiseTo),
		fmt.Sprintf("Board: %s", formatBoardCards(view.Board)),
		fmt.Sprintf("Your cards: %s", domain.FormatCards(view.HoleCards)),
		"                    .----------------------.",
		"                   /                        \\",
		"                  |        TABLE VIEW        |",
		"                   \\                        /",
		"                    '----------------------'",
	}

	for _, seat := range view.Seats {
		lines = append(lines, formatSeatPromptLine(seat, view))
	}
	lines = append(lines, fmt.Sprintf("Options: %s", options))

	var builder strings.Builder
	builder.WriteString("+" + strings.Repeat("-", tablePromptWidth+2) + "+\n")
	for _, line := range lines {
		builder.WriteString(framePromptLine(line))
	}
	builder.WriteString("+" + strings.Repeat("-", tablePromptWidth+2) + "+\n")
	builder.WriteString("Action > ")
	return builder.String()
}

func framePromptLine(content string) string {
	if len(content) > tablePromptWidth {
		content = content[:tablePromptWidth]
	}
	return fmt.Sprintf("| %-*s |\n", tablePromptWidth, content)
}

func formatSeatPromptLine(seat game.SeatState, view game.View) string {
	marker := " "
	if seat.SeatNo == view.Acting {
		marker = ">"
	}

	role := "-"
	switch {
	case seat.SeatNo == view.Acting && seat.SeatNo == view.Button:
		role = "A/D"
	case seat.SeatNo == view.Acting:
		role = "A"
	case seat.SeatNo == view.Button:
		role = "D"
	}

	status := ""
	if seat.Status != game.SeatStatusActive {
		status = " [" + string(seat.Status) + "]"
	}

	return fmt.Sprintf(
		"%s %s Seat %d | stack:%d | in:%d%s",
		marker,
		role,
		seat.SeatNo,
		seat.Stack,
		seat.CommittedInRound,
		status,
	)
}

func formatBoardCards(board []domain.Card) string {
	formatted := make([]string, 0, 5)
	for i := 0; i < 5; i++ {
		if i < len(board) {
			formatted = append(formatted, board[i].String())
			continue
		}
		formatted = append(formatted, "--")
	}
	return strings.Join(formatted, " ")
}
