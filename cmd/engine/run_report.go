package main

import (
	"encoding/json"
	"fmt"
	"os"
	"sort"
	"strings"

	"github.com/cardroom/engine/internal/domain"
	"github.com/cardroom/engine/internal/game"
	"github.com/cardroom/engine/internal/rules"
)

type actionEvent struct {
	HandNo     uint64
	Phase      game.Phase
	Seat       game.SeatNo
	Action     game.ActionKind
	Amount     uint32
	IsFallback bool
}

type buildRunReportInput struct {
	Mode           string
	TableID        string
	HandsRequested int
	HumanSeat      *game.SeatNo
	InitialSeats   []game.SeatState
	Result         game.RunTableResult
	Timeline       []actionEvent
}

type runReport struct {
	TableID        string          `json:"table_id"`
	Mode           string          `json:"mode"`
	HandsRequested int             `json:"hands_requested"`
	HandsCompleted int             `json:"hands_completed"`
	TotalActions   int             `json:"total_actions"`
	TotalFallbacks int             `json:"total_fallbacks"`
	FinalButton    game.SeatNo     `json:"final_button"`
	StartingSeats  []runReportSeat `json:"starting_seats,omitempty"`
	FinalSeats     []runReportSeat `json:"final_seats"`
	Hands          []runReportHand `json:"hands"`
	HumanSeat      *game.SeatNo    `json:"human_seat,omitempty"`
}

type runReportSeat struct {
	SeatNo game.SeatNo `json:"seat_no"`
	Stack  uint32      `json:"stack"`
}

type runReportAction struct {
	Phase      game.Phase      `json:"phase"`
	Seat       game.SeatNo     `json:"seat"`
	Action     game.ActionKind `json:"action"`
	Amount     uint32          `json:"amount,omitempty"`
	IsFallback bool            `json:"is_fallback,omitempty"`
}

type runReportHand struct {
	HandNo      uint64            `json:"hand_no"`
	HandID      string            `json:"hand_id"`
	Phase       game.Phase        `json:"phase"`
	Actions     int               `json:"actions"`
	Fallbacks   int               `json:"fallbacks"`
	PotEnd      uint32            `json:"pot_end"`
	Board       []string          `json:"board"`
	Awards      []runReportAward  `json:"awards,omitempty"`
	Winners     []runReportWinner `json:"winners,omitempty"`
	StacksAfter []runReportSeat   `json:"stacks_after"`
	Timeline    []runReportAction `json:"timeline"`
}

type runReportAward struct {
	Pot    string        `json:"pot,omitempty"`
	Amount uint32        `json:"amount"`
	Seats  []game.SeatNo `json:"seats"`
	Reason string        `json:"reason"`
}

type runReportWinner struct {
	Seat     game.SeatNo `json:"seat"`
	Won      uint32      `json:"won"`
	BestHand string      `json:"best_hand,omitempty"`
	HowWon   string      `json:"how_won"`
}

func buildRunReport(input buildRunReportInput) runReport {
	report := runReport{
		TableID:        input.TableID,
		Mode:           input.Mode,
		HandsRequested: input.HandsRequested,
		HandsCompleted: input.Result.HandsCompleted,
		TotalActions:   input.Result.TotalActions,
		TotalFallbacks: input.Result.TotalFallbacks,
		FinalButton:    input.Result.FinalButton,
		StartingSeats:  mapSeats(input.InitialSeats),
		FinalSeats:     mapSeats(input.Result.FinalSeats),
		Hands:          make([]runReportHand, 0, len(input.Result.HandSummaries)),
		HumanSeat:      input.HumanSeat,
	}

	timelineByHand := make(map[uint64][]runReportAction)
	for _, event := range input.Timeline {
		timelineByHand[event.HandNo] = append(timelineByHand[event.HandNo], runReportAction{
			Phase:      event.Phase,
			Seat:       event.Seat,
			Action:     event.Action,
			Amount:     event.Amount,
			IsFallback: event.IsFallback,
		})
	}

	for _, summary := range input.Result.HandSummaries {
		report.Hands = append(report.Hands, buildRunReportHand(summary, timelineByHand[summary.HandNo]))
	}

	return report
}

func buildRunReportHand(summary game.HandSummary, timeline []runReportAction) runReportHand {
	return runReportHand{
		HandNo:      summary.HandNo,
		HandID:      summary.HandID,
		Phase:       summary.FinalPhase,
		Actions:     summary.ActionCount,
		Fallbacks:   summary.FallbackCount,
		PotEnd:      summary.Pot,
		Board:       domain.CardCodes(summary.Board),
		Awards:      mapAwards(summary.Awards),
		Winners:     mapWinners(summary.Awards),
		StacksAfter: mapSeats(summary.Seats),
		Timeline:    timeline,
	}
}

func mapSeats(seats []game.SeatState) []runReportSeat {
	mapped := make([]runReportSeat, 0, len(seats))
	for _, seat := range seats {
		mapped = append(mapped, runReportSeat{SeatNo: seat.SeatNo, Stack: seat.Stack})
	}
	sort.Slice(mapped, func(i, j int) bool { return mapped[i].SeatNo < mapped[j].SeatNo })
	return mapped
}

func mapAwards(awards []game.PotAward) []runReportAward {
	mapped := make([]runReportAward, 0, len(awards))
	for _, award := range awards {
		mapped = append(mapped, runReportAward{
			Pot:    award.Pot,
			Amount: award.Amount,
			Seats:  append([]game.SeatNo(nil), award.Seats...),
			Reason: string(award.Reason),
		})
	}
	return mapped
}

// mapWinners flattens pot awards into per-seat totals, splitting shared pots
// the same way the payout code does: equal shares, odd chips to the seats
// listed first.
func mapWinners(awards []game.PotAward) []runReportWinner {
	wonBySeat := map[game.SeatNo]uint32{}
	reasonsBySeat := map[game.SeatNo]map[string]struct{}{}
	categoryBySeat := map[game.SeatNo]rules.HandCategory{}
	hasCategory := map[game.SeatNo]bool{}

	for _, award := range awards {
		if len(award.Seats) == 0 {
			continue
		}
		share := award.Amount / uint32(len(award.Seats))
		odd := award.Amount % uint32(len(award.Seats))
		for i, seat := range award.Seats {
			wonBySeat[seat] += share
			if uint32(i) < odd {
				wonBySeat[seat]++
			}
			if _, ok := reasonsBySeat[seat]; !ok {
				reasonsBySeat[seat] = map[string]struct{}{}
			}
			reasonsBySeat[seat][string(award.Reason)] = struct{}{}
			if award.Reason == game.AwardReasonShowdown {
				categoryBySeat[seat] = award.Category
				hasCategory[seat] = true
			}
		}
	}

	winners := make([]runReportWinner, 0, len(wonBySeat))
	for seat, won := range wonBySeat {
		reasons := make([]string, 0, len(reasonsBySeat[seat]))
		for reason := range reasonsBySeat[seat] {
			reasons = append(reasons, reason)
		}
		sort.Strings(reasons)

		bestHand := ""
		if hasCategory[seat] {
			bestHand = categoryBySeat[seat].String()
		}

		winners = append(winners, runReportWinner{
			Seat:     seat,
			Won:      won,
			BestHand: bestHand,
			HowWon:   strings.Join(reasons, "+"),
		})
	}

	sort.Slice(winners, func(i, j int) bool {
		if winners[i].Won == winners[j].Won {
			return winners[i].Seat < winners[j].Seat
		}
		return winners[i].Won > winners[j].Won
	})

	return winners
}

func writeRunReportJSON(path string, report runReport) error {
	payload, err := json.MarshalIndent(report, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(path, payload, 0o644)
}

func renderRunOutput(report runReport) string {
	var b strings.Builder
	w := 50

	b.WriteString("\n")
	b.WriteString("  ╔" + strings.Repeat("═", w) + "╗\n")
	b.WriteString(fmt.Sprintf("  ║%-*s║\n", w, centerReportText("♠ ♥ ♦ ♣  CARDROOM ENGINE  ♣ ♦ ♥ ♠", w)))
	b.WriteString("  ╠" + strings.Repeat("═", w) + "╣\n")
	b.WriteString(fmt.Sprintf("  ║  Mode:    %-*s║\n", w-12, report.Mode))
	b.WriteString(fmt.Sprintf("  ║  Table:   %-*s║\n", w-12, report.TableID))
	if report.HumanSeat != nil {
		b.WriteString(fmt.Sprintf("  ║  Human:   Seat %-*d║\n", w-17, *report.HumanSeat))
	}
	b.WriteString(fmt.Sprintf("  ║  Hands:   %-*d║\n", w-12, report.HandsRequested))
	b.WriteString(fmt.Sprintf("  ║  Stacks:  %-*s║\n", w-12, formatStackList(report.StartingSeats)))
	b.WriteString("  ╚" + strings.Repeat("═", w) + "╝\n\n")

	previous := make(map[game.SeatNo]uint32)
	for _, seat := range report.StartingSeats {
		previous[seat.SeatNo] = seat.Stack
	}

	for _, hand := range report.Hands {
		b.WriteString(renderHandSection(hand, previous))
	}

	b.WriteString(renderRunCompletion(report))

	return b.String()
}

func renderHandSection(hand runReportHand, previous map[game.SeatNo]uint32) string {
	var b strings.Builder
	w := 56

	b.WriteString(fmt.Sprintf("  ┌%s┐\n", strings.Repeat("─", w)))
	b.WriteString(fmt.Sprintf("  │%-*s│\n", w, centerReportText(fmt.Sprintf("♠ HAND %d ♠", hand.HandNo), w)))
	b.WriteString(fmt.Sprintf("  ├%s┤\n", strings.Repeat("─", w)))

	board := strings.Join(hand.Board, " ")
	if board == "" {
		board = "(none)"
	}
	b.WriteString(fmt.Sprintf("  │  Phase: %-10s  Actions: %-4d Fallbacks: %-*d│\n", hand.Phase, hand.Actions, w-47, hand.Fallbacks))
	b.WriteString(fmt.Sprintf("  │  Pot: %-12d  Board: %-*s│\n", hand.PotEnd, w-30, board))

	b.WriteString(fmt.Sprintf("  ├%s┤\n", strings.Repeat("─", w)))
	b.WriteString(fmt.Sprintf("  │%-*s│\n", w, "  Pot Awards"))
	if len(hand.Awards) == 0 {
		b.WriteString(fmt.Sprintf("  │%-*s│\n", w, "    (none)"))
	}
	for _, award := range hand.Awards {
		pot := award.Pot
		if pot == "" {
			pot = award.Reason
		}
		line := fmt.Sprintf("    • %s → %d to %s", pot, award.Amount, formatSeatNoList(award.Seats))
		b.WriteString(fmt.Sprintf("  │%-*s│\n", w, line))
	}

	b.WriteString(fmt.Sprintf("  │%-*s│\n", w, "  Winners"))
	if len(hand.Winners) == 0 {
		b.WriteString(fmt.Sprintf("  │%-*s│\n", w, "    (none)"))
	}
	for _, winner := range hand.Winners {
		line := fmt.Sprintf("    seat%d won %d via %s", winner.Seat, winner.Won, winner.HowWon)
		if winner.BestHand != "" {
			line += " with " + winner.BestHand
		}
		b.WriteString(fmt.Sprintf("  │%-*s│\n", w, line))
	}

	b.WriteString(fmt.Sprintf("  ├%s┤\n", strings.Repeat("─", w)))
	b.WriteString(fmt.Sprintf("  │%-*s│\n", w, "  Stacks"))
	for _, seat := range hand.StacksAfter {
		delta := int64(seat.Stack) - int64(previous[seat.SeatNo])
		deltaStr := fmt.Sprintf("%+d", delta)
		switch {
		case delta > 0:
			deltaStr = "▲" + deltaStr
		case delta < 0:
			deltaStr = "▼" + deltaStr
		default:
			deltaStr = "• " + deltaStr
		}
		line := fmt.Sprintf("    Seat %d: %d  %s", seat.SeatNo, seat.Stack, deltaStr)
		b.WriteString(fmt.Sprintf("  │%-*s│\n", w, line))
		previous[seat.SeatNo] = seat.Stack
	}

	b.WriteString(fmt.Sprintf("  ├%s┤\n", strings.Repeat("─", w)))
	b.WriteString(fmt.Sprintf("  │%-*s│\n", w, "  Action Timeline"))
	if len(hand.Timeline) == 0 {
		b.WriteString(fmt.Sprintf("  │%-*s│\n", w, "    (no actions captured)"))
	}
	for idx, action := range hand.Timeline {
		line := fmt.Sprintf("    %d) %s seat%d %s", idx+1, action.Phase, action.Seat, action.Action)
		if action.Amount > 0 {
			line += fmt.Sprintf(" %d", action.Amount)
		}
		if action.IsFallback {
			line += " (fallback)"
		}
		b.WriteString(fmt.Sprintf("  │%-*s│\n", w, line))
	}

	b.WriteString(fmt.Sprintf("  └%s┘\n\n", strings.Repeat("─", w)))
	return b.String()
}

func renderRunCompletion(report runReport) string {
	var b strings.Builder
	w := 50

	b.WriteString("  ╔" + strings.Repeat("═", w) + "╗\n")
	b.WriteString(fmt.Sprintf("  ║%-*s║\n", w, centerReportText("✓ RUN COMPLETE", w)))
	b.WriteString("  ╠" + strings.Repeat("═", w) + "╣\n")
	b.WriteString(fmt.Sprintf("  ║  Hands Completed:  %-*d║\n", w-22, report.HandsCompleted))
	b.WriteString(fmt.Sprintf("  ║  Total Actions:    %-*d║\n", w-22, report.TotalActions))
	b.WriteString(fmt.Sprintf("  ║  Total Fallbacks:  %-*d║\n", w-22, report.TotalFallbacks))
	b.WriteString(fmt.Sprintf("  ║  Final Button:     Seat %-*d║\n", w-27, report.FinalButton))
	b.WriteString(fmt.Sprintf("  ║  Final Stacks:     %-*s║\n", w-22, formatStackList(report.FinalSeats)))
	b.WriteString("  ╚" + strings.Repeat("═", w) + "╝\n")
	return b.String()
}

func centerReportText(text string, width int) string {
	l := len([]rune(text))
	if l >= width {
		return text
	}
	left := (width - l) / 2
	right := width - l - left
	return strings.Repeat(" ", left) + text + strings.Repeat(" ", right)
}

func formatStackList(seats []runReportSeat) string {
	parts := make([]string, 0, len(seats))
	for _, seat := range seats {
		parts = append(parts, fmt.Sprintf("seat%d=%d", seat.SeatNo, seat.Stack))
	}
	return strings.Join(parts, " ")
}

func formatSeatNoList(seats []game.SeatNo) string {
	parts := make([]string, 0, len(seats))
	for _, seat := range seats {
		parts = append(parts, fmt.Sprintf("seat%d", seat))
	}
	return strings.Join(parts, ",")
}
