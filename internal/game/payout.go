package game

import (
	"fmt"
	"sort"

	"github.com/cardroom/engine/internal/rules"
)

// splitPots divides the pot into a main pot and one side pot per all-in
// contribution level, awarding each pot to the strongest hands among the
// seats that funded it. Folded seats fund pots but cannot win them. Odd
// chips go to the earliest winning seat after the button.
func (h *Hand) splitPots(hands map[SeatNo]*rules.PokerHand) ([]PotAward, error) {
	levels := h.contributionLevels()
	awards := make([]PotAward, 0, len(levels))
	prev := uint32(0)
	dead := uint32(0)
	for i, level := range levels {
		contributors := make([]SeatNo, 0, len(h.Seats))
		for _, seat := range h.Seats {
			if seat.TotalCommitted >= level {
				contributors = append(contributors, seat.SeatNo)
			}
		}
		amount := (level - prev) * uint32(len(contributors))
		prev = level
		if amount == 0 {
			continue
		}

		var best *rules.PokerHand
		var winners []SeatNo
		for _, seatNo := range contributors {
			hand, ok := hands[seatNo]
			if !ok {
				continue
			}
			switch {
			case best == nil || rules.Compare(hand, best) > 0:
				best = hand
				winners = append(winners[:0], seatNo)
			case rules.Compare(hand, best) == 0:
				winners = append(winners, seatNo)
			}
		}
		if len(winners) == 0 {
			// Every seat that funded this layer folded; contributor sets
			// shrink as levels rise, so this can only happen at the top.
			// Those chips belong to the winners of the pot below.
			dead += amount
			continue
		}
		h.orderFromButton(winners)
		h.distributePot(winners, amount)

		label := "main_pot"
		if i > 0 {
			label = fmt.Sprintf("side_pot_%d", i)
		}
		awards = append(awards, PotAward{
			Seats:    append([]SeatNo(nil), winners...),
			Amount:   amount,
			Reason:   AwardReasonShowdown,
			Pot:      label,
			Category: best.Category,
		})
	}
	if dead > 0 && len(awards) > 0 {
		last := &awards[len(awards)-1]
		h.distributePot(last.Seats, dead)
		last.Amount += dead
	}
	return awards, nil
}

// distributePot splits amount evenly across winners, odd chips going to the
// winners listed first.
func (h *Hand) distributePot(winners []SeatNo, amount uint32) {
	share := amount / uint32(len(winners))
	odd := amount % uint32(len(winners))
	for _, seatNo := range winners {
		h.Seats[h.seatIndex(seatNo)].Stack += share
	}
	for j := uint32(0); j < odd; j++ {
		h.Seats[h.seatIndex(winners[j])].Stack++
	}
}

// contributionLevels lists the distinct nonzero per-seat commitments in
// ascending order. Each level bounds one pot: everyone who committed at
// least that much funded it.
func (h *Hand) contributionLevels() []uint32 {
	seen := make(map[uint32]struct{}, len(h.Seats))
	levels := make([]uint32, 0, len(h.Seats))
	for _, seat := range h.Seats {
		if seat.TotalCommitted == 0 {
			continue
		}
		if _, ok := seen[seat.TotalCommitted]; ok {
			continue
		}
		seen[seat.TotalCommitted] = struct{}{}
		levels = append(levels, seat.TotalCommitted)
	}
	sort.Slice(levels, func(i, j int) bool { return levels[i] < levels[j] })
	return levels
}
