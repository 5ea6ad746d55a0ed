// Package rules evaluates the best five-card poker hand out of an arbitrary
// set of cards, implementing the traditional "high" hand categories. A hand
// may hold more than five cards (as in Texas Hold'em, where hole cards
// combine with the board) and evaluation picks the best five.
package rules

import (
	"errors"
	"log/slog"
	"sort"
	"strings"

	"github.com/cardroom/engine/internal/domain"
)

var ErrTooFewCards = errors.New("poker hand requires at least five cards")

type HandCategory uint8

const (
	HandCategoryHighCard HandCategory = iota
	HandCategoryOnePair
	HandCategoryTwoPair
	HandCategoryThreeOfAKind
	HandCategoryStraight
	HandCategoryFlush
	HandCategoryFullHouse
	HandCategoryFourOfAKind
	HandCategoryStraightFlush
)

var handCategoryNames = [...]string{
	"high card",
	"one pair",
	"two pair",
	"three of a kind",
	"straight",
	"flush",
	"full house",
	"four of a kind",
	"straight flush",
}

func (c HandCategory) String() string {
	if int(c) >= len(handCategoryNames) {
		return "unknown"
	}
	return handCategoryNames[c]
}

// PokerHand evaluates and holds the best five-card hand buildable from its
// cards.
//
// Cards is sorted rank descending at construction. Callers may mutate it and
// call Evaluate again; Category, HandCards and Kickers are derived fields and
// must be treated as read only.
type PokerHand struct {
	Cards []domain.Card

	// Category of the evaluated hand, HandCategoryHighCard (0) through
	// HandCategoryStraightFlush (8).
	Category HandCategory
	// HandCards are the cards completing the category; the count depends on
	// the category (one for high card, up to five).
	HandCards []domain.Card
	// Kickers are the highest remaining cards padding the comparison out to
	// five cards, empty when HandCards already holds five.
	Kickers []domain.Card

	logger *slog.Logger
}

// New builds and evaluates a hand from at least five cards. The logger
// receives debug traces of the groupings found during evaluation; nil
// disables tracing. Tracing never affects the result.
func New(cards []domain.Card, logger *slog.Logger) (*PokerHand, error) {
	if len(cards) < 5 {
		return nil, ErrTooFewCards
	}
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	h := &PokerHand{
		Cards:  append([]domain.Card(nil), cards...),
		logger: logger,
	}
	h.Evaluate()
	return h, nil
}

// Evaluate recomputes Category, HandCards and Kickers from Cards. It is a
// pure function of the card set: re-running it on unchanged cards yields the
// identical result.
func (h *PokerHand) Evaluate() {
	if h.logger == nil {
		h.logger = slog.New(slog.DiscardHandler)
	}
	sortCardsDescending(h.Cards)
	h.evalCategory()
	h.fillKickers()
}

// sortCardsDescending sorts by rank only, ace high. The sort is stable so
// that cards of equal rank keep their given order, which fixes the suit order
// inside rank buckets.
func sortCardsDescending(cards []domain.Card) {
	sort.SliceStable(cards, func(i, j int) bool {
		return domain.CompareRank(cards[i], cards[j]) > 0
	})
}

func (h *PokerHand) evalCategory() {
	h.logger.Debug("evaluating hand", "cards", domain.FormatCards(h.Cards))

	straights := findStraights(h.Cards)
	if len(straights) > 0 {
		h.logger.Debug("straights found", "candidates", formatCardGroups(straights))
	}
	flushes := findFlushes(h.Cards)
	if len(flushes) > 0 {
		h.logger.Debug("flushes found", "candidates", formatCardGroups(flushes))
	}

	// Rank buckets live in a fixed arena indexed by rank and are read out in
	// descending rank order, so the first quad, trip or pair found is always
	// the highest.
	var byRank [13][]domain.Card
	for _, card := range h.Cards {
		idx := domain.RankIndex(card.Rank)
		byRank[idx] = append(byRank[idx], card)
	}

	var pairs, threes, fours [][]domain.Card
	for _, bucket := range byRank {
		switch {
		case len(bucket) >= 4:
			fours = append(fours, bucket[:4])
		case len(bucket) == 3:
			threes = append(threes, bucket)
		case len(bucket) == 2:
			pairs = append(pairs, bucket)
		}
	}
	if len(pairs) > 0 {
		h.logger.Debug("pairs found", "candidates", formatCardGroups(pairs))
	}
	if len(threes) > 0 {
		h.logger.Debug("threes found", "candidates", formatCardGroups(threes))
	}
	if len(fours) > 0 {
		h.logger.Debug("fours found", "candidates", formatCardGroups(fours))
	}

	// First match wins, highest category first. The straight scan runs from
	// the top of the sorted cards, so the first straight flush found is the
	// highest one.
	for _, straight := range straights {
		if containsWindow(flushes, straight) {
			h.setHand(HandCategoryStraightFlush, straight)
			return
		}
	}
	if len(fours) > 0 {
		h.setHand(HandCategoryFourOfAKind, fours[0])
		return
	}
	if len(threes) > 1 {
		h.setHand(HandCategoryFullHouse, append(append([]domain.Card(nil), threes[0]...), threes[1][:2]...))
		return
	}
	if len(threes) == 1 && len(pairs) > 0 {
		h.setHand(HandCategoryFullHouse, append(append([]domain.Card(nil), threes[0]...), pairs[0]...))
		return
	}
	if len(flushes) > 0 {
		h.setHand(HandCategoryFlush, flushes[0])
		return
	}
	if len(straights) > 0 {
		h.setHand(HandCategoryStraight, straights[0])
		return
	}
	if len(threes) > 0 {
		h.setHand(HandCategoryThreeOfAKind, threes[0])
		return
	}
	if len(pairs) > 1 {
		h.setHand(HandCategoryTwoPair, append(append([]domain.Card(nil), pairs[0]...), pairs[1]...))
		return
	}
	if len(pairs) == 1 {
		h.setHand(HandCategoryOnePair, pairs[0])
		return
	}
	h.setHand(HandCategoryHighCard, h.Cards[:1])
}

func (h *PokerHand) setHand(category HandCategory, cards []domain.Card) {
	h.Category = category
	h.HandCards = append([]domain.Card(nil), cards...)
	h.logger.Debug("category selected",
		"category", category.String(),
		"cards", domain.FormatCards(h.HandCards),
	)
}

func (h *PokerHand) fillKickers() {
	want := 5 - len(h.HandCards)
	if want <= 0 {
		h.Kickers = nil
		return
	}
	remaining := append([]domain.Card(nil), h.Cards...)
	for _, card := range h.HandCards {
		removeFirst(&remaining, card)
	}
	if want > len(remaining) {
		want = len(remaining)
	}
	h.Kickers = remaining[:want]
	h.logger.Debug("kickers", "cards", domain.FormatCards(h.Kickers))
}

// findStraights scans the rank-descending cards with a five card window. A
// window is a straight when its ranks are exactly five consecutive entries of
// the descending rank enumeration starting at the window's first rank.
// Duplicate ranks inside a window break the match naturally. The enumeration
// does not wrap, so A-2-3-4-5 is never detected.
func findStraights(cards []domain.Card) [][]domain.Card {
	var straights [][]domain.Card
	for i := 0; i+5 <= len(cards); i++ {
		window := cards[i : i+5]
		start := domain.RankIndex(window[0].Rank)
		if start+5 > len(domain.RanksDescending) {
			continue
		}
		match := true
		for k := 1; k < 5; k++ {
			if window[k].Rank != domain.RanksDescending[start+k] {
				match = false
				break
			}
		}
		if match {
			straights = append(straights, window)
		}
	}
	return straights
}

// findFlushes buckets the cards by suit and yields every overlapping five
// card window of each bucket holding five or more cards. Suit buckets are
// visited in the fixed deck order (spades, hearts, diamonds, clubs); with a
// single 52-card deck at most one suit can reach five cards, so the order
// only matters for multi-deck extensions.
func findFlushes(cards []domain.Card) [][]domain.Card {
	var bySuit [4][]domain.Card
	for _, card := range cards {
		bySuit[card.Suit] = append(bySuit[card.Suit], card)
	}
	var flushes [][]domain.Card
	for _, suit := range domain.Suits {
		suited := bySuit[suit]
		for i := 0; i+5 <= len(suited); i++ {
			flushes = append(flushes, suited[i:i+5])
		}
	}
	return flushes
}

// Compare orders two evaluated hands: by category, then card by card over the
// hand cards, then over the kickers, all by rank only. It returns a positive
// value when a is the stronger hand, negative when b is, and zero for a true
// tie; suits never break ties, so equal-strength hands of different suits
// compare as equal.
func Compare(a, b *PokerHand) int {
	if a.Category != b.Category {
		if a.Category > b.Category {
			return 1
		}
		return -1
	}
	if c := compareByRank(a.HandCards, b.HandCards); c != 0 {
		return c
	}
	return compareByRank(a.Kickers, b.Kickers)
}

func compareByRank(a, b []domain.Card) int {
	n := len(a)
	if len(b) < n {
		n = len(b)
	}
	for i := 0; i < n; i++ {
		if c := domain.CompareRank(a[i], b[i]); c != 0 {
			return c
		}
	}
	return 0
}

func (h *PokerHand) String() string {
	return "[" + domain.FormatCards(h.Cards) + "]"
}

func containsWindow(windows [][]domain.Card, want []domain.Card) bool {
	for _, window := range windows {
		if sameCards(window, want) {
			return true
		}
	}
	return false
}

func sameCards(a, b []domain.Card) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

func removeFirst(cards *[]domain.Card, card domain.Card) {
	for i, held := range *cards {
		if held == card {
			*cards = append((*cards)[:i], (*cards)[i+1:]...)
			return
		}
	}
}

func formatCardGroups(groups [][]domain.Card) string {
	parts := make([]string, 0, len(groups))
	for _, group := range groups {
		parts = append(parts, domain.FormatCards(group))
	}
	return strings.Join(parts, " / ")
}
