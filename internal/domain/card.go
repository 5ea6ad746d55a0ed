package domain

import (
	"errors"
	"fmt"
	"strings"
)

var (
	ErrInvalidRank = errors.New("invalid card rank")
	ErrInvalidSuit = errors.New("invalid card suit")
)

type Rank uint8

const (
	Two Rank = iota + 2
	Three
	Four
	Five
	Six
	Seven
	Eight
	Nine
	Ten
	Jack
	Queen
	King
	Ace
)

type Suit uint8

const (
	Spade Suit = iota
	Heart
	Diamond
	Club
)

// RanksDescending is the canonical rank order, ace high down to two. Straight
// detection walks this enumeration; it does not wrap, so ace never plays low.
var RanksDescending = [13]Rank{
	Ace, King, Queen, Jack, Ten, Nine, Eight, Seven, Six, Five, Four, Three, Two,
}

// Suits lists the four suits in deck construction order.
var Suits = [4]Suit{Spade, Heart, Diamond, Club}

const (
	rankChars = "AKQJT98765432"
	suitChars = "SHDC"
)

func (r Rank) Valid() bool {
	return r >= Two && r <= Ace
}

func (r Rank) String() string {
	if !r.Valid() {
		return "?"
	}
	return string(rankChars[RankIndex(r)])
}

func (s Suit) Valid() bool {
	return s <= Club
}

func (s Suit) String() string {
	if !s.Valid() {
		return "?"
	}
	return string(suitChars[s])
}

// RankIndex returns the position of r in RanksDescending (0 for ace, 12 for
// two). Callers that bucket cards by rank index their arenas with this.
func RankIndex(r Rank) int {
	return int(Ace - r)
}

// Card is an immutable rank and suit pair. Cards are comparable: == requires
// both rank and suit to match, and a Card can key a map. Relational ordering
// between cards is a separate, suit-blind concern; see CompareRank.
type Card struct {
	Rank Rank
	Suit Suit
}

// CompareRank orders two cards by rank alone, ace high. It returns a positive
// value when a outranks b, negative when b outranks a and zero when the ranks
// match. Two cards of equal rank but different suits compare as zero while
// still being unequal under ==; hand evaluation depends on exactly this split
// between ordering and identity, so the two must never be merged.
func CompareRank(a, b Card) int {
	switch {
	case a.Rank > b.Rank:
		return 1
	case a.Rank < b.Rank:
		return -1
	default:
		return 0
	}
}

// ParseCard builds a card from its canonical two character code, rank then
// suit, e.g. "AS" or "TH".
func ParseCard(code string) (Card, error) {
	if len(code) != 2 {
		return Card{}, fmt.Errorf("card code %q: %w", code, ErrInvalidRank)
	}
	rank, err := parseRank(code[0])
	if err != nil {
		return Card{}, fmt.Errorf("card code %q: %w", code, err)
	}
	suit, err := parseSuit(code[1])
	if err != nil {
		return Card{}, fmt.Errorf("card code %q: %w", code, err)
	}
	return Card{Rank: rank, Suit: suit}, nil
}

// ParseCards builds one card per code, failing on the first invalid code.
func ParseCards(codes ...string) ([]Card, error) {
	cards := make([]Card, 0, len(codes))
	for _, code := range codes {
		card, err := ParseCard(code)
		if err != nil {
			return nil, err
		}
		cards = append(cards, card)
	}
	return cards, nil
}

func parseRank(c byte) (Rank, error) {
	idx := strings.IndexByte(rankChars, c)
	if idx < 0 {
		return 0, ErrInvalidRank
	}
	return RanksDescending[idx], nil
}

func parseSuit(c byte) (Suit, error) {
	idx := strings.IndexByte(suitChars, c)
	if idx < 0 {
		return 0, ErrInvalidSuit
	}
	return Suits[idx], nil
}

func (c Card) String() string {
	return c.Rank.String() + c.Suit.String()
}

// FormatCards renders cards as comma separated codes, the form used in logs
// and API payloads.
func FormatCards(cards []Card) string {
	codes := make([]string, 0, len(cards))
	for _, card := range cards {
		codes = append(codes, card.String())
	}
	return strings.Join(codes, ",")
}

// CardCodes returns the canonical code of every card in order.
func CardCodes(cards []Card) []string {
	codes := make([]string, 0, len(cards))
	for _, card := range cards {
		codes = append(codes, card.String())
	}
	return codes
}
