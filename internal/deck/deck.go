// Package deck manages a standard 52-card deck partitioned into three piles:
// active (undealt), popped (dealt to players) and discarded (burned). The
// piles are disjoint and their union is always the full 52-card set.
//
// The deck is imagined face down on a table. Slices run bottom to top, so the
// tail of the active pile is the next card dealt.
package deck

import (
	"errors"
	"fmt"
	"strings"

	"github.com/cardroom/engine/internal/domain"
)

var (
	ErrEmptyDeck      = errors.New("deck has no active cards")
	ErrCardNotRemoved = errors.New("card is not among removed cards")
)

// Position selects where returned cards re-enter the active pile.
type Position uint8

const (
	Bottom Position = iota
	Top
)

type Deck struct {
	active    []domain.Card
	popped    []domain.Card
	discarded []domain.Card
}

// New returns a full, unshuffled deck: 52 cards in the active pile, suit
// major (spades, hearts, diamonds, clubs), ace down to two within each suit.
func New() *Deck {
	active := make([]domain.Card, 0, 52)
	for _, suit := range domain.Suits {
		for _, rank := range domain.RanksDescending {
			active = append(active, domain.Card{Rank: rank, Suit: suit})
		}
	}
	return &Deck{active: active}
}

// Shuffle randomly permutes the active pile in place using the crypto
// shuffler. Popped and discarded piles are untouched.
func (d *Deck) Shuffle() error {
	return d.ShuffleWith(NewCryptoShuffler())
}

// ShuffleWith permutes the active pile with the given shuffler. Tests pass a
// seeded shuffler for deterministic orderings.
func (d *Deck) ShuffleWith(shuffler Shuffler) error {
	if shuffler == nil {
		shuffler = NewCryptoShuffler()
	}
	return shuffler.Shuffle(d.active)
}

// Deal removes the top card of the active pile, moves it to the popped pile
// and returns it.
func (d *Deck) Deal() (domain.Card, error) {
	card, err := d.popTop()
	if err != nil {
		return domain.Card{}, err
	}
	d.popped = append(d.popped, card)
	return card, nil
}

// Burn removes the top card of the active pile and moves it to the discarded
// pile without revealing it to the caller.
func (d *Deck) Burn() error {
	card, err := d.popTop()
	if err != nil {
		return err
	}
	d.discarded = append(d.discarded, card)
	return nil
}

func (d *Deck) popTop() (domain.Card, error) {
	if len(d.active) == 0 {
		return domain.Card{}, ErrEmptyDeck
	}
	card := d.active[len(d.active)-1]
	d.active = d.active[:len(d.active)-1]
	return card, nil
}

// Return moves each card from the popped or discarded pile back into the
// active pile, one at a time in the given order. Bottom inserts each card at
// index 0, Top appends. A card held by neither pile fails the call with
// ErrCardNotRemoved; cards earlier in the batch have already been moved by
// then and stay moved.
func (d *Deck) Return(cards []domain.Card, pos Position) error {
	// Callers may pass one of the deck's own piles (ReturnPopped does), so
	// iterate over a snapshot while the piles shrink.
	batch := append([]domain.Card(nil), cards...)
	for _, card := range batch {
		if !removeCard(&d.discarded, card) && !removeCard(&d.popped, card) {
			return fmt.Errorf("return card %s: %w", card, ErrCardNotRemoved)
		}
		if pos == Bottom {
			d.active = append([]domain.Card{card}, d.active...)
		} else {
			d.active = append(d.active, card)
		}
	}
	return nil
}

// ReturnPopped moves the whole popped pile back into the active pile.
func (d *Deck) ReturnPopped(pos Position) error {
	return d.Return(d.popped, pos)
}

// ReturnDiscarded moves the whole discarded pile back into the active pile.
func (d *Deck) ReturnDiscarded(pos Position) error {
	return d.Return(d.discarded, pos)
}

// ReturnAll moves the popped and then the discarded pile back into the
// active pile.
//
// TODO: honor pos; both piles currently return to the bottom.
func (d *Deck) ReturnAll(pos Position) error {
	if err := d.ReturnPopped(Bottom); err != nil {
		return err
	}
	return d.ReturnDiscarded(Bottom)
}

// Stats reports the size of each pile. The three counts always sum to 52.
func (d *Deck) Stats() (active, popped, discarded int) {
	return len(d.active), len(d.popped), len(d.discarded)
}

// Active returns a copy of the active pile, bottom to top.
func (d *Deck) Active() []domain.Card {
	return append([]domain.Card(nil), d.active...)
}

// Popped returns a copy of the popped pile in deal order.
func (d *Deck) Popped() []domain.Card {
	return append([]domain.Card(nil), d.popped...)
}

// Discarded returns a copy of the discarded pile in burn order.
func (d *Deck) Discarded() []domain.Card {
	return append([]domain.Card(nil), d.discarded...)
}

func (d *Deck) String() string {
	codes := make([]string, 0, len(d.active))
	for _, card := range d.active {
		codes = append(codes, card.String())
	}
	return "[" + strings.Join(codes, " ") + "]"
}

func removeCard(pile *[]domain.Card, card domain.Card) bool {
	for i, held := range *pile {
		if held == card {
			*pile = append((*pile)[:i], (*pile)[i+1:]...)
			return true
		}
	}
	return false
}
