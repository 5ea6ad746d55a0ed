// Package game runs Texas Hold'em hands as a phase state machine over the
// deck and hand-evaluation packages: preflop, flop, turn and river betting,
// then showdown. The deck and evaluator contracts are consumed as-is.
package game

import (
	"errors"
	"fmt"
	"log/slog"
	"sort"

	"github.com/google/uuid"

	"github.com/cardroom/engine/internal/deck"
	"github.com/cardroom/engine/internal/domain"
	"github.com/cardroom/engine/internal/rules"
)

const (
	DefaultMaxSeats          uint8  = 6
	DefaultMinPlayersToStart uint8  = 2
	DefaultStartingStack     uint32 = 10_000
	DefaultSmallBlind        uint32 = 50
	DefaultBigBlind          uint32 = 100
)

var (
	ErrIllegalAction            = errors.New("illegal action")
	ErrInsufficientChips        = errors.New("insufficient chips for action")
	ErrHandAlreadyComplete      = errors.New("hand already complete")
	ErrNoActiveSeats            = errors.New("hand has no active seats")
	ErrDuplicateSeat            = errors.New("duplicate seat numbers are not allowed")
	ErrInvalidMinPlayersToStart = errors.New("min players to start must be at least 2 and <= max seats")
	ErrInvalidBlindStructure    = errors.New("big blind must be greater than or equal to small blind")
)

type Phase string

const (
	PhasePreflop  Phase = "preflop"
	PhaseFlop     Phase = "flop"
	PhaseTurn     Phase = "turn"
	PhaseRiver    Phase = "river"
	PhaseShowdown Phase = "showdown"
	PhaseComplete Phase = "complete"
)

type ActionKind string

const (
	ActionFold  ActionKind = "fold"
	ActionCheck ActionKind = "check"
	ActionCall  ActionKind = "call"
	ActionBet   ActionKind = "bet"
	ActionRaise ActionKind = "raise"
)

// Action is a betting move. Amount is the bet size for ActionBet and the
// raise-to total for ActionRaise; it must be zero for the other kinds.
type Action struct {
	Kind   ActionKind `json:"kind"`
	Amount uint32     `json:"amount,omitempty"`
}

func NewAction(kind ActionKind, amount uint32) (Action, error) {
	needsAmount := kind == ActionBet || kind == ActionRaise
	if needsAmount && amount == 0 {
		return Action{}, fmt.Errorf("action amount is required for %s", kind)
	}
	if !needsAmount && amount != 0 {
		return Action{}, fmt.Errorf("action amount is not allowed for %s", kind)
	}
	return Action{Kind: kind, Amount: amount}, nil
}

type SeatNo uint8

func NewSeatNo(value uint8, maxSeats uint8) (SeatNo, error) {
	if value == 0 || value > maxSeats {
		return 0, fmt.Errorf("seat number must be in range 1..=%d, got %d", maxSeats, value)
	}
	return SeatNo(value), nil
}

type SeatStatus string

const (
	SeatStatusActive SeatStatus = "active"
	SeatStatusFolded SeatStatus = "folded"
	SeatStatusAllIn  SeatStatus = "all_in"
	SeatStatusBusted SeatStatus = "busted"
)

type SeatState struct {
	SeatNo            SeatNo     `json:"seat_no"`
	Stack             uint32     `json:"stack"`
	CommittedInRound  uint32     `json:"committed_in_round"`
	TotalCommitted    uint32     `json:"total_committed"`
	Status            SeatStatus `json:"status"`
	HasActedThisRound bool       `json:"has_acted_this_round"`
}

func NewSeatState(seatNo SeatNo, stack uint32) SeatState {
	return SeatState{SeatNo: seatNo, Stack: stack, Status: SeatStatusActive}
}

// live reports whether the seat can still win the pot.
func (s SeatState) live() bool {
	return s.Status == SeatStatusActive || s.Status == SeatStatusAllIn
}

// eligibleToAct reports whether the seat has chips behind and a decision left.
func (s SeatState) eligibleToAct() bool {
	return s.Status == SeatStatusActive && s.Stack > 0
}

type Config struct {
	MaxSeats          uint8  `json:"max_seats"`
	MinPlayersToStart uint8  `json:"min_players_to_start"`
	StartingStack     uint32 `json:"starting_stack"`
	SmallBlind        uint32 `json:"small_blind"`
	BigBlind          uint32 `json:"big_blind"`
}

func DefaultConfig() Config {
	return Config{
		MaxSeats:          DefaultMaxSeats,
		MinPlayersToStart: DefaultMinPlayersToStart,
		StartingStack:     DefaultStartingStack,
		SmallBlind:        DefaultSmallBlind,
		BigBlind:          DefaultBigBlind,
	}
}

func (c Config) Validate() error {
	if c.MaxSeats < 2 || c.MaxSeats > DefaultMaxSeats {
		return fmt.Errorf("table max_seats must be in range 2..=%d, got %d", DefaultMaxSeats, c.MaxSeats)
	}
	if c.MinPlayersToStart < 2 || c.MinPlayersToStart > c.MaxSeats {
		return ErrInvalidMinPlayersToStart
	}
	if c.BigBlind < c.SmallBlind {
		return ErrInvalidBlindStructure
	}
	return nil
}

type AwardReason string

const (
	AwardReasonShowdown    AwardReason = "showdown"
	AwardReasonUncontested AwardReason = "uncontested"
)

// PotAward records who won a pot and how. Pot labels the main pot or a side
// pot; Category is only meaningful for showdown awards.
type PotAward struct {
	Seats    []SeatNo           `json:"seats"`
	Amount   uint32             `json:"amount"`
	Reason   AwardReason        `json:"reason"`
	Pot      string             `json:"pot,omitempty"`
	Category rules.HandCategory `json:"category,omitempty"`
}

// Hand is a single Texas Hold'em hand in progress. It owns its deck; all
// card movement goes through the deck's deal and burn operations, so the
// 52-card partition invariant holds throughout the hand.
type Hand struct {
	HandID     string
	TableID    string
	HandNo     uint64
	Phase      Phase
	Button     SeatNo
	Acting     SeatNo
	Pot        uint32
	CurrentBet uint32
	MinRaiseTo uint32
	Board      []domain.Card
	Seats      []SeatState
	Awards     []PotAward

	lastFullRaise uint32
	hole          map[SeatNo][]domain.Card
	deck          *deck.Deck
	config        Config
	logger        *slog.Logger
}

type StartHandInput struct {
	TableID    string
	HandNo     uint64
	Seats      []SeatState
	ButtonSeat SeatNo
	Config     Config
	Shuffler   deck.Shuffler
	Logger     *slog.Logger
}

// StartHand shuffles a fresh deck, deals two hole cards to every active seat
// in button-relative order, posts the blinds and opens preflop betting. In a
// heads-up hand the button posts the small blind and acts first preflop.
func StartHand(input StartHandInput) (*Hand, error) {
	if err := input.Config.Validate(); err != nil {
		return nil, err
	}

	seats := append([]SeatState(nil), input.Seats...)
	sortSeats(seats)
	if len(seats) > int(input.Config.MaxSeats) {
		return nil, fmt.Errorf("hand cannot exceed max seats (%d), got %d", input.Config.MaxSeats, len(seats))
	}
	seen := make(map[SeatNo]struct{}, len(seats))
	activeCount := 0
	for _, seat := range seats {
		if _, exists := seen[seat.SeatNo]; exists {
			return nil, ErrDuplicateSeat
		}
		seen[seat.SeatNo] = struct{}{}
		if seat.eligibleToAct() {
			activeCount++
		}
	}
	if activeCount < int(input.Config.MinPlayersToStart) {
		return nil, fmt.Errorf("hand must start with at least %d active seats, got %d: %w",
			input.Config.MinPlayersToStart, activeCount, ErrNoActiveSeats)
	}
	if _, ok := seen[input.ButtonSeat]; !ok {
		return nil, fmt.Errorf("button seat %d must exist in hand seats", input.ButtonSeat)
	}

	logger := input.Logger
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}

	d := deck.New()
	if err := d.ShuffleWith(input.Shuffler); err != nil {
		return nil, err
	}

	h := &Hand{
		HandID:  uuid.NewString(),
		TableID: input.TableID,
		HandNo:  input.HandNo,
		Phase:   PhasePreflop,
		Button:  input.ButtonSeat,
		Board:   make([]domain.Card, 0, 5),
		Seats:   seats,
		hole:    make(map[SeatNo][]domain.Card, len(seats)),
		deck:    d,
		config:  input.Config,
		logger:  logger,
	}

	order := h.dealOrder()
	if len(order) < 2 {
		return nil, ErrNoActiveSeats
	}
	for round := 0; round < 2; round++ {
		for _, seatNo := range order {
			card, err := h.deck.Deal()
			if err != nil {
				return nil, fmt.Errorf("deal hole card: %w", err)
			}
			h.hole[seatNo] = append(h.hole[seatNo], card)
		}
	}

	sbSeat := order[0]
	bbSeat := order[1]
	if len(order) == 2 && order[1] == h.Button {
		// Heads-up: the button posts the small blind.
		sbSeat, bbSeat = order[1], order[0]
	}
	h.postBlind(sbSeat, input.Config.SmallBlind)
	h.postBlind(bbSeat, input.Config.BigBlind)
	// The full big blind is the bet to match even when the poster is all in
	// short; otherwise a deeper small blind sits above CurrentBet and the
	// round can never close.
	h.CurrentBet = input.Config.BigBlind
	h.lastFullRaise = input.Config.BigBlind
	h.MinRaiseTo = h.CurrentBet + h.lastFullRaise

	h.logger.Debug("hand started",
		"hand_id", h.HandID,
		"hand_no", h.HandNo,
		"button", h.Button,
		"seats", len(h.Seats),
	)

	if h.countLiveSeats() <= 1 {
		h.awardUncontested()
		return h, nil
	}

	if next, ok := h.nextSeat(bbSeat, SeatState.eligibleToAct); ok {
		h.Acting = next
		return h, nil
	}

	// Every live seat is all in after the blinds; run the board out.
	return h, h.resolveShowdown()
}

// Apply advances the hand by one betting action from the acting seat.
func (h *Hand) Apply(action Action) error {
	if h.Phase == PhaseShowdown || h.Phase == PhaseComplete {
		return ErrHandAlreadyComplete
	}

	idx := h.seatIndex(h.Acting)
	if idx < 0 || !h.Seats[idx].eligibleToAct() {
		return fmt.Errorf("acting seat %d cannot act: %w", h.Acting, ErrIllegalAction)
	}
	seat := &h.Seats[idx]
	toCall := toCall(*seat, h.CurrentBet)

	switch action.Kind {
	case ActionFold:
		seat.Status = SeatStatusFolded
		seat.HasActedThisRound = true
	case ActionCheck:
		if toCall != 0 {
			return fmt.Errorf("check with %d to call: %w", toCall, ErrIllegalAction)
		}
		seat.HasActedThisRound = true
	case ActionCall:
		if toCall == 0 {
			return fmt.Errorf("call with nothing to call: %w", ErrIllegalAction)
		}
		h.commit(seat, min32(toCall, seat.Stack))
		seat.HasActedThisRound = true
	case ActionBet:
		if h.CurrentBet != 0 || action.Amount == 0 {
			return fmt.Errorf("bet of %d against current bet %d: %w", action.Amount, h.CurrentBet, ErrIllegalAction)
		}
		if action.Amount > seat.Stack {
			return ErrInsufficientChips
		}
		h.commit(seat, action.Amount)
		h.CurrentBet = seat.CommittedInRound
		h.lastFullRaise = action.Amount
		h.MinRaiseTo = h.CurrentBet + h.lastFullRaise
		h.reopenRound(idx)
	case ActionRaise:
		if h.CurrentBet == 0 {
			return fmt.Errorf("raise with no bet to raise: %w", ErrIllegalAction)
		}
		raiseTo := action.Amount
		if raiseTo <= h.CurrentBet || raiseTo < h.MinRaiseTo || raiseTo <= seat.CommittedInRound {
			return fmt.Errorf("raise to %d below minimum %d: %w", raiseTo, h.MinRaiseTo, ErrIllegalAction)
		}
		delta := raiseTo - seat.CommittedInRound
		if delta > seat.Stack {
			return ErrInsufficientChips
		}
		previousBet := h.CurrentBet
		h.commit(seat, delta)
		h.CurrentBet = raiseTo
		h.lastFullRaise = raiseTo - previousBet
		h.MinRaiseTo = h.CurrentBet + h.lastFullRaise
		h.reopenRound(idx)
	default:
		return fmt.Errorf("unknown action %q: %w", action.Kind, ErrIllegalAction)
	}

	h.logger.Debug("action applied",
		"hand_id", h.HandID,
		"phase", h.Phase,
		"seat", seat.SeatNo,
		"action", action.Kind,
		"amount", action.Amount,
		"pot", h.Pot,
	)

	if h.countLiveSeats() <= 1 {
		h.awardUncontested()
		return nil
	}
	if h.roundClosed() {
		return h.advanceStreet()
	}
	if next, ok := h.nextSeat(seat.SeatNo, SeatState.eligibleToAct); ok {
		h.Acting = next
		return nil
	}
	return h.advanceStreet()
}

// HoleCards returns a copy of the seat's hole cards, nil for seats that were
// not dealt in.
func (h *Hand) HoleCards(seatNo SeatNo) []domain.Card {
	return append([]domain.Card(nil), h.hole[seatNo]...)
}

// DeckStats exposes the underlying pile counts for invariant checks.
func (h *Hand) DeckStats() (active, popped, discarded int) {
	return h.deck.Stats()
}

// commit moves amount chips from the seat into the pot, marking the seat all
// in when its stack empties.
func (h *Hand) commit(seat *SeatState, amount uint32) {
	seat.Stack -= amount
	seat.CommittedInRound += amount
	seat.TotalCommitted += amount
	h.Pot += amount
	if seat.Stack == 0 {
		seat.Status = SeatStatusAllIn
	}
}

func (h *Hand) postBlind(seatNo SeatNo, amount uint32) uint32 {
	idx := h.seatIndex(seatNo)
	if idx < 0 || !h.Seats[idx].live() {
		return 0
	}
	post := min32(h.Seats[idx].Stack, amount)
	h.commit(&h.Seats[idx], post)
	return post
}

// reopenRound marks every other seat as owing a response to a bet or raise.
func (h *Hand) reopenRound(aggressorIdx int) {
	for i := range h.Seats {
		h.Seats[i].HasActedThisRound = false
	}
	h.Seats[aggressorIdx].HasActedThisRound = true
}

func (h *Hand) roundClosed() bool {
	for _, seat := range h.Seats {
		if !seat.eligibleToAct() {
			continue
		}
		if !seat.HasActedThisRound {
			return false
		}
		if h.CurrentBet > 0 && seat.CommittedInRound < h.CurrentBet {
			return false
		}
	}
	return true
}

// advanceStreet closes the betting round: one card is burned before each of
// the flop, turn and river, then three, one and one cards are dealt to the
// board. After the river the hand goes to showdown.
func (h *Hand) advanceStreet() error {
	for i := range h.Seats {
		h.Seats[i].CommittedInRound = 0
		h.Seats[i].HasActedThisRound = false
	}
	h.CurrentBet = 0
	h.lastFullRaise = h.config.BigBlind
	h.MinRaiseTo = h.config.BigBlind

	var draw int
	var next Phase
	switch h.Phase {
	case PhasePreflop:
		draw, next = 3, PhaseFlop
	case PhaseFlop:
		draw, next = 1, PhaseTurn
	case PhaseTurn:
		draw, next = 1, PhaseRiver
	case PhaseRiver:
		return h.resolveShowdown()
	default:
		return fmt.Errorf("cannot advance street from phase %s", h.Phase)
	}

	if err := h.dealBoard(draw); err != nil {
		return err
	}
	h.Phase = next
	h.logger.Debug("street dealt", "hand_id", h.HandID, "phase", h.Phase, "board", domain.FormatCards(h.Board))

	if actor, ok := h.nextSeat(h.Button, SeatState.eligibleToAct); ok && h.countEligibleSeats() > 1 {
		h.Acting = actor
		return nil
	}
	// No betting possible; run the remaining streets out.
	return h.advanceStreet()
}

func (h *Hand) dealBoard(n int) error {
	if err := h.deck.Burn(); err != nil {
		return fmt.Errorf("burn before street: %w", err)
	}
	for i := 0; i < n; i++ {
		card, err := h.deck.Deal()
		if err != nil {
			return fmt.Errorf("deal board card: %w", err)
		}
		h.Board = append(h.Board, card)
	}
	return nil
}

// resolveShowdown completes the board if streets remain, evaluates every live
// seat's seven cards and splits the pot by contribution level so all-in seats
// only win the portion they covered.
func (h *Hand) resolveShowdown() error {
	h.Phase = PhaseShowdown

	for len(h.Board) < 5 {
		draw := 1
		if len(h.Board) == 0 {
			draw = 3
		}
		if err := h.dealBoard(draw); err != nil {
			return err
		}
	}

	hands := make(map[SeatNo]*rules.PokerHand, len(h.Seats))
	for _, seat := range h.Seats {
		if !seat.live() {
			continue
		}
		hole := h.hole[seat.SeatNo]
		if len(hole) != 2 {
			return fmt.Errorf("seat %d missing hole cards", seat.SeatNo)
		}
		cards := append(append([]domain.Card(nil), hole...), h.Board...)
		hand, err := rules.New(cards, h.logger)
		if err != nil {
			return fmt.Errorf("evaluate seat %d: %w", seat.SeatNo, err)
		}
		hands[seat.SeatNo] = hand
	}
	if len(hands) == 0 {
		return ErrNoActiveSeats
	}
	if len(hands) == 1 {
		h.awardUncontested()
		return nil
	}

	awards, err := h.splitPots(hands)
	if err != nil {
		return err
	}
	h.Awards = append(h.Awards, awards...)
	h.Phase = PhaseComplete
	for _, award := range awards {
		h.logger.Debug("pot awarded",
			"hand_id", h.HandID,
			"pot", award.Pot,
			"seats", fmt.Sprint(award.Seats),
			"amount", award.Amount,
			"category", award.Category.String(),
		)
	}
	return nil
}

func (h *Hand) awardUncontested() {
	for _, seat := range h.Seats {
		if !seat.live() {
			continue
		}
		idx := h.seatIndex(seat.SeatNo)
		h.Seats[idx].Stack += h.Pot
		h.award(PotAward{
			Seats:  []SeatNo{seat.SeatNo},
			Amount: h.Pot,
			Reason: AwardReasonUncontested,
		})
		return
	}
}

func (h *Hand) award(award PotAward) {
	h.Awards = append(h.Awards, award)
	h.Phase = PhaseComplete
	h.logger.Debug("pot awarded",
		"hand_id", h.HandID,
		"seats", fmt.Sprint(award.Seats),
		"amount", award.Amount,
		"reason", award.Reason,
	)
}

// dealOrder lists the seats receiving cards, starting left of the button.
func (h *Hand) dealOrder() []SeatNo {
	ordered := make([]SeatNo, 0, len(h.Seats))
	from := h.Button
	for range h.Seats {
		next, ok := h.nextSeat(from, SeatState.eligibleToAct)
		if !ok || containsSeat(ordered, next) {
			break
		}
		ordered = append(ordered, next)
		from = next
	}
	return ordered
}

// orderFromButton sorts seat numbers by clockwise distance from the button.
func (h *Hand) orderFromButton(seats []SeatNo) {
	distance := func(seatNo SeatNo) int {
		d := int(seatNo) - int(h.Button)
		if d <= 0 {
			d += int(h.config.MaxSeats)
		}
		return d
	}
	sort.Slice(seats, func(i, j int) bool {
		return distance(seats[i]) < distance(seats[j])
	})
}

func (h *Hand) seatIndex(seatNo SeatNo) int {
	for i, seat := range h.Seats {
		if seat.SeatNo == seatNo {
			return i
		}
	}
	return -1
}

func (h *Hand) nextSeat(from SeatNo, filter func(SeatState) bool) (SeatNo, bool) {
	start := h.seatIndex(from)
	if start < 0 {
		return 0, false
	}
	for i := 1; i <= len(h.Seats); i++ {
		seat := h.Seats[(start+i)%len(h.Seats)]
		if filter(seat) {
			return seat.SeatNo, true
		}
	}
	return 0, false
}

func (h *Hand) countLiveSeats() int {
	count := 0
	for _, seat := range h.Seats {
		if seat.live() {
			count++
		}
	}
	return count
}

func (h *Hand) countEligibleSeats() int {
	count := 0
	for _, seat := range h.Seats {
		if seat.eligibleToAct() {
			count++
		}
	}
	return count
}

func sortSeats(seats []SeatState) {
	sort.Slice(seats, func(i, j int) bool {
		return seats[i].SeatNo < seats[j].SeatNo
	})
}

func containsSeat(seats []SeatNo, seatNo SeatNo) bool {
	for _, s := range seats {
		if s == seatNo {
			return true
		}
	}
	return false
}

func toCall(seat SeatState, currentBet uint32) uint32 {
	if currentBet <= seat.CommittedInRound {
		return 0
	}
	return currentBet - seat.CommittedInRound
}

func min32(a, b uint32) uint32 {
	if a < b {
		return a
	}
	return b
}
