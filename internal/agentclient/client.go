// Package agentclient speaks the HTTP action protocol to remote poker bots.
// The engine posts the acting seat's view of the hand and expects a single
// betting action back; anything else (timeouts, bad status, illegal actions)
// surfaces as an error so the table runner can fall back.
package agentclient

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/cardroom/engine/internal/domain"
	"github.com/cardroom/engine/internal/game"
)

const (
	ProtocolVersion      = 1
	defaultTimeout       = 2 * time.Second
	defaultActionTimeout = uint64(2000)
	maxResponseBodyBytes = 1 << 20
)

var (
	ErrEndpointNotConfigured = errors.New("agent endpoint not configured")
	ErrRequestTimeout        = errors.New("agent request timeout")
	ErrNetwork               = errors.New("agent network error")
	ErrMalformedResponse     = errors.New("agent response malformed")
	ErrIllegalAgentAction    = errors.New("agent returned illegal action")
	ErrMissingHoleCards      = errors.New("missing acting seat hole cards")
)

type Client struct {
	httpClient *http.Client
}

type Request struct {
	EndpointURL     string
	View            game.View
	ActionTimeoutMS uint64
}

type protocolRequest struct {
	ProtocolVersion int               `json:"protocol_version"`
	HandID          string            `json:"hand_id"`
	TableID         string            `json:"table_id"`
	Seat            int               `json:"seat"`
	Phase           string            `json:"phase"`
	HoleCards       []string          `json:"hole_cards"`
	Board           []string          `json:"board"`
	Pot             uint32            `json:"pot"`
	ToCall          uint32            `json:"to_call"`
	MinRaiseTo      *uint32           `json:"min_raise_to,omitempty"`
	Stacks          map[string]uint32 `json:"stacks"`
	Bets            map[string]uint32 `json:"bets"`
	LegalActions    []string          `json:"legal_actions"`
	ActionDeadline  uint64            `json:"action_deadline_ms"`
}

type protocolResponse struct {
	Action string  `json:"action"`
	Amount *uint32 `json:"amount,omitempty"`
}

func New(timeout time.Duration) Client {
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	return Client{httpClient: &http.Client{Timeout: timeout}}
}

func (c Client) NextAction(ctx context.Context, req Request) (game.Action, error) {
	if strings.TrimSpace(req.EndpointURL) == "" {
		return game.Action{}, ErrEndpointNotConfigured
	}
	if c.httpClient == nil {
		c = New(defaultTimeout)
	}

	payload, legalActionSet, err := buildProtocolRequest(req.View, chooseActionTimeout(req))
	if err != nil {
		return game.Action{}, err
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return game.Action{}, fmt.Errorf("%w: marshal payload: %v", ErrMalformedResponse, err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, req.EndpointURL, bytes.NewReader(body))
	if err != nil {
		return game.Action{}, fmt.Errorf("%w: build request: %v", ErrNetwork, err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		if isTimeoutError(err) || errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return game.Action{}, fmt.Errorf("%w: %v", ErrRequestTimeout, err)
		}
		return game.Action{}, fmt.Errorf("%w: %v", ErrNetwork, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		_, _ = io.Copy(io.Discard, resp.Body)
		return game.Action{}, fmt.Errorf("%w: status %d", ErrNetwork, resp.StatusCode)
	}

	limitedBody := io.LimitReader(resp.Body, maxResponseBodyBytes+1)
	decoder := json.NewDecoder(limitedBody)

	var dto protocolResponse
	if err := decoder.Decode(&dto); err != nil {
		return game.Action{}, fmt.Errorf("%w: decode: %v", ErrMalformedResponse, err)
	}
	var trailing json.RawMessage
	if err := decoder.Decode(&trailing); err != io.EOF {
		return game.Action{}, fmt.Errorf("%w: response body has trailing data", ErrMalformedResponse)
	}

	return parseAndValidateProtocolResponse(dto, legalActionSet)
}

func chooseActionTimeout(req Request) uint64 {
	if req.ActionTimeoutMS > 0 {
		return req.ActionTimeoutMS
	}
	return defaultActionTimeout
}

func buildProtocolRequest(view game.View, timeoutMS uint64) (protocolRequest, map[game.ActionKind]struct{}, error) {
	acting, ok := seatByNo(view.Seats, view.Acting)
	if !ok {
		return protocolRequest{}, nil, fmt.Errorf("%w: acting seat %d not found", ErrMalformedResponse, view.Acting)
	}
	if len(view.HoleCards) != 2 {
		return protocolRequest{}, nil, fmt.Errorf("%w: seat %d has %d cards", ErrMissingHoleCards, view.Acting, len(view.HoleCards))
	}

	toCall := uint32(0)
	if view.CurrentBet > acting.CommittedInRound {
		toCall = view.CurrentBet - acting.CommittedInRound
	}

	legalKinds := deriveLegalActions(view, acting, toCall)
	legalActionSet := make(map[game.ActionKind]struct{}, len(legalKinds))
	legalActions := make([]string, 0, len(legalKinds))
	for _, kind := range legalKinds {
		legalActionSet[kind] = struct{}{}
		legalActions = append(legalActions, string(kind))
	}

	var minRaiseTo *uint32
	if _, ok := legalActionSet[game.ActionRaise]; ok {
		value := view.MinRaiseTo
		minRaiseTo = &value
	}

	payload := protocolRequest{
		ProtocolVersion: ProtocolVersion,
		HandID:          view.HandID,
		TableID:         view.TableID,
		Seat:            int(view.Acting),
		Phase:           string(view.Phase),
		HoleCards:       domain.CardCodes(view.HoleCards),
		Board:           domain.CardCodes(view.Board),
		Pot:             view.Pot,
		ToCall:          toCall,
		MinRaiseTo:      minRaiseTo,
		Stacks:          make(map[string]uint32, len(view.Seats)),
		Bets:            make(map[string]uint32, len(view.Seats)),
		LegalActions:    legalActions,
		ActionDeadline:  timeoutMS,
	}

	for _, seat := range view.Seats {
		key := strconv.Itoa(int(seat.SeatNo))
		payload.Stacks[key] = seat.Stack
		payload.Bets[key] = seat.CommittedInRound
	}

	return payload, legalActionSet, nil
}

func parseAndValidateProtocolResponse(dto protocolResponse, legal map[game.ActionKind]struct{}) (game.Action, error) {
	kind := game.ActionKind(dto.Action)
	if _, ok := legal[kind]; !ok {
		return game.Action{}, fmt.Errorf("%w: action %q not legal", ErrIllegalAgentAction, dto.Action)
	}

	switch kind {
	case game.ActionBet, game.ActionRaise:
		if dto.Amount == nil || *dto.Amount == 0 {
			return game.Action{}, fmt.Errorf("%w: %s requires positive amount", ErrIllegalAgentAction, kind)
		}
		action, err := game.NewAction(kind, *dto.Amount)
		if err != nil {
			return game.Action{}, fmt.Errorf("%w: %v", ErrIllegalAgentAction, err)
		}
		return action, nil
	default:
		if dto.Amount != nil {
			return game.Action{}, fmt.Errorf("%w: amount not allowed for %s", ErrIllegalAgentAction, kind)
		}
		action, err := game.NewAction(kind, 0)
		if err != nil {
			return game.Action{}, fmt.Errorf("%w: %v", ErrIllegalAgentAction, err)
		}
		return action, nil
	}
}

func deriveLegalActions(view game.View, acting game.SeatState, toCall uint32) []game.ActionKind {
	actions := []game.ActionKind{game.ActionFold}
	if toCall == 0 {
		actions = append(actions, game.ActionCheck)
		if acting.Stack > 0 && view.CurrentBet == 0 {
			actions = append(actions, game.ActionBet)
		}
		return actions
	}

	actions = append(actions, game.ActionCall)
	if view.CurrentBet > 0 && acting.Stack > toCall {
		actions = append(actions, game.ActionRaise)
	}
	return actions
}

func seatByNo(seats []game.SeatState, seatNo game.SeatNo) (game.SeatState, bool) {
	for _, seat := range seats {
		if seat.SeatNo == seatNo {
			return seat, true
		}
	}
	return game.SeatState{}, false
}

func isTimeoutError(err error) bool {
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return true
	}
	return errors.Is(err, context.DeadlineExceeded)
}
