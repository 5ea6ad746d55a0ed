package main

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/cardroom/engine/internal/agentclient"
	"github.com/cardroom/engine/internal/api"
	"github.com/cardroom/engine/internal/game"
)

// newProviderFactory builds one action provider per table run. Seats with an
// agent_endpoint are driven over HTTP; when no seat names an endpoint the
// whole table falls back to the built-in call/check bot. Mixing the two is
// rejected so a misconfigured seat cannot silently play as a bot.
func newProviderFactory(clientTimeout time.Duration) func(tableID string, start api.StartRequest) (game.ActionProvider, error) {
	return func(_ string, start api.StartRequest) (game.ActionProvider, error) {
		endpoints := make(map[game.SeatNo]string, len(start.Seats))
		seatTimeouts := make(map[game.SeatNo]uint64, len(start.Seats))
		withEndpoint := 0
		for _, seat := range start.Seats {
			seatNo := game.SeatNo(seat.SeatNo)
			endpoint := strings.TrimSpace(seat.AgentEndpoint)
			if endpoint != "" {
				endpoints[seatNo] = endpoint
				withEndpoint++
			}
			if seat.AgentTimeoutMS != nil && *seat.AgentTimeoutMS > 0 {
				seatTimeouts[seatNo] = *seat.AgentTimeoutMS
			}
		}

		if withEndpoint == 0 {
			return botProvider{}, nil
		}
		if withEndpoint != len(start.Seats) {
			return nil, fmt.Errorf("%w: all seats need an agent_endpoint when any seat has one", agentclient.ErrEndpointNotConfigured)
		}

		return seatTimeoutProvider{
			client:         agentclient.New(clientTimeout),
			endpointLookup: tableSeatEndpoints{endpoints: endpoints},
			defaultTimeout: uint64(clientTimeout / time.Millisecond),
			seatTimeouts:   seatTimeouts,
		}, nil
	}
}

// seatTimeoutProvider wraps the agent client with per-seat action deadlines.
type seatTimeoutProvider struct {
	client         agentclient.Client
	endpointLookup tableSeatEndpoints
	defaultTimeout uint64
	seatTimeouts   map[game.SeatNo]uint64
}

func (p seatTimeoutProvider) NextAction(ctx context.Context, view game.View) (game.Action, error) {
	endpoint, err := p.endpointLookup.EndpointForSeat(view, view.Acting)
	if err != nil {
		return game.Action{}, err
	}

	timeout := p.defaultTimeout
	if value, ok := p.seatTimeouts[view.Acting]; ok {
		timeout = value
	}

	return p.client.NextAction(ctx, agentclient.Request{
		EndpointURL:     endpoint,
		View:            view,
		ActionTimeoutMS: timeout,
	})
}

type tableSeatEndpoints struct {
	endpoints map[game.SeatNo]string
}

func (p tableSeatEndpoints) EndpointForSeat(_ game.View, seat game.SeatNo) (string, error) {
	endpoint, ok := p.endpoints[seat]
	if !ok || strings.TrimSpace(endpoint) == "" {
		return "", fmt.Errorf("%w: seat %d", agentclient.ErrEndpointNotConfigured, seat)
	}
	return endpoint, nil
}

// botProvider calls any outstanding bet and checks otherwise.
type botProvider struct{}

func (botProvider) NextAction(_ context.Context, view game.View) (game.Action, error) {
	for _, seat := range view.Seats {
		if seat.SeatNo != view.Acting {
			continue
		}
		if view.CurrentBet > seat.CommittedInRound {
			return game.NewAction(game.ActionCall, 0)
		}
	}
	return game.NewAction(game.ActionCheck, 0)
}
