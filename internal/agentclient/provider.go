package agentclient

import (
	"context"
	"fmt"

	"github.com/cardroom/engine/internal/game"
)

// SeatEndpointProvider resolves the agent endpoint serving a seat.
type SeatEndpointProvider interface {
	EndpointForSeat(view game.View, seat game.SeatNo) (string, error)
}

// ActionProvider adapts the agent HTTP client to the table runner's
// ActionProvider contract, looking up the acting seat's endpoint per action.
type ActionProvider struct {
	Client           Client
	Endpoints        SeatEndpointProvider
	DefaultTimeoutMS uint64
}

func (p ActionProvider) NextAction(ctx context.Context, view game.View) (game.Action, error) {
	if p.Endpoints == nil {
		return game.Action{}, ErrEndpointNotConfigured
	}

	endpoint, err := p.Endpoints.EndpointForSeat(view, view.Acting)
	if err != nil {
		return game.Action{}, fmt.Errorf("%w: %v", ErrEndpointNotConfigured, err)
	}
	if endpoint == "" {
		return game.Action{}, fmt.Errorf("%w: seat %d", ErrEndpointNotConfigured, view.Acting)
	}

	timeoutMS := p.DefaultTimeoutMS
	if timeoutMS == 0 {
		timeoutMS = defaultActionTimeout
	}

	client := p.Client
	if client.httpClient == nil {
		client = New(defaultTimeout)
	}

	return client.NextAction(ctx, Request{
		EndpointURL:     endpoint,
		View:            view,
		ActionTimeoutMS: timeoutMS,
	})
}
