package main

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/cardroom/engine/internal/agentclient"
	"github.com/cardroom/engine/internal/api"
	"github.com/cardroom/engine/internal/domain"
	"github.com/cardroom/engine/internal/game"
)

func agentTestView() game.View {
	board, _ := domain.ParseCards("AS", "7H", "2D")
	hole, _ := domain.ParseCards("KS", "KH")
	return game.View{
		TableID: "table-1",
		HandID:  "hand-1",
		HandNo:  1,
		Phase:   game.PhaseFlop,
		Button:  2,
		Acting:  1,
		Pot:     300,
		Board:   board,
		Seats: []game.SeatState{
			{SeatNo: 1, Stack: 10_000, Status: game.SeatStatusActive},
			{SeatNo: 2, Stack: 10_000, Status: game.SeatStatusActive},
		},
		HoleCards: hole,
	}
}

func TestProviderFactoryFallsBackToBotWithoutEndpoints(t *testing.T) {
	t.Parallel()

	factory := newProviderFactory(time.Second)
	provider, err := factory("table-1", api.StartRequest{
		HandsToRun: 1,
		Seats: []api.StartSeat{
			{SeatNo: 1, Stack: 10_000},
			{SeatNo: 2, Stack: 10_000},
		},
	})
	if err != nil {
		t.Fatalf("factory failed: %v", err)
	}

	action, err := provider.NextAction(context.Background(), agentTestView())
	if err != nil {
		t.Fatalf("NextAction failed: %v", err)
	}
	if action.Kind != game.ActionCheck {
		t.Fatalf("expected bot check, got %q", action.Kind)
	}
}

func TestProviderFactoryRejectsPartialEndpoints(t *testing.T) {
	t.Parallel()

	factory := newProviderFactory(time.Second)
	_, err := factory("table-1", api.StartRequest{
		HandsToRun: 1,
		Seats: []api.StartSeat{
			{SeatNo: 1, Stack: 10_000, AgentEndpoint: "http://agent-1"},
			{SeatNo: 2, Stack: 10_000},
		},
	})
	if !errors.Is(err, agentclient.ErrEndpointNotConfigured) {
		t.Fatalf("expected ErrEndpointNotConfigured, got %v", err)
	}
}

func TestProviderFactoryDrivesSeatsOverHTTP(t *testing.T) {
	t.Parallel()

	agent := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"action": "check"}`))
	}))
	defer agent.Close()

	factory := newProviderFactory(time.Second)
	provider, err := factory("table-1", api.StartRequest{
		HandsToRun: 1,
		Seats: []api.StartSeat{
			{SeatNo: 1, Stack: 10_000, AgentEndpoint: agent.URL},
			{SeatNo: 2, Stack: 10_000, AgentEndpoint: agent.URL},
		},
	})
	if err != nil {
		t.Fatalf("factory failed: %v", err)
	}

	action, err := provider.NextAction(context.Background(), agentTestView())
	if err != nil {
		t.Fatalf("NextAction failed: %v", err)
	}
	if action.Kind != game.ActionCheck {
		t.Fatalf("expected check from agent, got %q", action.Kind)
	}
}

func TestTableSeatEndpointsRejectsUnknownSeat(t *testing.T) {
	t.Parallel()

	lookup := tableSeatEndpoints{endpoints: map[game.SeatNo]string{1: "http://agent-1"}}
	if _, err := lookup.EndpointForSeat(agentTestView(), 3); !errors.Is(err, agentclient.ErrEndpointNotConfigured) {
		t.Fatalf("expected ErrEndpointNotConfigured, got %v", err)
	}
}
