package agentclient

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/cardroom/engine/internal/domain"
	"github.com/cardroom/engine/internal/game"
)

func testView(t *testing.T, currentBet uint32) game.View {
	t.Helper()
	hole, err := domain.ParseCards("AS", "KD")
	if err != nil {
		t.Fatalf("ParseCards failed: %v", err)
	}
	board, err := domain.ParseCards("QH", "JC", "2S")
	if err != nil {
		t.Fatalf("ParseCards failed: %v", err)
	}
	return game.View{
		TableID:    "table-1",
		HandID:     "hand-1",
		HandNo:     1,
		Phase:      game.PhaseFlop,
		Button:     1,
		Acting:     2,
		Pot:        300,
		CurrentBet: currentBet,
		MinRaiseTo: currentBet * 2,
		Board:      board,
		Seats: []game.SeatState{
			{SeatNo: 1, Stack: 9_800, Status: game.SeatStatusActive, CommittedInRound: currentBet},
			{SeatNo: 2, Stack: 9_900, Status: game.SeatStatusActive},
		},
		HoleCards: hole,
	}
}

func TestNextActionPostsViewAndParsesAction(t *testing.T) {
	t.Parallel()

	var received protocolRequest
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if err := json.NewDecoder(r.Body).Decode(&received); err != nil {
			t.Errorf("decode request: %v", err)
		}
		_ = json.NewEncoder(w).Encode(protocolResponse{Action: "call"})
	}))
	defer server.Close()

	client := New(time.Second)
	action, err := client.NextAction(context.Background(), Request{
		EndpointURL: server.URL,
		View:        testView(t, 200),
	})
	if err != nil {
		t.Fatalf("NextAction failed: %v", err)
	}
	if action.Kind != game.ActionCall {
		t.Fatalf("expected call, got %s", action.Kind)
	}

	if received.ProtocolVersion != ProtocolVersion {
		t.Fatalf("expected protocol version %d, got %d", ProtocolVersion, received.ProtocolVersion)
	}
	if received.Seat != 2 {
		t.Fatalf("expected acting seat 2, got %d", received.Seat)
	}
	if received.ToCall != 200 {
		t.Fatalf("expected to_call 200, got %d", received.ToCall)
	}
	if len(received.HoleCards) != 2 || received.HoleCards[0] != "AS" {
		t.Fatalf("unexpected hole cards %v", received.HoleCards)
	}
	if len(received.Board) != 3 {
		t.Fatalf("expected 3 board cards, got %v", received.Board)
	}
	if received.Stacks["2"] != 9_900 {
		t.Fatalf("unexpected stacks %v", received.Stacks)
	}
}

func TestNextActionAdvertisesLegalActions(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name       string
		currentBet uint32
		want       []string
	}{
		{name: "facing a bet", currentBet: 200, want: []string{"fold", "call", "raise"}},
		{name: "unopened pot", currentBet: 0, want: []string{"fold", "check", "bet"}},
	}

	for _, tc := range tests {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()

			var received protocolRequest
			server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				_ = json.NewDecoder(r.Body).Decode(&received)
				_ = json.NewEncoder(w).Encode(protocolResponse{Action: "fold"})
			}))
			defer server.Close()

			client := New(time.Second)
			if _, err := client.NextAction(context.Background(), Request{
				EndpointURL: server.URL,
				View:        testView(t, tc.currentBet),
			}); err != nil {
				t.Fatalf("NextAction failed: %v", err)
			}
			if len(received.LegalActions) != len(tc.want) {
				t.Fatalf("expected legal actions %v, got %v", tc.want, received.LegalActions)
			}
			for i, kind := range tc.want {
				if received.LegalActions[i] != kind {
					t.Fatalf("expected legal actions %v, got %v", tc.want, received.LegalActions)
				}
			}
		})
	}
}

func TestNextActionRejectsIllegalAgentAction(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name     string
		response protocolResponse
	}{
		{name: "not legal now", response: protocolResponse{Action: "check"}},
		{name: "unknown kind", response: protocolResponse{Action: "jam"}},
		{name: "raise without amount", response: protocolResponse{Action: "raise"}},
		{name: "call with amount", response: protocolResponse{Action: "call", Amount: ptrUint32(100)}},
	}

	for _, tc := range tests {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()

			server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
				_ = json.NewEncoder(w).Encode(tc.response)
			}))
			defer server.Close()

			client := New(time.Second)
			_, err := client.NextAction(context.Background(), Request{
				EndpointURL: server.URL,
				View:        testView(t, 200),
			})
			if !errors.Is(err, ErrIllegalAgentAction) {
				t.Fatalf("expected ErrIllegalAgentAction, got %v", err)
			}
		})
	}
}

func TestNextActionAcceptsRaiseWithAmount(t *testing.T) {
	t.Parallel()

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_ = json.NewEncoder(w).Encode(protocolResponse{Action: "raise", Amount: ptrUint32(400)})
	}))
	defer server.Close()

	client := New(time.Second)
	action, err := client.NextAction(context.Background(), Request{
		EndpointURL: server.URL,
		View:        testView(t, 200),
	})
	if err != nil {
		t.Fatalf("NextAction failed: %v", err)
	}
	if action.Kind != game.ActionRaise || action.Amount != 400 {
		t.Fatalf("expected raise to 400, got %s %d", action.Kind, action.Amount)
	}
}

func TestNextActionFailsOnBadStatus(t *testing.T) {
	t.Parallel()

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		http.Error(w, "boom", http.StatusInternalServerError)
	}))
	defer server.Close()

	client := New(time.Second)
	_, err := client.NextAction(context.Background(), Request{
		EndpointURL: server.URL,
		View:        testView(t, 200),
	})
	if !errors.Is(err, ErrNetwork) {
		t.Fatalf("expected ErrNetwork, got %v", err)
	}
}

func TestNextActionFailsOnTrailingData(t *testing.T) {
	t.Parallel()

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte(`{"action":"call"}{"action":"fold"}`))
	}))
	defer server.Close()

	client := New(time.Second)
	_, err := client.NextAction(context.Background(), Request{
		EndpointURL: server.URL,
		View:        testView(t, 200),
	})
	if !errors.Is(err, ErrMalformedResponse) {
		t.Fatalf("expected ErrMalformedResponse, got %v", err)
	}
}

func TestNextActionTimesOut(t *testing.T) {
	t.Parallel()

	release := make(chan struct{})
	server := httptest.NewServer(http.HandlerFunc(func(_ http.ResponseWriter, _ *http.Request) {
		<-release
	}))
	defer server.Close()
	defer close(release)

	client := New(50 * time.Millisecond)
	_, err := client.NextAction(context.Background(), Request{
		EndpointURL: server.URL,
		View:        testView(t, 200),
	})
	if !errors.Is(err, ErrRequestTimeout) {
		t.Fatalf("expected ErrRequestTimeout, got %v", err)
	}
}

func TestNextActionRequiresEndpoint(t *testing.T) {
	t.Parallel()

	client := New(time.Second)
	_, err := client.NextAction(context.Background(), Request{View: testView(t, 200)})
	if !errors.Is(err, ErrEndpointNotConfigured) {
		t.Fatalf("expected ErrEndpointNotConfigured, got %v", err)
	}
}

func TestNextActionRequiresHoleCards(t *testing.T) {
	t.Parallel()

	view := testView(t, 200)
	view.HoleCards = nil

	client := New(time.Second)
	_, err := client.NextAction(context.Background(), Request{
		EndpointURL: "http://127.0.0.1:1/agent",
		View:        view,
	})
	if !errors.Is(err, ErrMissingHoleCards) {
		t.Fatalf("expected ErrMissingHoleCards, got %v", err)
	}
}

func ptrUint32(v uint32) *uint32 {
	return &v
}
