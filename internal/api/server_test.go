package api

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/cardroom/engine/internal/deck"
	"github.com/cardroom/engine/internal/game"
	"github.com/cardroom/engine/internal/persistence"
)

func TestEvaluateHandReturnsCategory(t *testing.T) {
	t.Parallel()

	server := newTestServer(persistence.NewInMemoryRepository(), fakeRunnerFactory, fakeProviderFactory)

	req := httptest.NewRequest(http.MethodPost, "/hands/evaluate", strings.NewReader(`{
		"cards": ["AS", "AH", "KD", "KC", "7S", "2H", "2D"]
	}`))
	w := httptest.NewRecorder()
	server.ServeHTTP(w, req)
	if w.Code != http.StatusOK {
		t.Fatalf("expected status %d, got %d body=%s", http.StatusOK, w.Code, w.Body.String())
	}

	var resp struct {
		Category     uint8    `json:"category"`
		CategoryName string   `json:"category_name"`
		HandCards    []string `json:"hand_cards"`
		Kickers      []string `json:"kickers"`
	}
	if err := json.NewDecoder(w.Body).Decode(&resp); err != nil {
		t.Fatalf("decode response failed: %v", err)
	}
	if resp.Category != 2 || resp.CategoryName != "two pair" {
		t.Fatalf("expected two pair (2), got %s (%d)", resp.CategoryName, resp.Category)
	}
	if len(resp.HandCards) != 4 || len(resp.Kickers) != 1 {
		t.Fatalf("expected 4 hand cards and 1 kicker, got %v / %v", resp.HandCards, resp.Kickers)
	}
	if resp.Kickers[0] != "7S" {
		t.Fatalf("expected kicker 7S, got %s", resp.Kickers[0])
	}
}

func TestEvaluateHandRejectsBadInput(t *testing.T) {
	t.Parallel()

	server := newTestServer(persistence.NewInMemoryRepository(), fakeRunnerFactory, fakeProviderFactory)

	tests := []struct {
		name       string
		method     string
		body       string
		wantStatus int
	}{
		{name: "malformed json", method: http.MethodPost, body: `{"cards":`, wantStatus: http.StatusBadRequest},
		{name: "invalid card code", method: http.MethodPost, body: `{"cards": ["AS", "KH", "QD", "JC", "XX"]}`, wantStatus: http.StatusBadRequest},
		{name: "too few cards", method: http.MethodPost, body: `{"cards": ["AS", "KH", "QD", "JC"]}`, wantStatus: http.StatusBadRequest},
		{name: "wrong method", method: http.MethodGet, body: ``, wantStatus: http.StatusMethodNotAllowed},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			req := httptest.NewRequest(tc.method, "/hands/evaluate", strings.NewReader(tc.body))
			w := httptest.NewRecorder()
			server.ServeHTTP(w, req)
			if w.Code != tc.wantStatus {
				t.Fatalf("expected status %d, got %d body=%s", tc.wantStatus, w.Code, w.Body.String())
			}
		})
	}
}

func TestStartRunsTableAndPersistsRecords(t *testing.T) {
	t.Parallel()

	repo := persistence.NewInMemoryRepository()
	server := newTestServer(repo, fakeRunnerFactory, fakeProviderFactory)

	w := postStart(server, "table-1", `{
		"hands_to_run": 1,
		"seats": [
			{"seat_no": 1, "stack": 10000},
			{"seat_no": 2, "stack": 10000}
		]
	}`)
	if w.Code != http.StatusOK {
		t.Fatalf("expected status %d, got %d body=%s", http.StatusOK, w.Code, w.Body.String())
	}

	waitForTableRunStatus(t, repo, "table-1", persistence.TableRunStatusCompleted)

	hands, err := repo.ListHands("table-1")
	if err != nil {
		t.Fatalf("ListHands failed: %v", err)
	}
	if len(hands) != 1 {
		t.Fatalf("expected one persisted hand, got %d", len(hands))
	}
	if hands[0].EndedAt == nil || hands[0].FinalPhase != game.PhaseComplete {
		t.Fatalf("expected completed hand record, got %+v", hands[0])
	}
	actions, err := repo.ListActions(hands[0].HandID)
	if err != nil {
		t.Fatalf("ListActions failed: %v", err)
	}
	if len(actions) != 1 {
		t.Fatalf("expected one persisted action, got %d", len(actions))
	}

	statusReq := httptest.NewRequest(http.MethodGet, "/tables/table-1/status", nil)
	statusW := httptest.NewRecorder()
	server.ServeHTTP(statusW, statusReq)
	if statusW.Code != http.StatusOK {
		t.Fatalf("expected status %d, got %d body=%s", http.StatusOK, statusW.Code, statusW.Body.String())
	}
	var status tableStatusResponse
	if err := json.NewDecoder(statusW.Body).Decode(&status); err != nil {
		t.Fatalf("decode status failed: %v", err)
	}
	if status.Status != persistence.TableRunStatusCompleted {
		t.Fatalf("expected completed status, got %q", status.Status)
	}
	if status.HandsPersisted != 1 || status.ActionsPersisted != 1 {
		t.Fatalf("expected 1 hand / 1 action persisted, got %d / %d", status.HandsPersisted, status.ActionsPersisted)
	}
}

func TestStartWithRealRunnerPlaysHands(t *testing.T) {
	t.Parallel()

	repo := persistence.NewInMemoryRepository()
	server := newTestServer(
		repo,
		func(provider game.ActionProvider, cfg game.RunnerConfig) Runner {
			cfg.Shuffler = deck.NewSeededShuffler(99)
			return game.New(provider, cfg)
		},
		func(string, StartRequest) (game.ActionProvider, error) {
			return callerProvider{}, nil
		},
	)

	w := postStart(server, "table-1", `{
		"hands_to_run": 3,
		"seats": [
			{"seat_no": 1, "stack": 10000},
			{"seat_no": 2, "stack": 10000},
			{"seat_no": 3, "stack": 10000}
		]
	}`)
	if w.Code != http.StatusOK {
		t.Fatalf("expected status %d, got %d body=%s", http.StatusOK, w.Code, w.Body.String())
	}

	waitForTableRunStatus(t, repo, "table-1", persistence.TableRunStatusCompleted)

	record, _, err := repo.GetTableRun("table-1")
	if err != nil {
		t.Fatalf("GetTableRun failed: %v", err)
	}
	if record.HandsCompleted != 3 {
		t.Fatalf("expected 3 completed hands, got %d", record.HandsCompleted)
	}
	if record.TotalFallbacks != 0 {
		t.Fatalf("expected no fallbacks, got %d", record.TotalFallbacks)
	}

	hands, err := repo.ListHands("table-1")
	if err != nil {
		t.Fatalf("ListHands failed: %v", err)
	}
	if len(hands) != 3 {
		t.Fatalf("expected 3 persisted hands, got %d", len(hands))
	}
	for _, hand := range hands {
		if hand.FinalPhase != game.PhaseComplete {
			t.Fatalf("hand %s did not complete: %q", hand.HandID, hand.FinalPhase)
		}
		actions, err := repo.ListActions(hand.HandID)
		if err != nil {
			t.Fatalf("ListActions failed: %v", err)
		}
		if len(actions) == 0 {
			t.Fatalf("expected persisted actions for hand %s", hand.HandID)
		}
	}
}

func TestStartRejectsInvalidRequests(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		body string
	}{
		{name: "malformed json", body: `{`},
		{name: "zero hands", body: `{"hands_to_run": 0, "seats": [{"seat_no": 1}, {"seat_no": 2}]}`},
		{name: "no seats", body: `{"hands_to_run": 1, "seats": []}`},
		{name: "duplicate seat", body: `{"hands_to_run": 1, "seats": [{"seat_no": 1}, {"seat_no": 1}]}`},
		{name: "seat out of range", body: `{"hands_to_run": 1, "seats": [{"seat_no": 1}, {"seat_no": 9}]}`},
		{name: "bad button", body: `{"hands_to_run": 1, "button_seat": 9, "seats": [{"seat_no": 1}, {"seat_no": 2}]}`},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			server := newTestServer(persistence.NewInMemoryRepository(), fakeRunnerFactory, fakeProviderFactory)
			w := postStart(server, "table-1", tc.body)
			if w.Code != http.StatusBadRequest {
				t.Fatalf("expected status %d, got %d body=%s", http.StatusBadRequest, w.Code, w.Body.String())
			}
		})
	}
}

func TestStartConflictsWhileRunningAndStopEndsRun(t *testing.T) {
	t.Parallel()

	repo := persistence.NewInMemoryRepository()
	server := newTestServer(repo, blockingRunnerFactory, fakeProviderFactory)

	body := `{"hands_to_run": 5, "seats": [{"seat_no": 1, "stack": 10000}, {"seat_no": 2, "stack": 10000}]}`
	if w := postStart(server, "table-1", body); w.Code != http.StatusOK {
		t.Fatalf("first start failed: %d body=%s", w.Code, w.Body.String())
	}
	if w := postStart(server, "table-1", body); w.Code != http.StatusConflict {
		t.Fatalf("expected conflict on second start, got %d body=%s", w.Code, w.Body.String())
	}

	stopReq := httptest.NewRequest(http.MethodPost, "/tables/table-1/stop", nil)
	stopW := httptest.NewRecorder()
	server.ServeHTTP(stopW, stopReq)
	if stopW.Code != http.StatusOK {
		t.Fatalf("stop failed: %d body=%s", stopW.Code, stopW.Body.String())
	}

	record, ok, err := repo.GetTableRun("table-1")
	if err != nil || !ok {
		t.Fatalf("GetTableRun failed: ok=%t err=%v", ok, err)
	}
	if record.Status != persistence.TableRunStatusStopped {
		t.Fatalf("expected stopped status, got %q", record.Status)
	}
	if record.EndedAt == nil {
		t.Fatal("expected EndedAt to be set after stop")
	}
}

func TestStopWithoutRunReturnsConflict(t *testing.T) {
	t.Parallel()

	server := newTestServer(persistence.NewInMemoryRepository(), fakeRunnerFactory, fakeProviderFactory)
	req := httptest.NewRequest(http.MethodPost, "/tables/table-1/stop", nil)
	w := httptest.NewRecorder()
	server.ServeHTTP(w, req)
	if w.Code != http.StatusConflict {
		t.Fatalf("expected status %d, got %d body=%s", http.StatusConflict, w.Code, w.Body.String())
	}
}

func TestStatusForUnknownTableReturnsNotFound(t *testing.T) {
	t.Parallel()

	server := newTestServer(persistence.NewInMemoryRepository(), fakeRunnerFactory, fakeProviderFactory)
	req := httptest.NewRequest(http.MethodGet, "/tables/unknown/status", nil)
	w := httptest.NewRecorder()
	server.ServeHTTP(w, req)
	if w.Code != http.StatusNotFound {
		t.Fatalf("expected status %d, got %d body=%s", http.StatusNotFound, w.Code, w.Body.String())
	}
}

func TestUnknownRoutesReturnNotFound(t *testing.T) {
	t.Parallel()

	server := newTestServer(persistence.NewInMemoryRepository(), fakeRunnerFactory, fakeProviderFactory)
	for _, path := range []string{"/", "/tables", "/tables/table-1", "/tables/table-1/start/extra"} {
		req := httptest.NewRequest(http.MethodGet, path, nil)
		w := httptest.NewRecorder()
		server.ServeHTTP(w, req)
		if w.Code != http.StatusNotFound {
			t.Fatalf("expected 404 for %s, got %d", path, w.Code)
		}
	}
}

func newTestServer(
	repo persistence.Repository,
	runnerFactory func(provider game.ActionProvider, cfg game.RunnerConfig) Runner,
	providerFactory func(tableID string, start StartRequest) (game.ActionProvider, error),
) *Server {
	return NewServer(repo, runnerFactory, providerFactory, nil)
}

func postStart(server *Server, tableID, body string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodPost, fmt.Sprintf("/tables/%s/start", tableID), strings.NewReader(body))
	w := httptest.NewRecorder()
	server.ServeHTTP(w, req)
	return w
}

func waitForTableRunStatus(t *testing.T, repo persistence.Repository, tableID string, want persistence.TableRunStatus) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		record, ok, err := repo.GetTableRun(tableID)
		if err != nil {
			t.Fatalf("GetTableRun failed: %v", err)
		}
		if ok && record.Status == want {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("table %s never reached status %q", tableID, want)
}

// fakeRunner simulates a single completed hand, driving the persistence
// callbacks the way the real runner would.
type fakeRunner struct {
	cfg game.RunnerConfig
}

func (r fakeRunner) RunTable(_ context.Context, input game.RunTableInput) (game.RunTableResult, error) {
	view := game.View{
		TableID: input.TableID,
		HandID:  "hand-fake-1",
		HandNo:  input.StartingHand,
		Phase:   game.PhasePreflop,
		Seats:   input.Seats,
	}
	if r.cfg.OnHandStart != nil {
		r.cfg.OnHandStart(view)
	}
	check, _ := game.NewAction(game.ActionCheck, 0)
	if r.cfg.OnAction != nil {
		r.cfg.OnAction(view, check, false)
	}
	summary := game.HandSummary{
		HandID:      view.HandID,
		HandNo:      input.StartingHand,
		FinalPhase:  game.PhaseComplete,
		Pot:         150,
		Seats:       input.Seats,
		ActionCount: 1,
	}
	if r.cfg.OnHandComplete != nil {
		r.cfg.OnHandComplete(summary)
	}
	return game.RunTableResult{HandsCompleted: 1, TotalActions: 1}, nil
}

func fakeRunnerFactory(_ game.ActionProvider, cfg game.RunnerConfig) Runner {
	return fakeRunner{cfg: cfg}
}

func fakeProviderFactory(string, StartRequest) (game.ActionProvider, error) {
	return callerProvider{}, nil
}

// blockingRunner sits on the context until a stop cancels it.
type blockingRunner struct{}

func (blockingRunner) RunTable(ctx context.Context, _ game.RunTableInput) (game.RunTableResult, error) {
	<-ctx.Done()
	return game.RunTableResult{}, ctx.Err()
}

func blockingRunnerFactory(_ game.ActionProvider, _ game.RunnerConfig) Runner {
	return blockingRunner{}
}

// callerProvider calls any outstanding bet and checks otherwise.
type callerProvider struct{}

func (callerProvider) NextAction(_ context.Context, view game.View) (game.Action, error) {
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
