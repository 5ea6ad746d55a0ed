// Package api exposes the engine over HTTP: a stateless hand evaluation
// endpoint and start/stop/status control for table runs backed by the
// persistence layer.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/cardroom/engine/internal/domain"
	"github.com/cardroom/engine/internal/game"
	"github.com/cardroom/engine/internal/persistence"
	"github.com/cardroom/engine/internal/rules"
)

// Runner abstracts the table runner so servers can be tested without
// playing real hands.
type Runner interface {
	RunTable(ctx context.Context, input game.RunTableInput) (game.RunTableResult, error)
}

type tableRun struct {
	cancel context.CancelFunc
	done   chan struct{}

	mu     sync.Mutex
	status persistence.TableRunRecord
}

type Server struct {
	repo            persistence.Repository
	runnerFactory   func(provider game.ActionProvider, cfg game.RunnerConfig) Runner
	providerFactory func(tableID string, start StartRequest) (game.ActionProvider, error)
	logger          *slog.Logger

	mu   sync.Mutex
	runs map[string]*tableRun
}

type StartRequest struct {
	HandsToRun   int          `json:"hands_to_run"`
	StartingHand *uint64      `json:"starting_hand,omitempty"`
	ButtonSeat   *uint8       `json:"button_seat,omitempty"`
	TableConfig  *game.Config `json:"table_config,omitempty"`
	Seats        []StartSeat  `json:"seats"`
}

type StartSeat struct {
	SeatNo         uint8   `json:"seat_no"`
	Stack          uint32  `json:"stack"`
	AgentEndpoint  string  `json:"agent_endpoint,omitempty"`
	AgentTimeoutMS *uint64 `json:"agent_timeout_ms,omitempty"`
}

type evaluateRequest struct {
	Cards []string `json:"cards"`
}

type evaluateResponse struct {
	Category     uint8    `json:"category"`
	CategoryName string   `json:"category_name"`
	HandCards    []string `json:"hand_cards"`
	Kickers      []string `json:"kickers"`
}

type tableStatusResponse struct {
	TableID          string                     `json:"table_id"`
	Status           persistence.TableRunStatus `json:"status"`
	StartedAt        time.Time                  `json:"started_at"`
	EndedAt          *time.Time                 `json:"ended_at,omitempty"`
	Error            string                     `json:"error,omitempty"`
	HandsRequested   int                        `json:"hands_requested"`
	HandsCompleted   int                        `json:"hands_completed"`
	TotalActions     int                        `json:"total_actions"`
	TotalFallbacks   int                        `json:"total_fallbacks"`
	CurrentHandNo    uint64                     `json:"current_hand_no"`
	HandsPersisted   int                        `json:"hands_persisted"`
	ActionsPersisted int                        `json:"actions_persisted"`
}

func NewServer(
	repo persistence.Repository,
	runnerFactory func(provider game.ActionProvider, cfg game.RunnerConfig) Runner,
	providerFactory func(tableID string, start StartRequest) (game.ActionProvider, error),
	logger *slog.Logger,
) *Server {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &Server{
		repo:            repo,
		runnerFactory:   runnerFactory,
		providerFactory: providerFactory,
		logger:          logger,
		runs:            make(map[string]*tableRun),
	}
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.URL.Path == "/hands/evaluate" {
		if r.Method != http.MethodPost {
			writeError(w, http.StatusMethodNotAllowed, "method not allowed")
			return
		}
		s.handleEvaluate(w, r)
		return
	}

	tableID, action, ok := parseTableRoute(r.URL.Path)
	if !ok {
		writeError(w, http.StatusNotFound, "route not found")
		return
	}

	switch {
	case r.Method == http.MethodPost && action == "start":
		s.handleStart(w, r, tableID)
	case r.Method == http.MethodPost && action == "stop":
		s.handleStop(w, tableID)
	case r.Method == http.MethodGet && action == "status":
		s.handleStatus(w, tableID)
	default:
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
	}
}

func (s *Server) handleEvaluate(w http.ResponseWriter, r *http.Request) {
	var req evaluateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	cards, err := domain.ParseCards(req.Cards...)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	hand, err := rules.New(cards, s.logger)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	writeJSON(w, http.StatusOK, evaluateResponse{
		Category:     uint8(hand.Category),
		CategoryName: hand.Category.String(),
		HandCards:    domain.CardCodes(hand.HandCards),
		Kickers:      domain.CardCodes(hand.Kickers),
	})
}

func (s *Server) handleStart(w http.ResponseWriter, r *http.Request, tableID string) {
	if s.repo == nil || s.runnerFactory == nil || s.providerFactory == nil {
		writeError(w, http.StatusInternalServerError, "server is not configured")
		return
	}

	var req StartRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	input, err := validateStartRequest(tableID, req)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	s.mu.Lock()
	if _, exists := s.runs[tableID]; exists {
		s.mu.Unlock()
		writeError(w, http.StatusConflict, "table is already running")
		return
	}
	ctx, cancel := context.WithCancel(context.Background())
	run := &tableRun{
		cancel: cancel,
		done:   make(chan struct{}),
		status: persistence.TableRunRecord{
			TableID:        tableID,
			Status:         persistence.TableRunStatusRunning,
			StartedAt:      time.Now().UTC(),
			HandsRequested: req.HandsToRun,
			CurrentHandNo:  input.StartingHand,
		},
	}
	s.runs[tableID] = run
	s.mu.Unlock()

	if err := s.repo.UpsertTableRun(run.snapshot()); err != nil {
		s.mu.Lock()
		delete(s.runs, tableID)
		s.mu.Unlock()
		cancel()
		writeError(w, http.StatusInternalServerError, "failed to persist run status")
		return
	}

	provider, err := s.providerFactory(tableID, req)
	if err != nil {
		s.failBeforeRun(tableID, run, fmt.Errorf("resolve action provider: %w", err))
		writeError(w, http.StatusInternalServerError, "failed to create action provider")
		return
	}

	runner := s.runnerFactory(provider, game.RunnerConfig{
		Logger:         s.logger,
		OnHandStart:    s.onHandStart(tableID, run),
		OnAction:       s.onAction(tableID, run),
		OnHandComplete: s.onHandComplete(tableID, run),
	})

	s.logger.Info("table run starting",
		"table_id", tableID,
		"hands_to_run", input.HandsToRun,
		"starting_hand", input.StartingHand,
		"seats", len(input.Seats),
	)

	go s.runTable(ctx, tableID, run, runner, input)

	writeJSON(w, http.StatusOK, map[string]string{
		"table_id": tableID,
		"status":   string(persistence.TableRunStatusRunning),
	})
}

func (s *Server) onHandStart(tableID string, run *tableRun) func(view game.View) {
	return func(view game.View) {
		if err := s.repo.CreateHand(persistence.HandRecord{
			HandID:     view.HandID,
			TableID:    view.TableID,
			HandNo:     view.HandNo,
			StartedAt:  time.Now().UTC(),
			FinalPhase: view.Phase,
		}); err != nil {
			s.failRun(tableID, run, fmt.Errorf("create hand record: %w", err))
			return
		}
		run.mu.Lock()
		run.status.CurrentHandNo = view.HandNo
		record := run.status
		run.mu.Unlock()
		if err := s.repo.UpsertTableRun(record); err != nil {
			s.failRun(tableID, run, fmt.Errorf("update run on hand start: %w", err))
		}
	}
}

func (s *Server) onAction(tableID string, run *tableRun) func(view game.View, action game.Action, isFallback bool) {
	return func(view game.View, action game.Action, isFallback bool) {
		if err := s.repo.AppendAction(persistence.ActionRecord{
			HandID:     view.HandID,
			Phase:      view.Phase,
			Seat:       view.Acting,
			Action:     action.Kind,
			Amount:     action.Amount,
			IsFallback: isFallback,
			At:         time.Now().UTC(),
		}); err != nil {
			s.failRun(tableID, run, fmt.Errorf("append action record: %w", err))
		}
	}
}

func (s *Server) onHandComplete(tableID string, run *tableRun) func(summary game.HandSummary) {
	return func(summary game.HandSummary) {
		endedAt := time.Now().UTC()
		run.mu.Lock()
		startedAt := run.status.StartedAt
		run.mu.Unlock()
		if err := s.repo.CompleteHand(summary.HandID, persistence.HandRecord{
			HandID:     summary.HandID,
			TableID:    tableID,
			HandNo:     summary.HandNo,
			StartedAt:  startedAt,
			EndedAt:    &endedAt,
			FinalPhase: summary.FinalPhase,
			Board:      domain.CardCodes(summary.Board),
			Pot:        summary.Pot,
			Seats:      summary.Seats,
			Awards:     summary.Awards,
		}); err != nil {
			s.failRun(tableID, run, fmt.Errorf("complete hand record: %w", err))
			return
		}
		run.mu.Lock()
		run.status.HandsCompleted++
		run.status.TotalActions += summary.ActionCount
		run.status.TotalFallbacks += summary.FallbackCount
		record := run.status
		run.mu.Unlock()
		if err := s.repo.UpsertTableRun(record); err != nil {
			s.failRun(tableID, run, fmt.Errorf("update run on hand complete: %w", err))
		}
	}
}

func (s *Server) handleStop(w http.ResponseWriter, tableID string) {
	s.mu.Lock()
	run, ok := s.runs[tableID]
	s.mu.Unlock()
	if !ok {
		writeError(w, http.StatusConflict, "table is not running")
		return
	}

	run.cancel()
	<-run.done

	status, ok, err := s.repo.GetTableRun(tableID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to load table status")
		return
	}
	if !ok {
		writeError(w, http.StatusInternalServerError, "table status missing after stop")
		return
	}

	writeJSON(w, http.StatusOK, map[string]string{
		"table_id": tableID,
		"status":   string(status.Status),
	})
}

func (s *Server) handleStatus(w http.ResponseWriter, tableID string) {
	record, ok, err := s.repo.GetTableRun(tableID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to load table status")
		return
	}
	if !ok {
		writeError(w, http.StatusNotFound, "table status not found")
		return
	}

	hands, err := s.repo.ListHands(tableID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to load hands")
		return
	}
	actionCount := 0
	for _, hand := range hands {
		actions, listErr := s.repo.ListActions(hand.HandID)
		if listErr != nil {
			writeError(w, http.StatusInternalServerError, "failed to load actions")
			return
		}
		actionCount += len(actions)
	}

	writeJSON(w, http.StatusOK, tableStatusResponse{
		TableID:          record.TableID,
		Status:           record.Status,
		StartedAt:        record.StartedAt,
		EndedAt:          record.EndedAt,
		Error:            record.Error,
		HandsRequested:   record.HandsRequested,
		HandsCompleted:   record.HandsCompleted,
		TotalActions:     record.TotalActions,
		TotalFallbacks:   record.TotalFallbacks,
		CurrentHandNo:    record.CurrentHandNo,
		HandsPersisted:   len(hands),
		ActionsPersisted: actionCount,
	})
}

func (s *Server) runTable(ctx context.Context, tableID string, run *tableRun, runner Runner, input game.RunTableInput) {
	defer func() {
		close(run.done)
		s.mu.Lock()
		delete(s.runs, tableID)
		s.mu.Unlock()
	}()

	result, err := runner.RunTable(ctx, input)

	run.mu.Lock()
	finalStatus := run.status
	run.mu.Unlock()
	finalStatus.HandsCompleted = result.HandsCompleted
	finalStatus.TotalActions = result.TotalActions
	finalStatus.TotalFallbacks = result.TotalFallbacks
	finalStatus.CurrentHandNo = input.StartingHand + uint64(result.HandsCompleted)
	endedAt := time.Now().UTC()
	finalStatus.EndedAt = &endedAt

	switch {
	case finalStatus.Status == persistence.TableRunStatusFailed:
		// failRun already recorded the cause.
	case err == nil:
		finalStatus.Status = persistence.TableRunStatusCompleted
	case errors.Is(err, context.Canceled), errors.Is(err, game.ErrContextCancelled):
		finalStatus.Status = persistence.TableRunStatusStopped
		finalStatus.Error = err.Error()
	default:
		finalStatus.Status = persistence.TableRunStatusFailed
		finalStatus.Error = err.Error()
	}

	s.logger.Info("table run finished",
		"table_id", tableID,
		"status", string(finalStatus.Status),
		"hands_completed", finalStatus.HandsCompleted,
		"total_actions", finalStatus.TotalActions,
		"total_fallbacks", finalStatus.TotalFallbacks,
	)

	run.mu.Lock()
	run.status = finalStatus
	run.mu.Unlock()
	if repoErr := s.repo.UpsertTableRun(finalStatus); repoErr != nil {
		s.logger.Error("persisting final run status failed", "table_id", tableID, "error", repoErr)
	}
}

func (s *Server) failBeforeRun(tableID string, run *tableRun, err error) {
	endedAt := time.Now().UTC()
	run.mu.Lock()
	run.status.Status = persistence.TableRunStatusFailed
	run.status.EndedAt = &endedAt
	run.status.Error = err.Error()
	record := run.status
	run.mu.Unlock()
	_ = s.repo.UpsertTableRun(record)
	s.mu.Lock()
	delete(s.runs, tableID)
	s.mu.Unlock()
	run.cancel()
	close(run.done)
}

func (s *Server) failRun(tableID string, run *tableRun, err error) {
	s.logger.Error("table run failing", "table_id", tableID, "error", err)
	endedAt := time.Now().UTC()
	run.mu.Lock()
	run.status.Status = persistence.TableRunStatusFailed
	run.status.EndedAt = &endedAt
	run.status.Error = err.Error()
	record := run.status
	run.mu.Unlock()
	_ = s.repo.UpsertTableRun(record)
	run.cancel()
}

func (run *tableRun) snapshot() persistence.TableRunRecord {
	run.mu.Lock()
	defer run.mu.Unlock()
	return run.status
}

func validateStartRequest(tableID string, req StartRequest) (game.RunTableInput, error) {
	cfg := game.DefaultConfig()
	if req.TableConfig != nil {
		cfg = *req.TableConfig
	}
	if err := cfg.Validate(); err != nil {
		return game.RunTableInput{}, err
	}
	if req.HandsToRun <= 0 {
		return game.RunTableInput{}, fmt.Errorf("hands_to_run must be greater than zero")
	}
	if len(req.Seats) == 0 {
		return game.RunTableInput{}, fmt.Errorf("seats must not be empty")
	}

	seats := make([]game.SeatState, 0, len(req.Seats))
	seen := make(map[game.SeatNo]struct{}, len(req.Seats))
	for _, seat := range req.Seats {
		if seat.SeatNo < 1 || seat.SeatNo > cfg.MaxSeats {
			return game.RunTableInput{}, fmt.Errorf("seat number %d out of range 1..=%d", seat.SeatNo, cfg.MaxSeats)
		}
		seatNo := game.SeatNo(seat.SeatNo)
		if _, exists := seen[seatNo]; exists {
			return game.RunTableInput{}, fmt.Errorf("duplicate seat number %d", seatNo)
		}
		seen[seatNo] = struct{}{}
		stack := seat.Stack
		if stack == 0 {
			stack = cfg.StartingStack
		}
		seats = append(seats, game.NewSeatState(seatNo, stack))
	}

	startingHand := uint64(1)
	if req.StartingHand != nil {
		startingHand = *req.StartingHand
	}

	button := seats[0].SeatNo
	if req.ButtonSeat != nil {
		if *req.ButtonSeat < 1 || *req.ButtonSeat > cfg.MaxSeats {
			return game.RunTableInput{}, fmt.Errorf("button seat %d out of range 1..=%d", *req.ButtonSeat, cfg.MaxSeats)
		}
		button = game.SeatNo(*req.ButtonSeat)
	}

	return game.RunTableInput{
		TableID:      tableID,
		StartingHand: startingHand,
		HandsToRun:   req.HandsToRun,
		ButtonSeat:   button,
		Seats:        seats,
		Config:       cfg,
	}, nil
}

func parseTableRoute(path string) (tableID string, action string, ok bool) {
	parts := strings.Split(strings.Trim(path, "/"), "/")
	if len(parts) != 3 || parts[0] != "tables" {
		return "", "", false
	}
	if parts[1] == "" || parts[2] == "" {
		return "", "", false
	}
	return parts[1], parts[2], true
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}
