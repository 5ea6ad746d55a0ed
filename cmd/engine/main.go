// Command engine runs local table simulations: deterministic bot play by
// default, or an interactive mode where one seat is driven from the terminal.
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"

	"github.com/cardroom/engine/internal/deck"
	"github.com/cardroom/engine/internal/game"
)

type cliOptions struct {
	tableID    string
	hands      int
	seatCount  int
	stack      uint
	seed       int64
	mode       string
	humanSeat  uint
	reportPath string
	verbose    bool
}

func main() {
	opts := parseFlags(os.Args[1:])

	level := slog.LevelInfo
	if opts.verbose {
		level = slog.LevelDebug
	}
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))

	if err := run(opts, logger); err != nil {
		logger.Error("simulation failed", "error", err)
		os.Exit(1)
	}
}

func parseFlags(args []string) cliOptions {
	var opts cliOptions
	fs := flag.NewFlagSet("engine", flag.ExitOnError)
	fs.StringVar(&opts.tableID, "table", "local-table-1", "table identifier")
	fs.IntVar(&opts.hands, "hands", 100, "number of hands to play")
	fs.IntVar(&opts.seatCount, "seats", 2, "number of seats at the table")
	fs.UintVar(&opts.stack, "stack", uint(game.DefaultStartingStack), "starting stack per seat")
	fs.Int64Var(&opts.seed, "seed", 0, "shuffle seed; 0 uses crypto randomness")
	fs.StringVar(&opts.mode, "mode", "auto", "auto or human")
	fs.UintVar(&opts.humanSeat, "human-seat", 1, "seat driven from the terminal in human mode")
	fs.StringVar(&opts.reportPath, "report", "", "write a JSON run report to this path")
	fs.BoolVar(&opts.verbose, "v", false, "enable debug logging")
	_ = fs.Parse(args)
	return opts
}

func run(opts cliOptions, logger *slog.Logger) error {
	cfg := game.DefaultConfig()
	cfg.StartingStack = uint32(opts.stack)

	if opts.seatCount < int(cfg.MinPlayersToStart) || opts.seatCount > int(cfg.MaxSeats) {
		return fmt.Errorf("seats must be in range %d..=%d, got %d", cfg.MinPlayersToStart, cfg.MaxSeats, opts.seatCount)
	}
	if opts.hands <= 0 {
		return fmt.Errorf("hands must be greater than zero, got %d", opts.hands)
	}

	seats := make([]game.SeatState, 0, opts.seatCount)
	for i := 1; i <= opts.seatCount; i++ {
		seats = append(seats, game.NewSeatState(game.SeatNo(i), cfg.StartingStack))
	}

	var humanSeat *game.SeatNo
	var provider game.ActionProvider = callerProvider{}
	switch opts.mode {
	case "auto":
	case "human":
		if opts.humanSeat < 1 || opts.humanSeat > uint(opts.seatCount) {
			return fmt.Errorf("human-seat must be in range 1..=%d, got %d", opts.seatCount, opts.humanSeat)
		}
		seat := game.SeatNo(opts.humanSeat)
		humanSeat = &seat
		provider = seatProvider{
			humanSeat: seat,
			human:     newHumanProvider(os.Stdin, os.Stdout),
			bot:       callerProvider{},
			out:       os.Stdout,
		}
	default:
		return fmt.Errorf("unknown mode %q: want auto or human", opts.mode)
	}

	var shuffler deck.Shuffler
	if opts.seed != 0 {
		shuffler = deck.NewSeededShuffler(opts.seed)
	}

	var timeline []actionEvent
	runner := game.New(provider, game.RunnerConfig{
		Shuffler: shuffler,
		Logger:   logger,
		OnAction: func(view game.View, action game.Action, isFallback bool) {
			timeline = append(timeline, actionEvent{
				HandNo:     view.HandNo,
				Phase:      view.Phase,
				Seat:       view.Acting,
				Action:     action.Kind,
				Amount:     action.Amount,
				IsFallback: isFallback,
			})
		},
	})

	logger.Info("starting local simulation",
		"table_id", opts.tableID,
		"hands_to_run", opts.hands,
		"seats", opts.seatCount,
		"mode", opts.mode,
	)

	initialSeats := append([]game.SeatState(nil), seats...)
	result, err := runner.RunTable(context.Background(), game.RunTableInput{
		TableID:      opts.tableID,
		StartingHand: 1,
		HandsToRun:   opts.hands,
		ButtonSeat:   seats[0].SeatNo,
		Seats:        seats,
		Config:       cfg,
	})
	if err != nil {
		return err
	}

	report := buildRunReport(buildRunReportInput{
		Mode:           opts.mode,
		TableID:        opts.tableID,
		HandsRequested: opts.hands,
		HumanSeat:      humanSeat,
		InitialSeats:   initialSeats,
		Result:         result,
		Timeline:       timeline,
	})

	fmt.Fprint(os.Stdout, renderRunOutput(report))

	if opts.reportPath != "" {
		if err := writeRunReportJSON(opts.reportPath, report); err != nil {
			return fmt.Errorf("write run report: %w", err)
		}
		logger.Info("run report written", "path", opts.reportPath)
	}

	logger.Info("simulation complete",
		"hands_completed", result.HandsCompleted,
		"total_actions", result.TotalActions,
		"total_fallbacks", result.TotalFallbacks,
		"final_button", result.FinalButton,
	)
	return nil
}
