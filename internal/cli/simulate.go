package cli

import (
	"context"
	"encoding/json"
	"fmt"
	"sync/atomic"

	"github.com/shopspring/decimal"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/Aidin1998/swapengine/internal/swap/engine"
	"github.com/Aidin1998/swapengine/internal/swap/model"
	"github.com/Aidin1998/swapengine/pkg/errors"
)

// SimulateOptions holds flags for the simulate command.
type SimulateOptions struct {
	*RootOptions
	Swaps       int
	Concurrency int
	Instrument  string
	BuyPrice    string
	SellPrice   string
	Quantity    string
	Seed        uint64
}

// SimulateReport is printed by the simulate command.
type SimulateReport struct {
	Submitted    int          `json:"submitted"`
	Rejected     int64        `json:"rejected"`
	Outcomes     outcomeCount `json:"outcomes"`
	VenueLegs    int64        `json:"venue_legs"`
	VenueRejects int64        `json:"venue_rejects"`
	Stats        engine.Stats `json:"stats"`
}

type outcomeCount map[model.SwapStatus]int64

// NewSimulateCommand creates the simulate command.
func NewSimulateCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &SimulateOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "simulate",
		Short: "Run a batch of swaps against the simulated venue",
		Long: `Run a batch of concurrent swaps against the simulated venue and print
the engine statistics as JSON. Counterparties rotate over the configured
leg-A and leg-B venues.

Example:
  swapengine simulate --swaps 1000 --concurrency 32
  swapengine simulate --buy-price 100 --sell-price 100.4 --seed 7`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			report, err := runSimulate(cmd.Context(), opts)
			if err != nil {
				return err
			}
			enc := json.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent("", "  ")
			return enc.Encode(report)
		},
	}

	cmd.Flags().IntVarP(&opts.Swaps, "swaps", "n", 100, "number of swaps to execute")
	cmd.Flags().IntVar(&opts.Concurrency, "concurrency", 8, "swaps submitted in parallel")
	cmd.Flags().StringVar(&opts.Instrument, "instrument", "BTC-USDT", "instrument to trade")
	cmd.Flags().StringVar(&opts.BuyPrice, "buy-price", "100", "leg-A buy price")
	cmd.Flags().StringVar(&opts.SellPrice, "sell-price", "100.5", "leg-B sell price")
	cmd.Flags().StringVar(&opts.Quantity, "quantity", "1", "quantity per leg")
	cmd.Flags().Uint64Var(&opts.Seed, "seed", 0, "simulator seed (0 uses simulator.seed)")

	return cmd
}

func (o *SimulateOptions) request(i int, legA, legB []string) (model.Request, error) {
	buy, err := decimal.NewFromString(o.BuyPrice)
	if err != nil {
		return model.Request{}, errors.ErrInvalidRequest.Explain("invalid --buy-price %q", o.BuyPrice)
	}
	sell, err := decimal.NewFromString(o.SellPrice)
	if err != nil {
		return model.Request{}, errors.ErrInvalidRequest.Explain("invalid --sell-price %q", o.SellPrice)
	}
	qty, err := decimal.NewFromString(o.Quantity)
	if err != nil {
		return model.Request{}, errors.ErrInvalidRequest.Explain("invalid --quantity %q", o.Quantity)
	}
	return model.Request{
		Instrument:       o.Instrument,
		BuyCounterparty:  legA[i%len(legA)],
		SellCounterparty: legB[i%len(legB)],
		BuyPrice:         buy,
		SellPrice:        sell,
		Quantity:         qty,
	}, nil
}

func runSimulate(ctx context.Context, opts *SimulateOptions) (*SimulateReport, error) {
	if opts.Swaps < 1 || opts.Concurrency < 1 {
		return nil, fmt.Errorf("--swaps and --concurrency must be positive")
	}

	cfg, log, err := setup(opts.RootOptions)
	if err != nil {
		return nil, err
	}
	defer func() { _ = log.Sync() }()
	if opts.Seed != 0 {
		cfg.Simulator.Seed = opts.Seed
	}

	bus, err := newBus(cfg, log)
	if err != nil {
		return nil, err
	}
	defer bus.Close()

	orch, sim, err := newEngine(cfg, bus, log)
	if err != nil {
		return nil, err
	}
	orch.Start(ctx)
	defer orch.Stop()

	var (
		rejected atomic.Int64
		outcomes = make([]atomic.Int64, 3)
	)
	index := map[model.SwapStatus]int{
		model.SwapCompleted:  0,
		model.SwapRolledBack: 1,
		model.SwapFailed:     2,
	}

	g := new(errgroup.Group)
	g.SetLimit(opts.Concurrency)
	for i := 0; i < opts.Swaps; i++ {
		req, err := opts.request(i, cfg.Workers.LegACounterparties, cfg.Workers.LegBCounterparties)
		if err != nil {
			return nil, err
		}
		g.Go(func() error {
			swap, err := orch.Execute(ctx, req)
			switch {
			case errors.Is(err, errors.ErrCapacityExceeded):
				rejected.Add(1)
				return nil
			case err != nil:
				return err
			}
			outcomes[index[swap.Status]].Add(1)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	submitted, venueRejects := sim.Counts()
	report := &SimulateReport{
		Submitted: opts.Swaps,
		Rejected:  rejected.Load(),
		Outcomes: outcomeCount{
			model.SwapCompleted:  outcomes[0].Load(),
			model.SwapRolledBack: outcomes[1].Load(),
			model.SwapFailed:     outcomes[2].Load(),
		},
		VenueLegs:    submitted,
		VenueRejects: venueRejects,
		Stats:        orch.Stats(),
	}
	log.Info("Simulation finished",
		zap.Int("swaps", opts.Swaps),
		zap.Int64("rejected", report.Rejected),
		zap.Float64("success_rate", report.Stats.SuccessRate))
	return report, nil
}
