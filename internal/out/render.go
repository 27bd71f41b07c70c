package out

import (
	"encoding/json"
	"fmt"
	"io"
	"text/tabwriter"

	"github.com/solsweep/solsweep/internal/journal"
	"github.com/solsweep/solsweep/internal/model"
)

// PriceContext carries the reference price used when rendering USD columns.
// Live is false when the fallback price was substituted.
type PriceContext struct {
	SOLPriceUSD float64 `json:"sol_price_usd"`
	Live        bool    `json:"live"`
}

// RenderPositions writes the discovered position set. JSON mode emits the
// full snapshot; plain mode prints a table with SOL and USD valuations.
func RenderPositions(w io.Writer, positions []model.Position, price PriceContext, mode string) error {
	if mode == "json" {
		return encodeJSON(w, map[string]any{
			"positions": positions,
			"price":     price,
		})
	}

	if len(positions) == 0 {
		_, err := fmt.Fprintln(w, "no positions found")
		return err
	}

	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "POSITION\tPOOL\tFEE RATE\tFEES (SOL)\tDEPOSIT (SOL)\tDEPOSIT (USD)")
	for i := range positions {
		p := &positions[i]
		rate := fmt.Sprintf("%.2f%%", p.FeeRatePct)
		if p.FeeRateDegraded {
			rate += "*"
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\t%s\n",
			short(p.Address.String()),
			short(p.Pool.String()),
			rate,
			formatSOL(p.FeeLamports),
			formatSOL(p.DepositLamports),
			formatUSD(p.DepositLamports, price.SOLPriceUSD),
		)
	}
	if err := tw.Flush(); err != nil {
		return err
	}

	suffix := ""
	if !price.Live {
		suffix = " (fallback)"
	}
	_, err := fmt.Fprintf(w, "\n%d position(s); SOL price $%.2f%s\n", len(positions), price.SOLPriceUSD, suffix)
	return err
}

// RenderRun writes a batch outcome summary followed by per-position lines.
func RenderRun(w io.Writer, run model.AggregateRun, mode string) error {
	if mode == "json" {
		return encodeJSON(w, run)
	}

	fmt.Fprintf(w, "%s run for %s: %d attempted, %d succeeded, %d failed\n",
		run.Kind, run.Wallet.String(), run.Attempted, run.Succeeded, run.Failed)
	if run.TotalFeeA > 0 || run.TotalFeeB > 0 {
		fmt.Fprintf(w, "claimed fees: %d (token A raw), %d (token B raw)\n", run.TotalFeeA, run.TotalFeeB)
	}

	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	for i := range run.Results {
		r := &run.Results[i]
		switch {
		case r.Filtered:
			fmt.Fprintf(tw, "%s\tskipped\t%s\n", short(r.Position.String()), r.Error)
		case r.Failed():
			fmt.Fprintf(tw, "%s\tfailed at %s\t%s\n", short(r.Position.String()), r.FailedStep, r.Error)
		default:
			fmt.Fprintf(tw, "%s\tok\t%s\n", short(r.Position.String()), stepSummary(r))
		}
	}
	return tw.Flush()
}

// RenderJournal writes past runs, newest first.
func RenderJournal(w io.Writer, entries []journal.Entry, mode string) error {
	if mode == "json" {
		return encodeJSON(w, entries)
	}

	if len(entries) == 0 {
		_, err := fmt.Fprintln(w, "no recorded runs")
		return err
	}
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "RUN\tKIND\tWALLET\tFINISHED\tATTEMPTED\tSUCCEEDED\tFAILED")
	for _, e := range entries {
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%d\t%d\t%d\n",
			e.RunID, e.Kind, short(e.Wallet), e.FinishedAt,
			e.Run.Attempted, e.Run.Succeeded, e.Run.Failed)
	}
	return tw.Flush()
}

// RenderPrice writes the current reference price.
func RenderPrice(w io.Writer, price PriceContext, mode string) error {
	if mode == "json" {
		return encodeJSON(w, price)
	}
	suffix := ""
	if !price.Live {
		suffix = " (fallback)"
	}
	_, err := fmt.Fprintf(w, "SOL $%.2f%s\n", price.SOLPriceUSD, suffix)
	return err
}

func encodeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func stepSummary(r *model.OperationResult) string {
	steps := ""
	if r.Claimed {
		steps += "claimed"
	}
	if r.Closed {
		if steps != "" {
			steps += "+"
		}
		steps += "closed"
	}
	if r.Swapped {
		if steps != "" {
			steps += "+"
		}
		steps += "swapped"
	}
	if r.SwapSkipped {
		if steps != "" {
			steps += "+"
		}
		steps += "swap-skipped(dust)"
	}
	if steps == "" {
		steps = "no-op"
	}
	return steps
}

func formatSOL(lamports uint64) string {
	return fmt.Sprintf("%.4f", float64(lamports)/float64(model.LamportsPerSOL))
}

func formatUSD(lamports uint64, solPrice float64) string {
	return fmt.Sprintf("$%.2f", float64(lamports)/float64(model.LamportsPerSOL)*solPrice)
}

func short(s string) string {
	if len(s) <= 12 {
		return s
	}
	return s[:4] + ".." + s[len(s)-4:]
}
