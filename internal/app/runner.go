package app

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"time"

	"github.com/gagliardetto/solana-go"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/solsweep/solsweep/internal/config"
	"github.com/solsweep/solsweep/internal/convert"
	"github.com/solsweep/solsweep/internal/damm"
	"github.com/solsweep/solsweep/internal/discovery"
	clierr "github.com/solsweep/solsweep/internal/errors"
	"github.com/solsweep/solsweep/internal/filter"
	"github.com/solsweep/solsweep/internal/httpx"
	"github.com/solsweep/solsweep/internal/journal"
	"github.com/solsweep/solsweep/internal/ledger"
	"github.com/solsweep/solsweep/internal/logging"
	"github.com/solsweep/solsweep/internal/model"
	"github.com/solsweep/solsweep/internal/out"
	"github.com/solsweep/solsweep/internal/pacing"
	"github.com/solsweep/solsweep/internal/providers/defillama"
	"github.com/solsweep/solsweep/internal/providers/jupiter"
	"github.com/solsweep/solsweep/internal/schema"
	"github.com/solsweep/solsweep/internal/sweep"
	"github.com/solsweep/solsweep/internal/version"
)

type Runner struct {
	stdout io.Writer
	stderr io.Writer
	now    func() time.Time
}

func NewRunner() *Runner {
	return NewRunnerWithWriters(os.Stdout, os.Stderr)
}

func NewRunnerWithWriters(stdout, stderr io.Writer) *Runner {
	return &Runner{
		stdout: stdout,
		stderr: stderr,
		now:    time.Now,
	}
}

type runtimeState struct {
	runner   *Runner
	flags    config.GlobalFlags
	settings config.Settings
	log      *zap.Logger

	ledger    *ledger.Client
	protocol  *damm.Protocol
	jup       *jupiter.Client
	llama     *defillama.Client
	converter *convert.Service
	discovery *discovery.Service
	pacer     *pacing.Pacer
}

func (r *Runner) Run(args []string) int {
	state := &runtimeState{runner: r}
	root := state.newRootCommand()
	root.SetArgs(args)
	root.SetOut(r.stdout)
	root.SetErr(r.stderr)
	root.SilenceUsage = true
	root.SilenceErrors = true

	err := root.Execute()
	if state.log != nil {
		_ = state.log.Sync()
	}
	if err == nil {
		return 0
	}
	fmt.Fprintf(r.stderr, "error: %v\n", err)
	return clierr.ExitCode(err)
}

func (s *runtimeState) newRootCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   version.CLIName,
		Short: "Sweep fees and liquidity out of DAMM v2 positions",
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			switch cmd.Name() {
			case "help", "version", "schema":
				return nil
			}
			settings, err := config.Load(s.flags)
			if err != nil {
				return err
			}
			s.settings = settings

			log, err := logging.New(settings.Verbose)
			if err != nil {
				return clierr.Wrap(clierr.CodeInternal, "init logger", err)
			}
			s.log = log

			httpClient := httpx.New(settings.Timeout, settings.Retries)
			s.ledger = ledger.NewClient(settings.RPCURL)
			s.protocol = damm.NewProtocol(s.ledger, log)
			s.jup = jupiter.New(httpClient, settings.JupiterAPIKey)
			s.llama = defillama.New(httpClient)
			s.pacer = pacing.NewPacerWithDelays(settings.PaceLight, settings.PaceMedium, settings.PaceHeavy)
			s.converter = convert.New(s.jup, s.pacer, log)
			s.discovery = discovery.New(s.protocol, s.ledger, s.converter, s.pacer, log)
			return nil
		},
	}
	cmd.SetFlagErrorFunc(func(_ *cobra.Command, err error) error {
		return clierr.Wrap(clierr.CodeUsage, "parse flags", err)
	})

	cmd.PersistentFlags().StringVar(&s.flags.ConfigPath, "config", "", "Path to config file")
	cmd.PersistentFlags().StringVar(&s.flags.RPCURL, "rpc-url", "", "Solana RPC endpoint")
	cmd.PersistentFlags().StringVar(&s.flags.KeypairPath, "keypair", "", "Path to wallet keypair file")
	cmd.PersistentFlags().BoolVar(&s.flags.JSON, "json", false, "Output JSON")
	cmd.PersistentFlags().BoolVar(&s.flags.Plain, "plain", false, "Output plain text (default)")
	cmd.PersistentFlags().BoolVarP(&s.flags.Verbose, "verbose", "v", false, "Enable debug logging")
	cmd.PersistentFlags().StringVar(&s.flags.Timeout, "timeout", "", "Per-request timeout")
	cmd.PersistentFlags().IntVar(&s.flags.Retries, "retries", -1, "Retries per read-only request")
	cmd.PersistentFlags().IntVar(&s.flags.SlippageBps, "slippage-bps", 0, "Swap slippage tolerance in basis points")

	cmd.AddCommand(s.newSchemaCommand(cmd))
	cmd.AddCommand(s.newPositionsCommand())
	cmd.AddCommand(s.newClaimCommand())
	cmd.AddCommand(s.newCloseCommand())
	cmd.AddCommand(s.newPriceCommand())
	cmd.AddCommand(s.newRunsCommand())
	cmd.AddCommand(newVersionCommand())

	return cmd
}

func (s *runtimeState) newSchemaCommand(root *cobra.Command) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "schema [command path]",
		Short: "Print machine-readable command schema",
		Args:  cobra.ArbitraryArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			path := strings.Join(args, " ")
			data, err := schema.Build(root, path)
			if err != nil {
				return err
			}
			enc := json.NewEncoder(s.runner.stdout)
			enc.SetIndent("", "  ")
			return enc.Encode(data)
		},
	}
	return cmd
}

func newVersionCommand() *cobra.Command {
	var long bool
	cmd := &cobra.Command{
		Use:   "version",
		Short: "Print CLI version",
		Run: func(cmd *cobra.Command, args []string) {
			if long {
				_, _ = fmt.Fprintln(cmd.OutOrStdout(), version.Long())
				return
			}
			_, _ = fmt.Fprintln(cmd.OutOrStdout(), version.CLIVersion)
		},
	}
	cmd.Flags().BoolVar(&long, "long", false, "Print extended build metadata")
	return cmd
}

// filterFlags holds the raw position-filter flag values shared by the
// positions, claim and close commands.
type filterFlags struct {
	maxFeeRatePct float64
	minFeesSOL    float64
	maxDepositSOL float64
}

// register adds the filter flags. The min-fee floor is claim-flow only;
// closing always claims whatever is pending first, so a floor there would
// strand positions.
func (f *filterFlags) register(cmd *cobra.Command, withMinFee bool) {
	cmd.Flags().Float64Var(&f.maxFeeRatePct, "max-fee-rate", 0, "Skip pools charging more than this fee percentage")
	if withMinFee {
		cmd.Flags().Float64Var(&f.minFeesSOL, "min-fees", 0, "Skip positions with pending fees below this SOL amount")
	}
	cmd.Flags().Float64Var(&f.maxDepositSOL, "max-deposit", 0, "Skip positions whose deposit value exceeds this SOL amount")
}

// criteria maps the set flags into filter criteria; untouched flags leave
// their filter disabled.
func (f *filterFlags) criteria(cmd *cobra.Command) (model.FilterCriteria, error) {
	var c model.FilterCriteria
	if cmd.Flags().Changed("max-fee-rate") {
		if f.maxFeeRatePct < 0 {
			return c, clierr.New(clierr.CodeUsage, "--max-fee-rate must be non-negative")
		}
		v := f.maxFeeRatePct
		c.MaxFeeRatePct = &v
	}
	if cmd.Flags().Changed("min-fees") {
		if f.minFeesSOL < 0 {
			return c, clierr.New(clierr.CodeUsage, "--min-fees must be non-negative")
		}
		v := uint64(f.minFeesSOL * float64(model.LamportsPerSOL))
		c.MinFeeLamports = &v
	}
	if cmd.Flags().Changed("max-deposit") {
		if f.maxDepositSOL < 0 {
			return c, clierr.New(clierr.CodeUsage, "--max-deposit must be non-negative")
		}
		v := uint64(f.maxDepositSOL * float64(model.LamportsPerSOL))
		c.MaxDepositLamports = &v
	}
	return c, nil
}

func (s *runtimeState) newPositionsCommand() *cobra.Command {
	var walletArg, poolArg string
	var ff filterFlags
	cmd := &cobra.Command{
		Use:   "positions",
		Short: "List a wallet's positions with fees, deposits and pool fee rates",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := commandContext()
			defer cancel()

			wallet, err := s.resolveWallet(walletArg)
			if err != nil {
				return err
			}
			pool, err := parseOptionalPubkey(poolArg, "--pool")
			if err != nil {
				return err
			}
			criteria, err := ff.criteria(cmd)
			if err != nil {
				return err
			}

			positions, err := s.discovery.Discover(ctx, wallet, pool)
			if err != nil {
				return err
			}
			eligible, skipped := filter.Apply(positions, criteria)
			for _, sk := range skipped {
				s.log.Info("filtered out position",
					zap.String("position", sk.Position.Address.String()),
					zap.String("reason", string(sk.Reason)))
			}

			return out.RenderPositions(s.runner.stdout, eligible, s.priceContext(ctx), s.settings.OutputMode)
		},
	}
	cmd.Flags().StringVar(&walletArg, "wallet", "", "Wallet public key (defaults to the configured keypair)")
	cmd.Flags().StringVar(&poolArg, "pool", "", "Restrict to one pool address")
	ff.register(cmd, true)
	return cmd
}

func (s *runtimeState) newClaimCommand() *cobra.Command {
	var poolArg string
	var swap bool
	var ff filterFlags
	cmd := &cobra.Command{
		Use:   "claim",
		Short: "Claim pending fees from eligible positions",
		RunE: func(cmd *cobra.Command, args []string) error {
			return s.runBatch(cmd, "claim", poolArg, swap, &ff)
		},
	}
	cmd.Flags().StringVar(&poolArg, "pool", "", "Restrict to one pool address")
	cmd.Flags().BoolVar(&swap, "swap", false, "Swap claimed non-SOL tokens into SOL")
	ff.register(cmd, true)
	return cmd
}

func (s *runtimeState) newCloseCommand() *cobra.Command {
	var poolArg string
	var swap bool
	var ff filterFlags
	cmd := &cobra.Command{
		Use:   "close",
		Short: "Claim fees, withdraw liquidity and close eligible positions",
		RunE: func(cmd *cobra.Command, args []string) error {
			return s.runBatch(cmd, "close", poolArg, swap, &ff)
		},
	}
	cmd.Flags().StringVar(&poolArg, "pool", "", "Restrict to one pool address")
	cmd.Flags().BoolVar(&swap, "swap", false, "Swap withdrawn non-SOL tokens into SOL")
	ff.register(cmd, false)
	return cmd
}

// runBatch is the shared claim/close driver: discover, filter, execute the
// lifecycle batch, journal the outcome and render it.
func (s *runtimeState) runBatch(cmd *cobra.Command, kind, poolArg string, swap bool, ff *filterFlags) error {
	ctx, cancel := commandContext()
	defer cancel()

	session, err := s.loadSession()
	if err != nil {
		return err
	}
	pool, err := parseOptionalPubkey(poolArg, "--pool")
	if err != nil {
		return err
	}
	criteria, err := ff.criteria(cmd)
	if err != nil {
		return err
	}

	positions, err := s.discovery.Discover(ctx, session.Wallet, pool)
	if err != nil {
		return err
	}
	eligible, skipped := filter.Apply(positions, criteria)
	s.log.Info("starting batch",
		zap.String("kind", kind),
		zap.Int("eligible", len(eligible)),
		zap.Int("filtered", len(skipped)))

	orch := sweep.New(s.protocol, s.ledger, s.jup, s.converter, s.pacer, s.log)
	opts := sweep.Options{
		SwapRequested: swap,
		SlippageBps:   s.settings.SlippageBps,
		MinSwapWorth:  s.settings.MinSwapWorth,
	}

	started := s.runner.now().UTC()
	var run model.AggregateRun
	if kind == "close" {
		run = orch.RunCloseBatch(ctx, session, eligible, opts)
	} else {
		run = orch.RunClaimBatch(ctx, session, eligible, opts)
	}
	for _, sk := range skipped {
		run.Record(model.OperationResult{
			Position: sk.Position.Address,
			Pool:     sk.Position.Pool,
			Filtered: true,
			Error:    string(sk.Reason),
		})
	}

	if err := s.recordRun(kind, session.Wallet, started, run); err != nil {
		s.log.Warn("journal write failed", zap.Error(err))
	}
	return out.RenderRun(s.runner.stdout, run, s.settings.OutputMode)
}

func (s *runtimeState) newPriceCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "price",
		Short: "Print the current SOL reference price",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := commandContext()
			defer cancel()
			return out.RenderPrice(s.runner.stdout, s.priceContext(ctx), s.settings.OutputMode)
		},
	}
	return cmd
}

func (s *runtimeState) newRunsCommand() *cobra.Command {
	root := &cobra.Command{Use: "runs", Short: "Inspect past claim/close runs"}

	var limit int
	list := &cobra.Command{
		Use:   "list",
		Short: "List recent runs",
		RunE: func(cmd *cobra.Command, args []string) error {
			j, err := s.openJournal()
			if err != nil {
				return err
			}
			defer func() { _ = j.Close() }()
			entries, err := j.List(limit)
			if err != nil {
				return clierr.Wrap(clierr.CodeInternal, "list runs", err)
			}
			return out.RenderJournal(s.runner.stdout, entries, s.settings.OutputMode)
		},
	}
	list.Flags().IntVar(&limit, "limit", 20, "Number of runs to return")
	root.AddCommand(list)

	show := &cobra.Command{
		Use:   "show <run-id>",
		Short: "Show one run in full",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			j, err := s.openJournal()
			if err != nil {
				return err
			}
			defer func() { _ = j.Close() }()
			entry, err := j.Get(args[0])
			if err != nil {
				return clierr.Wrap(clierr.CodeValidation, "load run", err)
			}
			return out.RenderRun(s.runner.stdout, entry.Run, s.settings.OutputMode)
		},
	}
	root.AddCommand(show)
	return root
}

// priceContext fetches the SOL/USD reference price, substituting the fallback
// when the source is unavailable.
func (s *runtimeState) priceContext(ctx context.Context) out.PriceContext {
	price, live := s.llama.SOLPriceUSD(ctx)
	if !live {
		s.log.Warn("SOL price source unavailable, using fallback",
			zap.Float64("fallback", price))
	}
	return out.PriceContext{SOLPriceUSD: price, Live: live}
}

// resolveWallet prefers the explicit flag and falls back to the configured
// keypair's public key.
func (s *runtimeState) resolveWallet(walletArg string) (solana.PublicKey, error) {
	if walletArg != "" {
		key, err := solana.PublicKeyFromBase58(walletArg)
		if err != nil {
			return solana.PublicKey{}, clierr.Wrap(clierr.CodeUsage, "parse --wallet", err)
		}
		return key, nil
	}
	if err := s.settings.RequireSigner(); err != nil {
		return solana.PublicKey{}, clierr.New(clierr.CodeConfig, "no wallet: pass --wallet or configure a keypair")
	}
	priv, err := solana.PrivateKeyFromSolanaKeygenFile(s.settings.KeypairPath)
	if err != nil {
		return solana.PublicKey{}, clierr.Wrap(clierr.CodeSigner, "load keypair", err)
	}
	return priv.PublicKey(), nil
}

func (s *runtimeState) loadSession() (sweep.Session, error) {
	if err := s.settings.RequireSigner(); err != nil {
		return sweep.Session{}, err
	}
	priv, err := solana.PrivateKeyFromSolanaKeygenFile(s.settings.KeypairPath)
	if err != nil {
		return sweep.Session{}, clierr.Wrap(clierr.CodeSigner, "load keypair", err)
	}
	return sweep.Session{Wallet: priv.PublicKey(), Signer: priv}, nil
}

func (s *runtimeState) openJournal() (*journal.Journal, error) {
	j, err := journal.Open(s.settings.JournalPath, s.settings.JournalLockPath)
	if err != nil {
		return nil, clierr.Wrap(clierr.CodeInternal, "open run journal", err)
	}
	return j, nil
}

func (s *runtimeState) recordRun(kind string, wallet solana.PublicKey, started time.Time, run model.AggregateRun) error {
	j, err := s.openJournal()
	if err != nil {
		return err
	}
	defer func() { _ = j.Close() }()
	return j.Record(journal.Entry{
		RunID:      newRunID(kind),
		Kind:       kind,
		Wallet:     wallet.String(),
		StartedAt:  started.Format(time.RFC3339),
		FinishedAt: s.runner.now().UTC().Format(time.RFC3339),
		Run:        run,
	})
}

func newRunID(kind string) string {
	buf := make([]byte, 6)
	if _, err := rand.Read(buf); err != nil {
		return fmt.Sprintf("%s-%d", kind, time.Now().UnixNano())
	}
	return fmt.Sprintf("%s-%s", kind, hex.EncodeToString(buf))
}

func parseOptionalPubkey(arg, flagName string) (*solana.PublicKey, error) {
	if arg == "" {
		return nil, nil
	}
	key, err := solana.PublicKeyFromBase58(arg)
	if err != nil {
		return nil, clierr.Wrap(clierr.CodeUsage, "parse "+flagName, err)
	}
	return &key, nil
}

// commandContext cancels on interrupt so a batch stops between positions
// instead of mid-transaction.
func commandContext() (context.Context, context.CancelFunc) {
	return signal.NotifyContext(context.Background(), os.Interrupt)
}
