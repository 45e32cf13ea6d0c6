package app

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/spf13/cobra"

	"github.com/ggonzalez94/xbridge/internal/chain"
	clierr "github.com/ggonzalez94/xbridge/internal/errors"
	"github.com/ggonzalez94/xbridge/internal/execution"
	execsigner "github.com/ggonzalez94/xbridge/internal/execution/signer"
	"github.com/ggonzalez94/xbridge/internal/model"
)

type executeFlags struct {
	route          routeFlags
	intentPath     string
	provider       string
	recipient      string
	slippage       float64
	feeMode        string
	yes            bool
	track          bool
	keySource      string
	confirmAddress string
	simulate       bool
	pollInterval   string
	stepTimeout    string
	gasMultiplier  float64
	maxFeeGwei     string
	maxPriorityFee string
}

func (s *runtimeState) newExecuteCommand() *cobra.Command {
	var f executeFlags
	cmd := &cobra.Command{
		Use:   "execute",
		Short: "Quote, then submit the best (or chosen) bridge route",
		RunE: func(cmd *cobra.Command, _ []string) error {
			if !f.yes {
				return clierr.New(clierr.CodeUsage, "execute requires --yes")
			}
			return s.runExecute(cmd.Context(), f, cmd.Flags().Changed("fee-mode"))
		},
	}
	fl := cmd.Flags()
	fl.StringVar(&f.intentPath, "intent", "", "Path to an intent JSON file {source, destination, token, amount, gasPreference}")
	fl.StringVar(&f.route.source, "from", "", "Source chain")
	fl.StringVar(&f.route.destination, "to", "", "Destination chain")
	fl.StringVar(&f.route.token, "token", "", "Token symbol")
	fl.StringVar(&f.route.amount, "amount", "", "Amount in decimal units")
	fl.StringVar(&f.provider, "provider", "", "Force a provider instead of the best-ranked route")
	fl.StringVar(&f.recipient, "recipient", "", "Destination recipient (defaults to the signer)")
	fl.Float64Var(&f.slippage, "slippage", 0.5, "Slippage tolerance in percent")
	fl.StringVar(&f.feeMode, "fee-mode", model.FeeModeNative, "Pay fees in native gas or in the token via relay (native|token)")
	fl.BoolVar(&f.yes, "yes", false, "Confirm execution")
	fl.BoolVar(&f.track, "track", false, "Wait for settlement after submission")
	fl.StringVar(&f.keySource, "key-source", string(execsigner.KeySourceAuto), "Key source (auto|env|file|keystore)")
	fl.StringVar(&f.confirmAddress, "confirm-address", "", "Require signer address to match this value")
	fl.BoolVar(&f.simulate, "simulate", true, "Run preflight simulation before submission")
	fl.StringVar(&f.pollInterval, "poll-interval", "2s", "Receipt polling interval")
	fl.StringVar(&f.stepTimeout, "step-timeout", "2m", "Per-transaction receipt timeout")
	fl.Float64Var(&f.gasMultiplier, "gas-multiplier", 1.2, "Gas estimate safety multiplier")
	fl.StringVar(&f.maxFeeGwei, "max-fee-gwei", "", "Optional EIP-1559 max fee (gwei)")
	fl.StringVar(&f.maxPriorityFee, "max-priority-fee-gwei", "", "Optional EIP-1559 max priority fee (gwei)")
	return cmd
}

func (s *runtimeState) runExecute(ctx context.Context, f executeFlags, feeModeSet bool) error {
	input := f.route.input()
	feeMode := strings.ToLower(strings.TrimSpace(f.feeMode))
	if f.intentPath != "" {
		intent, err := loadIntent(f.intentPath)
		if err != nil {
			return err
		}
		input = routeRequestInput{Source: intent.Source, Destination: intent.Destination, Token: intent.Token, Amount: intent.Amount}
		if !feeModeSet && intent.GasPreference != "" {
			feeMode = strings.ToLower(strings.TrimSpace(intent.GasPreference))
		}
	}
	if feeMode != model.FeeModeNative && feeMode != model.FeeModeToken {
		return clierr.New(clierr.CodeUsage, "fee mode must be native or token")
	}

	txSigner, err := newExecutionSigner(f.keySource, f.confirmAddress)
	if err != nil {
		return err
	}
	recipient := txSigner.Address()
	if strings.TrimSpace(f.recipient) != "" {
		if !common.IsHexAddress(f.recipient) {
			return clierr.New(clierr.CodeUsage, "recipient must be an EVM address")
		}
		recipient = common.HexToAddress(f.recipient)
	}
	sendOpts, err := parseSendOptions(f)
	if err != nil {
		return err
	}

	input.Sender = txSigner.Address().Hex()
	req, err := parseRouteRequest(input)
	if err != nil {
		return err
	}
	res, ranked, err := s.rankedRoutes(ctx, req)
	s.lastStatuses = res.Providers
	if err != nil {
		return err
	}
	chosen, err := pickRoute(ranked, f.provider)
	if err != nil {
		return err
	}

	store, err := s.ensureStore()
	if err != nil {
		return err
	}
	opts := execution.Options{
		Send:            sendOpts,
		ReserveGasUnits: s.settings.ReserveGasUnits,
		Store:           store,
		OnSubmitted: func(rec model.BridgeRecord) {
			s.log.Info().Str("record", rec.ID).Str("tx", rec.SourceTxHash).Str("provider", rec.Provider).Msg("bridge transfer submitted")
		},
	}
	if feeMode == model.FeeModeToken {
		relayer, err := s.newRelayer()
		if err != nil {
			return err
		}
		opts.Relayer = relayer
	}
	engine := execution.NewEngine(s.aggregator, s.chainBackends(), opts, s.log)
	rec, err := engine.Execute(ctx, execution.Request{
		Quote:           chosen.Route,
		Recipient:       recipient,
		SlippagePercent: f.slippage,
		FeeMode:         feeMode,
	}, txSigner)
	if err != nil {
		return err
	}

	var warnings []string
	if feeMode == model.FeeModeToken && !rec.Relayed {
		warnings = append(warnings, fmt.Sprintf("gasless submission is not available for %s on %s; paid in native gas", rec.Token, rec.SourceChain))
	}
	if f.track {
		monitor, err := s.newMonitor(store)
		if err != nil {
			return err
		}
		rec = monitor.Track(rec).Run(ctx)
		if !rec.Status.Terminal() {
			warnings = append(warnings, "tracking stopped before settlement; resume with: status "+rec.ID+" --track")
		}
	}
	return s.emitSuccess(rec, warnings, res.Providers, cacheMeta(res))
}

func loadIntent(path string) (model.Intent, error) {
	buf, err := os.ReadFile(path)
	if err != nil {
		return model.Intent{}, clierr.Wrap(clierr.CodeUsage, "read intent file", err)
	}
	var intent model.Intent
	if err := json.Unmarshal(buf, &intent); err != nil {
		return model.Intent{}, clierr.Wrap(clierr.CodeUsage, "parse intent file", err)
	}
	return intent, nil
}

func newExecutionSigner(keySource, confirmAddress string) (*execsigner.LocalSigner, error) {
	txSigner, err := execsigner.FromEnv(keySource)
	if err != nil {
		return nil, clierr.Wrap(clierr.CodeSigner, "initialize signer", err)
	}
	if confirm := strings.TrimSpace(confirmAddress); confirm != "" {
		if !common.IsHexAddress(confirm) {
			return nil, clierr.New(clierr.CodeUsage, "--confirm-address must be an EVM address")
		}
		if common.HexToAddress(confirm) != txSigner.Address() {
			return nil, clierr.New(clierr.CodeSigner, "signer address does not match --confirm-address")
		}
	}
	return txSigner, nil
}

func parseSendOptions(f executeFlags) (chain.SendOptions, error) {
	opts := chain.DefaultSendOptions()
	opts.Simulate = f.simulate
	poll, err := time.ParseDuration(f.pollInterval)
	if err != nil || poll <= 0 {
		return chain.SendOptions{}, clierr.New(clierr.CodeUsage, "--poll-interval must be a positive duration")
	}
	timeout, err := time.ParseDuration(f.stepTimeout)
	if err != nil || timeout <= 0 {
		return chain.SendOptions{}, clierr.New(clierr.CodeUsage, "--step-timeout must be a positive duration")
	}
	if f.gasMultiplier < 1 {
		return chain.SendOptions{}, clierr.New(clierr.CodeUsage, "--gas-multiplier must be at least 1")
	}
	for name, v := range map[string]string{"--max-fee-gwei": f.maxFeeGwei, "--max-priority-fee-gwei": f.maxPriorityFee} {
		if strings.TrimSpace(v) == "" {
			continue
		}
		if _, err := chain.ParseGwei(v); err != nil {
			return chain.SendOptions{}, clierr.Wrap(clierr.CodeUsage, "parse "+name, err)
		}
	}
	opts.PollInterval = poll
	opts.ReceiptTimeout = timeout
	opts.GasMultiplier = f.gasMultiplier
	opts.MaxFeeGwei = f.maxFeeGwei
	opts.MaxPriorityFeeGwei = f.maxPriorityFee
	return opts, nil
}
