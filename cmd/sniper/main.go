// Command sniper runs the execution-core supervisor process: it wires
// the candidate buffer, slot lease manager, RPC broadcaster, transaction
// builder and execution engine together from CLI flags and drives the
// engine until interrupted.
package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/ethereum/go-ethereum/log"
	"github.com/fatih/color"
	"github.com/gagliardetto/solana-go"
	"github.com/urfave/cli/v2"
	"gopkg.in/natefinch/lumberjack.v2"

	"github.com/solraceio/sniper/broadcast"
	"github.com/solraceio/sniper/candidate"
	"github.com/solraceio/sniper/config"
	"github.com/solraceio/sniper/engine"
	"github.com/solraceio/sniper/slotlease"
	"github.com/solraceio/sniper/txbuilder"
	"github.com/solraceio/sniper/types"
)

var (
	RPCEndpointsFlag = &cli.StringSliceFlag{
		Name:  "rpc-endpoint",
		Usage: "RPC endpoint URL (repeatable); at least one required",
	}
	BroadcastModeFlag = &cli.StringFlag{
		Name:  "broadcast-mode",
		Usage: "pairwise | replicate_single | round_robin | full_fanout",
		Value: "pairwise",
	}
	RPCTimeoutFlag = &cli.IntFlag{
		Name:  "rpc-timeout-sec",
		Usage: "per-send timeout in seconds",
		Value: 8,
	}
	EarlyCancelThresholdFlag = &cli.IntFlag{
		Name:  "early-cancel-threshold",
		Usage: "fatal errors observed before aborting a broadcast (0 = endpoint count)",
		Value: 0,
	}

	NonceCountFlag = &cli.IntFlag{
		Name:  "nonce-count",
		Usage: "number of parallel transaction slots per buy attempt",
		Value: 5,
	}
	CandidateTTLMsFlag = &cli.IntFlag{
		Name:  "candidate-ttl-ms",
		Usage: "candidate buffer entry time-to-live in milliseconds",
		Value: 30_000,
	}
	CandidateBufferSizeFlag = &cli.IntFlag{
		Name:  "candidate-buffer-size",
		Usage: "maximum staged candidates",
		Value: 1024,
	}
	RateLimitWindowSecFlag = &cli.IntFlag{
		Name:  "rate-limit-window-sec",
		Usage: "per-mint rate limit window in seconds",
		Value: 60,
	}
	RateLimitMaxAttemptsFlag = &cli.IntFlag{
		Name:  "rate-limit-max-attempts",
		Usage: "maximum buy attempts per mint per window",
		Value: 5,
	}

	PrivateKeyFlag = &cli.StringFlag{
		Name:     "signer-private-key",
		Usage:    "base58-encoded Solana private key used to sign transactions",
		Required: true,
		EnvVars:  []string{"SNIPER_SIGNER_PRIVATE_KEY"},
	}
	ComputeUnitLimitFlag = &cli.UintFlag{
		Name:  "compute-unit-limit",
		Usage: "compute-budget unit limit prelude instruction",
		Value: 200_000,
	}
	ComputeUnitPriceFlag = &cli.Uint64Flag{
		Name:  "compute-unit-price-micro-lamports",
		Usage: "compute-budget unit price prelude instruction, base value before per-slot tiebreaking",
		Value: 0,
	}
	LamportsPerBuyFlag = &cli.Uint64Flag{
		Name:  "lamports-per-buy",
		Usage: "lamports spent per buy attempt",
		Value: 10_000_000,
	}

	GUIUpdateIntervalMsFlag = &cli.IntFlag{
		Name:  "gui-update-interval-ms",
		Usage: "operator console refresh interval in milliseconds (pass-through; the console itself is out of scope)",
		Value: 250,
	}
	SnifferModeFlag = &cli.StringFlag{
		Name:  "sniffer-mode",
		Usage: "real | mock (pass-through; validated and logged only, this process wires no candidate source)",
		Value: "real",
	}

	LogFileFlag = &cli.StringFlag{
		Name:  "log-file",
		Usage: "optional rotating log file path; stderr is always used in addition",
	}
)

func main() {
	app := &cli.App{
		Name:  "sniper",
		Usage: "Solana launch-sniper execution core",
		Flags: []cli.Flag{
			RPCEndpointsFlag, BroadcastModeFlag, RPCTimeoutFlag, EarlyCancelThresholdFlag,
			NonceCountFlag, CandidateTTLMsFlag, CandidateBufferSizeFlag,
			RateLimitWindowSecFlag, RateLimitMaxAttemptsFlag,
			GUIUpdateIntervalMsFlag, SnifferModeFlag,
			PrivateKeyFlag, ComputeUnitLimitFlag, ComputeUnitPriceFlag, LamportsPerBuyFlag,
			LogFileFlag,
		},
		Action: run,
	}

	if err := app.Run(os.Args); err != nil {
		log.Error("sniper: fatal startup error", "err", err)
		os.Exit(1)
	}
	os.Exit(0)
}

func run(cliCtx *cli.Context) error {
	var logOut io.Writer = os.Stderr
	if logFile := cliCtx.String(LogFileFlag.Name); logFile != "" {
		rotator := &lumberjack.Logger{
			Filename:   logFile,
			MaxSize:    100,
			MaxBackups: 5,
			MaxAge:     14,
			Compress:   true,
		}
		logOut = io.MultiWriter(os.Stderr, rotator)
	}
	log.SetDefault(log.NewLogger(log.NewTerminalHandler(logOut, false)))

	broadcasterCfg, engineCfg, err := configFromFlags(cliCtx)
	if err != nil {
		return fmt.Errorf("configuration: %w", err)
	}
	log.Info("sniper: configuration validated", "broadcaster", broadcasterCfg.String(), "engine", engineCfg.String())

	signer, err := signerFromFlag(cliCtx.String(PrivateKeyFlag.Name))
	if err != nil {
		return fmt.Errorf("signer: %w", err)
	}

	buildCfg := txbuilder.BuildConfig{
		LamportsPerBuy:                    cliCtx.Uint64(LamportsPerBuyFlag.Name),
		ComputeUnitLimit:                  uint32(cliCtx.Uint(ComputeUnitLimitFlag.Name)),
		BaseComputeUnitPriceMicroLamports: cliCtx.Uint64(ComputeUnitPriceFlag.Name),
	}

	buf := candidate.New(engineCfg.CandidateTTL, engineCfg.CandidateBufferSize)
	slots := slotlease.New(engineCfg.NonceCount)
	bcaster := broadcast.New(broadcasterCfg)
	builder := txbuilder.NewSolanaBuilder(signer, broadcasterCfg.Endpoints)

	candidates := make(chan types.PremintCandidate, engineCfg.CandidateBufferSize)
	sells := make(chan engine.SellRequest, 1)
	eng := engine.New(engineCfg, buildCfg, buf, slots, bcaster, builder, candidates, sells)

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	go printStatus(ctx, eng, engineCfg.GUIUpdateInterval)

	log.Info("sniper: engine starting")
	eng.Run(ctx)
	log.Info("sniper: clean shutdown")
	return nil
}

func configFromFlags(cliCtx *cli.Context) (config.BroadcasterConfig, config.EngineConfig, error) {
	mode, err := config.ParseBroadcastMode(cliCtx.String(BroadcastModeFlag.Name))
	if err != nil {
		return config.BroadcasterConfig{}, config.EngineConfig{}, err
	}

	broadcasterCfg := config.BroadcasterConfig{
		Endpoints:            cliCtx.StringSlice(RPCEndpointsFlag.Name),
		BroadcastMode:        mode,
		RPCTimeout:           time.Duration(cliCtx.Int(RPCTimeoutFlag.Name)) * time.Second,
		EarlyCancelThreshold: cliCtx.Int(EarlyCancelThresholdFlag.Name),
	}
	if err := broadcasterCfg.Validate(); err != nil {
		return config.BroadcasterConfig{}, config.EngineConfig{}, err
	}

	snifferMode, err := config.ParseSnifferMode(cliCtx.String(SnifferModeFlag.Name))
	if err != nil {
		return config.BroadcasterConfig{}, config.EngineConfig{}, err
	}

	engineCfg := config.EngineConfig{
		NonceCount:           cliCtx.Int(NonceCountFlag.Name),
		CandidateTTL:         time.Duration(cliCtx.Int(CandidateTTLMsFlag.Name)) * time.Millisecond,
		CandidateBufferSize:  cliCtx.Int(CandidateBufferSizeFlag.Name),
		RateLimitWindow:      time.Duration(cliCtx.Int(RateLimitWindowSecFlag.Name)) * time.Second,
		RateLimitMaxAttempts: cliCtx.Int(RateLimitMaxAttemptsFlag.Name),
		GUIUpdateInterval:    time.Duration(cliCtx.Int(GUIUpdateIntervalMsFlag.Name)) * time.Millisecond,
		SnifferMode:          snifferMode,
	}
	if err := engineCfg.Validate(); err != nil {
		return config.BroadcasterConfig{}, config.EngineConfig{}, err
	}

	return broadcasterCfg, engineCfg, nil
}

func signerFromFlag(base58Key string) (*txbuilder.PrivateKeySigner, error) {
	key, err := solana.PrivateKeyFromBase58(strings.TrimSpace(base58Key))
	if err != nil {
		return nil, fmt.Errorf("parse signer private key: %w", err)
	}
	return txbuilder.NewPrivateKeySigner(key), nil
}

// printStatus is a minimal, non-GUI operator status line: mode, active
// mint, last buy price, holdings percent, refreshed on mode changes.
// It is intentionally not the out-of-scope graphical console.
func printStatus(ctx context.Context, eng *engine.Engine, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	lastMode := types.Mode(-1)
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			st := eng.State()
			if st.Mode == lastMode {
				continue
			}
			lastMode = st.Mode

			line := fmt.Sprintf("mode=%s holdings=%.2f%%", st.Mode, st.HoldingsPercent*100)
			if st.ActiveToken != nil {
				line += fmt.Sprintf(" mint=%s", st.ActiveToken.Mint)
			}
			if st.LastBuyPrice != nil {
				line += fmt.Sprintf(" last_buy_price=%g", *st.LastBuyPrice)
			}
			if st.Mode == types.ModePassiveToken {
				color.New(color.FgGreen, color.Bold).Println(line)
			} else {
				color.New(color.FgCyan).Println(line)
			}
		}
	}
}
