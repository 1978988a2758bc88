// Package metrics registers the process-wide counters, gauges and timers
// for the candidate/buy/sell pipeline, in the shape of preconf.metrics:
// package-level registered metrics plus small update helpers so call
// sites never touch the registry directly.
package metrics

import (
	"time"

	"github.com/ethereum/go-ethereum/metrics"
)

var (
	BuyAttemptsTotalMeter         = metrics.NewRegisteredMeter("sniper/buy/attempts", nil)
	BuySuccessTotalMeter          = metrics.NewRegisteredMeter("sniper/buy/success", nil)
	BuyFailureTotalMeter          = metrics.NewRegisteredMeter("sniper/buy/failure", nil)
	BuyAttemptsFilteredMeter      = metrics.NewRegisteredMeter("sniper/buy/filtered", nil)
	BuyAttemptsRateLimitedMeter   = metrics.NewRegisteredMeter("sniper/buy/rate_limited", nil)
	BuyAttemptsSecurityRejected   = metrics.NewRegisteredMeter("sniper/buy/security_rejected", nil)
	SellAttemptsTotalMeter        = metrics.NewRegisteredMeter("sniper/sell/attempts", nil)
	SellSuccessTotalMeter         = metrics.NewRegisteredMeter("sniper/sell/success", nil)
	SellFailureTotalMeter         = metrics.NewRegisteredMeter("sniper/sell/failure", nil)
	DuplicateSignatureMeter       = metrics.NewRegisteredMeter("sniper/signature/duplicate", nil)
	SoftSuccessMeter              = metrics.NewRegisteredMeter("sniper/broadcast/soft_success", nil)
	EarlyCancelMeter              = metrics.NewRegisteredMeter("sniper/broadcast/early_cancel", nil)

	HoldingsPercentGauge = metrics.NewRegisteredGaugeFloat64("sniper/engine/holdings_percent", nil)
	SlotLeasesHeldGauge  = metrics.NewRegisteredGauge("sniper/slotlease/outstanding", nil)
	CandidateBufferGauge = metrics.NewRegisteredGauge("sniper/candidate/buffer_size", nil)

	BuyAttemptTimer    = metrics.NewRegisteredTimer("sniper/buy/duration", nil)
	SellAttemptTimer   = metrics.NewRegisteredTimer("sniper/sell/duration", nil)
	BroadcastSendTimer = metrics.NewRegisteredTimer("sniper/broadcast/send_duration", nil)
)

// EndpointSuccessMeter returns (or creates) the registered success meter
// for a specific RPC endpoint, keyed by its URL. It and the per-endpoint
// helpers below let dashboards break down latency and success rate per
// endpoint.
func EndpointSuccessMeter(endpoint string) metrics.Meter {
	return metrics.GetOrRegisterMeter("sniper/endpoint/"+endpoint+"/success", nil)
}

func EndpointFailureMeter(endpoint string) metrics.Meter {
	return metrics.GetOrRegisterMeter("sniper/endpoint/"+endpoint+"/failure", nil)
}

func EndpointLatencyGauge(endpoint string) metrics.GaugeFloat64 {
	return metrics.GetOrRegisterGaugeFloat64("sniper/endpoint/"+endpoint+"/ema_latency_ms", nil)
}

func EndpointScoreGauge(endpoint string) metrics.GaugeFloat64 {
	return metrics.GetOrRegisterGaugeFloat64("sniper/endpoint/"+endpoint+"/score", nil)
}

// TimeBuyAttempt records the wall-clock duration of a buy attempt that
// started at start.
func TimeBuyAttempt(start time.Time) {
	BuyAttemptTimer.Update(time.Since(start))
}

// TimeSellAttempt records the wall-clock duration of a sell attempt that
// started at start.
func TimeSellAttempt(start time.Time) {
	SellAttemptTimer.Update(time.Since(start))
}

// TimeBroadcastSend records the wall-clock duration of one (tx, endpoint)
// broadcast attempt that started at start.
func TimeBroadcastSend(start time.Time) {
	BroadcastSendTimer.Update(time.Since(start))
}
