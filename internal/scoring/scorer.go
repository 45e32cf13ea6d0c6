// Package scoring ranks route quotes by fee, time, reliability and liquidity.
package scoring

import (
	"math"
	"sort"
	"strconv"

	"github.com/ggonzalez94/xbridge/internal/model"
	"github.com/ggonzalez94/xbridge/internal/registry"
)

// Weights of the total score. They sum to 1.
const (
	WeightFee         = 0.35
	WeightTime        = 0.25
	WeightReliability = 0.25
	WeightLiquidity   = 0.15
)

// Profile returns curated reliability and liquidity scores for a provider.
type Profile func(provider string) (reliability, liquidity float64)

type Scorer struct {
	prices  map[string]float64
	profile Profile
}

// New builds a Scorer. prices overrides the reference price table used to
// value native fees in the transferred token.
func New(prices map[string]float64) *Scorer {
	return &Scorer{prices: prices, profile: registry.Profile}
}

func (s *Scorer) WithProfile(p Profile) *Scorer {
	s.profile = p
	return s
}

// FeeInToken is the native fee valued in the transfer token plus the protocol
// fee. Without a price for either side the native fee counts at par.
func (s *Scorer) FeeInToken(q model.RouteQuote) float64 {
	native := decimalValue(q.NativeFee)
	protocol := decimalValue(q.ProtocolFee)
	if native == 0 {
		return protocol
	}
	nativePrice, okN := registry.Price(s.prices, q.NativeFee.Symbol)
	tokenPrice, okT := registry.Price(s.prices, q.Token)
	if okN && okT && tokenPrice > 0 {
		return native*nativePrice/tokenPrice + protocol
	}
	return native + protocol
}

func decimalValue(a model.AmountInfo) float64 {
	v, err := strconv.ParseFloat(a.AmountDecimal, 64)
	if err != nil {
		return 0
	}
	return v
}

// Score ranks routes best first. Equal totals are ordered by provider name.
func (s *Scorer) Score(routes []model.RouteQuote) []model.ScoredRoute {
	if len(routes) == 0 {
		return nil
	}
	fees := make([]float64, len(routes))
	times := make([]float64, len(routes))
	for i, q := range routes {
		fees[i] = s.FeeInToken(q)
		times[i] = float64(q.EstimatedMinutes)
	}
	feeScores := inverseNormalize(fees)
	timeScores := inverseNormalize(times)

	out := make([]model.ScoredRoute, len(routes))
	for i, q := range routes {
		rel, liq := s.profile(q.Provider)
		total := WeightFee*feeScores[i] + WeightTime*timeScores[i] + WeightReliability*rel + WeightLiquidity*liq
		out[i] = model.ScoredRoute{
			Route:            q,
			FeeScore:         round(feeScores[i]),
			TimeScore:        round(timeScores[i]),
			ReliabilityScore: rel,
			LiquidityScore:   liq,
			TotalScore:       round(total),
			TotalFeeInToken:  fees[i],
		}
	}
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].TotalScore != out[j].TotalScore {
			return out[i].TotalScore > out[j].TotalScore
		}
		return out[i].Route.Provider < out[j].Route.Provider
	})
	return out
}

// inverseNormalize maps the minimum to 10 and the maximum to 1, linearly.
// Equal values all score 10.
func inverseNormalize(values []float64) []float64 {
	lo, hi := values[0], values[0]
	for _, v := range values[1:] {
		lo = math.Min(lo, v)
		hi = math.Max(hi, v)
	}
	out := make([]float64, len(values))
	for i, v := range values {
		if hi == lo {
			out[i] = 10
			continue
		}
		out[i] = 10 - 9*(v-lo)/(hi-lo)
	}
	return out
}

// round keeps scores stable under float noise so ordering is deterministic.
func round(v float64) float64 {
	return math.Round(v*1e6) / 1e6
}
