package scoring

import (
	"math"
	"reflect"
	"testing"

	"github.com/ggonzalez94/xbridge/internal/model"
)

func quote(provider, native, protocol string, minutes int) model.RouteQuote {
	return model.RouteQuote{
		Provider:         provider,
		Token:            "USDC",
		NativeFee:        model.AmountInfo{AmountDecimal: native, Symbol: "ETH"},
		ProtocolFee:      model.AmountInfo{AmountDecimal: protocol, Symbol: "USDC"},
		EstimatedMinutes: minutes,
	}
}

func flatProfile(string) (float64, float64) { return 8, 8 }

func TestFeeTermDecidesWhenEverythingElseIsEqual(t *testing.T) {
	s := New(nil).WithProfile(flatProfile)
	scored := s.Score([]model.RouteQuote{
		quote("first", "0.01", "0.5", 10),
		quote("second", "0.02", "0.3", 10),
	})
	if scored[0].Route.Provider != "first" {
		t.Fatalf("expected the cheaper route first, got %s", scored[0].Route.Provider)
	}
	if scored[0].FeeScore != 10 || scored[1].FeeScore != 1 {
		t.Fatalf("unexpected fee scores: %v / %v", scored[0].FeeScore, scored[1].FeeScore)
	}
	if scored[0].TimeScore != 10 || scored[1].TimeScore != 10 {
		t.Fatal("equal times must all score 10")
	}
	diff := scored[0].TotalScore - scored[1].TotalScore
	if math.Abs(diff-0.35*9) > 1e-6 {
		t.Fatalf("expected a 0.35*9 gap, got %v", diff)
	}
}

func TestNativeFeeValuedInToken(t *testing.T) {
	s := New(map[string]float64{"ETH": 3000, "USDC": 1})
	scored := s.Score([]model.RouteQuote{
		quote("first", "0.01", "0.5", 10),
		quote("second", "0.02", "0.3", 10),
	})
	if math.Abs(scored[0].TotalFeeInToken-30.5) > 1e-9 || math.Abs(scored[1].TotalFeeInToken-60.3) > 1e-9 {
		t.Fatalf("unexpected fees in token: %v / %v", scored[0].TotalFeeInToken, scored[1].TotalFeeInToken)
	}

	// At par the protocol fee dominates and the order flips.
	par := New(map[string]float64{"ETH": 1, "USDC": 1}).WithProfile(flatProfile).Score([]model.RouteQuote{
		quote("first", "0.01", "0.5", 10),
		quote("second", "0.02", "0.3", 10),
	})
	if par[0].Route.Provider != "second" {
		t.Fatalf("expected second first at par prices, got %s", par[0].Route.Provider)
	}
}

func TestScoreIsDeterministic(t *testing.T) {
	s := New(nil)
	routes := []model.RouteQuote{
		quote("stargate", "0.001", "0.6", 10),
		quote("across", "0", "0.5", 5),
		quote("hop", "0", "0.4", 20),
		quote("socket", "0", "0.5", 10),
	}
	a := s.Score(routes)
	b := s.Score(routes)
	if !reflect.DeepEqual(a, b) {
		t.Fatal("scoring must be deterministic")
	}
	for i := 1; i < len(a); i++ {
		if a[i-1].TotalScore < a[i].TotalScore {
			t.Fatalf("expected descending totals, got %v before %v", a[i-1].TotalScore, a[i].TotalScore)
		}
	}
}

func TestTiesBrokenByProviderName(t *testing.T) {
	s := New(nil).WithProfile(flatProfile)
	scored := s.Score([]model.RouteQuote{
		quote("zeta", "0", "1", 5),
		quote("alpha", "0", "1", 5),
	})
	if scored[0].Route.Provider != "alpha" || scored[0].TotalScore != scored[1].TotalScore {
		t.Fatalf("expected alpha first on a tie, got %+v", scored)
	}
}

func TestUnknownProviderGetsDefaultProfile(t *testing.T) {
	scored := New(nil).Score([]model.RouteQuote{quote("mystery", "0", "1", 5)})
	if scored[0].ReliabilityScore != 5 || scored[0].LiquidityScore != 5 {
		t.Fatalf("expected default profile, got %+v", scored[0])
	}
	// Single route: fee and time both 10.
	if math.Abs(scored[0].TotalScore-8) > 1e-6 {
		t.Fatalf("unexpected total %v", scored[0].TotalScore)
	}
}
