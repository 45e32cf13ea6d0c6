package registry

import (
	"strings"
	"testing"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"

	"github.com/ggonzalez94/xbridge/internal/id"
)

func TestBridgeABIConstantsParse(t *testing.T) {
	abis := []string{
		ERC20MinimalABI,
		StargateRouterABI,
		StargateRouterETHABI,
		LayerZeroPacketReceivedABI,
		HopL1BridgeABI,
		HopL2AmmWrapperABI,
		HopL2BridgeABI,
		HopBridgeEventsABI,
		AcrossSpokePoolABI,
	}
	for _, raw := range abis {
		if _, err := abi.JSON(strings.NewReader(raw)); err != nil {
			t.Fatalf("failed to parse abi json: %v", err)
		}
	}
}

func hasInput(event abi.Event, name string) bool {
	for _, input := range event.Inputs {
		if input.Name == name {
			return true
		}
	}
	return false
}

func TestCompletionEventsExistInABI(t *testing.T) {
	for _, d := range Descriptors() {
		if d.Kind != KindOnchain {
			continue
		}
		if len(d.Completions) == 0 {
			t.Fatalf("%s: no completion events", d.Name)
		}
		for _, ev := range d.Completions {
			parsed, err := abi.JSON(strings.NewReader(ev.ABI))
			if err != nil {
				t.Fatalf("%s: parse completion abi: %v", d.Name, err)
			}
			event, ok := parsed.Events[ev.Name]
			if !ok {
				t.Fatalf("%s: completion event %s missing from abi", d.Name, ev.Name)
			}
			for _, arg := range []string{ev.SourceChainArg, ev.RecipientArg, ev.TargetArg, ev.TransferIDArg} {
				if arg != "" && !hasInput(event, arg) {
					t.Fatalf("%s: event %s has no argument %s", d.Name, event.Name, arg)
				}
			}
			if ev.SourceEvent != "" {
				source, ok := parsed.Events[ev.SourceEvent]
				if !ok || ev.TransferIDArg == "" || !hasInput(source, ev.TransferIDArg) {
					t.Fatalf("%s: source event %s cannot carry the transfer id", d.Name, ev.SourceEvent)
				}
			}
			if ev.SourceChainArg == "" && ev.ImpliedSource == "" && ev.SourceEvent == "" {
				t.Fatalf("%s: completion event %s has no way to identify the transfer", d.Name, ev.Name)
			}
		}
	}
}

func TestCompletionForPicksBySourceChain(t *testing.T) {
	hop, _ := Lookup(ProviderHop)
	ev, ok := hop.CompletionFor("ethereum")
	if !ok || ev.Name != "TransferFromL1Completed" {
		t.Fatalf("expected L1 deposit event, got %+v", ev)
	}
	ev, ok = hop.CompletionFor("arbitrum")
	if !ok || ev.Name != "WithdrawalBonded" || ev.SourceEvent != "TransferSent" {
		t.Fatalf("expected bonded withdrawal event, got %+v", ev)
	}

	stargate, _ := Lookup(ProviderStargate)
	ev, ok = stargate.CompletionFor("polygon")
	if !ok || ev.TargetArg != "dstAddress" {
		t.Fatalf("expected target-checked PacketReceived, got %+v", ev)
	}
}

func TestTargetedCompletionsHaveTargets(t *testing.T) {
	for _, d := range Descriptors() {
		needsTarget := false
		for _, ev := range d.Completions {
			needsTarget = needsTarget || ev.TargetArg != ""
		}
		if !needsTarget {
			continue
		}
		for symbol, chains := range d.Contracts {
			for slug, c := range chains {
				if !common.IsHexAddress(c.Target) {
					t.Fatalf("%s: %s on %s has no completion target", d.Name, symbol, slug)
				}
			}
		}
	}
}

func TestDescriptorTablesAreConsistent(t *testing.T) {
	for _, d := range Descriptors() {
		for symbol, chains := range d.Tokens {
			for slug, addr := range chains {
				if _, ok := d.ChainIDs[slug]; !ok {
					t.Fatalf("%s: token %s on unmapped chain %s", d.Name, symbol, slug)
				}
				if !common.IsHexAddress(addr) {
					t.Fatalf("%s: invalid %s address on %s: %q", d.Name, symbol, slug, addr)
				}
				if _, err := id.ParseChain(slug); err != nil {
					t.Fatalf("%s: unknown chain slug %s: %v", d.Name, slug, err)
				}
				if d.Kind != KindOnchain {
					continue
				}
				c, ok := d.ContractsFor(symbol, slug)
				if !ok || !common.IsHexAddress(c.Entrypoint) || !common.IsHexAddress(c.QuoterAddress()) {
					t.Fatalf("%s: missing contracts for %s on %s: %+v", d.Name, symbol, slug, c)
				}
			}
		}
		if d.DefaultMins <= 0 {
			t.Fatalf("%s: expected positive default minutes", d.Name)
		}
	}
}

func TestStargateUsesLayerZeroChainIDs(t *testing.T) {
	d, ok := Lookup("Stargate")
	if !ok {
		t.Fatal("expected stargate descriptor")
	}
	if got, _ := d.ProtocolChainID("arbitrum"); got != 110 {
		t.Fatalf("expected layerzero id 110 for arbitrum, got %d", got)
	}
	if slug, ok := d.SlugForProtocolChainID(101); !ok || slug != "ethereum" {
		t.Fatalf("unexpected reverse lookup: %q ok=%v", slug, ok)
	}
	if d.PoolIDs["USDC"] != 1 || d.PoolIDs["USDT"] != 2 {
		t.Fatalf("unexpected pool ids: %+v", d.PoolIDs)
	}
	eth, _ := d.ContractsFor("ETH", "arbitrum")
	usdc, _ := d.ContractsFor("USDC", "arbitrum")
	if eth.Entrypoint == usdc.Entrypoint {
		t.Fatal("expected native transfers to use RouterETH")
	}
	if eth.QuoterAddress() != usdc.QuoterAddress() {
		t.Fatal("expected both assets to quote through the router")
	}
}

func TestSupportsRoute(t *testing.T) {
	d, _ := Lookup(ProviderStargate)
	if !d.SupportsRoute("ethereum", "arbitrum", "usdc") {
		t.Fatal("expected stargate ethereum->arbitrum usdc")
	}
	if d.SupportsRoute("ethereum", "ethereum", "USDC") {
		t.Fatal("did not expect same-chain route")
	}
	if d.SupportsRoute("ethereum", "gnosis", "USDC") {
		t.Fatal("did not expect unmapped destination")
	}
	if d.SupportsRoute("ethereum", "bsc", "USDC") {
		t.Fatal("did not expect usdc route to a chain without a usdc pool")
	}
}

func TestEstimatedMinutesFallsBackToDefault(t *testing.T) {
	d, _ := Lookup(ProviderHop)
	if got := d.EstimatedMinutes("ethereum", "optimism"); got != 10 {
		t.Fatalf("expected tabulated 10 minutes, got %d", got)
	}
	if got := d.EstimatedMinutes("gnosis", "polygon"); got != d.DefaultMins {
		t.Fatalf("expected default minutes %d, got %d", d.DefaultMins, got)
	}
}

func TestProfileDefaults(t *testing.T) {
	rel, liq := Profile("across")
	if rel != 9 || liq != 8 {
		t.Fatalf("unexpected across profile: %v/%v", rel, liq)
	}
	rel, liq = Profile("unknown-bridge")
	if rel != DefaultReliability || liq != DefaultLiquidity {
		t.Fatalf("unexpected default profile: %v/%v", rel, liq)
	}
}

func TestDefaultRPCURL(t *testing.T) {
	if rpc, ok := DefaultRPCURL(8453); !ok || rpc == "" {
		t.Fatalf("expected base rpc default, got ok=%v rpc=%q", ok, rpc)
	}
	if _, ok := DefaultRPCURL(999999); ok {
		t.Fatal("did not expect rpc default for unsupported chain")
	}
}

func TestResolveRPCURLs(t *testing.T) {
	urls, err := ResolveRPCURLs([]string{" https://rpc.example.test ", "", "https://rpc.example.test"}, 1)
	if err != nil {
		t.Fatalf("resolve with override: %v", err)
	}
	if len(urls) != 2 || urls[0] != "https://rpc.example.test" {
		t.Fatalf("unexpected urls: %v", urls)
	}
	if _, err := ResolveRPCURLs(nil, 999999); err == nil {
		t.Fatal("expected missing chain rpc error")
	}
}

func TestIsAllowedEndpoint(t *testing.T) {
	if !IsAllowedEndpoint(SocketBaseURL) {
		t.Fatal("expected canonical endpoint to be allowed")
	}
	if IsAllowedEndpoint("http://api.socket.tech/v2") {
		t.Fatal("did not expect plain http for non-loopback host")
	}
	if !IsAllowedEndpoint("http://127.0.0.1:8080/relay") {
		t.Fatal("expected loopback endpoint to be allowed for tests/dev")
	}
	if IsAllowedEndpoint("not-a-url") {
		t.Fatal("did not expect malformed endpoint to be allowed")
	}
}

func TestGaslessSupported(t *testing.T) {
	if !GaslessSupported("Across", "base", "usdc") {
		t.Fatal("expected across base usdc to be gasless")
	}
	if GaslessSupported("across", "ethereum", "USDC") {
		t.Fatal("did not expect gasless on ethereum")
	}
	if GaslessSupported("socket", "base", "USDC") {
		t.Fatal("did not expect gasless for aggregator")
	}
}

func TestPriceOverrides(t *testing.T) {
	if v, ok := Price(map[string]float64{"ETH": 2500}, "eth"); !ok || v != 2500 {
		t.Fatalf("expected override price, got %v ok=%v", v, ok)
	}
	if v, ok := Price(nil, "USDC"); !ok || v != 1 {
		t.Fatalf("expected reference price, got %v ok=%v", v, ok)
	}
	if _, ok := Price(nil, "UNKNOWN"); ok {
		t.Fatal("did not expect price for unknown symbol")
	}
}
