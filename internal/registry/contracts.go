package registry

import "github.com/ggonzalez94/xbridge/internal/id"

// Canonical token deployments. Bridged USDC.e variants are listed separately
// because Stargate and Hop pools hold the bridged asset on some L2s.
var (
	nativeUSDC = map[string]string{
		"ethereum":  "0xA0b86991c6218b36c1d19D4a2e9Eb0cE3606eB48",
		"optimism":  "0x0b2C639c533813f4Aa9D7837CAf62653d097Ff85",
		"polygon":   "0x3c499c542cEF5E3811e1192ce70d8cC03d5c3359",
		"arbitrum":  "0xaf88d065e77c8cC2239327C5EDb3A432268e5831",
		"base":      "0x833589fCD6eDb6E08f4c7C32D4f71b54bdA02913",
		"avalanche": "0xB97EF9Ef8734C71904D8002F8b6Bc66Dd9c48a6E",
		"linea":     "0x176211869cA2b568f2A7D4EE941E073a821EE1ff",
		"bsc":       "0x8AC76a51cc950d9822D68b83fE1Ad97B32Cd580d",
	}
	bridgedUSDC = map[string]string{
		"ethereum":  "0xA0b86991c6218b36c1d19D4a2e9Eb0cE3606eB48",
		"optimism":  "0x7F5c764cBc14f9669B88837ca1490cCa17c31607",
		"polygon":   "0x2791Bca1f2de4661ED88A30C99A7a9449Aa84174",
		"arbitrum":  "0xFF970A61A04b1cA14834A43f5dE4533eBDDB5CC8",
		"base":      "0xd9aAEc86B65D86f6A7B5B1b0c42FFA531710b6CA",
		"avalanche": "0xB97EF9Ef8734C71904D8002F8b6Bc66Dd9c48a6E",
		"gnosis":    "0xDDAfbb505ad214D7b80b1f830fcCc89B60fb7A83",
	}
	tetherUSDT = map[string]string{
		"ethereum":  "0xdAC17F958D2ee523a2206206994597C13D831ec7",
		"optimism":  "0x94b008aA00579c1307B0EF2c499aD98a8ce58e58",
		"polygon":   "0xc2132D05D31c914a87C6611C10748AEb04B58e8F",
		"arbitrum":  "0xFd086bC7CD5C481DCC9C85ebe478A1C0b69FCbb9",
		"avalanche": "0x9702230A8Ea53601f5cD2dc00fDBc13d4dF4A8c7",
		"bsc":       "0x55d398326f99059fF775485246999027B3197955",
	}
	wrappedETH = map[string]string{
		"ethereum": "0xC02aaA39b223FE8D0A0e5C4F27eAD9083C756Cc2",
		"optimism": "0x4200000000000000000000000000000000000006",
		"polygon":  "0x7ceB23fD6bC0adD59E62ac25578270cFf1b9f619",
		"arbitrum": "0x82aF49447D8a07e3bd95BD0d56f35241523fBab1",
		"base":     "0x4200000000000000000000000000000000000006",
		"linea":    "0xe5D7C2a44FfDDf6b295A15c148167daaAf5Cf34f",
	}
)

func subset(src map[string]string, slugs ...string) map[string]string {
	out := make(map[string]string, len(slugs))
	for _, slug := range slugs {
		if v, ok := src[slug]; ok {
			out[slug] = v
		}
	}
	return out
}

func nativeOn(slugs ...string) map[string]string {
	out := make(map[string]string, len(slugs))
	for _, slug := range slugs {
		out[slug] = id.NativeAddress
	}
	return out
}

// Stargate v1: LayerZero chain ids, Router for pooled tokens, RouterETH for the
// native asset, the LayerZero UltraLightNode that emits PacketReceived and the
// Stargate Bridge that PacketReceived addresses as dstAddress.
var (
	stargateChainIDs = map[string]uint64{
		"ethereum":  101,
		"bsc":       102,
		"avalanche": 106,
		"polygon":   109,
		"arbitrum":  110,
		"optimism":  111,
		"linea":     183,
		"base":      184,
	}
	stargateRouter = map[string]string{
		"ethereum":  "0x8731d54E9D02c286767d56ac03e8037C07e01e98",
		"bsc":       "0x4a364f8c717cAAD9A442737Eb7b8A55cc6cf18D8",
		"avalanche": "0x45A01E4e04F14f7A4a6702c74187c5F6222033cd",
		"polygon":   "0x45A01E4e04F14f7A4a6702c74187c5F6222033cd",
		"arbitrum":  "0x53Bf833A5d6c4ddA888F69c22C88C9f356a41614",
		"optimism":  "0xB0D502E938ed5f4df2E681fE6E419ff29631d62b",
		"linea":     "0x2F6F07CDcf3588944Bf4C42aC74ff24bF56e7590",
		"base":      "0x45f1A95A4D3f3836523F5c83673c797f4d4d263B",
	}
	stargateRouterETH = map[string]string{
		"ethereum": "0x150f94B44927F078737562f0fcF3C95c01Cc2376",
		"arbitrum": "0xbf22f0f184bCcbeA268dF387a49fF5238dD23E40",
		"optimism": "0xB49c4e680174E331CB0A7fF3Ab58afC9738d5F8b",
		"linea":    "0x8731d54E9D02c286767d56ac03e8037C07e01e98",
		"base":     "0x50B6EbC2103BFEc165949CC946d739d5650d7ae4",
	}
	stargateBridge = map[string]string{
		"ethereum":  "0x296F55F8Fb28E498B858d0BcDA06D955B2Cb3f97",
		"bsc":       "0x6694340fc020c5E6B96567843da2df01b2CE1eb6",
		"avalanche": "0x9d1B1669c73b033DFe47ae5a0164Ab96df25B944",
		"polygon":   "0x9d1B1669c73b033DFe47ae5a0164Ab96df25B944",
		"arbitrum":  "0x352d8275AAE3e0c2404d9f68f6cEE084B5bEB3DD",
		"optimism":  "0x701a95707A0290AC8B90b3719e8EE5b210360883",
		"linea":     "0x45f1A95A4D3f3836523F5c83673c797f4d4d263B",
		"base":      "0xAF54BE5B6eEc24d6BFACf1cce4eaF680A8239398",
	}
	layerZeroULN = map[string]string{
		"ethereum":  "0x4D73AdB72bC3DD368966edD0f0b2148401A178E2",
		"bsc":       "0x4D73AdB72bC3DD368966edD0f0b2148401A178E2",
		"avalanche": "0x4D73AdB72bC3DD368966edD0f0b2148401A178E2",
		"polygon":   "0x4D73AdB72bC3DD368966edD0f0b2148401A178E2",
		"arbitrum":  "0x4D73AdB72bC3DD368966edD0f0b2148401A178E2",
		"optimism":  "0x4D73AdB72bC3DD368966edD0f0b2148401A178E2",
		"linea":     "0x38dE71124f7a447a01D67945a51eDcE9FF491251",
		"base":      "0x38dE71124f7a447a01D67945a51eDcE9FF491251",
	}
)

func stargateDescriptor() Descriptor {
	tokens := map[string]map[string]string{
		"USDC": subset(bridgedUSDC, "ethereum", "avalanche", "polygon", "arbitrum", "optimism", "base"),
		"USDT": subset(tetherUSDT, "ethereum", "bsc", "avalanche", "polygon", "arbitrum"),
		"ETH":  nativeOn("ethereum", "arbitrum", "optimism", "linea", "base"),
	}
	contracts := map[string]map[string]Contracts{}
	for symbol, chains := range tokens {
		contracts[symbol] = map[string]Contracts{}
		for slug := range chains {
			c := Contracts{
				Entrypoint: stargateRouter[slug],
				Quoter:     stargateRouter[slug],
				Receiver:   layerZeroULN[slug],
				Target:     stargateBridge[slug],
			}
			if symbol == "ETH" {
				c.Entrypoint = stargateRouterETH[slug]
			}
			contracts[symbol][slug] = c
		}
	}
	return Descriptor{
		Name:      ProviderStargate,
		Kind:      KindOnchain,
		Website:   "https://stargate.finance",
		ChainIDs:  stargateChainIDs,
		Tokens:    tokens,
		Contracts: contracts,
		PoolIDs:   map[string]uint64{"USDC": 1, "USDT": 2, "ETH": 13},
		FeeBps:    6,
		Minutes: map[string]int{
			"ethereum>arbitrum": 3,
			"ethereum>optimism": 3,
			"ethereum>base":     3,
			"arbitrum>ethereum": 15,
			"optimism>ethereum": 15,
			"base>ethereum":     15,
			"arbitrum>optimism": 1,
			"optimism>arbitrum": 1,
			"polygon>arbitrum":  5,
			"avalanche>polygon": 2,
		},
		DefaultMins: 10,
		Reliability: 9,
		Liquidity:   9,
		Completions: []CompletionEvent{{
			ABI:            LayerZeroPacketReceivedABI,
			Name:           "PacketReceived",
			SourceChainArg: "srcChainId",
			TargetArg:      "dstAddress",
		}},
	}
}

// Hop: L1 bridge on Ethereum, AMM wrapper plus bridge on each L2.
var (
	hopL1Bridge = map[string]string{
		"USDC": "0x3666f603Cc164936C1b87e207F36BEBa4AC5f18a",
		"ETH":  "0xb8901acB165ed027E32754E0FFe830802919727f",
	}
	hopL2 = map[string]map[string]Contracts{
		"USDC": {
			"optimism": {Entrypoint: "0x2ad09850b0CA4c7c1B33f5AcD6cBAbCaB5d6e796", Quoter: "0xa81D244A1814468C734E5b4101F7b9c0c577a8fC", Receiver: "0xa81D244A1814468C734E5b4101F7b9c0c577a8fC"},
			"arbitrum": {Entrypoint: "0xe22D2beDb3Eca35E6397e0C6D62857094aA26F52", Quoter: "0x0e0E3d2C5c292161999474247956EF542caBF8dd", Receiver: "0x0e0E3d2C5c292161999474247956EF542caBF8dd"},
			"polygon":  {Entrypoint: "0x76b22b8C1079A44F1211D867D68b1eda76a635A7", Quoter: "0x25D8039bB044dC227f741a9e381CA4cEAE2E6aE8", Receiver: "0x25D8039bB044dC227f741a9e381CA4cEAE2E6aE8"},
			"gnosis":   {Entrypoint: "0x76b22b8C1079A44F1211D867D68b1eda76a635A7", Quoter: "0x25D8039bB044dC227f741a9e381CA4cEAE2E6aE8", Receiver: "0x25D8039bB044dC227f741a9e381CA4cEAE2E6aE8"},
		},
		"ETH": {
			"optimism": {Entrypoint: "0x86cA30bEF97fB651b8d866D45503684b90cb3312", Quoter: "0x83f6244Bd87662118d96D9a6D44f09dffF14b30E", Receiver: "0x83f6244Bd87662118d96D9a6D44f09dffF14b30E"},
			"arbitrum": {Entrypoint: "0x33ceb27b39d2Bb7D2e61F7564d3Df29344020417", Quoter: "0x3749C4f034022c39ecafFaBA182555d4508caCCC", Receiver: "0x3749C4f034022c39ecafFaBA182555d4508caCCC"},
			"base":     {Entrypoint: "0x10541b07d8Ad2647Dc6cD67abd4c03575dade261", Quoter: "0x3666f603Cc164936C1b87e207F36BEBa4AC5f18a", Receiver: "0x3666f603Cc164936C1b87e207F36BEBa4AC5f18a"},
		},
	}
)

func hopDescriptor() Descriptor {
	tokens := map[string]map[string]string{
		"USDC": subset(bridgedUSDC, "ethereum", "optimism", "arbitrum", "polygon", "gnosis"),
		"ETH":  nativeOn("ethereum", "optimism", "arbitrum", "base"),
	}
	contracts := map[string]map[string]Contracts{}
	for symbol, l2 := range hopL2 {
		contracts[symbol] = map[string]Contracts{
			"ethereum": {Entrypoint: hopL1Bridge[symbol], Receiver: hopL1Bridge[symbol]},
		}
		for slug, c := range l2 {
			contracts[symbol][slug] = c
		}
	}
	return Descriptor{
		Name:      ProviderHop,
		Kind:      KindOnchain,
		Website:   "https://hop.exchange",
		ChainIDs:  map[string]uint64{"ethereum": 1, "optimism": 10, "gnosis": 100, "polygon": 137, "base": 8453, "arbitrum": 42161},
		Tokens:    tokens,
		Contracts: contracts,
		FeeBps:    4,
		Minutes: map[string]int{
			"ethereum>optimism": 10,
			"ethereum>arbitrum": 10,
			"ethereum>polygon":  15,
			"ethereum>gnosis":   15,
			"ethereum>base":     10,
			"optimism>arbitrum": 5,
			"arbitrum>optimism": 5,
		},
		DefaultMins: 20,
		Reliability: 8,
		Liquidity:   7,
		// Deposits from L1 are minted by the messenger and name the recipient.
		// Transfers leaving an L2 are bonded by transfer id, which the source
		// L2 bridge emits in TransferSent.
		Completions: []CompletionEvent{
			{
				ABI:           HopL2BridgeABI,
				Name:          "TransferFromL1Completed",
				ImpliedSource: "ethereum",
				RecipientArg:  "recipient",
			},
			{
				ABI:           HopBridgeEventsABI,
				Name:          "WithdrawalBonded",
				SourceEvent:   "TransferSent",
				TransferIDArg: "transferId",
			},
		},
	}
}

// Across v3 SpokePools. The pool is both the deposit entrypoint and the
// contract that emits FilledV3Relay on the destination.
var acrossSpokePool = map[string]string{
	"ethereum": "0x5c7BCd6E7De5423a257D81B442095A1a6ced35C5",
	"optimism": "0x6f26Bf09B1C792e3228e5467807a900A503c0281",
	"polygon":  "0x9295ee1d8C5b022Be115A2AD3c30C72E34e7F096",
	"arbitrum": "0xe35e9842fceaCA96570B734083f4a58e8F7C5f2A",
	"base":     "0x09aea4b2242abC8bb4BB78D537A67a245A7bEC64",
	"linea":    "0x7E63A5f1a8F0B4d0934B2f2327DAED3F6bb2ee75",
}

func acrossDescriptor() Descriptor {
	tokens := map[string]map[string]string{
		"USDC": subset(nativeUSDC, "ethereum", "optimism", "polygon", "arbitrum", "base", "linea"),
		"USDT": subset(tetherUSDT, "ethereum", "optimism", "polygon", "arbitrum"),
		"WETH": subset(wrappedETH, "ethereum", "optimism", "polygon", "arbitrum", "base", "linea"),
		"ETH":  nativeOn("ethereum", "optimism", "arbitrum", "base", "linea"),
	}
	contracts := map[string]map[string]Contracts{}
	for symbol, chains := range tokens {
		contracts[symbol] = map[string]Contracts{}
		for slug := range chains {
			pool := acrossSpokePool[slug]
			contracts[symbol][slug] = Contracts{Entrypoint: pool, Receiver: pool}
		}
	}
	return Descriptor{
		Name:      ProviderAcross,
		Kind:      KindOnchain,
		Website:   "https://across.to",
		ChainIDs:  map[string]uint64{"ethereum": 1, "optimism": 10, "polygon": 137, "base": 8453, "arbitrum": 42161, "linea": 59144},
		Tokens:    tokens,
		Contracts: contracts,
		FeeBps:    5,
		Minutes: map[string]int{
			"ethereum>arbitrum": 3,
			"ethereum>optimism": 3,
			"ethereum>base":     3,
			"arbitrum>base":     1,
			"base>arbitrum":     1,
			"optimism>base":     1,
			"arbitrum>ethereum": 5,
		},
		DefaultMins: 5,
		Reliability: 9,
		Liquidity:   8,
		Completions: []CompletionEvent{{
			ABI:            AcrossSpokePoolABI,
			Name:           "FilledV3Relay",
			SourceChainArg: "originChainId",
			RecipientArg:   "recipient",
		}},
	}
}

// WrappedNative returns the wrapped ERC-20 used for native deposits on chains
// where the protocol takes WETH as the input token.
func WrappedNative(slug string) (string, bool) {
	v, ok := wrappedETH[slug]
	return v, ok
}

func socketDescriptor() Descriptor {
	chainIDs := map[string]uint64{}
	for _, chain := range id.Chains() {
		chainIDs[chain.Slug] = uint64(chain.EVMChainID)
	}
	return Descriptor{
		Name:     ProviderSocket,
		Kind:     KindAggregator,
		Website:  "https://socket.tech",
		ChainIDs: chainIDs,
		Tokens: map[string]map[string]string{
			"USDC": nativeUSDC,
			"USDT": tetherUSDT,
			"ETH":  nativeOn("ethereum", "optimism", "arbitrum", "base", "linea"),
		},
		// Ceiling used for fee estimation; the API reports the actual fee.
		FeeBps:      50,
		DefaultMins: 10,
		Reliability: 7,
		Liquidity:   8,
	}
}
