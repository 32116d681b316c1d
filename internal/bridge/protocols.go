package bridge

import (
	"github.com/mbd888/chainwatch/internal/chains"
)

// Protocol is one bridge with its per-chain contract (account-model) or
// program (instruction-model) identifiers.
type Protocol struct {
	Name      string
	Contracts map[chains.ID][]string
	// Destinations holds the fixed destination of canonical rollup and
	// sidechain bridges, keyed by source chain. Liquidity and messaging
	// bridges encode the destination in calldata and are left out.
	Destinations map[chains.ID]chains.ID
}

// Protocol names.
const (
	Wormhole   = "Wormhole"
	Stargate   = "Stargate"
	DeBridge   = "deBridge"
	Across     = "Across"
	PolygonPoS = "Polygon PoS Bridge"
	ArbitrumBr = "Arbitrum Bridge"
	OptimismBr = "Optimism Bridge"
	BaseBr     = "Base Bridge"
)

const (
	opL2StandardBridge = "0x4200000000000000000000000000000000000010"
	opL2ToL1Passer     = "0x4200000000000000000000000000000000000016"
	dlnSource          = "0xeF4fB24aD0916217251F553c0596F8Edc630EB66"
)

// DefaultProtocols is the built-in protocol table.
func DefaultProtocols() []Protocol {
	return []Protocol{
		{
			Name: Wormhole,
			Contracts: map[chains.ID][]string{
				chains.Ethereum:  {"0x98f3c9e6E3fAce36bAAd05FE09d375Ef1464288B", "0x3ee18B2214AFF97000D974cf647E7C347E8fa585"},
				chains.Polygon:   {"0x7A4B5a56256163F07b2C80A7cA55aBE66c4ec4d7", "0x5a58505a96D1dbf8dF91cB21B54419FC36e93fdE"},
				chains.BSC:       {"0x98f3c9e6E3fAce36bAAd05FE09d375Ef1464288B", "0xB6F6D86a8f9879A9c87f643768d9efc38c1Da6E7"},
				chains.Avalanche: {"0x54a8e5f9c4CbA08F9943965859F6c34eAF03E26c", "0x0e082F06FF657D94310cB8cE8B0D9a04541d8052"},
				chains.Arbitrum:  {"0xa5f208e072434bC67592E4C49C1B991BA79BCA46", "0x0b2402144Bb366A632D14B83F244D2e0e21bD39c"},
				chains.Optimism:  {"0xEe91C335eab126dF5fDB3797EA9d6aD93aeC9722", "0x1D68124e65faFC907325e3EDbF8c4d84499DAa8b"},
				chains.Base:      {"0xbebdb6C8ddC678FfA9f8748f85C815C556Dd8ac6", "0x8d2de8d2f73F1F4cAB472AC9A881C9b123C79627"},
				chains.Solana:    {"worm2ZoG2kUd4vFXhvjh93UUH596ayRfgQ2MgjNMTth", "wormDTUJ6AWPNvk59vGQbDvGJmqbDTdgWgAqcLBCgUb"},
			},
		},
		{
			Name: Stargate,
			Contracts: map[chains.ID][]string{
				chains.Ethereum:  {"0x8731d54E9D02c286767d56ac03e8037C07e01e98", "0x150f94B44927F078737562f0fcF3C95c01Cc2376"},
				chains.Polygon:   {"0x45A01E4e04F14f7A4a6702c74187c5F6222033cd"},
				chains.BSC:       {"0x4a364f8c717cAAD9A442737Eb7b8A55cc6cf18D8"},
				chains.Avalanche: {"0x45A01E4e04F14f7A4a6702c74187c5F6222033cd"},
				chains.Arbitrum:  {"0x53Bf833A5d6c4ddA888F69c22C88C9f356a41614", "0xbf22f0f184bCcbeA268dF387a49fF5238dD23E40"},
				chains.Optimism:  {"0xB0D502E938ed5f4df2E681fE6E419ff29631d62b", "0xB49c4e680174E331CB0A7fF3Ab58afC9738d5F8b"},
				chains.Base:      {"0x45f1A95A4D3f3836523F5c83673c797f4d4d263B", "0x50B6EbC2103BFEc165949CC946d739d5650d7ae4"},
			},
		},
		{
			Name: DeBridge,
			Contracts: map[chains.ID][]string{
				chains.Ethereum:  {dlnSource},
				chains.Polygon:   {dlnSource},
				chains.BSC:       {dlnSource},
				chains.Avalanche: {dlnSource},
				chains.Arbitrum:  {dlnSource},
				chains.Optimism:  {dlnSource},
				chains.Base:      {dlnSource},
				chains.Solana:    {"src5qyZHqTqecJV4aY6Cb6zDZLMDzrDKKezs22MPHr4", "dst5MGcFPoBeREFAA5E3tU5ij8m5uVYwkzkSAbsLbNo"},
			},
		},
		{
			Name: Across,
			Contracts: map[chains.ID][]string{
				chains.Ethereum: {"0x5c7BCd6E7De5423a257D81B442095A1a6ced35C5"},
				chains.Polygon:  {"0x9295ee1d8C5b022Be115A2AD3c30C72E34e7F096"},
				chains.Arbitrum: {"0xe35e9842fceaCA96570B734083f4a58e8F7C5f2A"},
				chains.Optimism: {"0x6f26Bf09B1C792e3228e5467807a900A503c0281"},
				chains.Base:     {"0x09aea4b2242abC8bb4BB78D537A67a245A7bEC64"},
			},
		},
		{
			Name: PolygonPoS,
			Contracts: map[chains.ID][]string{
				chains.Ethereum: {"0xA0c68C638235ee32657e8f720a23ceC1bFc77C77", "0x40ec5B33f54e0E8A33A975908C5BA1c14e5BbbDf", "0x8484Ef722627bf18ca5Ae6BcF031c23E6e922B30"},
			},
			Destinations: map[chains.ID]chains.ID{chains.Ethereum: chains.Polygon},
		},
		{
			Name: ArbitrumBr,
			Contracts: map[chains.ID][]string{
				chains.Ethereum: {"0x4Dbd4fc535Ac27206064B68FfCf827b0A60BAB3f", "0x72Ce9c846789fdB6fC1f34aC4AD25Dd9ef7031ef"},
				chains.Arbitrum: {"0x0000000000000000000000000000000000000064", "0x5288c571Fd7aD117beA99bF60FE0846C4E84F933"},
			},
			Destinations: map[chains.ID]chains.ID{chains.Ethereum: chains.Arbitrum, chains.Arbitrum: chains.Ethereum},
		},
		{
			Name: OptimismBr,
			Contracts: map[chains.ID][]string{
				chains.Ethereum: {"0x99C9fc46f92E8a1c0deC1b1747d010903E884bE1", "0x25ace71c97B33Cc4729CF772ae268934F7ab5fA1"},
				chains.Optimism: {opL2StandardBridge, opL2ToL1Passer},
			},
			Destinations: map[chains.ID]chains.ID{chains.Ethereum: chains.Optimism, chains.Optimism: chains.Ethereum},
		},
		{
			Name: BaseBr,
			Contracts: map[chains.ID][]string{
				chains.Ethereum: {"0x3154Cf16ccdb4C6d922629664174b904d80F2C35", "0x49048044D57e1C92A77f79988d21Fa8fAF74E97e"},
				chains.Base:     {opL2StandardBridge, opL2ToL1Passer},
			},
			Destinations: map[chains.ID]chains.ID{chains.Ethereum: chains.Base, chains.Base: chains.Ethereum},
		},
	}
}

// Route is a directed source→destination chain pair.
type Route struct {
	From chains.ID
	To   chains.ID
}

// DefaultCommonRoutes lists the high-volume routes between Ethereum and the
// major L2s and sidechains, in both directions.
func DefaultCommonRoutes() []Route {
	hubs := []chains.ID{chains.Polygon, chains.Arbitrum, chains.Optimism, chains.Base, chains.Solana, chains.BSC, chains.Avalanche}
	out := make([]Route, 0, 2*len(hubs))
	for _, c := range hubs {
		out = append(out, Route{From: chains.Ethereum, To: c}, Route{From: c, To: chains.Ethereum})
	}
	return out
}
