package model

import "fmt"

type Chain string

const (
	ChainEthereum Chain = "ethereum"
	ChainArbitrum Chain = "arbitrum"
	ChainOptimism Chain = "optimism"
	ChainBase     Chain = "base"
	ChainPolygon  Chain = "polygon"
	ChainSolana   Chain = "solana"
)

func (c Chain) String() string {
	return string(c)
}

// KnownChains lists every chain the bridge can route between.
var KnownChains = map[Chain]bool{
	ChainEthereum: true,
	ChainArbitrum: true,
	ChainOptimism: true,
	ChainBase:     true,
	ChainPolygon:  true,
	ChainSolana:   true,
}

type Token string

const (
	TokenETH  Token = "ETH"
	TokenUSDC Token = "USDC"
	TokenUSDT Token = "USDT"
	TokenWETH Token = "WETH"
	TokenARB  Token = "ARB"
	TokenSOL  Token = "SOL"
)

func (t Token) String() string {
	return string(t)
}

// KnownTokens maps supported tokens to their on-chain decimal precision.
var KnownTokens = map[Token]int{
	TokenETH:  18,
	TokenUSDC: 6,
	TokenUSDT: 6,
	TokenWETH: 18,
	TokenARB:  18,
	TokenSOL:  9,
}

// Route describes a source chain to destination chain corridor.
type Route struct {
	SourceChain Chain `json:"source_chain"`
	DestChain   Chain `json:"dest_chain"`
}

func (r Route) String() string {
	return fmt.Sprintf("%s -> %s", r.SourceChain, r.DestChain)
}

func (r Route) Validate() error {
	if !KnownChains[r.SourceChain] {
		return fmt.Errorf("unknown source chain %q", r.SourceChain)
	}
	if !KnownChains[r.DestChain] {
		return fmt.Errorf("unknown destination chain %q", r.DestChain)
	}
	if r.SourceChain == r.DestChain {
		return fmt.Errorf("source and destination chain are both %q", r.SourceChain)
	}
	return nil
}
