package dexscreener

// tokensResponse is the body of GET /latest/dex/tokens/{mint}.
type tokensResponse struct {
	SchemaVersion string    `json:"schemaVersion"`
	Pairs         []apiPair `json:"pairs"`
}

type apiPair struct {
	ChainID     string       `json:"chainId"`
	DexID       string       `json:"dexId"`
	PairAddress string       `json:"pairAddress"`
	BaseToken   apiToken     `json:"baseToken"`
	QuoteToken  apiToken     `json:"quoteToken"`
	PriceUSD    string       `json:"priceUsd"`
	Liquidity   apiLiquidity `json:"liquidity"`
	FDV         *float64     `json:"fdv"`
	MarketCap   *float64     `json:"marketCap"`
}

type apiToken struct {
	Address string `json:"address"`
	Name    string `json:"name"`
	Symbol  string `json:"symbol"`
}

type apiLiquidity struct {
	USD *float64 `json:"usd"`
}
