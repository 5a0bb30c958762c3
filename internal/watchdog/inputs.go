package watchdog

// PressureInput is aggregated taker flow for one symbol.
type PressureInput struct {
	Symbol      string  `json:"symbol"`
	BuyVolume   float64 `json:"buyVolume"`
	SellVolume  float64 `json:"sellVolume"`
	FundingRate float64 `json:"fundingRate"`
}

// AnomalyInput is a recent price and volume series, oldest first.
type AnomalyInput struct {
	Symbol  string    `json:"symbol"`
	Prices  []float64 `json:"prices"`
	Volumes []float64 `json:"volumes"`
}

// FragilityInput describes order book depth around the mid price.
type FragilityInput struct {
	Symbol            string  `json:"symbol"`
	BidDepth          float64 `json:"bidDepth"`
	AskDepth          float64 `json:"askDepth"`
	Notional          float64 `json:"notional"`
	SpreadBps         float64 `json:"spreadBps"`
	BaselineSpreadBps float64 `json:"baselineSpreadBps"`
}

// ManipulationInput summarises trading activity that can indicate wash trading or spoofing.
type ManipulationInput struct {
	Symbol            string  `json:"symbol"`
	TotalVolume       float64 `json:"totalVolume"`
	SelfMatchedVolume float64 `json:"selfMatchedVolume"`
	OrdersPlaced      float64 `json:"ordersPlaced"`
	OrdersCancelled   float64 `json:"ordersCancelled"`
}

// EntityFlow is one tracked entity's flow against its baseline.
type EntityFlow struct {
	Entity       string  `json:"entity"`
	Flow         float64 `json:"flow"`
	BaselineFlow float64 `json:"baselineFlow"`
}

// Inputs carries fresh data for a scan. A nil slice means no fresh data for that detector.
type Inputs struct {
	Pressure     []PressureInput     `json:"pressure,omitempty"`
	Anomaly      []AnomalyInput      `json:"anomaly,omitempty"`
	Fragility    []FragilityInput    `json:"fragility,omitempty"`
	Manipulation []ManipulationInput `json:"manipulation,omitempty"`
	Entity       []EntityFlow        `json:"entity,omitempty"`
}
