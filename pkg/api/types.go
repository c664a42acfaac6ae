package api

// Wire-level response shapes for the REST surface. Request shapes for
// order placement/cancellation live in pkg/wire since they're shared with
// the EIP-712 signing path.

type PriceLevel struct {
	Price string `json:"price"`
	Size  string `json:"size"`
}

type OrderbookSnapshot struct {
	Pair      string       `json:"pair"`
	Bids      []PriceLevel `json:"bids"`
	Asks      []PriceLevel `json:"asks"`
	Timestamp int64        `json:"timestamp"`
}

type TradeInfo struct {
	ID        string `json:"id"`
	Pair      string `json:"pair"`
	Price     string `json:"price"`
	Amount    string `json:"amount"`
	TakerSide string `json:"takerSide"`
	Timestamp int64  `json:"timestamp"`
}

type OrderInfo struct {
	ID           string `json:"id"`
	TradingPair  string `json:"tradingPair"`
	Owner        string `json:"owner"`
	Side         string `json:"side"`
	Type         string `json:"type"`
	Price        string `json:"price"`
	TriggerPrice string `json:"triggerPrice,omitempty"`
	Amount       string `json:"amount"`
	Filled       string `json:"filled"`
	Status       string `json:"status"`
	CreatedAt    int64  `json:"createdAt"`
}

type StatsResponse struct {
	Pair         string `json:"pair"`
	LastPrice    string `json:"lastPrice,omitempty"`
	MidPrice     string `json:"midPrice,omitempty"`
	BestBid      string `json:"bestBid,omitempty"`
	BestAsk      string `json:"bestAsk,omitempty"`
}

type SubmitOrderResponse struct {
	Status  string `json:"status"`
	OrderID string `json:"orderId,omitempty"`
	Message string `json:"message,omitempty"`
}

type ErrorResponse struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

type HealthResponse struct {
	Status string `json:"status"`
}
