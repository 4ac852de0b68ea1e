package oanda

// The v20 API encodes all decimals as strings; parsing to float64 happens at
// the reconciliation boundary so a malformed value fails one record, not the
// whole response decode.

// ClientExtensions carries the client-supplied fields attached to orders at
// submission time. Tag identifies the owning trader, Comment the strategy.
type ClientExtensions struct {
	ID      string `json:"id,omitempty"`
	Tag     string `json:"tag,omitempty"`
	Comment string `json:"comment,omitempty"`
}

// TradeSummary is one trade record in an account changes response.
type TradeSummary struct {
	ID               string            `json:"id"`
	Instrument       string            `json:"instrument"`
	Price            string            `json:"price"`
	OpenTime         string            `json:"openTime"`
	CloseTime        string            `json:"closeTime,omitempty"`
	InitialUnits     string            `json:"initialUnits"`
	CurrentUnits     string            `json:"currentUnits"`
	RealizedPL       string            `json:"realizedPL"`
	Financing        string            `json:"financing"`
	State            string            `json:"state"`
	ClientExtensions *ClientExtensions `json:"clientExtensions,omitempty"`
}

// OrderSummary is one order record in an account changes response.
// TradeOpenedID is empty for reduce-only fills.
type OrderSummary struct {
	ID                   string            `json:"id"`
	Type                 string            `json:"type"`
	Instrument           string            `json:"instrument"`
	Units                string            `json:"units"`
	State                string            `json:"state"`
	FillingTransactionID string            `json:"fillingTransactionID,omitempty"`
	TradeOpenedID        string            `json:"tradeOpenedID,omitempty"`
	TradeReducedID       string            `json:"tradeReducedID,omitempty"`
	ClientExtensions     *ClientExtensions `json:"clientExtensions,omitempty"`
}

// Changes holds the delta streams since the requested transaction id.
type Changes struct {
	TradesOpened    []TradeSummary `json:"tradesOpened"`
	TradesReduced   []TradeSummary `json:"tradesReduced"`
	TradesClosed    []TradeSummary `json:"tradesClosed"`
	OrdersFilled    []OrderSummary `json:"ordersFilled"`
	OrdersCancelled []OrderSummary `json:"ordersCancelled"`
}

// CalculatedTradeState carries the price-dependent figures for one open
// trade. These are only present in the state snapshot, never in the deltas.
type CalculatedTradeState struct {
	ID           string `json:"id"`
	UnrealizedPL string `json:"unrealizedPL"`
	MarginUsed   string `json:"marginUsed"`
}

// AccountState is the price-dependent snapshot accompanying a changes
// response.
type AccountState struct {
	UnrealizedPL string                 `json:"unrealizedPL"`
	NAV          string                 `json:"NAV"`
	MarginUsed   string                 `json:"marginUsed"`
	Trades       []CalculatedTradeState `json:"trades"`
}

// AccountChanges is the full response of the changes endpoint.
type AccountChanges struct {
	LastTransactionID string       `json:"lastTransactionID"`
	Changes           Changes      `json:"changes"`
	State             AccountState `json:"state"`
}

// StopLossDetails specifies the stop loss to create on fill.
type StopLossDetails struct {
	Price       string `json:"price"`
	TimeInForce string `json:"timeInForce,omitempty"`
}

// TakeProfitDetails specifies the take profit to create on fill.
type TakeProfitDetails struct {
	Price string `json:"price"`
}

// MarketOrder is the order body for the order-submission endpoint.
type MarketOrder struct {
	Type             string             `json:"type"`
	Instrument       string             `json:"instrument"`
	Units            int                `json:"units"`
	TimeInForce      string             `json:"timeInForce"`
	PositionFill     string             `json:"positionFill"`
	StopLossOnFill   *StopLossDetails   `json:"stopLossOnFill,omitempty"`
	TakeProfitOnFill *TakeProfitDetails `json:"takeProfitOnFill,omitempty"`
	ClientExtensions *ClientExtensions  `json:"clientExtensions,omitempty"`
}

// MarketOrderRequest wraps the order body as the endpoint expects.
type MarketOrderRequest struct {
	Order MarketOrder `json:"order"`
}

// TransactionRef is the subset of a transaction the reconciler needs back
// from order submission.
type TransactionRef struct {
	ID            string `json:"id"`
	TradeOpenedID string `json:"tradeOpenedID,omitempty"`
}

// OrderResponse is the order-submission result. Exactly one of the fill or
// create transactions is meaningful: an immediate fill carries the trade's
// transaction id, a resting order carries the pending order id.
type OrderResponse struct {
	OrderFillTransaction   *TransactionRef `json:"orderFillTransaction,omitempty"`
	OrderCreateTransaction *TransactionRef `json:"orderCreateTransaction,omitempty"`
}

// FilledTransactionID returns the fill transaction id, or "" when the order
// did not fill immediately.
func (r *OrderResponse) FilledTransactionID() string {
	if r.OrderFillTransaction == nil {
		return ""
	}
	return r.OrderFillTransaction.ID
}

// PendingOrderID returns the created order id, or "" when the order filled
// immediately.
func (r *OrderResponse) PendingOrderID() string {
	if r.OrderCreateTransaction == nil {
		return ""
	}
	return r.OrderCreateTransaction.ID
}
