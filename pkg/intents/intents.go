// Package intents defines the order lifecycle vocabulary shared by
// StrategyRuntime, RiskEngine, OrderAdapter, and ExecutionRouter.
package intents

// IntentType enumerates what an OrderIntent asks the pipeline to do.
type IntentType string

const (
	IntentNew    IntentType = "NEW"
	IntentCancel IntentType = "CANCEL"
	IntentModify IntentType = "MODIFY"
)

// Side is the trading direction.
type Side string

const (
	Buy  Side = "BUY"
	Sell Side = "SELL"
)

// TIF is a time-in-force instruction.
type TIF string

const (
	TIFLimit TIF = "LIMIT"
	TIFIOC   TIF = "IOC"
	TIFFOK   TIF = "FOK"
	TIFROD   TIF = "ROD"
)

// OrderStatus enumerates OrderEvent lifecycle states.
type OrderStatus string

const (
	StatusPendingSubmit   OrderStatus = "PENDING_SUBMIT"
	StatusSubmitted       OrderStatus = "SUBMITTED"
	StatusPartiallyFilled OrderStatus = "PARTIALLY_FILLED"
	StatusFilled          OrderStatus = "FILLED"
	StatusCancelled       OrderStatus = "CANCELLED"
	StatusFailed          OrderStatus = "FAILED"
)

// IsTerminal reports whether status ends an order's life: FILLED,
// CANCELLED, or FAILED.
func (s OrderStatus) IsTerminal() bool {
	switch s {
	case StatusFilled, StatusCancelled, StatusFailed:
		return true
	default:
		return false
	}
}

// OrderIntent is emitted by a strategy.
type OrderIntent struct {
	IntentID      string
	StrategyID    string
	Symbol        string
	IntentType    IntentType
	Side          Side
	Price         int64 // scaled
	Qty           int64
	TIF           TIF
	TargetOrderID string // set for CANCEL/MODIFY
	TimestampNs   int64
}

// OrderCommand is a risk-approved intent ready for dispatch.
type OrderCommand struct {
	CmdID           uint64
	Intent          OrderIntent
	DeadlineNs      int64
	StormGuardState string
}

// OrderEvent reports an order's lifecycle state, normalized from a broker callback.
type OrderEvent struct {
	OrderID      string
	StrategyID   string
	Symbol       string
	Status       OrderStatus
	SubmittedQty int64
	FilledQty    int64
	RemainingQty int64
	Price        int64
	Side         Side
	IngestTsNs   int64
	BrokerTsNs   int64
}

// FillEvent reports an execution, normalized from a broker "deal" callback.
type FillEvent struct {
	FillID     string
	AccountID  string
	OrderID    string
	StrategyID string
	Symbol     string
	Side       Side
	Qty        int64
	Price      int64 // scaled
	Fee        int64 // scaled
	Tax        int64 // scaled
	IngestTsNs int64
	MatchTsNs  int64
}

// PositionDelta reports the effect of a single fill on a position, produced
// by PositionStore.OnFill and published adjacently to the triggering FillEvent.
type PositionDelta struct {
	AccountID     string
	StrategyID    string
	Symbol        string
	NetQty        int64
	AvgPrice      int64
	RealizedPnL   int64
	ClosedQty     int64
	RealizedDelta int64
}
