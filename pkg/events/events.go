// Package events defines the typed event vocabulary that flows through the
// hot pipeline: RingBus publishes and StrategyRuntime consumes these types.
// All prices, quantities, and money fields are scaled integers; the only
// float64 field is the Stats.Imbalance ratio.
package events

// Meta accompanies every market-data event.
type Meta struct {
	Seq        uint64
	Topic      string
	SourceTsNs int64 // broker-supplied timestamp, nanoseconds
	LocalTsNs  int64 // ingest-clamped local timestamp, nanoseconds
}

// TickEvent is a single trade print.
type TickEvent struct {
	Meta            Meta
	Symbol          string
	Price           int64 // scaled
	Volume          int64
	TotalVolume     int64
	BidSideTotalVol int64
	AskSideTotalVol int64
	IsSimtrade      bool
	IsOddLot        bool
}

// PriceLevel is a single (price, volume) pair on one side of a book.
type PriceLevel struct {
	Price  int64 // scaled
	Volume int64
}

// BidAskEvent carries a snapshot or incremental book update.
// Bids are sorted descending by price, asks ascending.
type BidAskEvent struct {
	Meta       Meta
	Symbol     string
	Bids       []PriceLevel
	Asks       []PriceLevel
	IsSnapshot bool
}

// NoMidPrice is the sentinel returned by LOBStats.MidPrice when either side
// of the book is empty. Callers must check BothSidesPresent rather than
// treat this as a valid price; it must never silently propagate as zero.
const NoMidPrice int64 = -1

// Stats are derived per-symbol book statistics.
type Stats struct {
	Symbol           string
	TsNs             int64
	BestBid          int64
	BestAsk          int64
	MidPrice         int64 // NoMidPrice sentinel when either side empty
	Spread           int64
	Imbalance        float64 // (bid_depth-ask_depth)/(bid_depth+ask_depth)
	BidDepth         int64
	AskDepth         int64
	BothSidesPresent bool
}
