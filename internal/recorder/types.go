// Package recorder is the asynchronous event recorder: it maps typed
// pipeline events to table rows, batches them per table, and writes
// them either direct to the analytics DB (with WAL fallback on
// persistent failure) or WAL-first (bypassing the DB entirely). It also
// provides WAL replay with archive-on-success, disk-pressure gating,
// and file-claim coordination so multiple replay workers never
// double-send a file.
package recorder

import (
	"strconv"
	"time"

	"github.com/hftplatform/engine/pkg/events"
	"github.com/hftplatform/engine/pkg/intents"
)

// MarketDataRow is the market_data table row shape.
type MarketDataRow struct {
	ID          uint64 `gorm:"primaryKey;autoIncrement" json:"-"`
	Symbol      string `gorm:"index" json:"symbol"`
	Exchange    string `json:"exchange"`
	Type        string `json:"type"` // "tick" | "bidask"
	ExchTsNs    int64  `json:"exch_ts"`
	IngestTsNs  int64  `json:"ingest_ts"`
	PriceScaled int64  `json:"price_scaled"`
	Volume      int64  `json:"volume"`
	BidsPrice   string `json:"bids_price"` // comma-separated int64 values, gorm has no native array/MySQL
	BidsVol     string `json:"bids_vol"`
	AsksPrice   string `json:"asks_price"`
	AsksVol     string `json:"asks_vol"`
	SeqNo       uint64 `json:"seq_no"`
}

func (MarketDataRow) TableName() string { return "market_data" }

// OrderRow is the orders table row shape.
type OrderRow struct {
	ID          uint64 `gorm:"primaryKey;autoIncrement" json:"-"`
	OrderID     string `gorm:"index" json:"order_id"`
	StrategyID  string `json:"strategy_id"`
	Symbol      string `json:"symbol"`
	Status      string `json:"status"`
	PriceScaled int64  `json:"price_scaled"`
	Side        string `json:"side"`
	Qty         int64  `json:"qty"`
	IngestTsNs  int64  `json:"ingest_ts"`
	BrokerTsNs  int64  `json:"broker_ts"`
}

func (OrderRow) TableName() string { return "orders" }

// FillRow is the fills table row shape.
type FillRow struct {
	ID          uint64 `gorm:"primaryKey;autoIncrement" json:"-"`
	FillID      string `gorm:"index" json:"fill_id"`
	OrderID     string `json:"order_id"`
	StrategyID  string `json:"strategy_id"`
	Symbol      string `json:"symbol"`
	Side        string `json:"side"`
	Qty         int64  `json:"qty"`
	PriceScaled int64  `json:"price_scaled"`
	FeeScaled   int64  `json:"fee_scaled"`
	TaxScaled   int64  `json:"tax_scaled"`
	IngestTsNs  int64  `json:"ingest_ts"`
	MatchTsNs   int64  `json:"match_ts"`
}

func (FillRow) TableName() string { return "fills" }

const (
	TableMarketData = "market_data"
	TableOrders     = "orders"
	TableFills      = "fills"
)

// AllTables lists every table name the mapper can produce, used to
// pre-create one batcher per table.
var AllTables = []string{TableMarketData, TableOrders, TableFills}

// MapEvent transforms one typed pipeline event into a (table, row) pair.
// Unknown event types produce no row (ok=false).
func MapEvent(ev any) (table string, row any, ok bool) {
	switch v := ev.(type) {
	case events.TickEvent:
		return TableMarketData, MarketDataRow{
			Symbol:      v.Symbol,
			Type:        "tick",
			ExchTsNs:    v.Meta.SourceTsNs,
			IngestTsNs:  v.Meta.LocalTsNs,
			PriceScaled: v.Price,
			Volume:      v.Volume,
			SeqNo:       v.Meta.Seq,
		}, true
	case events.BidAskEvent:
		bidsPrice, bidsVol := encodeLevels(v.Bids)
		asksPrice, asksVol := encodeLevels(v.Asks)
		return TableMarketData, MarketDataRow{
			Symbol:     v.Symbol,
			Type:       "bidask",
			ExchTsNs:   v.Meta.SourceTsNs,
			IngestTsNs: v.Meta.LocalTsNs,
			BidsPrice:  bidsPrice,
			BidsVol:    bidsVol,
			AsksPrice:  asksPrice,
			AsksVol:    asksVol,
			SeqNo:      v.Meta.Seq,
		}, true
	case intents.OrderEvent:
		return TableOrders, OrderRow{
			OrderID:     v.OrderID,
			StrategyID:  v.StrategyID,
			Symbol:      v.Symbol,
			Status:      string(v.Status),
			PriceScaled: v.Price,
			Side:        string(v.Side),
			Qty:         v.SubmittedQty,
			IngestTsNs:  v.IngestTsNs,
			BrokerTsNs:  v.BrokerTsNs,
		}, true
	case intents.FillEvent:
		return TableFills, FillRow{
			FillID:      v.FillID,
			OrderID:     v.OrderID,
			StrategyID:  v.StrategyID,
			Symbol:      v.Symbol,
			Side:        string(v.Side),
			Qty:         v.Qty,
			PriceScaled: v.Price,
			FeeScaled:   v.Fee,
			TaxScaled:   v.Tax,
			IngestTsNs:  v.IngestTsNs,
			MatchTsNs:   v.MatchTsNs,
		}, true
	default:
		return "", nil, false
	}
}

func encodeLevels(levels []events.PriceLevel) (pricesCSV, volsCSV string) {
	if len(levels) == 0 {
		return "", ""
	}
	prices := make([]byte, 0, len(levels)*8)
	vols := make([]byte, 0, len(levels)*8)
	for i, lvl := range levels {
		if i > 0 {
			prices = append(prices, ',')
			vols = append(vols, ',')
		}
		prices = strconv.AppendInt(prices, lvl.Price, 10)
		vols = strconv.AppendInt(vols, lvl.Volume, 10)
	}
	return string(prices), string(vols)
}

// sanitizeTs drops rows whose timestamp is more than maxFutureSkew ahead
// of now and clamps impossible (non-positive) values to now. Used by the
// DIRECT writer before persisting.
func sanitizeTs(exchTsNs int64, now time.Time, maxFutureSkew time.Duration) (clamped int64, dropped bool) {
	if exchTsNs > now.Add(maxFutureSkew).UnixNano() {
		return 0, true
	}
	if exchTsNs <= 0 {
		return now.UnixNano(), false
	}
	return exchTsNs, false
}
