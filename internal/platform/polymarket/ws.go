package polymarket

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strconv"
	"time"
)

// MarketChannelPath is appended to the websocket host for the public market
// channel.
const MarketChannelPath = "/ws/market"

// WSSubscription is the first frame sent on the market channel.
type WSSubscription struct {
	Assets []string `json:"assets_ids"`
	Type   string   `json:"type"`
}

// WSUpdate changes the subscribed asset set of a live connection.
type WSUpdate struct {
	Assets    []string `json:"assets_ids"`
	Operation string   `json:"operation"` // "subscribe" or "unsubscribe"
}

// NewMarketSubscription builds the initial subscription for assetIDs.
func NewMarketSubscription(assetIDs []string) WSSubscription {
	return WSSubscription{Assets: assetIDs, Type: "market"}
}

// WSPriceLevel is a single book level.
type WSPriceLevel struct {
	Price string `json:"price"`
	Size  string `json:"size"`
}

// WSPriceChange is one entry of a price_change event.
type WSPriceChange struct {
	AssetID string `json:"asset_id"`
	Price   string `json:"price"`
	Size    string `json:"size"`
	Side    string `json:"side"`
	BestBid string `json:"best_bid"`
	BestAsk string `json:"best_ask"`
}

// WSEvent is the union of market channel events the price feed reads.
type WSEvent struct {
	EventType    string          `json:"event_type"`
	AssetID      string          `json:"asset_id"`
	Market       string          `json:"market"`
	Price        string          `json:"price"`
	Bids         []WSPriceLevel  `json:"bids"`
	Asks         []WSPriceLevel  `json:"asks"`
	PriceChanges []WSPriceChange `json:"price_changes"`
	Timestamp    string          `json:"timestamp"`
}

// PriceUpdate is a token price derived from a market channel event.
type PriceUpdate struct {
	AssetID   string
	Price     float64
	Timestamp time.Time
}

// ParseMarketMessage decodes a frame (one event or an array of events) into
// price updates. book and price_change events yield the mid of the best bid
// and ask; last_trade_price yields the trade price. Events without a usable
// price are dropped.
func ParseMarketMessage(raw []byte) ([]PriceUpdate, error) {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 {
		return nil, nil
	}
	var events []WSEvent
	if raw[0] == '[' {
		if err := json.Unmarshal(raw, &events); err != nil {
			return nil, fmt.Errorf("polymarket/ws: decode frame: %w", err)
		}
	} else {
		var ev WSEvent
		if err := json.Unmarshal(raw, &ev); err != nil {
			return nil, fmt.Errorf("polymarket/ws: decode frame: %w", err)
		}
		events = []WSEvent{ev}
	}

	var out []PriceUpdate
	for _, ev := range events {
		ts := parseMillis(ev.Timestamp)
		switch ev.EventType {
		case "book":
			if mid, ok := bookMid(ev.Bids, ev.Asks); ok {
				out = append(out, PriceUpdate{AssetID: ev.AssetID, Price: mid, Timestamp: ts})
			}
		case "price_change":
			for _, pc := range ev.PriceChanges {
				bid, errB := strconv.ParseFloat(pc.BestBid, 64)
				ask, errA := strconv.ParseFloat(pc.BestAsk, 64)
				if errB != nil || errA != nil || bid <= 0 || ask <= 0 || bid > ask {
					continue
				}
				out = append(out, PriceUpdate{AssetID: pc.AssetID, Price: (bid + ask) / 2, Timestamp: ts})
			}
		case "last_trade_price":
			if p, err := strconv.ParseFloat(ev.Price, 64); err == nil {
				out = append(out, PriceUpdate{AssetID: ev.AssetID, Price: p, Timestamp: ts})
			}
		}
	}
	return out, nil
}

func bookMid(bids, asks []WSPriceLevel) (float64, bool) {
	bestBid, bestAsk := 0.0, 0.0
	for _, l := range bids {
		if p, err := strconv.ParseFloat(l.Price, 64); err == nil && p > bestBid {
			bestBid = p
		}
	}
	for _, l := range asks {
		if p, err := strconv.ParseFloat(l.Price, 64); err == nil && p > 0 && (bestAsk == 0 || p < bestAsk) {
			bestAsk = p
		}
	}
	if bestBid <= 0 || bestAsk <= 0 || bestBid > bestAsk {
		return 0, false
	}
	return (bestBid + bestAsk) / 2, true
}

// parseMillis reads a Unix millisecond timestamp; anything else is zero.
func parseMillis(s string) time.Time {
	ms, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		return time.Time{}
	}
	return time.UnixMilli(ms).UTC()
}
