package polymarket

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/iambrands/ai-ml-trading-bot/internal/domain"
)

// flexBool unmarshals from a JSON bool or a "true"/"false" string.
type flexBool bool

func (f *flexBool) UnmarshalJSON(data []byte) error {
	var b bool
	if err := json.Unmarshal(data, &b); err == nil {
		*f = flexBool(b)
		return nil
	}
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return err
	}
	*f = flexBool(strings.EqualFold(s, "true") || s == "1")
	return nil
}

// flexFloat unmarshals from a JSON number or a numeric string; Gamma sends
// both depending on the field.
type flexFloat float64

func (f *flexFloat) UnmarshalJSON(data []byte) error {
	if string(data) == "null" {
		return nil
	}
	var n float64
	if err := json.Unmarshal(data, &n); err == nil {
		*f = flexFloat(n)
		return nil
	}
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return err
	}
	if s == "" {
		*f = 0
		return nil
	}
	n, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return err
	}
	*f = flexFloat(n)
	return nil
}

// APIMarket is a market as returned by the Gamma API.
type APIMarket struct {
	ID            string    `json:"id"`
	Question      string    `json:"question"`
	ConditionID   string    `json:"conditionId"`
	Slug          string    `json:"slug"`
	Active        flexBool  `json:"active"`
	Closed        flexBool  `json:"closed"`
	Outcomes      string    `json:"outcomes"`      // JSON-encoded: "[\"Yes\",\"No\"]"
	OutcomePrices string    `json:"outcomePrices"` // JSON-encoded: "[\"0.5\",\"0.5\"]"
	ClobTokenIDs  string    `json:"clobTokenIds"`  // JSON-encoded: "[\"123\",\"456\"]"
	Volume24hr    flexFloat `json:"volume24hr"`
	Liquidity     flexFloat `json:"liquidity"`
	EndDate       string    `json:"endDate"`
	ClosedTime    string    `json:"closedTime"`
	CreatedAt     string    `json:"createdAt"`
}

// resolvedThreshold is how close to 0 or 1 a closed market's YES price must
// be before it counts as settled.
const resolvedThreshold = 0.01

// ToDomainMarket converts a binary Gamma market. Markets whose outcomes are
// not a Yes/No pair, or whose prices cannot be parsed, return an error.
func (m *APIMarket) ToDomainMarket() (domain.Market, error) {
	outcomes, err := decodeStringList(m.Outcomes)
	if err != nil {
		return domain.Market{}, fmt.Errorf("market %s outcomes: %w", m.ID, err)
	}
	yesIdx, noIdx := -1, -1
	for i, o := range outcomes {
		switch strings.ToLower(strings.TrimSpace(o)) {
		case "yes":
			yesIdx = i
		case "no":
			noIdx = i
		}
	}
	if len(outcomes) != 2 || yesIdx < 0 || noIdx < 0 {
		return domain.Market{}, fmt.Errorf("market %s: not a binary yes/no market", m.ID)
	}

	prices, err := decodeStringList(m.OutcomePrices)
	if err != nil || len(prices) != 2 {
		return domain.Market{}, fmt.Errorf("market %s: bad outcome prices %q", m.ID, m.OutcomePrices)
	}
	yes, err := strconv.ParseFloat(prices[yesIdx], 64)
	if err != nil {
		return domain.Market{}, fmt.Errorf("market %s yes price: %w", m.ID, err)
	}
	no, err := strconv.ParseFloat(prices[noIdx], 64)
	if err != nil {
		return domain.Market{}, fmt.Errorf("market %s no price: %w", m.ID, err)
	}

	dm := domain.Market{
		ID:        m.ID,
		Question:  m.Question,
		Slug:      m.Slug,
		YesPrice:  yes,
		NoPrice:   no,
		Volume24h: float64(m.Volume24hr),
		Liquidity: float64(m.Liquidity),
		Closed:    bool(m.Closed),
		CreatedAt: parseTime(m.CreatedAt),
	}
	if tokens, err := decodeStringList(m.ClobTokenIDs); err == nil && len(tokens) == 2 {
		dm.YesTokenID = tokens[yesIdx]
	}

	resolution := parseTime(m.EndDate)
	if dm.Closed {
		if closed := parseTime(m.ClosedTime); !closed.IsZero() {
			resolution = closed
		}
		switch {
		case yes >= 1-resolvedThreshold:
			dm.Outcome = domain.OutcomeYes
		case yes <= resolvedThreshold:
			dm.Outcome = domain.OutcomeNo
		}
	}
	if !resolution.IsZero() {
		dm.ResolutionDate = &resolution
	}
	return dm, nil
}

func decodeStringList(raw string) ([]string, error) {
	if raw == "" {
		return nil, fmt.Errorf("empty list")
	}
	var out []string
	if err := json.Unmarshal([]byte(raw), &out); err != nil {
		return nil, err
	}
	return out, nil
}

// parseTime accepts the RFC 3339 and "2006-01-02 15:04:05+00" forms Gamma
// uses. Unparseable input yields the zero time.
func parseTime(s string) time.Time {
	if s == "" {
		return time.Time{}
	}
	for _, layout := range []string{time.RFC3339Nano, "2006-01-02 15:04:05-07", "2006-01-02T15:04:05Z0700", "2006-01-02"} {
		if t, err := time.Parse(layout, s); err == nil {
			return t.UTC()
		}
	}
	return time.Time{}
}
