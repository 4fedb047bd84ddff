package exchange

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"github.com/duskline/polybot/internal/types"
)

// flexString unmarshals a field the venue sometimes sends as a JSON string
// and sometimes as a JSON number, normalizing to string. This is the small
// tagged-union parse helper named in Design Note "dynamic dispatch" — no
// raw map[string]any is allowed to propagate past this file.
type flexString string

func (f *flexString) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err == nil {
		*f = flexString(s)
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(data, &n); err == nil {
		*f = flexString(n.String())
		return nil
	}
	return fmt.Errorf("flexString: unsupported shape %s", string(data))
}

// flexTokenIDs unmarshals the venue's outcome-token-ids field, which is
// sometimes a JSON array of strings and sometimes a JSON-encoded string
// containing that array.
type flexTokenIDs []string

func (f *flexTokenIDs) UnmarshalJSON(data []byte) error {
	var arr []string
	if err := json.Unmarshal(data, &arr); err == nil {
		*f = arr
		return nil
	}
	var encoded string
	if err := json.Unmarshal(data, &encoded); err == nil {
		var inner []string
		if err := json.Unmarshal([]byte(encoded), &inner); err == nil {
			*f = inner
			return nil
		}
	}
	*f = nil
	return nil
}

// rawMarket is the venue's heterogenous market representation.
type rawMarket struct {
	ConditionID string       `json:"conditionId"`
	Question    string       `json:"question"`
	Slug        string       `json:"slug"`
	EndDateISO  string       `json:"endDate"`
	Liquidity   flexString   `json:"liquidity"`
	TokenIDs    flexTokenIDs `json:"clobTokenIds"`
	OutcomePrices flexTokenIDs `json:"outcomePrices"`
}

func (r rawMarket) normalize(asset string, timeframeMin int, slug string) (*types.Market, error) {
	end, err := time.Parse(time.RFC3339, r.EndDateISO)
	if err != nil {
		end = time.Now().Add(time.Duration(timeframeMin) * time.Minute)
	}

	liquidity, _ := decimal.NewFromString(string(r.Liquidity))

	m := &types.Market{
		ConditionID:  r.ConditionID,
		Slug:         slug,
		Question:     r.Question,
		Asset:        asset,
		TimeframeMin: timeframeMin,
		Liquidity:    liquidity,
		EndTime:      end,
		WindowTS:     end.Add(-time.Duration(timeframeMin) * time.Minute),
		Tradable:     end.After(time.Now()),
	}
	if len(r.TokenIDs) >= 2 {
		m.UpTokenID = r.TokenIDs[0]
		m.DownTokenID = r.TokenIDs[1]
	}
	if len(r.OutcomePrices) >= 2 {
		up, err1 := decimal.NewFromString(r.OutcomePrices[0])
		down, err2 := decimal.NewFromString(r.OutcomePrices[1])
		if err1 == nil && err2 == nil {
			m.UpPrice = up
			m.DownPrice = down
		}
	}
	return m, nil
}

// rawBook is the venue's order-book response; bid/ask levels arrive as
// [][]interface{} (each inner pair price, size as strings) in the real API.
type rawBook struct {
	Bids [][2]flexString `json:"bids"`
	Asks [][2]flexString `json:"asks"`
}

func (b rawBook) mid() (decimal.Decimal, bool) {
	if len(b.Bids) == 0 || len(b.Asks) == 0 {
		return decimal.Zero, false
	}
	bestBid, err1 := decimal.NewFromString(string(b.Bids[0][0]))
	bestAsk, err2 := decimal.NewFromString(string(b.Asks[0][0]))
	if err1 != nil || err2 != nil {
		return decimal.Zero, false
	}
	return bestBid.Add(bestAsk).Div(decimal.NewFromInt(2)), true
}

// rawOrderStatus is the venue's order-status lookup response.
type rawOrderStatus struct {
	Status       string       `json:"status"`
	TxHashes     flexTokenIDs `json:"transactionsHashes"`
	MatchedSize  flexString   `json:"matchedSize"`
}

func (r rawOrderStatus) isFilled() bool {
	return r.Status == "matched" || r.Status == "filled"
}

func (r rawOrderStatus) hasTxProof() bool {
	return len(r.TxHashes) > 0
}

// confirmed reports a positively verified fill: a matched/filled status
// backed by on-chain transaction hashes. A success status with no tx
// hashes is the GhostFill condition (§4.4.2/§7), not a confirmed fill.
func (r rawOrderStatus) confirmed() bool {
	return r.isFilled() && r.hasTxProof()
}
