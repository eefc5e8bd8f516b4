package polymarket

import (
	"bytes"
	"encoding/json"
	"strconv"
	"strings"
)

// APIEvent is an event object from the Gamma /events listing.
type APIEvent struct {
	ID        flexString  `json:"id"`
	Title     string      `json:"title"`
	Slug      string      `json:"slug"`
	EndDate   string      `json:"endDate"`
	StartDate string      `json:"startDate"`
	Markets   []APIMarket `json:"markets"`
}

// APIMarket is a market record nested in an event. Gamma is loose about
// types: ids may be numbers, prices and volumes may be strings, and the
// outcome arrays are often JSON-encoded strings. Malformed values decode to
// the zero value so one bad field cannot fail a whole page.
type APIMarket struct {
	ID            flexString     `json:"id"`
	Slug          string         `json:"slug"`
	Question      string         `json:"question"`
	Outcomes      flexStringList `json:"outcomes"`
	OutcomePrices flexStringList `json:"outcomePrices"`
	LiquidityNum  *float64       `json:"liquidityNum"`
	Liquidity     flexFloat      `json:"liquidity"`
	VolumeNum     *float64       `json:"volumeNum"`
	Volume        flexFloat      `json:"volume"`
	EndDate       string         `json:"endDate"`
	CreatedAt     string         `json:"createdAt"`
	CreationDate  string         `json:"creationDate"`
	Active        *flexBool      `json:"active"`
	Closed        flexBool       `json:"closed"`
}

// flexBool unmarshals from JSON bool or string ("true"/"false").
type flexBool bool

func (f *flexBool) UnmarshalJSON(data []byte) error {
	var b bool
	if err := json.Unmarshal(data, &b); err == nil {
		*f = flexBool(b)
		return nil
	}
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		*f = false
		return nil
	}
	*f = flexBool(strings.EqualFold(s, "true") || s == "1")
	return nil
}

// flexString accepts a JSON string or number.
type flexString string

func (f *flexString) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if bytes.Equal(data, []byte("null")) {
		*f = ""
		return nil
	}
	var s string
	if err := json.Unmarshal(data, &s); err == nil {
		*f = flexString(s)
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(data, &n); err != nil {
		*f = ""
		return nil
	}
	*f = flexString(n.String())
	return nil
}

// flexFloat accepts a JSON number or numeric string. Set is false when the
// field was absent, null, or not numeric.
type flexFloat struct {
	Value float64
	Set   bool
}

func (f *flexFloat) UnmarshalJSON(data []byte) error {
	*f = flexFloat{}
	var n float64
	if err := json.Unmarshal(data, &n); err == nil {
		*f = flexFloat{Value: n, Set: true}
		return nil
	}
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return nil
	}
	if v, err := strconv.ParseFloat(strings.TrimSpace(s), 64); err == nil {
		*f = flexFloat{Value: v, Set: true}
	}
	return nil
}

// flexStringList accepts a JSON array or a string holding a JSON array.
// Elements may be strings or numbers. Anything else decodes to nil.
type flexStringList []string

func (f *flexStringList) UnmarshalJSON(data []byte) error {
	*f = nil
	data = bytes.TrimSpace(data)
	if len(data) > 0 && data[0] == '"' {
		var encoded string
		if err := json.Unmarshal(data, &encoded); err != nil {
			return nil
		}
		data = []byte(encoded)
	}
	var items []json.RawMessage
	if err := json.Unmarshal(data, &items); err != nil {
		return nil
	}
	out := make([]string, 0, len(items))
	for _, item := range items {
		var fs flexString
		_ = fs.UnmarshalJSON(item)
		out = append(out, string(fs))
	}
	*f = out
	return nil
}
