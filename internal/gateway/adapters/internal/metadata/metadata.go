// Package metadata encodes fund allocations and donor identity into the
// free-form metadata providers echo back on completion callbacks. The wire
// shape is shared by every adapter so the webhook side can decode uniformly.
package metadata

import (
	"encoding/json"
	"net/url"
	"strings"

	"github.com/bwmarrin/snowflake"

	"github.com/steeplehq/giving/internal/gateway/domain"
)

const (
	KeyFunds    = "funds"
	KeyPersonID = "person_id"
)

type fundEntry struct {
	FundID string `json:"fund_id"`
	Amount int64  `json:"amount"`
}

// Encode returns the metadata key/value pairs for a charge or subscription.
func Encode(personID *snowflake.ID, funds []domain.FundAllocation) map[string]string {
	out := map[string]string{}
	if personID != nil {
		out[KeyPersonID] = personID.String()
	}
	if len(funds) > 0 {
		entries := make([]fundEntry, 0, len(funds))
		for _, fund := range funds {
			entries = append(entries, fundEntry{FundID: fund.FundID.String(), Amount: fund.Amount})
		}
		raw, err := json.Marshal(entries)
		if err == nil {
			out[KeyFunds] = string(raw)
		}
	}
	return out
}

// EncodeForm writes the metadata pairs into a Stripe-style form body.
func EncodeForm(form url.Values, personID *snowflake.ID, funds []domain.FundAllocation) {
	for key, value := range Encode(personID, funds) {
		form.Set("metadata["+key+"]", value)
	}
}

// EncodeNote packs the same payload into a single JSON string for providers
// that only offer one free-text field.
func EncodeNote(personID *snowflake.ID, funds []domain.FundAllocation) string {
	pairs := Encode(personID, funds)
	if len(pairs) == 0 {
		return ""
	}
	raw, err := json.Marshal(pairs)
	if err != nil {
		return ""
	}
	return string(raw)
}

// Decode parses metadata pairs back into donor identity and fund splits.
// Malformed values are dropped rather than failing the event; the ledger
// falls back to the tenant's general fund.
func Decode(pairs map[string]string) (*snowflake.ID, []domain.FundAllocation) {
	if len(pairs) == 0 {
		return nil, nil
	}

	var personID *snowflake.ID
	if raw, ok := pairs[KeyPersonID]; ok {
		if id, err := snowflake.ParseString(strings.TrimSpace(raw)); err == nil {
			personID = &id
		}
	}

	var funds []domain.FundAllocation
	if raw, ok := pairs[KeyFunds]; ok && raw != "" {
		var entries []fundEntry
		if err := json.Unmarshal([]byte(raw), &entries); err == nil {
			for _, entry := range entries {
				fundID, err := snowflake.ParseString(entry.FundID)
				if err != nil || entry.Amount <= 0 {
					continue
				}
				funds = append(funds, domain.FundAllocation{FundID: fundID, Amount: entry.Amount})
			}
		}
	}
	return personID, funds
}

// DecodeNote is the inverse of EncodeNote.
func DecodeNote(note string) (*snowflake.ID, []domain.FundAllocation) {
	note = strings.TrimSpace(note)
	if note == "" || !strings.HasPrefix(note, "{") {
		return nil, nil
	}
	var pairs map[string]string
	if err := json.Unmarshal([]byte(note), &pairs); err != nil {
		return nil, nil
	}
	return Decode(pairs)
}
