package metadata_test

import (
	"net/url"
	"testing"

	"github.com/bwmarrin/snowflake"

	"github.com/steeplehq/giving/internal/gateway/adapters/internal/metadata"
	"github.com/steeplehq/giving/internal/gateway/domain"
)

func TestNoteRoundTrip(t *testing.T) {
	node, err := snowflake.NewNode(23)
	if err != nil {
		t.Fatalf("new node: %v", err)
	}
	personID := node.Generate()
	funds := []domain.FundAllocation{
		{FundID: node.Generate(), Amount: 1500},
		{FundID: node.Generate(), Amount: 500},
	}

	note := metadata.EncodeNote(&personID, funds)
	if note == "" {
		t.Fatalf("expected non-empty note")
	}

	gotPerson, gotFunds := metadata.DecodeNote(note)
	if gotPerson == nil || *gotPerson != personID {
		t.Fatalf("person id mismatch: %v", gotPerson)
	}
	if len(gotFunds) != 2 || gotFunds[0] != funds[0] || gotFunds[1] != funds[1] {
		t.Fatalf("funds mismatch: %+v", gotFunds)
	}
}

func TestEncodeFormWritesMetadataKeys(t *testing.T) {
	node, err := snowflake.NewNode(23)
	if err != nil {
		t.Fatalf("new node: %v", err)
	}
	personID := node.Generate()

	form := url.Values{}
	metadata.EncodeForm(form, &personID, []domain.FundAllocation{{FundID: node.Generate(), Amount: 100}})

	if form.Get("metadata[person_id]") != personID.String() {
		t.Fatalf("missing person id: %v", form)
	}
	if form.Get("metadata[funds]") == "" {
		t.Fatalf("missing funds: %v", form)
	}
}

func TestDecodeDropsMalformedValues(t *testing.T) {
	person, funds := metadata.DecodeNote("free text left by a donor")
	if person != nil || funds != nil {
		t.Fatalf("expected nothing from free text, got %v %v", person, funds)
	}

	person, funds = metadata.Decode(map[string]string{
		"person_id": "not-a-number",
		"funds":     `[{"fund_id":"abc","amount":100},{"fund_id":"123","amount":-5}]`,
	})
	if person != nil {
		t.Fatalf("expected nil person, got %v", person)
	}
	if len(funds) != 0 {
		t.Fatalf("expected malformed entries dropped, got %+v", funds)
	}
}
