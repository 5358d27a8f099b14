package cashu

import (
	"encoding/json"
	"fmt"

	"github.com/google/uuid"
)

// QuoteId identifies a mint or melt quote. It is unguessable so that
// knowing an invoice does not let a third party claim the quote.
type QuoteId struct {
	id uuid.UUID
}

func NewQuoteId() (QuoteId, error) {
	id, err := uuid.NewRandom()
	if err != nil {
		return QuoteId{}, err
	}
	return QuoteId{id: id}, nil
}

func ParseQuoteId(s string) (QuoteId, error) {
	id, err := uuid.Parse(s)
	if err != nil {
		return QuoteId{}, fmt.Errorf("invalid quote id: %v", err)
	}
	return QuoteId{id: id}, nil
}

func (q QuoteId) String() string {
	return q.id.String()
}

func (q QuoteId) MarshalJSON() ([]byte, error) {
	return json.Marshal(q.id.String())
}

func (q *QuoteId) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return err
	}
	parsed, err := ParseQuoteId(s)
	if err != nil {
		return err
	}
	*q = parsed
	return nil
}
