package ingest

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/example/journey-matching/internal/models"
)

// JourneySubmitted is the message the intake service writes after storing a
// journey. The consumer indexes the journey and runs matching for it.
type JourneySubmitted struct {
	JourneyID int64          `json:"journeyId"`
	Journey   models.Journey `json:"journey"`
}

var ErrInvalidMessage = errors.New("invalid journey message")

func DecodeJourneySubmitted(b []byte) (JourneySubmitted, error) {
	var m JourneySubmitted
	if err := json.Unmarshal(b, &m); err != nil {
		return m, fmt.Errorf("%w: %v", ErrInvalidMessage, err)
	}
	if m.JourneyID <= 0 {
		m.JourneyID = m.Journey.ID
	}
	if m.JourneyID <= 0 {
		return m, fmt.Errorf("%w: missing journey id", ErrInvalidMessage)
	}
	m.Journey.ID = m.JourneyID
	return m, nil
}
