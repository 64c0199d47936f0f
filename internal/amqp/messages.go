package amqp

import (
	"encoding/json"
	"time"

	"fatura/internal/core"
)

// PeriodRecomputeMessage tells the worker that one statement aggregate is
// stale. It carries only the key; the worker re-derives the total from
// storage, so a duplicate or replayed message is harmless.
type PeriodRecomputeMessage struct {
	AccountID int64     `json:"account_id"`
	Period    string    `json:"period"`
	Timestamp time.Time `json:"timestamp"`
}

func NewPeriodRecomputeMessage(accountID int64, period core.Period) *PeriodRecomputeMessage {
	return &PeriodRecomputeMessage{
		AccountID: accountID,
		Period:    period.String(),
		Timestamp: time.Now(),
	}
}

func (m *PeriodRecomputeMessage) ToJSON() ([]byte, error) {
	return json.Marshal(m)
}

func PeriodRecomputeMessageFromJSON(data []byte) (*PeriodRecomputeMessage, error) {
	var msg PeriodRecomputeMessage
	if err := json.Unmarshal(data, &msg); err != nil {
		return nil, err
	}
	return &msg, nil
}
