package amqp

import (
	"encoding/json"
	"fmt"
	"time"
)

// Job types carried on the queue.
const (
	JobEnrichExpense = "enrich_expense"
	JobBudgetCheck   = "budget_check"
)

// JobMessage is a lightweight job description. Enrichment jobs carry only the
// local expense ID; the worker reads the current row from the database.
type JobMessage struct {
	Type      string    `json:"type"`
	ExpenseID int64     `json:"expense_id,omitempty"`
	Attempt   int       `json:"attempt"`
	Timestamp time.Time `json:"timestamp"`
}

// NewEnrichmentMessage creates a first-attempt enrichment job.
func NewEnrichmentMessage(expenseID int64) JobMessage {
	return JobMessage{
		Type:      JobEnrichExpense,
		ExpenseID: expenseID,
		Timestamp: time.Now(),
	}
}

// NewBudgetCheckMessage creates a first-attempt budget check job.
func NewBudgetCheckMessage() JobMessage {
	return JobMessage{
		Type:      JobBudgetCheck,
		Timestamp: time.Now(),
	}
}

// Validate rejects jobs no handler could run.
func (m JobMessage) Validate() error {
	switch m.Type {
	case JobEnrichExpense:
		if m.ExpenseID <= 0 {
			return fmt.Errorf("enrichment job without expense id")
		}
	case JobBudgetCheck:
	default:
		return fmt.Errorf("unknown job type %q", m.Type)
	}
	return nil
}

// Retry returns the message for the next delivery attempt.
func (m JobMessage) Retry() JobMessage {
	m.Attempt++
	m.Timestamp = time.Now()
	return m
}

// ToJSON converts the message to JSON bytes
func (m JobMessage) ToJSON() ([]byte, error) {
	return json.Marshal(m)
}

// JobMessageFromJSON creates a message from JSON bytes
func JobMessageFromJSON(data []byte) (JobMessage, error) {
	var msg JobMessage
	if err := json.Unmarshal(data, &msg); err != nil {
		return JobMessage{}, err
	}
	return msg, nil
}
