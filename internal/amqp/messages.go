package amqp

import (
	"encoding/json"
	"time"

	"github.com/shopspring/decimal"

	"ledger/internal/core"
)

// MaterializeRequestMessage asks a worker to materialize the instances a
// user's current salary month is missing. The worker loads the templates
// itself; only the user and their salary day travel on the wire.
type MaterializeRequestMessage struct {
	UserID    string    `json:"user_id"`
	SalaryDay int       `json:"salary_day"`
	Timestamp time.Time `json:"timestamp"`
}

func NewMaterializeRequestMessage(userID string, salaryDay int) *MaterializeRequestMessage {
	return &MaterializeRequestMessage{
		UserID:    userID,
		SalaryDay: salaryDay,
		Timestamp: time.Now(),
	}
}

// Validate rejects requests a worker could never process.
func (m *MaterializeRequestMessage) Validate() error {
	if m.UserID == "" {
		return core.NewValidationError("user_id", "cannot be empty")
	}
	return core.ValidateSalaryDay(m.SalaryDay)
}

// ToJSON converts the message to JSON bytes
func (m *MaterializeRequestMessage) ToJSON() ([]byte, error) {
	return json.Marshal(m)
}

func MaterializeRequestMessageFromJSON(data []byte) (*MaterializeRequestMessage, error) {
	var msg MaterializeRequestMessage
	if err := json.Unmarshal(data, &msg); err != nil {
		return nil, err
	}
	return &msg, nil
}

// InstanceCreatedMessage announces a freshly materialized instance.
type InstanceCreatedMessage struct {
	InstanceID  string          `json:"instance_id"`
	TemplateID  string          `json:"template_id"`
	UserID      string          `json:"user_id"`
	DueDate     string          `json:"due_date"`
	WindowStart string          `json:"window_start,omitempty"`
	Amount      decimal.Decimal `json:"amount"`
	Version     int64           `json:"version"`
	Timestamp   time.Time       `json:"timestamp"`
}

func NewInstanceCreatedMessage(instance core.Transaction) *InstanceCreatedMessage {
	msg := &InstanceCreatedMessage{
		InstanceID: instance.ID,
		UserID:     instance.UserID,
		DueDate:    instance.Date.String(),
		Amount:     instance.Amount,
		Version:    instance.Version,
		Timestamp:  time.Now(),
	}
	if instance.ParentTransactionID != nil {
		msg.TemplateID = *instance.ParentTransactionID
	}
	if instance.WindowStart != nil {
		msg.WindowStart = instance.WindowStart.String()
	}
	return msg
}

// Validate rejects events that name no user.
func (m *InstanceCreatedMessage) Validate() error {
	if m.UserID == "" {
		return core.NewValidationError("user_id", "cannot be empty")
	}
	return nil
}

func (m *InstanceCreatedMessage) ToJSON() ([]byte, error) {
	return json.Marshal(m)
}

func InstanceCreatedMessageFromJSON(data []byte) (*InstanceCreatedMessage, error) {
	var msg InstanceCreatedMessage
	if err := json.Unmarshal(data, &msg); err != nil {
		return nil, err
	}
	return &msg, nil
}
