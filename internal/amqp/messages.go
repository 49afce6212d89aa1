package amqp

import (
	"encoding/json"
	"time"

	"dormpay/internal/core"
)

// ReceiptRetryMessage asks the worker to create a receipt that failed during
// payment confirmation. Attempt starts at 1 and grows on every redelivery.
type ReceiptRetryMessage struct {
	PaymentID string    `json:"paymentId"`
	ReceiptNo string    `json:"receiptNo"`
	CopyType  string    `json:"copyType"`
	Attempt   int       `json:"attempt"`
	Timestamp time.Time `json:"timestamp"`
}

// NewReceiptRetryMessage creates a first-attempt message for req.
func NewReceiptRetryMessage(req core.ReceiptRequest) *ReceiptRetryMessage {
	return &ReceiptRetryMessage{
		PaymentID: req.PaymentID,
		ReceiptNo: req.ReceiptNo,
		CopyType:  req.CopyType,
		Attempt:   1,
		Timestamp: time.Now(),
	}
}

// Request returns the receipt request carried by the message.
func (m *ReceiptRetryMessage) Request() core.ReceiptRequest {
	return core.ReceiptRequest{PaymentID: m.PaymentID, ReceiptNo: m.ReceiptNo, CopyType: m.CopyType}
}

// Next returns a copy for redelivery with the attempt counter advanced.
func (m *ReceiptRetryMessage) Next() *ReceiptRetryMessage {
	next := *m
	next.Attempt++
	next.Timestamp = time.Now()
	return &next
}

// ToJSON converts the message to JSON bytes
func (m *ReceiptRetryMessage) ToJSON() ([]byte, error) {
	return json.Marshal(m)
}

// ReceiptRetryMessageFromJSON decodes a message, rejecting bodies without a
// payment id.
func ReceiptRetryMessageFromJSON(data []byte) (*ReceiptRetryMessage, error) {
	var msg ReceiptRetryMessage
	if err := json.Unmarshal(data, &msg); err != nil {
		return nil, err
	}
	if msg.PaymentID == "" {
		return nil, errMissingPaymentID
	}
	if msg.Attempt < 1 {
		msg.Attempt = 1
	}
	return &msg, nil
}
