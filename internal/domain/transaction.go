package domain

import (
	"fmt"
	"time"
)

// Transaction is a recorded purchase. Transactions back the activity summary
// aggregates and seed the reward pipeline via the transaction.created channel.
type Transaction struct {
	ID              int64     `json:"id"`
	MemberID        int64     `json:"memberId"`
	Amount          float64   `json:"amount"`
	PaymentMethod   string    `json:"paymentMethod"`
	ProductCategory string    `json:"productCategory"`
	TransactionDate time.Time `json:"transactionDate"`
}

// TransactionRequest is the API payload for recording a transaction.
type TransactionRequest struct {
	MemberID        int64   `json:"memberId"`
	Amount          float64 `json:"amount"`
	PaymentMethod   string  `json:"paymentMethod"`
	ProductCategory string  `json:"productCategory"`
}

// Validate checks required fields before a transaction is accepted.
func (r *TransactionRequest) Validate() error {
	if r.MemberID <= 0 {
		return fmt.Errorf("memberId is required")
	}
	if r.Amount <= 0 {
		return fmt.Errorf("amount must be positive")
	}
	return nil
}

// ToTransaction converts a request to a Transaction domain object.
func (r *TransactionRequest) ToTransaction() *Transaction {
	return &Transaction{
		MemberID:        r.MemberID,
		Amount:          r.Amount,
		PaymentMethod:   r.PaymentMethod,
		ProductCategory: r.ProductCategory,
		TransactionDate: time.Now().UTC(),
	}
}
