package model

import (
	"encoding/json"
	"time"

	"github.com/ethereum/go-ethereum/common"
)

// Operation kinds recorded in history.
const (
	OperationKindDeploy = "deploy"
	OperationKindMint   = "mint"
)

// OperationRecord is a persisted trace of a relayer action, keyed by ULID in
// storage so records sort by submission time.
type OperationRecord struct {
	ID          string         `json:"id"`
	Kind        string         `json:"kind"`
	UserID      string         `json:"userId"`
	Sender      common.Address `json:"sender"`
	Recipient   string         `json:"recipient,omitempty"`
	Amount      string         `json:"amount,omitempty"`
	TxHash      string         `json:"txHash,omitempty"`
	UserOpHash  string         `json:"userOpHash,omitempty"`
	SubmittedAt time.Time      `json:"submittedAt"`
	Error       string         `json:"error,omitempty"`
}

func (r *OperationRecord) ToJSON() ([]byte, error) {
	return json.Marshal(r)
}

func (r *OperationRecord) FromStorageData(body []byte) error {
	err := json.Unmarshal(body, r)

	return err
}
