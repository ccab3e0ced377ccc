package model

import (
	"encoding/json"

	"github.com/ethereum/go-ethereum/common"
)

// Account is the API shape of a counterfactual smart account owned by a user.
type Account struct {
	UserID         string          `json:"userId"`
	Sender         common.Address  `json:"sender"`
	Deployed       bool            `json:"deployed"`
	Implementation *common.Address `json:"implementation,omitempty"`
	Variant        string          `json:"variant,omitempty"`
}

func (a *Account) ToJSON() ([]byte, error) {
	return json.Marshal(a)
}

func (a *Account) FromStorageData(body []byte) error {
	err := json.Unmarshal(body, a)

	return err
}
