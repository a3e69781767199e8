package domain

import (
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/common"
)

// SigningKeyType distinguishes how the signing key is held.
type SigningKeyType string

const (
	KeyTypeInternal SigningKeyType = "internal"
	KeyTypeLedger   SigningKeyType = "ledger"
	KeyTypeTrezor   SigningKeyType = "trezor"
	KeyTypeLattice  SigningKeyType = "lattice"
)

// GasFeePayment records how the fee for an operation is paid: with which
// token, by whom, and at which speed it was locked in.
type GasFeePayment struct {
	PaidBy               common.Address `json:"paidBy"`
	InToken              common.Address `json:"inToken"`
	Amount               *big.Int       `json:"amount"`
	SimulatedGasLimit    uint64         `json:"simulatedGasLimit"`
	GasPrice             *big.Int       `json:"gasPrice"`
	MaxPriorityFeePerGas *big.Int       `json:"maxPriorityFeePerGas,omitempty"`
	FeeSpeed             FeeSpeed       `json:"feeSpeed"`
	IsGasTank            bool           `json:"isGasTank"`
	IsERC4337            bool           `json:"isERC4337"`
}

// AccountOp is one pending operation: a batch of calls from one account on one
// chain at one nonce. It is mutable only while unsigned; once the signing
// machine sets the signature it must be treated as immutable.
type AccountOp struct {
	AccountAddr    common.Address `json:"accountAddr"`
	ChainID        *big.Int       `json:"chainId"`
	Nonce          *big.Int       `json:"nonce"`
	Calls          []Call         `json:"calls"`
	Signature      []byte         `json:"signature,omitempty"`
	GasLimit       uint64         `json:"gasLimit,omitempty"`
	GasFeePayment  *GasFeePayment `json:"gasFeePayment,omitempty"`
	SigningKeyAddr common.Address `json:"signingKeyAddr"`
	SigningKeyType SigningKeyType `json:"signingKeyType"`
}

// AccountOpStatus is the settlement status of a broadcasted operation.
// All values except BroadcastedButNotConfirmed and BroadcastButStuck are
// terminal; a stuck op can still resolve once a receipt shows up.
type AccountOpStatus string

const (
	StatusBroadcastedButNotConfirmed AccountOpStatus = "broadcasted-but-not-confirmed"
	StatusSuccess                    AccountOpStatus = "success"
	StatusFailure                    AccountOpStatus = "failure"
	StatusRejected                   AccountOpStatus = "rejected"
	StatusBroadcastButStuck          AccountOpStatus = "broadcast-but-stuck"
	StatusUnknownButPastNonce        AccountOpStatus = "unknown-but-past-nonce"
)

// IsFinal reports whether no further reconciliation can change the status.
func (s AccountOpStatus) IsFinal() bool {
	switch s {
	case StatusSuccess, StatusFailure, StatusRejected, StatusUnknownButPastNonce:
		return true
	}
	return false
}

// IdentifiedByType tags how a submitted operation can be looked up on chain.
type IdentifiedByType string

const (
	IdentifiedByTransaction  IdentifiedByType = "Transaction"
	IdentifiedByUserOpHash   IdentifiedByType = "UserOperation"
	IdentifiedByRelayer      IdentifiedByType = "Relayer"
	IdentifiedByMultipleTxns IdentifiedByType = "MultipleTxns"
)

// IdentifiedBy records the post-broadcast lookup handle for an operation.
// Exactly one of Identifier / MultipleIds is meaningful depending on Type.
// Assigned once at broadcast time and never changed.
type IdentifiedBy struct {
	Type        IdentifiedByType `json:"type"`
	Identifier  string           `json:"identifier,omitempty"`
	MultipleIds []string         `json:"multipleIds,omitempty"`
}

// CallStatus is the per-call settlement record of batched multi-txn
// broadcasts, where every call surfaced as its own transaction.
type CallStatus struct {
	TxnID  string          `json:"txnId,omitempty"`
	Status AccountOpStatus `json:"status,omitempty"`
}

// SubmittedAccountOp is an AccountOp that has been handed to a broadcaster.
// From this point only the settlement tracker mutates it.
type SubmittedAccountOp struct {
	AccountOp
	IdentifiedBy      IdentifiedBy    `json:"identifiedBy"`
	Status            AccountOpStatus `json:"status"`
	Timestamp         time.Time       `json:"timestamp"`
	TxnID             string          `json:"txnId,omitempty"`
	BlockNumber       uint64          `json:"blockNumber,omitempty"`
	BlockHash         common.Hash     `json:"blockHash,omitempty"`
	GasUsed           uint64          `json:"gasUsed,omitempty"`
	IsSingletonDeploy bool            `json:"isSingletonDeploy,omitempty"`
	CallStatuses      []CallStatus    `json:"callStatuses,omitempty"`
}

// SignedMessage is an off-chain message the account has signed, kept for the
// activity history. Capped per account like the op buckets.
type SignedMessage struct {
	Content           []byte         `json:"content"`
	FromUserRequestID string         `json:"fromUserRequestId,omitempty"`
	Signature         []byte         `json:"signature"`
	AccountAddr       common.Address `json:"accountAddr"`
	ChainID           *big.Int       `json:"chainId,omitempty"`
	Timestamp         time.Time      `json:"timestamp"`
}
