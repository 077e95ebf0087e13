package chain

import (
	"errors"
	"fmt"
	"strings"
	"time"

	eosgo "github.com/eoscanada/eos-go"
	"github.com/eoscanada/eos-go/token"
)

// TokenIdentity names a mineable token: the contract that pays out rewards
// and the symbol it pays them in.
type TokenIdentity struct {
	Contract string
	Symbol   string
}

func (t TokenIdentity) String() string {
	return fmt.Sprintf("%s@%s", t.Symbol, t.Contract)
}

// BaseCurrency is the chain's native token. Mining transfers spend it and
// the funding guard checks it.
var BaseCurrency = TokenIdentity{Contract: "eosio.token", Symbol: "EOS"}

var supportedTokens = map[string]TokenIdentity{
	"EIDOS": {Contract: "eidosonecoin", Symbol: "EIDOS"},
	"POW":   {Contract: "powonecoin", Symbol: "POW"},
}

// ResolveToken maps a configured token selector to its on-chain identity.
// An unknown selector is a fatal configuration error.
func ResolveToken(selector string) (TokenIdentity, error) {
	tok, ok := supportedTokens[strings.ToUpper(strings.TrimSpace(selector))]
	if !ok {
		return TokenIdentity{}, fmt.Errorf("unknown mining token %q (supported: EIDOS, POW)", selector)
	}
	return tok, nil
}

// Asset is a token quantity as reported by the chain.
type Asset struct {
	Amount float64
	Raw    string // chain-formatted, e.g. "1.2345 EOS"
}

func (a Asset) String() string { return a.Raw }

// Limits is the account's resource quota at a point in time, in
// microseconds of billable CPU.
type Limits struct {
	Used int64
	Max  int64
}

// Ratio returns used/max. Callers must reject Max <= 0 first.
func (l Limits) Ratio() float64 {
	return float64(l.Used) / float64(l.Max)
}

// Batch is an ordered list of identical mining transfer actions, submitted
// as one all-or-nothing transaction.
type Batch []*eosgo.Action

// MiningBatch builds size identical micro-transfers from the mining account
// to the token contract. The contract pays reward tokens per transfer.
func MiningBatch(account string, tok TokenIdentity, size int) Batch {
	from := eosgo.AccountName(account)
	to := eosgo.AccountName(tok.Contract)
	quantity := eosgo.NewEOSAsset(1) // 0.0001 EOS
	batch := make(Batch, 0, size)
	for i := 0; i < size; i++ {
		batch = append(batch, token.NewTransfer(from, to, quantity, "mine"))
	}
	return batch
}

// SubmitPolicy bounds one batch submission.
type SubmitPolicy struct {
	// ReferenceLookback picks the TaPoS reference block this many blocks
	// behind the current head.
	ReferenceLookback uint32
	// Expiry is how long the transaction stays valid after submission.
	Expiry time.Duration
	// MaxCPUMillis caps the CPU time the batch may bill, so an oversized
	// batch is rejected at admission instead of burning quota.
	MaxCPUMillis uint8
}

// Receipt is the chain's acknowledgement of an accepted batch.
type Receipt struct {
	TransactionID string
}

// SubmissionError is a machine-readable rejection from the chain.
type SubmissionError struct {
	Code        int
	Name        string
	Description string
}

func (e *SubmissionError) Error() string {
	return fmt.Sprintf("submission rejected: %s (code=%d): %s", e.Name, e.Code, e.Description)
}

// AsSubmissionError extracts the structured rejection detail from err, if
// the chain produced one.
func AsSubmissionError(err error) (*SubmissionError, bool) {
	var sub *SubmissionError
	if errors.As(err, &sub) {
		return sub, true
	}
	var apiErr eosgo.APIError
	if errors.As(err, &apiErr) {
		return &SubmissionError{
			Code:        apiErr.ErrorStruct.Code,
			Name:        apiErr.ErrorStruct.Name,
			Description: apiErr.ErrorStruct.What,
		}, true
	}
	return nil, false
}
