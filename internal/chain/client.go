package chain

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"net/http"
	"time"

	eosgo "github.com/eoscanada/eos-go"
)

// Client talks to one chain API endpoint. It wraps the raw HTTP API behind
// the three operations the miner needs: balance reads, resource-limit reads
// and batch submission.
type Client struct {
	api    *eosgo.API
	url    string
	creds  *Credentials
	logger *slog.Logger
}

func NewClient(url string, creds *Credentials, logger *slog.Logger) *Client {
	api := eosgo.New(url)
	api.HttpClient = &http.Client{Timeout: 30 * time.Second}
	return &Client{
		api:    api,
		url:    url,
		creds:  creds,
		logger: logger.With("component", "chain", "endpoint", url),
	}
}

func (c *Client) URL() string { return c.url }

// Balance returns the account's balance for the given token. An account
// with no row on the token contract reports a zero balance.
func (c *Client) Balance(ctx context.Context, account string, tok TokenIdentity) (Asset, error) {
	assets, err := c.api.GetCurrencyBalance(ctx, eosgo.AccountName(account), tok.Symbol, eosgo.AccountName(tok.Contract))
	if err != nil {
		return Asset{}, fmt.Errorf("get_currency_balance %s: %w", tok, err)
	}
	for _, a := range assets {
		if a.Symbol.Symbol == tok.Symbol {
			return assetFrom(a), nil
		}
	}
	return Asset{Raw: fmt.Sprintf("0.0000 %s", tok.Symbol)}, nil
}

// AccountLimits returns the account's CPU quota usage.
func (c *Client) AccountLimits(ctx context.Context, account string) (Limits, error) {
	resp, err := c.api.GetAccount(ctx, eosgo.AccountName(account))
	if err != nil {
		return Limits{}, fmt.Errorf("get_account %s: %w", account, err)
	}
	return Limits{
		Used: int64(resp.CPULimit.Used),
		Max:  int64(resp.CPULimit.Max),
	}, nil
}

// PushBatch signs and submits one batch as a single transaction. The policy
// fixes the TaPoS reference block, the expiry window and the CPU billing
// ceiling before signing.
func (c *Client) PushBatch(ctx context.Context, batch Batch, policy SubmitPolicy) (*Receipt, error) {
	info, err := c.api.GetInfo(ctx)
	if err != nil {
		return nil, fmt.Errorf("get_info: %w", err)
	}

	refNum := info.HeadBlockNum
	if policy.ReferenceLookback > 0 && refNum > policy.ReferenceLookback {
		refNum -= policy.ReferenceLookback
	}
	block, err := c.api.GetBlockByNum(ctx, refNum)
	if err != nil {
		return nil, fmt.Errorf("get_block %d: %w", refNum, err)
	}

	tx := &eosgo.Transaction{Actions: batch}
	tx.RefBlockNum = uint16(block.BlockNum & math.MaxUint16)
	tx.RefBlockPrefix = block.RefBlockPrefix
	tx.MaxCPUUsageMS = policy.MaxCPUMillis
	tx.SetExpiration(policy.Expiry)

	signed, err := c.creds.keyBag.Sign(ctx, eosgo.NewSignedTransaction(tx), info.ChainID, c.creds.public)
	if err != nil {
		return nil, fmt.Errorf("sign transaction: %w", err)
	}
	packed, err := signed.Pack(eosgo.CompressionNone)
	if err != nil {
		return nil, fmt.Errorf("pack transaction: %w", err)
	}

	resp, err := c.api.PushTransaction(ctx, packed)
	if err != nil {
		if sub, ok := AsSubmissionError(err); ok {
			return nil, sub
		}
		return nil, fmt.Errorf("push_transaction: %w", err)
	}
	return &Receipt{TransactionID: resp.TransactionID}, nil
}

func assetFrom(a eosgo.Asset) Asset {
	return Asset{
		Amount: float64(a.Amount) / math.Pow10(int(a.Symbol.Precision)),
		Raw:    a.String(),
	}
}
