package chain

import (
	"context"
	"fmt"

	eosgo "github.com/eoscanada/eos-go"
	"github.com/eoscanada/eos-go/ecc"
)

// Credentials holds the validated signing key for the mining account.
// The key is checked for well-formedness once at startup; a malformed key
// is a fatal configuration error.
type Credentials struct {
	keyBag *eosgo.KeyBag
	public ecc.PublicKey
}

func NewCredentials(wif string) (*Credentials, error) {
	priv, err := ecc.NewPrivateKey(wif)
	if err != nil {
		return nil, fmt.Errorf("parse private key: %w", err)
	}
	bag := eosgo.NewKeyBag()
	if err := bag.ImportPrivateKey(context.Background(), wif); err != nil {
		return nil, fmt.Errorf("import private key: %w", err)
	}
	return &Credentials{keyBag: bag, public: priv.PublicKey()}, nil
}

func (c *Credentials) PublicKey() ecc.PublicKey { return c.public }
