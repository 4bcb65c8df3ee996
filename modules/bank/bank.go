// (c) 2023, Ava Labs, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package bank

import (
	"errors"
	"fmt"
	"math"

	"github.com/ava-labs/avalanchego/ids"
	"github.com/ava-labs/avalanchego/utils/hashing"
	"github.com/ava-labs/avalanchego/utils/wrappers"

	"github.com/ava-labs/rollupvm/codec"
	"github.com/ava-labs/rollupvm/modules"
	"github.com/ava-labs/rollupvm/state"
)

const Name = "bank"

var (
	ErrInsufficientBalance = errors.New("insufficient balance")
	ErrUnknownToken        = errors.New("unknown token")
	ErrTokenExists         = errors.New("token already exists")
	ErrNotMinter           = errors.New("sender is not allowed to mint")
	ErrOverflow            = errors.New("supply overflow")
	errNoGasToken          = errors.New("gas token is not set")
)

// FeeEscrow holds the fees of the batch being executed until the
// sequencer is rewarded.
var FeeEscrow = modules.Address(Name + "/fee_escrow")

type Token struct {
	Name        string        `serialize:"true" json:"name"`
	TotalSupply uint64        `serialize:"true" json:"totalSupply"`
	Minters     []ids.ShortID `serialize:"true" json:"minters"`
}

type balanceKey struct {
	Token ids.ID      `serialize:"true"`
	Owner ids.ShortID `serialize:"true"`
}

// Balance is an initial allocation.
type Balance struct {
	Address ids.ShortID `json:"address" mapstructure:"address"`
	Amount  uint64      `json:"amount" mapstructure:"amount"`
}

type TokenConfig struct {
	Name     string        `json:"name" mapstructure:"name"`
	Salt     uint64        `json:"salt" mapstructure:"salt"`
	Balances []Balance     `json:"balances" mapstructure:"balances"`
	Minters  []ids.ShortID `json:"minters" mapstructure:"minters"`
}

type Config struct {
	// GasToken pays transaction fees and sequencer bonds.
	GasToken TokenConfig   `json:"gasToken" mapstructure:"gas_token"`
	Tokens   []TokenConfig `json:"tokens" mapstructure:"tokens"`
}

// TokenID derives the id of a token from its creator, name and salt.
func TokenID(creator ids.ShortID, name string, salt uint64) ids.ID {
	p := wrappers.Packer{MaxSize: ids.ShortIDLen + wrappers.IntLen + len(name) + wrappers.LongLen}
	p.PackFixedBytes(creator[:])
	p.PackStr(name)
	p.PackLong(salt)
	return ids.ID(hashing.ComputeHash256Array(p.Bytes))
}

type Bank struct {
	gasToken state.StateValue[ids.ID]
	tokens   state.StateMap[ids.ID, Token]
	balances state.StateMap[balanceKey, uint64]
}

func New() *Bank {
	p := modules.Prefix(Name)
	return &Bank{
		gasToken: state.NewStateValue[ids.ID](p.Field("gas_token"), state.LinearCodec[ids.ID]{}),
		tokens:   state.NewStateMap[ids.ID, Token](p.Field("tokens"), state.LinearCodec[ids.ID]{}, state.LinearCodec[Token]{}),
		balances: state.NewStateMap[balanceKey, uint64](p.Field("balances"), state.LinearCodec[balanceKey]{}, state.LinearCodec[uint64]{}),
	}
}

func (b *Bank) Genesis(cfg Config, ws *state.WorkingSet) error {
	gasToken, err := b.createToken(ws, modules.Address(Name), cfg.GasToken)
	if err != nil {
		return err
	}
	if err := b.gasToken.Set(ws, gasToken); err != nil {
		return err
	}
	for _, tc := range cfg.Tokens {
		if _, err := b.createToken(ws, modules.Address(Name), tc); err != nil {
			return err
		}
	}
	return nil
}

func (b *Bank) createToken(ws *state.WorkingSet, creator ids.ShortID, cfg TokenConfig) (ids.ID, error) {
	id := TokenID(creator, cfg.Name, cfg.Salt)
	if _, ok, err := b.tokens.Get(ws, id); err != nil {
		return ids.Empty, err
	} else if ok {
		return ids.Empty, fmt.Errorf("%w: %s", ErrTokenExists, id)
	}

	token := Token{Name: cfg.Name, Minters: cfg.Minters}
	for _, bal := range cfg.Balances {
		if token.TotalSupply > math.MaxUint64-bal.Amount {
			return ids.Empty, ErrOverflow
		}
		token.TotalSupply += bal.Amount
		if err := b.add(ws, id, bal.Address, bal.Amount); err != nil {
			return ids.Empty, err
		}
	}
	return id, b.tokens.Set(ws, id, token)
}

func (b *Bank) GasToken(ws *state.WorkingSet) (ids.ID, error) {
	id, ok, err := b.gasToken.Get(ws)
	if err == nil && !ok {
		err = errNoGasToken
	}
	return id, err
}

func (b *Bank) Token(ws *state.WorkingSet, id ids.ID) (Token, bool, error) {
	return b.tokens.Get(ws, id)
}

func (b *Bank) Balance(ws *state.WorkingSet, token ids.ID, owner ids.ShortID) (uint64, error) {
	v, _, err := b.balances.Get(ws, balanceKey{Token: token, Owner: owner})
	return v, err
}

func (b *Bank) add(ws *state.WorkingSet, token ids.ID, owner ids.ShortID, amount uint64) error {
	bal, err := b.Balance(ws, token, owner)
	if err != nil {
		return err
	}
	if bal > math.MaxUint64-amount {
		return ErrOverflow
	}
	return b.balances.Set(ws, balanceKey{Token: token, Owner: owner}, bal+amount)
}

func (b *Bank) sub(ws *state.WorkingSet, token ids.ID, owner ids.ShortID, amount uint64) error {
	bal, err := b.Balance(ws, token, owner)
	if err != nil {
		return err
	}
	if bal < amount {
		return fmt.Errorf("%w: %s has %d, needs %d", ErrInsufficientBalance, owner, bal, amount)
	}
	key := balanceKey{Token: token, Owner: owner}
	if bal == amount {
		return b.balances.Remove(ws, key)
	}
	return b.balances.Set(ws, key, bal-amount)
}

// TransferFrom moves [amount] of [token] between two accounts.
func (b *Bank) TransferFrom(ws *state.WorkingSet, token ids.ID, from, to ids.ShortID, amount uint64) error {
	if amount == 0 {
		return nil
	}
	if _, ok, err := b.tokens.Get(ws, token); err != nil {
		return err
	} else if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownToken, token)
	}
	if err := b.sub(ws, token, from, amount); err != nil {
		return err
	}
	return b.add(ws, token, to, amount)
}

// BurnFrom destroys [amount] of [token] held by [from].
func (b *Bank) BurnFrom(ws *state.WorkingSet, token ids.ID, from ids.ShortID, amount uint64) error {
	t, ok, err := b.tokens.Get(ws, token)
	if err != nil {
		return err
	}
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownToken, token)
	}
	if err := b.sub(ws, token, from, amount); err != nil {
		return err
	}
	t.TotalSupply -= amount
	return b.tokens.Set(ws, token, t)
}

// ReserveFee moves the fee of a transaction into the escrow.
func (b *Bank) ReserveFee(ws *state.WorkingSet, from ids.ShortID, fee uint64) error {
	gas, err := b.GasToken(ws)
	if err != nil {
		return err
	}
	return b.TransferFrom(ws, gas, from, FeeEscrow, fee)
}

// PayFromEscrow pays [amount] of escrowed fees to [to].
func (b *Bank) PayFromEscrow(ws *state.WorkingSet, to ids.ShortID, amount uint64) error {
	gas, err := b.GasToken(ws)
	if err != nil {
		return err
	}
	return b.TransferFrom(ws, gas, FeeEscrow, to, amount)
}

// CreateToken creates a new token owned by the sender.
type CreateToken struct {
	Name           string        `serialize:"true" json:"name"`
	Salt           uint64        `serialize:"true" json:"salt"`
	InitialBalance uint64        `serialize:"true" json:"initialBalance"`
	MintTo         ids.ShortID   `serialize:"true" json:"mintTo"`
	Minters        []ids.ShortID `serialize:"true" json:"minters"`
}

type Transfer struct {
	Token  ids.ID      `serialize:"true" json:"token"`
	To     ids.ShortID `serialize:"true" json:"to"`
	Amount uint64      `serialize:"true" json:"amount"`
}

type Mint struct {
	Token  ids.ID      `serialize:"true" json:"token"`
	To     ids.ShortID `serialize:"true" json:"to"`
	Amount uint64      `serialize:"true" json:"amount"`
}

type Burn struct {
	Token  ids.ID `serialize:"true" json:"token"`
	Amount uint64 `serialize:"true" json:"amount"`
}

func (*CreateToken) Module() string { return Name }
func (*Transfer) Module() string    { return Name }
func (*Mint) Module() string        { return Name }
func (*Burn) Module() string        { return Name }

func (b *Bank) CreateToken(ws *state.WorkingSet, sender ids.ShortID, msg *CreateToken) (ids.ID, error) {
	id, err := b.createToken(ws, sender, TokenConfig{
		Name:     msg.Name,
		Salt:     msg.Salt,
		Balances: []Balance{{Address: msg.MintTo, Amount: msg.InitialBalance}},
		Minters:  msg.Minters,
	})
	if err != nil {
		return ids.Empty, err
	}
	ws.AddEvent("bank/token_created", id[:])
	return id, nil
}

func (b *Bank) Transfer(ws *state.WorkingSet, sender ids.ShortID, msg *Transfer) error {
	if err := b.TransferFrom(ws, msg.Token, sender, msg.To, msg.Amount); err != nil {
		return err
	}
	return b.emit(ws, "bank/transfer", msg)
}

func (b *Bank) Mint(ws *state.WorkingSet, sender ids.ShortID, msg *Mint) error {
	t, ok, err := b.tokens.Get(ws, msg.Token)
	if err != nil {
		return err
	}
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownToken, msg.Token)
	}
	allowed := false
	for _, m := range t.Minters {
		if m == sender {
			allowed = true
			break
		}
	}
	if !allowed {
		return fmt.Errorf("%w: %s", ErrNotMinter, sender)
	}
	if t.TotalSupply > math.MaxUint64-msg.Amount {
		return ErrOverflow
	}
	t.TotalSupply += msg.Amount
	if err := b.tokens.Set(ws, msg.Token, t); err != nil {
		return err
	}
	if err := b.add(ws, msg.Token, msg.To, msg.Amount); err != nil {
		return err
	}
	return b.emit(ws, "bank/mint", msg)
}

func (b *Bank) Burn(ws *state.WorkingSet, sender ids.ShortID, msg *Burn) error {
	if err := b.BurnFrom(ws, msg.Token, sender, msg.Amount); err != nil {
		return err
	}
	return b.emit(ws, "bank/burn", msg)
}

func (*Bank) emit(ws *state.WorkingSet, key string, msg interface{}) error {
	b, err := codec.Marshal(msg)
	if err != nil {
		return err
	}
	ws.AddEvent(key, b)
	return nil
}
