package chain

import (
	"fmt"

	"github.com/holiman/uint256"
	"github.com/nurcahyapriantoro/PlatformAgriblock-sub003/internal/storage"
	"github.com/nurcahyapriantoro/PlatformAgriblock-sub003/pkg/tx"
	"github.com/nurcahyapriantoro/PlatformAgriblock-sub003/pkg/types"
)

// executeTx applies one structurally valid transaction to o. On error o
// may hold partial writes; callers execute into a child overlay and drop
// it on failure.
func executeTx(o *Overlay, t *tx.Transaction, height uint64, index int, producer types.PublicKey) error {
	view := NewStateView(o)

	known, err := view.HasTx(t.ID)
	if err != nil {
		return err
	}
	if known {
		return fmt.Errorf("%w: %s", ErrTxKnown, t.ID)
	}

	from, err := view.Account(t.From)
	if err != nil {
		return err
	}
	if t.Nonce != from.Nonce+1 {
		return fmt.Errorf("%w: account %s nonce %d, tx nonce %d", ErrBadNonce, t.From.Short(), from.Nonce, t.Nonce)
	}

	fee := t.FeeOrZero()
	if err := debit(from, fee); err != nil {
		return fmt.Errorf("fee: %w", err)
	}

	switch t.Type {
	case tx.TypeTransfer:
		err = applyTransfer(o, view, from, t)
	case tx.TypeStake:
		err = applyStake(o, view, from, t)
	case tx.TypeUnstake:
		err = applyUnstake(o, view, from, t)
	case tx.TypeRegister:
		err = applyRegister(o, view, from, t, height)
	case tx.TypeCertify:
		err = applyCertify(o, from, t, height, index)
	default:
		err = fmt.Errorf("%w: %q", tx.ErrUnknownType, t.Type)
	}
	if err != nil {
		return err
	}

	from.Nonce = t.Nonce
	if err := putJSON(o, storage.KeyspaceState, accountKey(from.Address), from); err != nil {
		return err
	}

	if !fee.IsZero() {
		prod, err := view.Account(producer)
		if err != nil {
			return err
		}
		if err := credit(prod, fee); err != nil {
			return err
		}
		if err := putJSON(o, storage.KeyspaceState, accountKey(producer), prod); err != nil {
			return err
		}
	}

	return putJSON(o, storage.KeyspaceTxHash, txKey(t.ID), &TxRecord{Transaction: t, Height: height, Index: index})
}

func debit(a *Account, amount *uint256.Int) error {
	if a.Balance.Lt(amount) {
		return fmt.Errorf("%w: %s has %s, needs %s", ErrInsufficientBalance, a.Address.Short(), a.Balance.Dec(), amount.Dec())
	}
	a.Balance = new(uint256.Int).Sub(a.Balance, amount)
	return nil
}

func credit(a *Account, amount *uint256.Int) error {
	sum, overflow := new(uint256.Int).AddOverflow(a.Balance, amount)
	if overflow {
		return ErrBalanceOverflow
	}
	a.Balance = sum
	return nil
}

// applyTransfer moves the amount; the sender row is written by the caller.
func applyTransfer(o *Overlay, view *StateView, from *Account, t *tx.Transaction) error {
	p, err := t.AmountPayload()
	if err != nil {
		return err
	}
	if err := debit(from, p.Amount); err != nil {
		return err
	}
	to, err := view.Account(t.To)
	if err != nil {
		return err
	}
	if err := credit(to, p.Amount); err != nil {
		return err
	}
	return putJSON(o, storage.KeyspaceState, accountKey(to.Address), to)
}

func applyStake(o *Overlay, view *StateView, from *Account, t *tx.Transaction) error {
	p, err := t.AmountPayload()
	if err != nil {
		return err
	}
	if err := debit(from, p.Amount); err != nil {
		return err
	}
	s, err := view.Stake(t.From)
	if err != nil {
		return err
	}
	if s == nil {
		s = &Stake{Validator: t.From, Amount: new(uint256.Int)}
	}
	sum, overflow := new(uint256.Int).AddOverflow(s.Amount, p.Amount)
	if overflow {
		return ErrBalanceOverflow
	}
	s.Amount = sum
	s.Status = StakeActive
	return putJSON(o, storage.KeyspaceStake, stakeKey(t.From), s)
}

func applyUnstake(o *Overlay, view *StateView, from *Account, t *tx.Transaction) error {
	p, err := t.AmountPayload()
	if err != nil {
		return err
	}
	s, err := view.Stake(t.From)
	if err != nil {
		return err
	}
	if s == nil || s.Amount.Lt(p.Amount) {
		have := "0"
		if s != nil {
			have = s.Amount.Dec()
		}
		return fmt.Errorf("%w: %s has %s staked, unstaking %s", ErrInsufficientStake, t.From.Short(), have, p.Amount.Dec())
	}
	s.Amount = new(uint256.Int).Sub(s.Amount, p.Amount)
	if s.Amount.IsZero() {
		s.Status = StakeInactive
	}
	if err := credit(from, p.Amount); err != nil {
		return err
	}
	return putJSON(o, storage.KeyspaceStake, stakeKey(t.From), s)
}

func applyRegister(o *Overlay, view *StateView, from *Account, t *tx.Transaction, height uint64) error {
	p, err := t.RegisterPayload()
	if err != nil {
		return err
	}
	if from.UserID != "" {
		return fmt.Errorf("%w: %s is user %q", ErrAccountRegistered, from.Address.Short(), from.UserID)
	}
	if u, err := view.User(p.UserID); err != nil {
		return err
	} else if u != nil {
		return fmt.Errorf("%w: userId %q", ErrUserExists, p.UserID)
	}
	if p.Email != "" {
		if u, err := view.UserByEmail(p.Email); err != nil {
			return err
		} else if u != nil {
			return fmt.Errorf("%w: email %q", ErrUserExists, p.Email)
		}
		if err := o.Put(storage.KeyspaceTxHash, userEmailKey(p.Email), []byte(p.UserID)); err != nil {
			return err
		}
	}
	if p.GoogleID != "" {
		if u, err := view.UserByGoogleID(p.GoogleID); err != nil {
			return err
		} else if u != nil {
			return fmt.Errorf("%w: googleId %q", ErrUserExists, p.GoogleID)
		}
		if err := o.Put(storage.KeyspaceTxHash, userGoogleKey(p.GoogleID), []byte(p.UserID)); err != nil {
			return err
		}
	}

	from.UserID = p.UserID
	from.Role = p.Role
	return putJSON(o, storage.KeyspaceTxHash, userKey(p.UserID), &User{
		UserID:   p.UserID,
		Email:    p.Email,
		GoogleID: p.GoogleID,
		Name:     p.Name,
		Role:     p.Role,
		Address:  t.From,
		TxID:     t.ID,
		Height:   height,
	})
}

func applyCertify(o *Overlay, from *Account, t *tx.Transaction, height uint64, index int) error {
	p, err := t.CertifyPayload()
	if err != nil {
		return err
	}
	if !tx.CanCertify(from.Role) {
		role := from.Role
		if role == "" {
			role = "unregistered"
		}
		return fmt.Errorf("%w: %s is %s", ErrNotPermitted, from.Address.Short(), role)
	}
	return o.Put(storage.KeyspaceTxHash, productKey(p.ProductID, height, index), []byte(t.ID.String()))
}
