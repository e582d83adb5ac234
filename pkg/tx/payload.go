package tx

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/mail"
	"strings"

	"github.com/holiman/uint256"
)

// Account roles recognised by register and certify.
const (
	RoleFarmer    = "farmer"
	RoleCollector = "collector"
	RoleTrader    = "trader"
	RoleRetailer  = "retailer"
	RoleConsumer  = "consumer"
)

var knownRoles = map[string]bool{
	RoleFarmer:    true,
	RoleCollector: true,
	RoleTrader:    true,
	RoleRetailer:  true,
	RoleConsumer:  true,
}

// ValidRole reports whether r is a known account role.
func ValidRole(r string) bool {
	return knownRoles[r]
}

// CanCertify reports whether an account with role r may issue certifications.
func CanCertify(r string) bool {
	return r != "" && r != RoleConsumer && knownRoles[r]
}

// AmountPayload is the payload of transfer, stake and unstake.
type AmountPayload struct {
	Amount *uint256.Int `json:"amount"`
}

// RegisterPayload creates a platform user record.
type RegisterPayload struct {
	UserID   string `json:"userId"`
	Email    string `json:"email,omitempty"`
	GoogleID string `json:"googleId,omitempty"`
	Name     string `json:"name,omitempty"`
	Role     string `json:"role"`
}

// CertifyPayload attaches a certification to a product. Fields other than
// productId are kept verbatim in the transaction.
type CertifyPayload struct {
	ProductID string `json:"productId"`
}

// EncodePayload marshals v into canonical payload bytes.
func EncodePayload(v any) (json.RawMessage, error) {
	b, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("encode payload: %w", err)
	}
	return canonicalPayload(b)
}

// canonicalPayload returns the form encoding/json itself emits for a raw
// message (compact, HTML-escaped). A transaction is only valid when its
// payload is already canonical, so re-encoding never changes its id.
func canonicalPayload(p []byte) (json.RawMessage, error) {
	if !json.Valid(p) {
		return nil, fmt.Errorf("payload is not valid JSON")
	}
	b, err := json.Marshal(json.RawMessage(p))
	if err != nil {
		return nil, err
	}
	return b, nil
}

func isCanonical(p []byte) bool {
	c, err := canonicalPayload(p)
	return err == nil && bytes.Equal(c, p)
}

// AmountPayload decodes the payload of an amount-carrying transaction.
func (tx *Transaction) AmountPayload() (*AmountPayload, error) {
	var p AmountPayload
	if err := json.Unmarshal(tx.Payload, &p); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrBadPayload, err)
	}
	if p.Amount == nil || p.Amount.IsZero() {
		return nil, ErrZeroAmount
	}
	return &p, nil
}

// RegisterPayload decodes and checks a register payload.
func (tx *Transaction) RegisterPayload() (*RegisterPayload, error) {
	var p RegisterPayload
	if err := json.Unmarshal(tx.Payload, &p); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrBadPayload, err)
	}
	if p.UserID == "" || strings.ContainsAny(p.UserID, ": \t\n") {
		return nil, fmt.Errorf("%w: invalid userId %q", ErrBadPayload, p.UserID)
	}
	if !ValidRole(p.Role) {
		return nil, fmt.Errorf("%w: unknown role %q", ErrBadPayload, p.Role)
	}
	if p.Email != "" {
		addr, err := mail.ParseAddress(p.Email)
		if err != nil || addr.Address != p.Email {
			return nil, fmt.Errorf("%w: invalid email %q", ErrBadPayload, p.Email)
		}
	}
	return &p, nil
}

// CertifyPayload decodes and checks a certify payload.
func (tx *Transaction) CertifyPayload() (*CertifyPayload, error) {
	var p CertifyPayload
	if err := json.Unmarshal(tx.Payload, &p); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrBadPayload, err)
	}
	if p.ProductID == "" || strings.ContainsAny(p.ProductID, ": \t\n") {
		return nil, fmt.Errorf("%w: invalid productId %q", ErrBadPayload, p.ProductID)
	}
	return &p, nil
}
