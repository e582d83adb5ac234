package tx

import (
	"encoding/json"
	"errors"
	"strings"
	"testing"

	"github.com/holiman/uint256"
	"github.com/nurcahyapriantoro/PlatformAgriblock-sub003/config"
	"github.com/nurcahyapriantoro/PlatformAgriblock-sub003/pkg/crypto"
	"github.com/nurcahyapriantoro/PlatformAgriblock-sub003/pkg/types"
)

// resign recomputes id and signature after a test mutates the tx.
func resign(t *testing.T, tx *Transaction, key *crypto.PrivateKey) {
	t.Helper()
	if err := tx.Sign(key); err != nil {
		t.Fatalf("Sign: %v", err)
	}
}

func TestValidate_Valid(t *testing.T) {
	a, b := mustKey(t), mustKey(t)
	tx := signedTransfer(t, a, b.PublicKey(), 10, 1)
	if err := tx.Check(); err != nil {
		t.Fatalf("valid tx rejected: %v", err)
	}
}

func TestValidate_Errors(t *testing.T) {
	a, b := mustKey(t), mustKey(t)

	tests := []struct {
		name   string
		mutate func(tx *Transaction)
		want   error
	}{
		{"unknown type", func(tx *Transaction) { tx.Type = "mint" }, ErrUnknownType},
		{"zero nonce", func(tx *Transaction) { tx.Nonce = 0 }, ErrZeroNonce},
		{"zero timestamp", func(tx *Transaction) { tx.Timestamp = 0 }, ErrZeroTimestamp},
		{"missing recipient", func(tx *Transaction) { tx.To = types.PublicKey{} }, ErrMissingRecipient},
		{"self transfer", func(tx *Transaction) { tx.To = tx.From }, ErrSelfTransfer},
		{"zero amount", func(tx *Transaction) { tx.Payload = []byte(`{"amount":"0"}`) }, ErrZeroAmount},
		{"non canonical payload", func(tx *Transaction) { tx.Payload = []byte(`{ "amount": "1" }`) }, ErrBadPayload},
		{"payload too large", func(tx *Transaction) {
			tx.Payload = []byte(`"` + strings.Repeat("x", config.MaxTxPayload) + `"`)
		}, ErrPayloadTooLarge},
		{"stake with recipient", func(tx *Transaction) { tx.Type = TypeStake }, ErrUnexpectedTo},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tx := signedTransfer(t, a, b.PublicKey(), 10, 1)
			tt.mutate(tx)
			tx.ID = tx.Hash()
			err := tx.Validate()
			if !errors.Is(err, tt.want) {
				t.Fatalf("Validate() = %v, want %v", err, tt.want)
			}
			if !errors.Is(err, types.ErrMalformedTransaction) {
				t.Errorf("error should classify as malformed: %v", err)
			}
		})
	}
}

func TestValidate_BadID(t *testing.T) {
	a, b := mustKey(t), mustKey(t)
	tx := signedTransfer(t, a, b.PublicKey(), 10, 1)
	tx.ID[0] ^= 0xff
	if err := tx.Validate(); !errors.Is(err, ErrBadID) {
		t.Errorf("Validate() = %v, want ErrBadID", err)
	}
}

func TestValidate_Register(t *testing.T) {
	a := mustKey(t)
	tests := []struct {
		name    string
		payload RegisterPayload
		ok      bool
	}{
		{"farmer", RegisterPayload{UserID: "u-1", Email: "budi@example.com", Role: RoleFarmer}, true},
		{"google only", RegisterPayload{UserID: "u-2", GoogleID: "1234", Role: RoleConsumer}, true},
		{"empty id", RegisterPayload{Role: RoleFarmer}, false},
		{"colon in id", RegisterPayload{UserID: "a:b", Role: RoleFarmer}, false},
		{"bad role", RegisterPayload{UserID: "u-3", Role: "miner"}, false},
		{"bad email", RegisterPayload{UserID: "u-4", Email: "Budi <budi@example.com>", Role: RoleTrader}, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tx, err := NewBuilder(TypeRegister).Nonce(1).Payload(tt.payload).Sign(a)
			if err != nil {
				t.Fatal(err)
			}
			err = tx.Check()
			if tt.ok && err != nil {
				t.Errorf("unexpected error: %v", err)
			}
			if !tt.ok && !errors.Is(err, ErrBadPayload) {
				t.Errorf("Check() = %v, want ErrBadPayload", err)
			}
		})
	}
}

func TestValidate_CertifyKeepsExtraFields(t *testing.T) {
	a := mustKey(t)
	payload := map[string]any{"productId": "rice-42", "grade": "A", "organic": true}
	tx, err := NewBuilder(TypeCertify).Nonce(1).Payload(payload).Sign(a)
	if err != nil {
		t.Fatal(err)
	}
	if err := tx.Check(); err != nil {
		t.Fatalf("Check: %v", err)
	}
	var got map[string]any
	if err := json.Unmarshal(tx.Payload, &got); err != nil {
		t.Fatal(err)
	}
	if got["grade"] != "A" {
		t.Errorf("extra payload fields should survive, got %v", got)
	}

	tx.Payload = []byte(`{"grade":"A"}`)
	resign(t, tx, a)
	if err := tx.Validate(); !errors.Is(err, ErrBadPayload) {
		t.Errorf("certify without productId = %v, want ErrBadPayload", err)
	}
}

func TestVerifySignature(t *testing.T) {
	a, b := mustKey(t), mustKey(t)

	t.Run("missing", func(t *testing.T) {
		tx := signedTransfer(t, a, b.PublicKey(), 1, 1)
		tx.Signature = nil
		if err := tx.VerifySignature(); !errors.Is(err, ErrMissingSig) {
			t.Errorf("got %v, want ErrMissingSig", err)
		}
	})
	t.Run("tampered amount", func(t *testing.T) {
		tx := signedTransfer(t, a, b.PublicKey(), 1, 1)
		tx.Payload, _ = EncodePayload(AmountPayload{Amount: uint256.NewInt(1000)})
		tx.ID = tx.Hash()
		if err := tx.VerifySignature(); !errors.Is(err, ErrInvalidSig) {
			t.Errorf("got %v, want ErrInvalidSig", err)
		}
	})
	t.Run("wrong sender", func(t *testing.T) {
		tx := signedTransfer(t, a, b.PublicKey(), 1, 1)
		tx.From = b.PublicKey()
		tx.To = a.PublicKey()
		tx.ID = tx.Hash()
		if err := tx.VerifySignature(); !errors.Is(err, ErrInvalidSig) {
			t.Errorf("got %v, want ErrInvalidSig", err)
		}
	})
	t.Run("corrupted", func(t *testing.T) {
		tx := signedTransfer(t, a, b.PublicKey(), 1, 1)
		tx.Signature[10] ^= 0xff
		if err := tx.VerifySignature(); !errors.Is(err, ErrInvalidSig) {
			t.Errorf("got %v, want ErrInvalidSig", err)
		}
	})
}
