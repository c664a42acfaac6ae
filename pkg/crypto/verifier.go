package crypto

import (
	"encoding/hex"
	"fmt"
	"strings"
)

// Verifier checks signatures on orders and cancels against one EIP-712
// domain.
type Verifier struct {
	signer *EIP712Signer
}

func NewVerifier(domain EIP712Domain) *Verifier {
	return &Verifier{signer: NewEIP712Signer(domain)}
}

// Domain returns the EIP-712 domain this verifier checks signatures
// against, so callers can compare a request's claimed chain id before
// trusting its signature.
func (v *Verifier) Domain() EIP712Domain {
	return v.signer.Domain()
}

// HashOrder returns the order's EIP-712 digest, used as the order's replay
// protection hash.
func (v *Verifier) HashOrder(order *OrderEIP712) ([]byte, error) {
	return v.signer.HashOrder(order)
}

// VerifyOrder checks the order's signature and returns an error unless the
// recovered signer equals the order's claimed UserAddress.
func (v *Verifier) VerifyOrder(order *OrderEIP712, signatureHex string) error {
	sig, err := decodeSignature(signatureHex)
	if err != nil {
		return fmt.Errorf("invalid signature: %w", err)
	}
	valid, err := v.signer.VerifyOrderSignature(order, sig)
	if err != nil {
		return fmt.Errorf("signature verification failed: %w", err)
	}
	if !valid {
		return fmt.Errorf("signature does not match userAddress")
	}
	return nil
}

// VerifyCancel checks a cancel request's signature.
func (v *Verifier) VerifyCancel(cancel *CancelEIP712, signatureHex string) error {
	sig, err := decodeSignature(signatureHex)
	if err != nil {
		return fmt.Errorf("invalid signature: %w", err)
	}
	valid, err := v.signer.VerifyCancelSignature(cancel, sig)
	if err != nil {
		return fmt.Errorf("signature verification failed: %w", err)
	}
	if !valid {
		return fmt.Errorf("signature does not match userAddress")
	}
	return nil
}

func decodeSignature(sig string) ([]byte, error) {
	sig = strings.TrimPrefix(sig, "0x")
	b, err := hex.DecodeString(sig)
	if err != nil {
		return nil, fmt.Errorf("invalid hex signature: %w", err)
	}
	if len(b) != 65 {
		return nil, fmt.Errorf("signature must be 65 bytes, got %d", len(b))
	}
	return b, nil
}
