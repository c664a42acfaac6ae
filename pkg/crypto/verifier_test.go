package crypto

import (
	"fmt"
	"math/big"
	"testing"

	"github.com/ethereum/go-ethereum/common"
)

func TestVerifierVerifyOrderAcceptsValidSignature(t *testing.T) {
	key, err := GenerateKey()
	if err != nil {
		t.Fatalf("GenerateKey: %v", err)
	}
	domain := testDomain()
	signer := NewEIP712Signer(domain)
	order := sampleOrder(key.Address())

	sig, err := signer.SignOrder(key, order)
	if err != nil {
		t.Fatalf("SignOrder: %v", err)
	}

	verifier := NewVerifier(domain)
	if err := verifier.VerifyOrder(order, fmt.Sprintf("0x%x", sig)); err != nil {
		t.Errorf("VerifyOrder: %v", err)
	}
}

func TestVerifierVerifyOrderRejectsTamperedSignature(t *testing.T) {
	key, _ := GenerateKey()
	domain := testDomain()
	signer := NewEIP712Signer(domain)
	order := sampleOrder(key.Address())

	sig, _ := signer.SignOrder(key, order)
	sig[0] ^= 0xFF // flip a byte to corrupt the signature

	verifier := NewVerifier(domain)
	if err := verifier.VerifyOrder(order, fmt.Sprintf("0x%x", sig)); err == nil {
		t.Error("expected a tampered signature to fail verification")
	}
}

func TestVerifierVerifyOrderRejectsMalformedHex(t *testing.T) {
	verifier := NewVerifier(testDomain())
	order := sampleOrder(common.HexToAddress("0xa11ce"))

	if err := verifier.VerifyOrder(order, "not-hex"); err == nil {
		t.Error("expected malformed hex signature to be rejected")
	}
	if err := verifier.VerifyOrder(order, "0x1234"); err == nil {
		t.Error("expected a too-short signature to be rejected")
	}
}

func TestVerifierVerifyCancelAcceptsValidSignature(t *testing.T) {
	key, err := GenerateKey()
	if err != nil {
		t.Fatalf("GenerateKey: %v", err)
	}
	domain := testDomain()
	signer := NewEIP712Signer(domain)
	cancel := &CancelEIP712{OrderID: "order-1", UserAddress: key.Address(), Nonce: big.NewInt(1)}

	hash, err := signer.HashCancel(cancel)
	if err != nil {
		t.Fatalf("HashCancel: %v", err)
	}
	sig, err := key.Sign(hash)
	if err != nil {
		t.Fatalf("Sign: %v", err)
	}

	verifier := NewVerifier(domain)
	if err := verifier.VerifyCancel(cancel, fmt.Sprintf("0x%x", sig)); err != nil {
		t.Errorf("VerifyCancel: %v", err)
	}
}

func TestVerifierVerifyCancelRejectsWrongUser(t *testing.T) {
	key, _ := GenerateKey()
	other := common.HexToAddress("0xdeadbeef")
	domain := testDomain()
	signer := NewEIP712Signer(domain)
	cancel := &CancelEIP712{OrderID: "order-1", UserAddress: key.Address(), Nonce: big.NewInt(1)}

	hash, _ := signer.HashCancel(cancel)
	sig, _ := key.Sign(hash)

	cancel.UserAddress = other // claim a different signer after signing
	verifier := NewVerifier(domain)
	if err := verifier.VerifyCancel(cancel, fmt.Sprintf("0x%x", sig)); err == nil {
		t.Error("expected verification to fail once the claimed user no longer matches the signer")
	}
}
