package crypto

import (
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/math"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/signer/core/apitypes"
)

// EIP712Domain is the domain separator for the order book's typed data.
// It binds a signature to one chain and one deployment, preventing replay
// across environments.
type EIP712Domain struct {
	Name              string
	Version           string
	ChainID           *big.Int
	VerifyingContract common.Address
}

// DefaultDomain returns the domain required by the order schema: name
// "OrderBook DEX", version "1.0".
func DefaultDomain(chainID *big.Int, verifyingContract common.Address) EIP712Domain {
	return EIP712Domain{
		Name:              "OrderBook DEX",
		Version:           "1.0",
		ChainID:           chainID,
		VerifyingContract: verifyingContract,
	}
}

// OrderEIP712 is the typed-data struct users sign in their wallets. Field
// order here is normative and must not change without changing the domain
// version: userAddress, tradingPair, baseToken, quoteToken, side, orderType,
// price, amount, triggerPrice, expiresAt, nonce. TriggerPrice is zero for
// order types that don't use one, and is still part of the signed digest so
// a relay can't attach or alter a trigger price without invalidating the
// signature.
type OrderEIP712 struct {
	UserAddress  common.Address
	TradingPair  string
	BaseToken    common.Address
	QuoteToken   common.Address
	Side         uint8
	OrderType    uint8
	Price        *big.Int
	Amount       *big.Int
	TriggerPrice *big.Int
	ExpiresAt    *big.Int
	Nonce        *big.Int
}

// CancelEIP712 is the typed-data struct for a signed cancel request.
type CancelEIP712 struct {
	OrderID     string
	UserAddress common.Address
	Nonce       *big.Int
}

var orderFields = []apitypes.Type{
	{Name: "userAddress", Type: "address"},
	{Name: "tradingPair", Type: "string"},
	{Name: "baseToken", Type: "address"},
	{Name: "quoteToken", Type: "address"},
	{Name: "side", Type: "uint8"},
	{Name: "orderType", Type: "uint8"},
	{Name: "price", Type: "uint256"},
	{Name: "amount", Type: "uint256"},
	{Name: "triggerPrice", Type: "uint256"},
	{Name: "expiresAt", Type: "uint256"},
	{Name: "nonce", Type: "uint256"},
}

var domainFields = []apitypes.Type{
	{Name: "name", Type: "string"},
	{Name: "version", Type: "string"},
	{Name: "chainId", Type: "uint256"},
	{Name: "verifyingContract", Type: "address"},
}

// EIP712Signer hashes and verifies order/cancel typed data against one
// domain.
type EIP712Signer struct {
	domain EIP712Domain
}

func NewEIP712Signer(domain EIP712Domain) *EIP712Signer {
	return &EIP712Signer{domain: domain}
}

func (e *EIP712Signer) Domain() EIP712Domain { return e.domain }

func (e *EIP712Signer) typedDataDomain() apitypes.TypedDataDomain {
	return apitypes.TypedDataDomain{
		Name:              e.domain.Name,
		Version:           e.domain.Version,
		ChainId:           (*math.HexOrDecimal256)(e.domain.ChainID),
		VerifyingContract: e.domain.VerifyingContract.Hex(),
	}
}

func digest(typedData apitypes.TypedData) ([]byte, error) {
	domainSeparator, err := typedData.HashStruct("EIP712Domain", typedData.Domain.Map())
	if err != nil {
		return nil, fmt.Errorf("hash domain: %w", err)
	}
	messageHash, err := typedData.HashStruct(typedData.PrimaryType, typedData.Message)
	if err != nil {
		return nil, fmt.Errorf("hash message: %w", err)
	}
	raw := append([]byte{0x19, 0x01}, append(domainSeparator, messageHash...)...)
	return crypto.Keccak256(raw), nil
}

// HashOrder returns the EIP-712 digest for an order.
func (e *EIP712Signer) HashOrder(order *OrderEIP712) ([]byte, error) {
	typedData := apitypes.TypedData{
		Types: apitypes.Types{
			"EIP712Domain": domainFields,
			"Order":        orderFields,
		},
		PrimaryType: "Order",
		Domain:      e.typedDataDomain(),
		Message: apitypes.TypedDataMessage{
			"userAddress": order.UserAddress.Hex(),
			"tradingPair": order.TradingPair,
			"baseToken":   order.BaseToken.Hex(),
			"quoteToken":  order.QuoteToken.Hex(),
			"side":        fmt.Sprintf("%d", order.Side),
			"orderType":   fmt.Sprintf("%d", order.OrderType),
			"price":        order.Price.String(),
			"amount":       order.Amount.String(),
			"triggerPrice": order.TriggerPrice.String(),
			"expiresAt":    order.ExpiresAt.String(),
			"nonce":       order.Nonce.String(),
		},
	}
	return digest(typedData)
}

// HashCancel returns the EIP-712 digest for a cancel request.
func (e *EIP712Signer) HashCancel(cancel *CancelEIP712) ([]byte, error) {
	typedData := apitypes.TypedData{
		Types: apitypes.Types{
			"EIP712Domain": domainFields,
			"CancelOrder": []apitypes.Type{
				{Name: "orderId", Type: "string"},
				{Name: "userAddress", Type: "address"},
				{Name: "nonce", Type: "uint256"},
			},
		},
		PrimaryType: "CancelOrder",
		Domain:      e.typedDataDomain(),
		Message: apitypes.TypedDataMessage{
			"orderId":     cancel.OrderID,
			"userAddress": cancel.UserAddress.Hex(),
			"nonce":       cancel.Nonce.String(),
		},
	}
	return digest(typedData)
}

// SignOrder signs the order digest with the given signer's private key.
func (e *EIP712Signer) SignOrder(signer *Signer, order *OrderEIP712) ([]byte, error) {
	hash, err := e.HashOrder(order)
	if err != nil {
		return nil, err
	}
	return signer.Sign(hash)
}

// VerifyOrderSignature reports whether signature recovers to order.UserAddress.
func (e *EIP712Signer) VerifyOrderSignature(order *OrderEIP712, signature []byte) (bool, error) {
	hash, err := e.HashOrder(order)
	if err != nil {
		return false, err
	}
	recovered, err := RecoverAddress(hash, signature)
	if err != nil {
		return false, fmt.Errorf("recover address: %w", err)
	}
	return recovered == order.UserAddress, nil
}

// VerifyCancelSignature reports whether signature recovers to cancel.UserAddress.
func (e *EIP712Signer) VerifyCancelSignature(cancel *CancelEIP712, signature []byte) (bool, error) {
	hash, err := e.HashCancel(cancel)
	if err != nil {
		return false, err
	}
	recovered, err := RecoverAddress(hash, signature)
	if err != nil {
		return false, fmt.Errorf("recover address: %w", err)
	}
	return recovered == cancel.UserAddress, nil
}

// RecoverOrderSigner recovers the signer address without a claimed owner.
func (e *EIP712Signer) RecoverOrderSigner(order *OrderEIP712, signature []byte) (common.Address, error) {
	hash, err := e.HashOrder(order)
	if err != nil {
		return common.Address{}, err
	}
	return RecoverAddress(hash, signature)
}
