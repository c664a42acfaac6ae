// Command sign-order generates a throwaway keypair, signs a sample order
// with EIP-712, and prints the JSON body ready to POST to
// /api/v1/orders — a development helper, not part of the running node.
package main

import (
	"encoding/json"
	"fmt"
	"math/big"
	"os"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/uhyunpark/hyperlicked/pkg/crypto"
	"github.com/uhyunpark/hyperlicked/pkg/wire"
)

var (
	sampleBase  = common.HexToAddress("0xC02aaA39b223FE8D0A0e5C4F27eAD9083C756Cc2")
	sampleQuote = common.HexToAddress("0xA0b86991c6218b36c1d19D4a2e9Eb0cE3606eB48")
)

func mustBigInt(s string) *big.Int {
	n, ok := new(big.Int).SetString(s, 10)
	if !ok {
		panic("invalid integer literal: " + s)
	}
	return n
}

func main() {
	signer, err := crypto.GenerateKey()
	if err != nil {
		fmt.Printf("error: %v\n", err)
		os.Exit(1)
	}
	fmt.Printf("address: %s\n", signer.Address().Hex())
	fmt.Printf("private key (keep secret!): %s\n\n", signer.PrivateKeyHex())

	order := &crypto.OrderEIP712{
		UserAddress: signer.Address(),
		TradingPair: "WETH-USDC",
		BaseToken:   sampleBase,
		QuoteToken:  sampleQuote,
		Side:        1, // buy
		OrderType:   1, // limit
		Price:        mustBigInt("2500000000000000000000"), // 2500 * 1e18
		Amount:       mustBigInt("1000000000000000000"),    // 1 * 1e18
		TriggerPrice: big.NewInt(0),
		ExpiresAt:    big.NewInt(time.Now().Add(time.Hour).Unix()),
		Nonce:        big.NewInt(1),
	}

	chainID := int64(1337)
	domain := crypto.DefaultDomain(big.NewInt(chainID), common.Address{})
	eip712Signer := crypto.NewEIP712Signer(domain)
	signature, err := eip712Signer.SignOrder(signer, order)
	if err != nil {
		fmt.Printf("error signing: %v\n", err)
		os.Exit(1)
	}

	req := wire.OrderRequest{
		UserAddress: order.UserAddress.Hex(),
		TradingPair: order.TradingPair,
		BaseToken:   order.BaseToken.Hex(),
		QuoteToken:  order.QuoteToken.Hex(),
		Side:        order.Side,
		OrderType:   order.OrderType,
		Price:       "2500",
		Amount:      "1",
		ExpiresAt:   order.ExpiresAt.Int64(),
		Nonce:       order.Nonce.Uint64(),
		ChainID:     uint64(chainID),
		Signature:   fmt.Sprintf("0x%x", signature),
	}

	out, err := json.MarshalIndent(req, "", "  ")
	if err != nil {
		fmt.Printf("error marshaling: %v\n", err)
		os.Exit(1)
	}

	fmt.Println("POST /api/v1/orders")
	fmt.Println(string(out))
}
