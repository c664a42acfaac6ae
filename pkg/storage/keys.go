package storage

import (
	"fmt"

	"github.com/ethereum/go-ethereum/common"
)

// Key schema, one flat keyspace inside a single Pebble instance:
//
//   bal:<user>:<token>                 -> Ledger{total,locked}
//   ord:<user>:<orderID>                -> Order
//   trade:<pair>:<020d-timestamp>:<id>  -> Fill
//
// Prefix scans use keyUpperBound to build the exclusive end of a range.

const (
	prefixBalance = "bal:"
	prefixOrder   = "ord:"
	prefixTrade   = "trade:"
)

func balanceKey(user, token common.Address) []byte {
	return []byte(fmt.Sprintf("%s%s:%s", prefixBalance, user.Hex(), token.Hex()))
}

func balancePrefix(user common.Address) []byte {
	return []byte(fmt.Sprintf("%s%s:", prefixBalance, user.Hex()))
}

func orderKey(user common.Address, orderID string) []byte {
	return []byte(fmt.Sprintf("%s%s:%s", prefixOrder, user.Hex(), orderID))
}

func orderPrefix(user common.Address) []byte {
	return []byte(fmt.Sprintf("%s%s:", prefixOrder, user.Hex()))
}

func tradeKey(pair string, timestamp int64, tradeID string) []byte {
	return []byte(fmt.Sprintf("%s%s:%020d:%s", prefixTrade, pair, timestamp, tradeID))
}

func tradePrefix(pair string) []byte {
	return []byte(fmt.Sprintf("%s%s:", prefixTrade, pair))
}

func keyUpperBound(prefix []byte) []byte {
	bound := make([]byte, len(prefix))
	copy(bound, prefix)
	bound[len(bound)-1]++
	return bound
}
