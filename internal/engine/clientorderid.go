package engine

import (
	"crypto/sha256"
	"encoding/hex"
)

// clientOrderIDPrefix marks orders placed by this engine so operators can
// tell them apart from manual orders on the exchange.
const clientOrderIDPrefix = "twn-"

// ClientOrderID derives the idempotency key sent to the exchange. It is a
// pure function of the execution id, never random, so recomputing it on a
// retry or after a crash always yields the same value. The exchange's
// duplicate check on this key is what makes re-submission safe.
func ClientOrderID(executionID string) string {
	sum := sha256.Sum256([]byte("twn:v1:" + executionID))
	return clientOrderIDPrefix + hex.EncodeToString(sum[:])[:28]
}
