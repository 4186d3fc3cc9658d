// Package balance fetches per-chain wallet balances for display. It sits
// entirely outside the billing core, which stays chain-agnostic.
package balance

import "context"

// Provider returns the native-token balance of an address, as a decimal
// string in the chain's smallest unit.
type Provider interface {
	Balance(ctx context.Context, address string) (string, error)
}
