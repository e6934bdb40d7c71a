// Package ledger defines the capabilities the trading engine consumes from
// the external distributed ledger. The chain itself is out of scope; the
// engine only ever sees this surface.
package ledger

import (
	"context"

	"github.com/hoshinoume/terravale/server/errs"
)

// Call is one ledger mutation: a contract function invocation signed on
// behalf of a wallet address.
type Call struct {
	Package  string        // on-ledger package id
	Module   string        // contract module, e.g. "marketplace"
	Function string        // entry function, e.g. "execute_swap"
	Args     []interface{} // ABI-encoded by the client implementation
	Signer   Signer
}

// ObjectChange describes one object created, mutated, or transferred by a
// submitted call.
type ObjectChange struct {
	Kind     string `json:"kind"` // created | mutated | transferred | deleted
	ObjectID string `json:"object_id"`
	Owner    string `json:"owner"`
	Type     string `json:"type"`
}

// SubmitResult is the ledger's response to a submitted call.
type SubmitResult struct {
	TxID          string         `json:"tx_id"`
	Success       bool           `json:"success"`
	ObjectChanges []ObjectChange `json:"object_changes"`
	GasUsed       int64          `json:"gas_used"`
	Error         string         `json:"error,omitempty"`
}

// OwnedObject is a ledger object returned by an ownership query.
type OwnedObject struct {
	ObjectID string `json:"object_id"`
	Type     string `json:"type"`
	Owner    string `json:"owner"`
}

// Client is the opaque ledger collaborator. All methods block until the
// ledger responds; callers own deadline handling via ctx.
type Client interface {
	Submit(ctx context.Context, call Call) (*SubmitResult, error)
	WaitForFinality(ctx context.Context, txID string) error
	QueryOwnedAssets(ctx context.Context, owner, typeFilter string) ([]OwnedObject, error)
}

// Signer authorizes a Submit call on behalf of a wallet address. It is
// deliberately opaque: the engine never sees key material.
type Signer interface {
	Address() string
}

// CheckSigner returns the NoSigner validation error when s is nil.
func CheckSigner(s Signer) error {
	if s == nil {
		return errs.Validationf(errs.CodeNoSigner, "no signer configured for this operation")
	}
	return nil
}

// StaticSigner is a Signer that only carries an address. Deployments supply
// a real signing backend; the engine needs nothing beyond the address.
type StaticSigner struct {
	Addr string
}

func (s *StaticSigner) Address() string { return s.Addr }
