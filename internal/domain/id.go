package domain

import (
	"fmt"
	"strings"
)

// ID is an opaque string-backed identifier. The type parameter tags the kind
// of entity it names, so a ledger id can never be used where an account id is
// expected.
type ID[K any] struct {
	value string
}

type (
	ledgerKind    struct{}
	accountKind   struct{}
	connectorKind struct{}
	assetKind     struct{}
	transferKind  struct{}
)

type (
	LedgerID    = ID[ledgerKind]
	AccountID   = ID[accountKind]
	ConnectorID = ID[connectorKind]
	AssetID     = ID[assetKind]
	TransferID  = ID[transferKind]
)

func newID[K any](v string) ID[K] {
	return ID[K]{value: strings.TrimSpace(v)}
}

func NewLedgerID(v string) LedgerID       { return newID[ledgerKind](v) }
func NewAccountID(v string) AccountID     { return newID[accountKind](v) }
func NewConnectorID(v string) ConnectorID { return newID[connectorKind](v) }
func NewAssetID(v string) AssetID         { return newID[assetKind](strings.ToUpper(v)) }
func NewTransferID(v string) TransferID   { return newID[transferKind](v) }

// String returns the underlying value.
func (id ID[K]) String() string { return id.value }

// IsZero reports whether the identifier was never assigned.
func (id ID[K]) IsZero() bool { return id.value == "" }

func (id ID[K]) MarshalText() ([]byte, error) {
	return []byte(id.value), nil
}

func (id *ID[K]) UnmarshalText(b []byte) error {
	v := strings.TrimSpace(string(b))
	if v == "" {
		return fmt.Errorf("%w", ErrEmptyID)
	}
	id.value = v
	return nil
}
