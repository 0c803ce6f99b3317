package domain

import (
	"fmt"
	"regexp"
	"strings"
)

var addressPattern = regexp.MustCompile(`^(g|private|example|peer|self|test[1-3]?|local)([.][a-zA-Z0-9_~-]+)+$`)

// Address is an ILP address split into the ledger prefix (including the
// trailing separator) and the account local to that ledger.
type Address struct {
	Ledger  LedgerID
	Account AccountID
}

// ParseAddress splits "example.usd-ledger.alice" into ledger
// "example.usd-ledger." and account "alice".
func ParseAddress(s string) (Address, error) {
	s = strings.TrimSpace(s)
	if len(s) > 1023 || !addressPattern.MatchString(s) {
		return Address{}, fmt.Errorf("%w: %q", ErrLedgerAddressParse, s)
	}
	idx := strings.LastIndex(s, ".")
	ledger, account := s[:idx+1], s[idx+1:]
	if strings.Count(ledger, ".") < 2 {
		return Address{}, fmt.Errorf("%w: %q has no account segment", ErrLedgerAddressParse, s)
	}
	return Address{
		Ledger:  NewLedgerID(ledger),
		Account: NewAccountID(account),
	}, nil
}

func (a Address) String() string {
	return a.Ledger.String() + a.Account.String()
}
