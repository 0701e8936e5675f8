package ledger

import "errors"

// ErrIncrementIndeterminate is returned when the store failed in a way that
// leaves it unknown whether an increment was committed. Callers must check
// the balance before trying again.
var ErrIncrementIndeterminate = errors.New("increment outcome unknown")
