package contracts

import (
	"fmt"

	"github.com/kioskops/kioskops/internal/shared"
)

// Domain errors for contracts. Each wraps a shared sentinel so handlers can
// map them without knowing about this package.
var (
	ErrNotFound          = fmt.Errorf("contract %w", shared.ErrNotFound)
	ErrInvalidTransition = fmt.Errorf("contract %w", shared.ErrInvalidTransition)
	ErrStaleStatus       = fmt.Errorf("contract status changed concurrently: %w", shared.ErrConflict)
	ErrDuplicateNumber   = fmt.Errorf("contract number already used: %w", shared.ErrConflict)
	ErrProformaConverted = fmt.Errorf("proforma already has a contract: %w", shared.ErrConflict)
)
