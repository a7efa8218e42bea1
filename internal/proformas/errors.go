package proformas

import (
	"fmt"

	"github.com/kioskops/kioskops/internal/shared"
)

// Domain errors for proformas.
var (
	ErrNotFound          = fmt.Errorf("proforma %w", shared.ErrNotFound)
	ErrInvalidTransition = fmt.Errorf("proforma %w", shared.ErrInvalidTransition)
	ErrStaleStatus       = fmt.Errorf("proforma status changed concurrently: %w", shared.ErrConflict)
	ErrDuplicateNumber   = fmt.Errorf("proforma number already used: %w", shared.ErrConflict)
)
