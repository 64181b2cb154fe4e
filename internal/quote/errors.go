package quote

import (
	"fmt"

	"github.com/noah-isme/budget-api/internal/common"
)

var (
	ErrQuoteNotFound    = fmt.Errorf("quote %w", common.ErrNotFound)
	ErrItemNotFound     = fmt.Errorf("line item %w", common.ErrNotFound)
	ErrOwnerNotFound    = fmt.Errorf("owner %w", common.ErrNotFound)
	ErrCustomerNotFound = fmt.Errorf("customer %w", common.ErrNotFound)
	ErrDuplicateItem    = fmt.Errorf("quote already has a line item for this reference: %w", common.ErrConflict)
	ErrNotDraft         = fmt.Errorf("quote is approved and can no longer change: %w", common.ErrInvalidState)
	ErrAlreadyApproved  = fmt.Errorf("quote is already approved: %w", common.ErrInvalidState)
	// ErrConcurrentUpdate is returned by MemoryStore when two units touched
	// the same quote without holding its lock.
	ErrConcurrentUpdate = fmt.Errorf("quote changed concurrently: %w", common.ErrConflict)
)
