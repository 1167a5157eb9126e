// Provides common binmerge error definitions.
package binmerge_errors

import "errors"

var (
	ErrOpen = errors.New("binmerge: cannot open input")
	ErrRead = errors.New("binmerge: input read failed")

	ErrUnknownRegion  = errors.New("binmerge: no such region")
	ErrScanIncomplete = errors.New("binmerge: scan has not completed")
	ErrUnresolvedDiff = errors.New("binmerge: region has no merge decision")

	ErrApply         = errors.New("binmerge: apply failed")
	ErrApplyCanceled = errors.New("binmerge: apply canceled")

	ErrJournalMismatch = errors.New("binmerge: journal belongs to a different input pair")
)
