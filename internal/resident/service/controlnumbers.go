package service

import (
	"context"
	"strings"

	"civica/internal/sequence"
	dErrors "civica/pkg/domain-errors"
)

// ControlNumbers mints document control numbers for verified residents'
// document requests. Each document type draws from its own series so
// numbering stays dense per type.
type ControlNumbers struct {
	allocator *sequence.Allocator
}

func NewControlNumbers(allocator *sequence.Allocator) (*ControlNumbers, error) {
	if allocator == nil {
		return nil, dErrors.New(dErrors.CodeInternal, "sequence allocator is required")
	}
	return &ControlNumbers{allocator: allocator}, nil
}

// Issue allocates the next control number for a document type, e.g.
// ("brgy-clearance") -> "BRGY-CLEARANCE-0000-0001". The type is uppercased
// into the printed prefix; allocation is atomic per series, so two concurrent
// requests for the same type never share a number.
func (c *ControlNumbers) Issue(ctx context.Context, docType string) (string, error) {
	docType = strings.TrimSpace(strings.ToLower(docType))
	if docType == "" {
		return "", dErrors.New(dErrors.CodeValidation, "document type is required")
	}

	n, err := c.allocator.Next(ctx, sequence.DocumentSeries(docType))
	if err != nil {
		return "", err
	}
	return sequence.FormatControlNumber(strings.ToUpper(docType), n), nil
}
