package testutil

import (
	"context"
	"fmt"
	"sync/atomic"
)

// Sequence is an in-memory code generator for tests.
type Sequence struct {
	n atomic.Int64
}

func NewSequence() *Sequence {
	return &Sequence{}
}

func (s *Sequence) NextCardCode(_ context.Context, _ string) (string, error) {
	return fmt.Sprintf("CRD-TEST-%05d", s.n.Add(1)), nil
}

func (s *Sequence) NextPurchaseCode(_ context.Context, _ string) (string, error) {
	return fmt.Sprintf("PUR-TEST-%05d", s.n.Add(1)), nil
}
