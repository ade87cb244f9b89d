package repository

import (
	"context"
	"testing"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
)

// TestProperty_ChangeSetFlushOrder checks that Flush applies writes in staging
// order, stops at the first failure and only empties the set on full success.
func TestProperty_ChangeSetFlushOrder(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 100
	properties := gopter.NewProperties(parameters)

	properties.Property("flush honours staging order", prop.ForAll(
		func(size int, failAt int) bool {
			changes := NewChangeSet()
			var applied []int
			for i := 0; i < size; i++ {
				i := i
				changes.Stage(ChangeModify, "t", func(context.Context) error {
					if i == failAt {
						return errFlushProbe
					}
					applied = append(applied, i)
					return nil
				})
			}

			n, err := changes.Flush(context.Background())
			for i, v := range applied {
				if v != i {
					return false
				}
			}
			if failAt < size {
				return err == errFlushProbe && n == int64(failAt) && changes.Len() == size
			}
			return err == nil && n == int64(size) && changes.Len() == 0
		},
		gen.IntRange(0, 12),
		gen.IntRange(0, 16),
	))

	properties.TestingRun(t)
}

type flushProbe struct{}

func (flushProbe) Error() string { return "probe" }

var errFlushProbe error = flushProbe{}
