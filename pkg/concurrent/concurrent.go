// Package concurrent runs work over sequences on bounded goroutine pools.
package concurrent

import (
	"errors"

	"golang.org/x/sync/errgroup"

	"github.com/zeusync/replinet/pkg/sequence"
)

// Each runs action for every element of the iterator, at most limit at a
// time, and waits for all of them. A failing element does not stop the
// others; the errors are joined in element order.
func Each[T any](i *sequence.Iterator[T], limit int, action func(T) error) error {
	values := i.Collect()
	errs := make([]error, len(values))

	var g errgroup.Group
	g.SetLimit(max(1, limit))
	for n, value := range values {
		g.Go(func() error {
			errs[n] = action(value)
			return nil
		})
	}
	_ = g.Wait()
	return errors.Join(errs...)
}
