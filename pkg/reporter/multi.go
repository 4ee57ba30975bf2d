package reporter

import (
	"context"
	"errors"
)

// Multi fans a measurement out to every wrapped reporter
type Multi []Reporter

// Report calls every reporter, even after a failure, and joins the errors
func (m Multi) Report(ctx context.Context, meas Measurement) error {
	var errs []error
	for _, r := range m {
		if err := r.Report(ctx, meas); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
