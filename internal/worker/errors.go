package worker

import (
	"errors"

	"github.com/cwygoda/extractd/internal/domain"
)

// classify maps an attempt failure to the code and message stored on a
// failed job.
func classify(err error) (code, message string) {
	var failure *domain.ExtractorFailure
	if errors.As(err, &failure) {
		return failure.Code, failure.Message
	}
	var timeout *TimeoutError
	if errors.As(err, &timeout) {
		return domain.CodeExtractorTimeout, timeout.Error()
	}
	return domain.CodeExtractorError, err.Error()
}
