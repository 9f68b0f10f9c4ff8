package resync

import "errors"

var (
	// ErrNotReady means the dataset is still RUNNING, i.e. the join that
	// scheduled the task has not committed yet.
	ErrNotReady = errors.New("dataset not ready for resync")
	// ErrRejected means the dataset is in a state the resync does not apply to.
	ErrRejected = errors.New("dataset not in a resyncable state")

	ErrUnknownTask = errors.New("unknown task")
)

type permanentError struct {
	err error
}

func (e *permanentError) Error() string { return e.err.Error() }
func (e *permanentError) Unwrap() error { return e.err }

// Permanent marks err as not worth retrying.
func Permanent(err error) error {
	if err == nil {
		return nil
	}
	return &permanentError{err: err}
}

func IsPermanent(err error) bool {
	var p *permanentError
	return errors.As(err, &p)
}
