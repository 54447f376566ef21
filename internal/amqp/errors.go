package amqp

type permanentError struct{ err error }

func (e *permanentError) Error() string { return e.err.Error() }
func (e *permanentError) Unwrap() error { return e.err }

// Permanent marks a handler error that redelivery cannot fix. The consumer
// dead-letters such events instead of retrying them.
func Permanent(err error) error {
	if err == nil {
		return nil
	}
	return &permanentError{err: err}
}

// IsPermanent reports whether every failure in err is permanent. A joined
// error with any transient member is worth retrying.
func IsPermanent(err error) bool {
	switch e := err.(type) {
	case nil:
		return false
	case *permanentError:
		return true
	case interface{ Unwrap() []error }:
		errs := e.Unwrap()
		if len(errs) == 0 {
			return false
		}
		for _, inner := range errs {
			if !IsPermanent(inner) {
				return false
			}
		}
		return true
	case interface{ Unwrap() error }:
		return IsPermanent(e.Unwrap())
	}
	return false
}
