package errorsx

import "errors"

// ReasonedError tags an error with the reason code that logs and metrics
// report for it.
type ReasonedError struct {
	Err    error
	Reason ReasonCode
}

func (e ReasonedError) Error() string {
	if e.Err == nil {
		return string(e.Reason)
	}
	return e.Err.Error()
}

func (e ReasonedError) Unwrap() error { return e.Err }

// Wrap attaches reason to err. The innermost reason wins: an error that
// already carries one is returned unchanged, so a transport_io failure seen
// through a turn stays transport_io.
func Wrap(err error, reason ReasonCode) error {
	if err == nil {
		return nil
	}
	if Reason(err) != ReasonUnknown {
		return err
	}
	return ReasonedError{Err: err, Reason: reason}
}

// Reason returns the first reason found in err's chain, or ReasonUnknown.
func Reason(err error) ReasonCode {
	var re ReasonedError
	if err != nil && errors.As(err, &re) {
		return re.Reason
	}
	return ReasonUnknown
}

func HasReason(err error, reason ReasonCode) bool {
	return Reason(err) == reason
}

// Attrs are the slog key/value pairs every failure log line carries. A nil
// err yields none.
func Attrs(err error) []any {
	if err == nil {
		return nil
	}
	return []any{"reason_code", string(Reason(err)), "error", err.Error()}
}
