package rtntp

type errGeneric uint8

// Generic errors common to time synchronization over datagrams.
// They are comparable constants and returning them performs no allocations.
const (
	_              errGeneric = iota // non-initialized err
	ErrShortBuffer                   // short buffer
	ErrMismatch                      // reply does not match request
)

func (err errGeneric) Error() string {
	return err.String()
}

func (err errGeneric) String() string {
	switch err {
	case ErrShortBuffer:
		return "short buffer"
	case ErrMismatch:
		return "reply does not match request"
	}
	return "non-initialized err"
}
