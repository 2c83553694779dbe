package segmented

import (
	"errors"
	"fmt"
)

// Kind classifies a download failure by the phase it belongs to.
type Kind int

const (
	KindSizing     Kind = iota // payload size could not be determined
	KindTransport              // a range request or its body failed
	KindFilesystem             // part files or the output file failed
	KindCancelled              // the download was interrupted
)

func (k Kind) String() string {
	switch k {
	case KindSizing:
		return "sizing"
	case KindTransport:
		return "transport"
	case KindFilesystem:
		return "filesystem"
	case KindCancelled:
		return "cancelled"
	default:
		return "unknown"
	}
}

var ErrInterrupted = errors.New("download interrupted by shutdown signal")

// Error is the failure type returned by Manager.Download.
type Error struct {
	Kind Kind
	Err  error
}

func (e *Error) Error() string {
	if e.Err == nil {
		return e.Kind.String()
	}
	return fmt.Sprintf("%s: %v", e.Kind, e.Err)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// IsCancelled reports whether err came from an interrupted download.
func IsCancelled(err error) bool {
	var derr *Error
	return errors.As(err, &derr) && derr.Kind == KindCancelled
}
