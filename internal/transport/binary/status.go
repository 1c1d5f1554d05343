package binary

import (
	"errors"

	"github.com/corvidstream/broker/internal/streaming"
)

// Status codes on the wire. 0 means OK; every other value is one of the
// engine's error kinds offset by one so StatusOK stays reserved.
const (
	StatusOK uint32 = iota
	StatusUnauthenticated
	StatusUnauthorized
	StatusNotFound
	StatusAlreadyExists
	StatusInvalidArgument
	StatusOffsetOutOfRange
	StatusSegmentClosed
	StatusStorageFull
	StatusIoError
	StatusCorruptedData
	StatusBackpressured
	StatusFeatureUnavailable
	StatusTimeout
	StatusCancelled
	StatusInternal
)

// statusForErr maps an engine error to its wire status code.
func statusForErr(err error) uint32 {
	if err == nil {
		return StatusOK
	}
	var sErr *streaming.Error
	if !errors.As(err, &sErr) {
		return StatusInternal
	}
	switch sErr.Kind {
	case streaming.KindUnauthenticated:
		return StatusUnauthenticated
	case streaming.KindUnauthorized:
		return StatusUnauthorized
	case streaming.KindNotFound:
		return StatusNotFound
	case streaming.KindAlreadyExists:
		return StatusAlreadyExists
	case streaming.KindInvalidArgument:
		return StatusInvalidArgument
	case streaming.KindOffsetOutOfRange:
		return StatusOffsetOutOfRange
	case streaming.KindSegmentClosed:
		return StatusSegmentClosed
	case streaming.KindStorageFull:
		return StatusStorageFull
	case streaming.KindIoError:
		return StatusIoError
	case streaming.KindCorruptedData:
		return StatusCorruptedData
	case streaming.KindBackpressured:
		return StatusBackpressured
	case streaming.KindFeatureUnavailable:
		return StatusFeatureUnavailable
	case streaming.KindTimeout:
		return StatusTimeout
	case streaming.KindCancelled:
		return StatusCancelled
	default:
		return StatusInternal
	}
}
