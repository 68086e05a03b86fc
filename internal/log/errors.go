package log

import "errors"

var (
	// ErrRootNotKnown indicates a root that matches no recorded length
	ErrRootNotKnown = errors.New("root is not a known point in the log history")

	// ErrLeafNotKnown indicates a leaf hash never pushed to the log
	ErrLeafNotKnown = errors.New("leaf is not present in the log")

	// ErrLeafTooNew indicates a leaf newer than the proven log length
	ErrLeafTooNew = errors.New("leaf newer than when it should be included")

	// ErrPointsOutOfOrder indicates a consistency proof with old > new
	ErrPointsOutOfOrder = errors.New("later point comes before earlier point")

	// ErrLengthTooNew indicates a length beyond the current log
	ErrLengthTooNew = errors.New("length exceeds the current log")

	// ErrEmptyLog indicates a proof request against an empty log
	ErrEmptyLog = errors.New("log is empty")

	// ErrMalformedProof indicates proof bytes that do not decode
	ErrMalformedProof = errors.New("malformed proof")
)
