package protocol

import "errors"

var (
	ErrEmptyTag       = errors.New("protocol: empty tag")
	ErrTagTooLong     = errors.New("protocol: tag too long")
	ErrInvalidTag     = errors.New("protocol: invalid tag character")
	ErrBufferOverflow = errors.New("protocol: reception buffer overflow")
)
