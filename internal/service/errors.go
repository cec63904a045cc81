package service

import "errors"

// 业务错误分类。传输层据此决定回发给连接的错误确认。
var (
	ErrInvalidFormat      = errors.New("invalid share code format")
	ErrInvalidUsername    = errors.New("invalid username")
	ErrInvalidCoordinates = errors.New("invalid coordinates")
	ErrShareNotFound      = errors.New("share not found")
	ErrDuplicateShare     = errors.New("share code already exists")
	ErrMemberNotFound     = errors.New("member not found")
	ErrShareFull          = errors.New("share is full")
	ErrCapacityExhausted  = errors.New("could not allocate a unique share code")
	ErrStorageFailure     = errors.New("storage failure")
)
