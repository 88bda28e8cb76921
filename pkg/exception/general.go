package exception

import "errors"

// General errors
var (
	ErrIndexOutOfRange     = errors.New("index out of range")
	ErrNilInstance         = errors.New("nil instance")
	ErrTypeUnsupported     = errors.New("type unsupported")
	ErrArgumentUnsupported = errors.New("argument unsupported")
	ErrInternal            = errors.New("internal error")
	ErrInvalidArgument     = errors.New("invalid argument")
	ErrInvalidConfig       = errors.New("invalid config")
	ErrBuffTooSmall        = errors.New("encode buff is too small")
	ErrQueueFull           = errors.New("queue full")
	ErrQueueClosed         = errors.New("queue closed")
	ErrPanic               = errors.New("panic recovered")
	ErrJoinTimeout         = errors.New("join timeout")
)
