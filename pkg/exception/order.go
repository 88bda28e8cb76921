package exception

import "errors"

var (
	ErrOrderInvalidRequest = errors.New("order: invalid request")
	ErrOrderUnknown        = errors.New("order: not found")
	ErrOrderDuplicate      = errors.New("order: already exists")
	ErrOrderInvalidState   = errors.New("order: invalid state transition")
	ErrOrderInvalidFill    = errors.New("order: invalid fill quantity")
	ErrOrderRejected       = errors.New("order: rejected by venue")
	ErrOrderCannotModify   = errors.New("order: cannot modify")
	ErrOrderRiskDenied     = errors.New("order: denied by risk check")
	ErrOrderPartialBatch   = errors.New("order: partial batch failure")
	ErrOMSNotReady         = errors.New("oms: not ready")
	ErrSimUnsupportedKind  = errors.New("sim: unsupported submission kind")
	ErrSimNoReferencePrice = errors.New("sim: no reference price for market order")
)
