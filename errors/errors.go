package errors

import "fmt"

var (
	ErrWorkerPanic     = fmt.Errorf("worker panic")
	ErrNameRejected    = fmt.Errorf("display name is empty or protocol noise")
	ErrSessionNotFound = fmt.Errorf("session not found or expired")
	ErrSinkClosed      = fmt.Errorf("outbound sink closed")
	ErrSinkFull        = fmt.Errorf("outbound queue full")
)
