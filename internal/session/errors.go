package session

import (
	"context"
	"errors"

	"robot-remote/internal/btaddr"
	"robot-remote/internal/connmgr"
)

// ErrorKind classifies the last failure for display.
type ErrorKind int

const (
	KindNone ErrorKind = iota
	KindInvalidAddress
	KindAlreadyConnected
	KindPermissionDenied
	KindDeviceUnreachable
	KindNotConnected
	KindWriteFailure
	KindCanceled
	KindClosed
	KindOther
)

var kindNames = map[ErrorKind]string{
	KindNone:              "",
	KindInvalidAddress:    "invalid_address",
	KindAlreadyConnected:  "already_connected",
	KindPermissionDenied:  "permission_denied",
	KindDeviceUnreachable: "device_unreachable",
	KindNotConnected:      "not_connected",
	KindWriteFailure:      "write_failure",
	KindCanceled:          "canceled",
	KindClosed:            "closed",
	KindOther:             "other",
}

func (k ErrorKind) String() string { return kindNames[k] }

// MarshalText renders the kind name, so snapshots encode readably as JSON.
func (k ErrorKind) MarshalText() ([]byte, error) { return []byte(k.String()), nil }

// KindOf maps err to its ErrorKind. A nil error is KindNone.
func KindOf(err error) ErrorKind {
	switch {
	case err == nil:
		return KindNone
	case errors.Is(err, btaddr.ErrInvalidAddress):
		return KindInvalidAddress
	case errors.Is(err, connmgr.ErrAlreadyConnected):
		return KindAlreadyConnected
	case errors.Is(err, connmgr.ErrPermissionDenied):
		return KindPermissionDenied
	case errors.Is(err, connmgr.ErrDeviceUnreachable):
		return KindDeviceUnreachable
	case errors.Is(err, connmgr.ErrNotConnected):
		return KindNotConnected
	case errors.Is(err, connmgr.ErrWriteFailure):
		return KindWriteFailure
	case errors.Is(err, connmgr.ErrCanceled), errors.Is(err, context.Canceled):
		return KindCanceled
	case errors.Is(err, connmgr.ErrClosed):
		return KindClosed
	default:
		return KindOther
	}
}
