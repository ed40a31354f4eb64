package client

import (
	"errors"

	"vpoller-module/message"
	"vpoller-module/task"
)

// Messages the host shows for failed items.
const (
	MsgInvalidArity = "Invalid number of key parameters"
	MsgNoChannel    = "Cannot create a socket to vPoller"
	MsgNoReply      = "Did not receive response from vPoller"
)

// Result maps a dispatch outcome onto what the host reports. A reply is
// passed through byte for byte.
func Result(reply []byte, err error) *message.Result {
	switch {
	case err == nil:
		return message.Success(string(reply))
	case errors.Is(err, task.ErrInvalidArity):
		return message.Failure(MsgInvalidArity)
	case errors.Is(err, ErrChannel):
		return message.Failure(MsgNoChannel)
	case errors.Is(err, ErrNoReply):
		return message.Failure(MsgNoReply)
	default:
		return message.Failure(err.Error())
	}
}
