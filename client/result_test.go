package client

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"

	"vpoller-module/task"
)

func TestResult(t *testing.T) {
	cases := []struct {
		name  string
		reply []byte
		err   error
		ok    bool
		value string
		msg   string
	}{
		{"reply", []byte("{\"success\": 0, \"result\": \"poweredOn\"}\n"), nil, true, "{\"success\": 0, \"result\": \"poweredOn\"}\n", ""},
		{"empty reply", []byte{}, nil, true, "", ""},
		{"arity", nil, task.ErrInvalidArity, false, "", MsgInvalidArity},
		{"channel", nil, fmt.Errorf("%w: refused", ErrChannel), false, "", MsgNoChannel},
		{"exhausted", nil, fmt.Errorf("%w after 2 attempts", ErrNoReply), false, "", MsgNoReply},
		{"other", nil, errors.New("rate limit exceeded"), false, "", "rate limit exceeded"},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			res := Result(tc.reply, tc.err)
			assert.Equal(t, tc.ok, res.OK)
			assert.Equal(t, tc.value, res.Value)
			assert.Equal(t, tc.msg, res.Message)
		})
	}
}
