package main

import (
	"bytes"
	"context"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStubWrapsTask(t *testing.T) {
	task := `{"method":"about","hostname":"vc01"}`

	reply, err := stub(context.Background(), []byte(task))
	require.NoError(t, err)

	var doc struct {
		Success int               `json:"success"`
		Result  []json.RawMessage `json:"result"`
	}
	require.NoError(t, json.Unmarshal(reply, &doc))
	assert.Equal(t, 0, doc.Success)
	require.Len(t, doc.Result, 1)
	assert.JSONEq(t, task, string(doc.Result[0]))
}

func TestStubRejectsGarbage(t *testing.T) {
	_, err := stub(context.Background(), []byte("not json"))
	assert.Error(t, err)
}

func TestRunListenFailure(t *testing.T) {
	var stderr bytes.Buffer
	assert.Equal(t, 1, run([]string{"-listen", "256.0.0.1:bad", "-log-level", "error"}, &stderr))
}

func TestRunBadFlags(t *testing.T) {
	var stderr bytes.Buffer
	assert.Equal(t, 2, run([]string{"-nope"}, &stderr))
	assert.Equal(t, 2, run([]string{"-log-level", "chatty"}, &stderr))
}
