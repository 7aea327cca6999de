package main

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestUploadPayloadSpreadsBytes(t *testing.T) {
	assert.Nil(t, uploadPayload(0, 1000))

	payload := uploadPayload(3, 1000)
	require.NotNil(t, payload)
	require.Len(t, payload.Files, 3)

	var total int64
	for _, f := range payload.Files {
		total += f.SizeBytes
	}
	assert.Equal(t, int64(1000), total)
}
