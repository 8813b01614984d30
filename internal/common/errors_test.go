package common

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

func TestToGRPCError(t *testing.T) {
	tests := []struct {
		err  error
		want codes.Code
	}{
		{fmt.Errorf("task x: %w", ErrNotFound), codes.NotFound},
		{ErrNotReady, codes.FailedPrecondition},
		{fmt.Errorf("file a.txt: %w", ErrUnsupportedFormat), codes.InvalidArgument},
		{ErrEmptyBatch, codes.InvalidArgument},
		{ErrUnauthorized, codes.Unauthenticated},
		{errors.New("boom"), codes.Internal},
		{status.Error(codes.Aborted, "kept"), codes.Aborted},
	}
	for _, tt := range tests {
		t.Run(tt.err.Error(), func(t *testing.T) {
			assert.Equal(t, tt.want, status.Code(ToGRPCError(tt.err)))
		})
	}
	assert.NoError(t, ToGRPCError(nil))
}

func TestTransient(t *testing.T) {
	err := Transient(errors.New("ocr unavailable"))
	assert.ErrorIs(t, err, ErrTransientExtraction)
	assert.Contains(t, err.Error(), "ocr unavailable")
	assert.Same(t, err, Transient(err))
	assert.NoError(t, Transient(nil))
	assert.True(t, IsPerFile(err))
	assert.False(t, IsPerFile(ErrNotReady))
}
