package server

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/structpb"
)

func TestIntField(t *testing.T) {
	tests := []struct {
		name  string
		value *structpb.Value
		want  int
		code  codes.Code
	}{
		{name: "integer", value: structpb.NewNumberValue(42), want: 42},
		{name: "negative", value: structpb.NewNumberValue(-7), want: -7},
		{name: "int32 max", value: structpb.NewNumberValue(math.MaxInt32), want: math.MaxInt32},
		{name: "fraction", value: structpb.NewNumberValue(0.5), code: codes.InvalidArgument},
		{name: "too large", value: structpb.NewNumberValue(1e300), code: codes.InvalidArgument},
		{name: "too small", value: structpb.NewNumberValue(-1e300), code: codes.InvalidArgument},
		{name: "infinite", value: structpb.NewNumberValue(math.Inf(1)), code: codes.InvalidArgument},
		{name: "string", value: structpb.NewStringValue("3"), code: codes.InvalidArgument},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := &structpb.Struct{Fields: map[string]*structpb.Value{"value": tt.value}}
			got, err := intField(req, "value")
			if tt.code != codes.OK {
				assert.Equal(t, tt.code, status.Code(err))
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}

	_, err := intField(&structpb.Struct{}, "value")
	assert.Equal(t, codes.InvalidArgument, status.Code(err))
}
