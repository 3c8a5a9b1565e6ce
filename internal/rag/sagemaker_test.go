package rag

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/aws/aws-sdk-go/aws"
	"github.com/aws/aws-sdk-go/aws/request"
	"github.com/aws/aws-sdk-go/service/sagemakerruntime"
	"github.com/aws/aws-sdk-go/service/sagemakerruntime/sagemakerruntimeiface"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeRuntime struct {
	sagemakerruntimeiface.SageMakerRuntimeAPI
	body  []byte
	err   error
	input *sagemakerruntime.InvokeEndpointInput
}

func (f *fakeRuntime) InvokeEndpointWithContext(ctx aws.Context, in *sagemakerruntime.InvokeEndpointInput, _ ...request.Option) (*sagemakerruntime.InvokeEndpointOutput, error) {
	f.input = in
	if f.err != nil {
		return nil, f.err
	}
	return &sagemakerruntime.InvokeEndpointOutput{Body: f.body}, nil
}

func TestSageMakerEmbedder(t *testing.T) {
	fake := &fakeRuntime{body: []byte(`[[0.1, 0.2, 0.3]]`)}
	e := NewSageMakerEmbedderWithClient(fake, "minilm-endpoint")

	vec, err := e.Embed(context.Background(), "How to improve PES?")
	require.NoError(t, err)
	assert.Equal(t, []float64{0.1, 0.2, 0.3}, vec)

	require.NotNil(t, fake.input)
	assert.Equal(t, "minilm-endpoint", aws.StringValue(fake.input.EndpointName))
	assert.Equal(t, "application/json", aws.StringValue(fake.input.ContentType))

	var req embedRequest
	require.NoError(t, json.Unmarshal(fake.input.Body, &req))
	assert.Equal(t, "How to improve PES?", req.Inputs)
}

func TestSageMakerEmbedderErrors(t *testing.T) {
	e := NewSageMakerEmbedderWithClient(&fakeRuntime{err: errors.New("throttled")}, "ep")
	_, err := e.Embed(context.Background(), "q")
	assert.ErrorContains(t, err, "throttled")

	e = NewSageMakerEmbedderWithClient(&fakeRuntime{body: []byte(`{"error": "bad"}`)}, "ep")
	_, err = e.Embed(context.Background(), "q")
	assert.ErrorContains(t, err, "no embedding")

	_, err = NewSageMakerEmbedder("", "eu-west-1")
	assert.Error(t, err)
}

func TestDecodeEmbedding(t *testing.T) {
	tests := []struct {
		name string
		body string
		want []float64
	}{
		{"flat", `[1, 2]`, []float64{1, 2}},
		{"batch", `[[3, 4], [5, 6]]`, []float64{3, 4}},
		{"object", `{"embedding": [7]}`, []float64{7}},
		{"object batch", `{"embeddings": [[8, 9]]}`, []float64{8, 9}},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			got, err := decodeEmbedding([]byte(tc.body))
			require.NoError(t, err)
			assert.Equal(t, tc.want, got)
		})
	}
}
