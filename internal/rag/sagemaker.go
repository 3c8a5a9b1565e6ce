package rag

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/aws/aws-sdk-go/aws"
	"github.com/aws/aws-sdk-go/aws/session"
	"github.com/aws/aws-sdk-go/service/sagemakerruntime"
	"github.com/aws/aws-sdk-go/service/sagemakerruntime/sagemakerruntimeiface"
)

// SageMakerEmbedder calls a SageMaker endpoint hosting a sentence-embedding model
type SageMakerEmbedder struct {
	client   sagemakerruntimeiface.SageMakerRuntimeAPI
	endpoint string
}

// NewSageMakerEmbedder creates an embedder for the named endpoint in region
func NewSageMakerEmbedder(endpoint, region string) (*SageMakerEmbedder, error) {
	if endpoint == "" {
		return nil, errors.New("sagemaker endpoint name is required")
	}
	sess, err := session.NewSession(&aws.Config{Region: aws.String(region)})
	if err != nil {
		return nil, fmt.Errorf("aws session: %w", err)
	}
	return NewSageMakerEmbedderWithClient(sagemakerruntime.New(sess), endpoint), nil
}

// NewSageMakerEmbedderWithClient uses an existing runtime client
func NewSageMakerEmbedderWithClient(client sagemakerruntimeiface.SageMakerRuntimeAPI, endpoint string) *SageMakerEmbedder {
	return &SageMakerEmbedder{client: client, endpoint: endpoint}
}

type embedRequest struct {
	Inputs string `json:"inputs"`
}

// Embed implements Embedder
func (s *SageMakerEmbedder) Embed(ctx context.Context, text string) ([]float64, error) {
	payload, err := json.Marshal(embedRequest{Inputs: text})
	if err != nil {
		return nil, err
	}

	out, err := s.client.InvokeEndpointWithContext(ctx, &sagemakerruntime.InvokeEndpointInput{
		EndpointName: aws.String(s.endpoint),
		Body:         payload,
		ContentType:  aws.String("application/json"),
		Accept:       aws.String("application/json"),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to invoke endpoint: %w", err)
	}

	vec, err := decodeEmbedding(out.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to parse response: %w", err)
	}
	return vec, nil
}

// decodeEmbedding accepts a flat vector, a batch of one vector, or an object
// with an "embedding" or "embeddings" key
func decodeEmbedding(body []byte) ([]float64, error) {
	var flat []float64
	if err := json.Unmarshal(body, &flat); err == nil && len(flat) > 0 {
		return flat, nil
	}

	var nested [][]float64
	if err := json.Unmarshal(body, &nested); err == nil && len(nested) > 0 && len(nested[0]) > 0 {
		return nested[0], nil
	}

	var obj struct {
		Embedding  []float64   `json:"embedding"`
		Embeddings [][]float64 `json:"embeddings"`
	}
	if err := json.Unmarshal(body, &obj); err == nil {
		if len(obj.Embedding) > 0 {
			return obj.Embedding, nil
		}
		if len(obj.Embeddings) > 0 && len(obj.Embeddings[0]) > 0 {
			return obj.Embeddings[0], nil
		}
	}

	return nil, errors.New("no embedding in response")
}
