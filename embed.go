package main

import (
	"context"
	"fmt"
	"hash/fnv"
	"math"
	"strings"
	"unicode"

	openai "github.com/sashabaranov/go-openai"
)

const defaultEmbedDim = 256

// Embedder converts text into a fixed-dimension vector. Embeddings must be
// deterministic for identical input so the index round-trip stays exact.
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
	Dim() int
}

// NewEmbedder selects the provider configured in cfg.
func NewEmbedder(cfg Config) Embedder {
	if cfg.EmbedProvider == "openai" {
		model := cfg.EmbedModel
		if model == "" {
			model = string(openai.SmallEmbedding3)
		}
		return &openAIEmbedder{client: openai.NewClient(cfg.OpenAIAPIKey), model: model}
	}
	return NewLocalEmbedder(cfg.EmbedDim)
}

// --- Local hashed term-frequency embedder ---

// localEmbedder buckets token counts into a fixed-size vector via FNV hashing
// and L2-normalizes. No model download, no network, fully deterministic.
type localEmbedder struct {
	dim int
}

func NewLocalEmbedder(dim int) Embedder {
	if dim < 8 {
		dim = defaultEmbedDim
	}
	return &localEmbedder{dim: dim}
}

func (e *localEmbedder) Dim() int { return e.dim }

func (e *localEmbedder) Embed(_ context.Context, text string) ([]float32, error) {
	vec := make([]float32, e.dim)
	for _, tok := range tokenize(text) {
		h := fnv.New32a()
		h.Write([]byte(tok))
		vec[int(h.Sum32())%e.dim]++
	}

	var norm float64
	for _, v := range vec {
		norm += float64(v) * float64(v)
	}
	if norm > 0 {
		inv := float32(1 / math.Sqrt(norm))
		for i := range vec {
			vec[i] *= inv
		}
	}
	return vec, nil
}

func tokenize(s string) []string {
	s = strings.ToLower(s)
	var tokens []string
	var cur strings.Builder
	for _, r := range s {
		if unicode.IsLetter(r) || unicode.IsDigit(r) {
			cur.WriteRune(r)
		} else {
			if cur.Len() > 0 {
				tokens = append(tokens, cur.String())
				cur.Reset()
			}
		}
	}
	if cur.Len() > 0 {
		tokens = append(tokens, cur.String())
	}
	return tokens
}

// --- OpenAI embeddings ---

type openAIEmbedder struct {
	client *openai.Client
	model  string
}

// text-embedding-3-small dimension.
const openAIEmbedDim = 1536

func (e *openAIEmbedder) Dim() int { return openAIEmbedDim }

func (e *openAIEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	resp, err := e.client.CreateEmbeddings(ctx, openai.EmbeddingRequest{
		Input: []string{text},
		Model: openai.EmbeddingModel(e.model),
	})
	if err != nil {
		return nil, fmt.Errorf("openai embeddings: %w", err)
	}
	if len(resp.Data) == 0 {
		return nil, fmt.Errorf("openai embeddings: empty response")
	}
	return resp.Data[0].Embedding, nil
}
