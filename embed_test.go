package main

import (
	"context"
	"math"
	"testing"
)

func TestLocalEmbedderDeterministic(t *testing.T) {
	e := NewLocalEmbedder(256)

	a, err := e.Embed(context.Background(), "user j.doe sent an IBAN to chat.openai.com")
	if err != nil {
		t.Fatalf("Embed: %v", err)
	}
	b, err := e.Embed(context.Background(), "user j.doe sent an IBAN to chat.openai.com")
	if err != nil {
		t.Fatalf("Embed: %v", err)
	}

	if len(a) != 256 || len(b) != 256 {
		t.Fatalf("unexpected dims: %d, %d", len(a), len(b))
	}
	for i := range a {
		if a[i] != b[i] {
			t.Fatalf("identical input produced different vectors at %d: %v vs %v", i, a[i], b[i])
		}
	}
}

func TestLocalEmbedderNormalized(t *testing.T) {
	e := NewLocalEmbedder(128)
	vec, err := e.Embed(context.Background(), "some security incident summary text")
	if err != nil {
		t.Fatalf("Embed: %v", err)
	}

	var norm float64
	for _, v := range vec {
		norm += float64(v) * float64(v)
	}
	if math.Abs(math.Sqrt(norm)-1) > 1e-5 {
		t.Fatalf("vector not unit length: %v", math.Sqrt(norm))
	}
}

func TestLocalEmbedderEmptyInput(t *testing.T) {
	e := NewLocalEmbedder(64)
	vec, err := e.Embed(context.Background(), "")
	if err != nil {
		t.Fatalf("Embed: %v", err)
	}
	if len(vec) != 64 {
		t.Fatalf("dim = %d", len(vec))
	}
	for _, v := range vec {
		if v != 0 {
			t.Fatal("empty input should embed to the zero vector")
		}
	}
}

func TestLocalEmbedderSimilarTextsCloser(t *testing.T) {
	e := NewLocalEmbedder(256)
	base, _ := e.Embed(context.Background(), "critical risk iban exfiltration by j.doe")
	near, _ := e.Embed(context.Background(), "j.doe flagged for iban exfiltration again")
	far, _ := e.Embed(context.Background(), "weekly marketing newsletter draft")

	if cosine(base, near) <= cosine(base, far) {
		t.Fatalf("related text should score higher: near=%v far=%v", cosine(base, near), cosine(base, far))
	}
}

func TestNewEmbedderProviderSwitch(t *testing.T) {
	e := NewEmbedder(Config{EmbedProvider: "local", EmbedDim: 64})
	if e.Dim() != 64 {
		t.Fatalf("local dim = %d", e.Dim())
	}
	e = NewEmbedder(Config{EmbedProvider: "openai", OpenAIAPIKey: "sk-test"})
	if _, ok := e.(*openAIEmbedder); !ok {
		t.Fatal("expected OpenAI embedder")
	}
}

func TestTokenize(t *testing.T) {
	got := tokenize("Has j.doe been FLAGGED before?")
	want := []string{"has", "j", "doe", "been", "flagged", "before"}
	if len(got) != len(want) {
		t.Fatalf("tokenize = %v, want %v", got, want)
	}
	for i := range got {
		if got[i] != want[i] {
			t.Fatalf("tokenize = %v, want %v", got, want)
		}
	}
}
