package adapter

import (
	"context"
	"errors"
	"strings"

	"github.com/lifeops/lifeops/pkg/model"
	"github.com/m-mizutani/goerr/v2"
	"google.golang.org/genai"
)

const DefaultEmbeddingDimension = 768

type GeminiClient struct {
	client             *genai.Client
	generativeModel    string
	embeddingModel     string
	embeddingDimension int
}

type GeminiOption func(*GeminiClient)

func WithGenerativeModel(model string) GeminiOption {
	return func(g *GeminiClient) {
		g.generativeModel = model
	}
}

func WithEmbeddingModel(model string) GeminiOption {
	return func(g *GeminiClient) {
		g.embeddingModel = model
	}
}

// WithEmbeddingDimension sets the output dimension requested from the embedding model.
// Responses of any other length are rejected.
func WithEmbeddingDimension(dim int) GeminiOption {
	return func(g *GeminiClient) {
		g.embeddingDimension = dim
	}
}

// GeminiConfig selects the backend. Vertex AI is used when Project is set, otherwise the
// Gemini API with APIKey.
type GeminiConfig struct {
	Project  string
	Location string
	APIKey   string
}

func NewGemini(ctx context.Context, cfg GeminiConfig, opts ...GeminiOption) (*GeminiClient, error) {
	clientConfig := &genai.ClientConfig{
		Project:  cfg.Project,
		Location: cfg.Location,
		Backend:  genai.BackendVertexAI,
	}
	if cfg.Project == "" {
		if cfg.APIKey == "" {
			return nil, goerr.New("either gemini project or gemini api key is required")
		}
		clientConfig = &genai.ClientConfig{
			APIKey:  cfg.APIKey,
			Backend: genai.BackendGeminiAPI,
		}
	}

	client, err := genai.NewClient(ctx, clientConfig)
	if err != nil {
		return nil, goerr.Wrap(err, "failed to create genai client")
	}

	g := &GeminiClient{
		client:             client,
		generativeModel:    "gemini-2.5-flash",
		embeddingModel:     "gemini-embedding-001",
		embeddingDimension: DefaultEmbeddingDimension,
	}

	for _, opt := range opts {
		opt(g)
	}

	return g, nil
}

func (g *GeminiClient) GenerateContent(ctx context.Context, contents []*genai.Content, config *genai.GenerateContentConfig) (*genai.GenerateContentResponse, error) {
	resp, err := g.client.Models.GenerateContent(ctx, g.generativeModel, contents, config)
	if err != nil {
		return nil, goerr.Wrap(providerError(err), "failed to generate content", goerr.V("model", g.generativeModel))
	}
	return resp, nil
}

// Complete sends a single user prompt and returns the text of the first candidate
func (g *GeminiClient) Complete(ctx context.Context, prompt string) (string, error) {
	contents := []*genai.Content{
		genai.NewContentFromText(prompt, genai.RoleUser),
	}

	resp, err := g.GenerateContent(ctx, contents, nil)
	if err != nil {
		return "", err
	}

	if resp == nil || len(resp.Candidates) == 0 || resp.Candidates[0].Content == nil {
		return "", goerr.New("empty response from gemini", goerr.V("model", g.generativeModel))
	}

	var texts []string
	for _, part := range resp.Candidates[0].Content.Parts {
		if part.Text != "" && !part.Thought {
			texts = append(texts, part.Text)
		}
	}

	return strings.Join(texts, ""), nil
}

// Embed returns the embedding of text. The vector length must equal the configured dimension.
func (g *GeminiClient) Embed(ctx context.Context, text string) ([]float32, error) {
	dim := int32(g.embeddingDimension)
	resp, err := g.client.Models.EmbedContent(ctx, g.embeddingModel, genai.Text(normalizeText(text)), &genai.EmbedContentConfig{
		OutputDimensionality: &dim,
	})
	if err != nil {
		err = errors.Join(model.ErrEmbeddingFailure, providerError(err))
		return nil, goerr.Wrap(err, "failed to embed content", goerr.V("model", g.embeddingModel))
	}

	if resp == nil || len(resp.Embeddings) == 0 || resp.Embeddings[0] == nil {
		return nil, goerr.Wrap(model.ErrEmbeddingFailure, "empty embedding response", goerr.V("model", g.embeddingModel))
	}

	values := resp.Embeddings[0].Values
	if len(values) != g.embeddingDimension {
		return nil, goerr.Wrap(model.ErrEmbeddingFailure, "unexpected embedding dimension",
			goerr.V("expected", g.embeddingDimension),
			goerr.V("actual", len(values)))
	}

	return values, nil
}
