// Package mock provides test double implementations of AI service interfaces.
//
// This package contains mock implementations of ai.Embedder, ai.Generator,
// ai.Prober and ai.AIProvider for use in unit tests. The mocks allow tests to
// run without external AI service dependencies and enable controlled,
// deterministic behavior.
//
// # Usage in Tests
//
//	mockProvider := mock.NewMockProvider()
//	vector, err := mockProvider.Embedder().EmbedText(ctx, "test")
//
//	gen := mock.NewMockGenerator()
//	gen.GenerateFunc = func(ctx context.Context, prompt string, opts ai.GenerateOptions) (string, error) {
//	    return "8", nil
//	}
//	count := gen.CallCount()
//
// # Default Behavior
//
//   - MockEmbedder: Returns ai.FallbackVector of the text, so equal texts
//     produce equal vectors and reports itself available
//   - MockGenerator: Returns DefaultResponse
//   - MockProvider: Aggregates mock embedder and generator
package mock
