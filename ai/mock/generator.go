package mock

import (
	"context"
	"sync"

	"github.com/poiesic/retrievit/ai"
)

// DefaultResponse is returned by MockGenerator when no GenerateFunc is set.
const DefaultResponse = "mock response"

// Call is one recorded Generate invocation.
type Call struct {
	Prompt string
	Opts   ai.GenerateOptions
}

// MockGenerator is a test double for ai.Generator.
// It is safe for concurrent use once configured.
type MockGenerator struct {
	// GenerateFunc is called by Generate if set.
	// If nil, returns DefaultResponse.
	GenerateFunc func(ctx context.Context, prompt string, opts ai.GenerateOptions) (string, error)

	mu    sync.Mutex
	calls []Call
}

// NewMockGenerator creates a mock generator with default behavior.
// Note: Returns concrete type to allow test assertions via GetMockGenerator().
func NewMockGenerator() *MockGenerator {
	return &MockGenerator{}
}

// Generate validates its input like a real generator, records the call and
// delegates to GenerateFunc.
func (m *MockGenerator) Generate(ctx context.Context, prompt string, opts ai.GenerateOptions) (string, error) {
	if err := ai.ValidateGenerate(prompt, opts); err != nil {
		return "", err
	}

	m.mu.Lock()
	m.calls = append(m.calls, Call{Prompt: prompt, Opts: opts})
	m.mu.Unlock()

	if m.GenerateFunc != nil {
		return m.GenerateFunc(ctx, prompt, opts)
	}
	return DefaultResponse, nil
}

// CallCount returns the number of times Generate was called with valid input.
func (m *MockGenerator) CallCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.calls)
}

// Calls returns the recorded calls in order.
func (m *MockGenerator) Calls() []Call {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]Call(nil), m.calls...)
}

// Reset clears the recorded calls and custom functions.
func (m *MockGenerator) Reset() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls = nil
	m.GenerateFunc = nil
}
