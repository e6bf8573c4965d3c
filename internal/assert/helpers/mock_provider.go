package helpers

import (
	"context"
	"fmt"
	"sync"

	"github.com/loomworks/loom/internal/provider"
	"github.com/loomworks/loom/pkg/api"
)

type (
	// MockProvider is an in-process reasoning provider for tests. Replies
	// are keyed by model name; errors can be scripted to fail a fixed
	// number of times before succeeding
	MockProvider struct {
		mu        sync.Mutex
		replies   map[string]string
		failures  map[string]*scriptedFailure
		invoked   []*provider.Request
		delay     func(model string)
		tokensPer int64
	}

	scriptedFailure struct {
		err       *api.ExecError
		remaining int
	}
)

var _ provider.Provider = (*MockProvider)(nil)

// NewMockProvider creates a provider that echoes the prompt by default
func NewMockProvider() *MockProvider {
	return &MockProvider{
		replies:   map[string]string{},
		failures:  map[string]*scriptedFailure{},
		tokensPer: 10,
	}
}

// Reply sets the completion text returned for a model
func (m *MockProvider) Reply(model, text string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.replies[model] = text
}

// FailTimes scripts the next n calls for a model to fail with the given
// error kind. A negative n fails every call
func (m *MockProvider) FailTimes(model string, kind api.ErrorKind, n int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.failures[model] = &scriptedFailure{
		err:       api.NewExecError(kind, "scripted failure"),
		remaining: n,
	}
}

// OnInvoke installs a hook running before each call; used to block or
// slow specific models
func (m *MockProvider) OnInvoke(fn func(model string)) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.delay = fn
}

// Invocations returns a copy of every request seen so far
func (m *MockProvider) Invocations() []*provider.Request {
	m.mu.Lock()
	defer m.mu.Unlock()
	res := make([]*provider.Request, len(m.invoked))
	copy(res, m.invoked)
	return res
}

// InvocationCount returns how many calls targeted the given model
func (m *MockProvider) InvocationCount(model string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	count := 0
	for _, req := range m.invoked {
		if req.Model == model {
			count++
		}
	}
	return count
}

func (m *MockProvider) Invoke(
	ctx context.Context, req *provider.Request,
) (*provider.Completion, error) {
	m.mu.Lock()
	m.invoked = append(m.invoked, req)
	delay := m.delay

	if f, ok := m.failures[req.Model]; ok && f.remaining != 0 {
		if f.remaining > 0 {
			f.remaining--
		}
		err := f.err
		m.mu.Unlock()
		return nil, err
	}

	text, ok := m.replies[req.Model]
	tokens := m.tokensPer
	m.mu.Unlock()

	if delay != nil {
		delay(req.Model)
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	if !ok {
		text = fmt.Sprintf("echo: %s", req.Prompt)
	}
	return &provider.Completion{
		Text:       text,
		TokensUsed: tokens,
	}, nil
}
