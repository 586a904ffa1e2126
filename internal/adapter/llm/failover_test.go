package llm

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"chorus/internal/domain"
)

type fakeModelClient struct {
	name  string
	err   error
	calls int
	reply string
}

func (f *fakeModelClient) Invoke(context.Context, []domain.Message, string, domain.InvokeOptions) (string, error) {
	f.calls++
	return f.reply, f.err
}

func (f *fakeModelClient) InvokeStructured(_ context.Context, _ []domain.Message, _ string, _ json.RawMessage, out any, _ domain.InvokeOptions) error {
	f.calls++
	if f.err != nil {
		return f.err
	}
	return json.Unmarshal([]byte(f.reply), out)
}

func TestFailoverPrimarySuccess(t *testing.T) {
	primary := &fakeModelClient{name: "primary", reply: "from primary"}
	fallback := &fakeModelClient{name: "fallback", reply: "from fallback"}

	fc := NewFailoverClient(primary, []domain.ModelClient{fallback}, newTestLogger())
	out, err := fc.Invoke(context.Background(), nil, "", domain.InvokeOptions{})

	require.NoError(t, err)
	assert.Equal(t, "from primary", out)
	assert.Equal(t, 0, fallback.calls)
}

func TestFailoverFallsBackInOrder(t *testing.T) {
	primary := &fakeModelClient{err: fmt.Errorf("%w: down", domain.ErrServerError)}
	first := &fakeModelClient{err: errors.New("also down")}
	second := &fakeModelClient{reply: `{"agentId":"planner"}`}

	fc := NewFailoverClient(primary, []domain.ModelClient{first, second}, newTestLogger())

	var sel domain.AgentSelection
	err := fc.InvokeStructured(context.Background(), nil, "", json.RawMessage(`{}`), &sel, domain.InvokeOptions{})
	require.NoError(t, err)
	assert.Equal(t, "planner", sel.AgentID)
	assert.Equal(t, 1, primary.calls)
	assert.Equal(t, 1, first.calls)
	assert.Equal(t, 1, second.calls)
}

func TestFailoverAllFail(t *testing.T) {
	primary := &fakeModelClient{err: fmt.Errorf("%w: slow down", domain.ErrRateLimit)}
	fallback := &fakeModelClient{err: fmt.Errorf("%w: bad json", domain.ErrStructuredOutput)}

	fc := NewFailoverClient(primary, []domain.ModelClient{fallback}, newTestLogger())
	_, err := fc.Invoke(context.Background(), nil, "", domain.InvokeOptions{})

	require.Error(t, err)
	assert.Contains(t, err.Error(), "all models failed")
	assert.ErrorIs(t, err, domain.ErrRateLimit)
	assert.ErrorIs(t, err, domain.ErrStructuredOutput)
}

func TestFailoverNoFallbacksReturnsPrimaryError(t *testing.T) {
	primary := &fakeModelClient{err: domain.ErrTimeout}
	fc := NewFailoverClient(primary, nil, newTestLogger())

	_, err := fc.Invoke(context.Background(), nil, "", domain.InvokeOptions{})
	assert.Equal(t, domain.ErrTimeout, err)
}

func TestFailoverStopsOnCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	primary := &fakeModelClient{err: context.Canceled}
	fallback := &fakeModelClient{reply: "nope"}
	fc := NewFailoverClient(primary, []domain.ModelClient{fallback}, newTestLogger())

	_, err := fc.Invoke(ctx, nil, "", domain.InvokeOptions{})
	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, 0, fallback.calls)
}
