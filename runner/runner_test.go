package runner

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	logtest "github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/stepforge/engine/browser/fake"
	"github.com/stepforge/engine/event"
	"github.com/stepforge/engine/interp"
	"github.com/stepforge/engine/lib"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

func testLogger() *interp.Logger {
	base, _ := logtest.NewNullLogger()
	return interp.NewLogger(base, "t", "r")
}

func parseDefinition(t *testing.T, src string) *lib.TestDefinition {
	t.Helper()
	var def lib.TestDefinition
	require.NoError(t, json.Unmarshal([]byte(src), &def))
	return &def
}

func TestRunPassesAllSteps(t *testing.T) {
	t.Parallel()
	def := parseDefinition(t, `{
		"url": "https://example.test/",
		"steps": [
			{"eval": "1 + 1", "as": "two"},
			{"assert": "window.__cdp_vars.two === 2"}
		]
	}`)

	client := fake.New()
	stream := event.New()
	orch := New(client, stream, nil, testLogger())

	result, _, err := orch.Run(context.Background(), def, Options{TestID: "t", RunID: "r"})
	require.NoError(t, err)
	require.NotNil(t, result.Passed)
	assert.Equal(t, 2, result.Passed.StepsCompleted)
	assert.Equal(t, "https://example.test/", client.NavigatedTo())
}

func TestRunCapturesFailureEvidence(t *testing.T) {
	t.Parallel()
	def := parseDefinition(t, `{
		"url": "https://example.test/",
		"steps": [
			{"assert": "1 === 2", "label": "always false"}
		]
	}`)

	client := fake.New()
	stream := event.New()
	orch := New(client, stream, nil, testLogger())

	result, _, err := orch.Run(context.Background(), def, Options{TestID: "t", RunID: "r"})
	require.NoError(t, err)
	require.NotNil(t, result.Failed)
	assert.Equal(t, 0, result.Failed.FailedStep)
	assert.Equal(t, "always false", result.Failed.FailedLabel)
	assert.Equal(t, "ZmFrZS1zY3JlZW5zaG90", result.Failed.Screenshot)
}

func TestRunEmitsLifecycleEvents(t *testing.T) {
	t.Parallel()
	def := parseDefinition(t, `{
		"url": "https://example.test/",
		"steps": [{"eval": "1"}]
	}`)

	client := fake.New()
	stream := event.New()
	sub := stream.Subscribe("")
	defer stream.Unsubscribe(sub)

	orch := New(client, stream, nil, testLogger())
	_, _, err := orch.Run(context.Background(), def, Options{TestID: "t", RunID: "r"})
	require.NoError(t, err)

	var types []string
	for len(types) < 3 {
		select {
		case e := <-sub.C():
			types = append(types, e.Type)
		case <-time.After(time.Second):
			t.Fatal("timed out waiting for lifecycle events")
		}
	}
	assert.Equal(t, []string{"run:start", "step:start", "step:pass"}, types[:3])
}

func TestGateHookFiresBeforePipelineRuns(t *testing.T) {
	t.Parallel()
	def := parseDefinition(t, `{
		"url": "https://example.test/",
		"steps": [{"eval": "1"}]
	}`)

	client := fake.New()
	orch := New(client, event.New(), nil, testLogger())

	var hooked *interp.Gate
	_, _, err := orch.Run(context.Background(), def, Options{
		TestID: "t", RunID: "r",
		GateHook: func(g *interp.Gate) { hooked = g },
	})
	require.NoError(t, err)
	assert.NotNil(t, hooked)
}
