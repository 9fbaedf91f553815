package events

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFanoutSkipsNil(t *testing.T) {
	first, second := &Recorder{}, &Recorder{}
	f := Fanout{first, nil, second}

	f.Publish(context.Background(), New(GoalLevelUp, "alice", nil))
	f.Publish(context.Background(), New(GoalCompleted, "alice", nil))

	assert.Equal(t, []string{GoalLevelUp, GoalCompleted}, first.Types())
	assert.Equal(t, first.Types(), second.Types())
}

func TestEventWireFormatHidesUser(t *testing.T) {
	raw, err := json.Marshal(New(VetoCreated, "bob", map[string]string{"item": "shoes"}))
	require.NoError(t, err)

	var wire map[string]any
	require.NoError(t, json.Unmarshal(raw, &wire))
	assert.Equal(t, VetoCreated, wire["type"])
	assert.NotContains(t, wire, "UserID")
	assert.NotContains(t, wire, "user_id")
	assert.Contains(t, wire, "at")
}

func TestOrNop(t *testing.T) {
	assert.Equal(t, Nop{}, OrNop(nil))
	rec := &Recorder{}
	assert.Same(t, rec, OrNop(rec))
}
