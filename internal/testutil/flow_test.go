package testutil

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/classwatch/internal/concept"
	"github.com/roach88/classwatch/internal/engine"
	"github.com/roach88/classwatch/internal/ir"
)

func TestFixedFlowGenerator_ReturnsSameToken(t *testing.T) {
	gen := NewFixedFlowGenerator("flow-123")

	assert.Equal(t, "flow-123", gen.Generate())
	assert.Equal(t, "flow-123", gen.Generate())
}

func TestFixedFlowGenerator_EmptyTokenDefault(t *testing.T) {
	assert.Equal(t, DefaultFlowToken, NewFixedFlowGenerator("").Generate())
}

func TestFixedFlowGenerator_DrivesEngine(t *testing.T) {
	clock := NewManualClock(Epoch, time.Millisecond)
	eng := engine.New(
		engine.WithFlowGenerator(NewFixedFlowGenerator("scenario")),
		engine.WithIDGenerator(engine.NewSequentialGenerator("rec")),
		engine.WithNow(clock.Now),
	)
	noop := func(context.Context, ir.IRObject) (ir.IRObject, error) { return ir.IRObject{}, nil }
	require.NoError(t, eng.RegisterConcept(concept.MustDefine("Bell", "Rings.",
		concept.Action("ring", noop, nil))))

	first, err := eng.Invoke(context.Background(), "Bell", "ring", nil, "")
	require.NoError(t, err)
	second, err := eng.Invoke(context.Background(), "Bell", "ring", nil, "")
	require.NoError(t, err)

	assert.Equal(t, "scenario", first.Flow)
	assert.Equal(t, "scenario", second.Flow)
	assert.Equal(t, Epoch, first.At)
	assert.True(t, second.At.After(first.At))
	assert.Len(t, eng.Log("scenario"), 2)
}
