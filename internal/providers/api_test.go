package providers

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/classwatch/internal/ir"
)

type reply struct {
	request     string
	body        ir.IRObject
	contentType string
}

func TestAPIRequestRespond(t *testing.T) {
	api := NewAPI(WithIDs(seqIDs("req")))
	ctx := context.Background()

	var got []reply
	cb := ReplyRef("cb-1", func(request string, body ir.IRObject, contentType string) {
		got = append(got, reply{request, body, contentType})
	})

	out, err := api.Perform(ctx, "request", ir.IRObject{
		"callback": cb,
		"path":     ir.IRString("/count"),
		"method":   ir.IRString("GET"),
		"params":   ir.IRObject{},
	})
	require.NoError(t, err)
	assert.Equal(t, ir.IRObject{"request": ir.IRString("req-1")}, out)
	assert.Equal(t, 1, api.Pending())

	out, err = api.Perform(ctx, "respond", ir.IRObject{
		"request":     ir.IRString("req-1"),
		"body":        ir.IRObject{"using": ir.IRInt(2)},
		"contentType": ir.IRString("application/json"),
	})
	require.NoError(t, err)
	assert.Equal(t, ir.IRObject{"request": ir.IRString("req-1")}, out)
	require.Len(t, got, 1)
	assert.Equal(t, reply{"req-1", ir.IRObject{"using": ir.IRInt(2)}, "application/json"}, got[0])

	api.Release("req-1")
	assert.Zero(t, api.Pending())
}

func TestAPIRespondDefaultsToJSON(t *testing.T) {
	api := NewAPI(WithIDs(seqIDs("req")))
	ctx := context.Background()

	var contentType string
	_, err := api.Perform(ctx, "request", ir.IRObject{
		"callback": ReplyRef("cb", func(_ string, _ ir.IRObject, ct string) { contentType = ct }),
		"path":     ir.IRString("/count"),
		"method":   ir.IRString("GET"),
	})
	require.NoError(t, err)

	_, err = api.Perform(ctx, "respond", ir.IRObject{
		"request": ir.IRString("req-1"),
		"body":    ir.IRObject{},
	})
	require.NoError(t, err)
	assert.Equal(t, "application/json", contentType)
}

func TestAPIRespondRecoversPanics(t *testing.T) {
	api := NewAPI(WithIDs(seqIDs("req")))
	ctx := context.Background()

	_, err := api.Perform(ctx, "request", ir.IRObject{
		"callback": ReplyRef("cb", func(string, ir.IRObject, string) { panic("client gone") }),
		"path":     ir.IRString("/"),
		"method":   ir.IRString("GET"),
	})
	require.NoError(t, err)

	var out ir.IRObject
	assert.NotPanics(t, func() {
		out, err = api.Perform(ctx, "respond", ir.IRObject{
			"request": ir.IRString("req-1"),
			"body":    ir.IRObject{"html": ir.IRString("<p>")},
		})
	})
	require.NoError(t, err)
	assert.Equal(t, ir.IRObject{"request": ir.IRString("req-1")}, out)
}

func TestAPIRespondUnknownRequest(t *testing.T) {
	api := NewAPI()

	out, err := api.Perform(context.Background(), "respond", ir.IRObject{
		"request": ir.IRString("ghost"),
		"body":    ir.IRObject{},
	})
	require.NoError(t, err)
	assert.Equal(t, ir.IRObject{"request": ir.IRString("ghost")}, out)
}

func TestAPIRequestRejectsForeignHandle(t *testing.T) {
	api := NewAPI()

	_, err := api.Perform(context.Background(), "request", ir.IRObject{
		"callback": ir.NewIRRef(RefImage, "f1", nil),
		"path":     ir.IRString("/"),
		"method":   ir.IRString("GET"),
	})
	assert.Error(t, err)
	assert.Zero(t, api.Pending())
}
