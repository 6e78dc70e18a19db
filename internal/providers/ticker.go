package providers

import (
	"context"

	"github.com/roach88/classwatch/internal/concept"
	"github.com/roach88/classwatch/internal/ir"
)

// Ticker is the external cadence source. tick(key) echoes its key so rules
// can tell cadences apart.
type Ticker struct {
	*concept.Table
}

// NewTicker creates the Ticker provider.
func NewTicker() *Ticker {
	t := &Ticker{}
	t.Table = concept.MustDefine("Ticker", "Marks a point on an external cadence.",
		concept.Action("tick", t.tick,
			concept.Args(concept.Arg("key", "string")),
			concept.Arg("key", "string")),
	)
	return t
}

func (t *Ticker) tick(_ context.Context, in ir.IRObject) (ir.IRObject, error) {
	return ir.IRObject{"key": in["key"]}, nil
}
