package providers

import (
	"context"
	"sync"

	"github.com/roach88/classwatch/internal/concept"
	"github.com/roach88/classwatch/internal/ir"
)

// Counter tallies the people currently using a phone.
type Counter struct {
	*concept.Table

	mu    sync.Mutex
	value int
	frame string
}

// NewCounter creates the Counter provider.
func NewCounter() *Counter {
	c := &Counter{}
	c.Table = concept.MustDefine("Counter", "Holds the number of people using a phone in the latest analysed frame.",
		concept.Action("update", c.update,
			concept.Args(concept.Arg("frame", "string"), concept.Arg("using", "array")),
			concept.Arg("count", "int")),
		concept.Query("_get", c.get, nil,
			concept.Arg("count", "int"),
			concept.Opt("frame", "string")),
	)
	return c
}

// update replaces the tally with the size of using.
func (c *Counter) update(_ context.Context, in ir.IRObject) (ir.IRObject, error) {
	using, _ := in.GetArray("using")
	frame, _ := in.GetString("frame")

	c.mu.Lock()
	defer c.mu.Unlock()
	c.value = len(using)
	c.frame = frame
	return ir.IRObject{"count": ir.IRInt(c.value)}, nil
}

func (c *Counter) get(context.Context, ir.IRObject) (ir.IRObject, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	out := ir.IRObject{"count": ir.IRInt(c.value)}
	if c.frame != "" {
		out["frame"] = ir.IRString(c.frame)
	}
	return out, nil
}

// Value returns the current tally.
func (c *Counter) Value() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.value
}
