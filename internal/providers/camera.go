package providers

import (
	"context"
	"errors"
	"fmt"
	"image"
	"sync"
	"time"

	"github.com/roach88/classwatch/internal/concept"
	"github.com/roach88/classwatch/internal/ir"
)

// RefImage is the handle kind for in-process images.
const RefImage = "image"

// ImageRef wraps an image as a handle value.
func ImageRef(id string, img image.Image) ir.IRRef {
	return ir.NewIRRef(RefImage, id, img)
}

// ImageFromRef unwraps an image handle.
func ImageFromRef(v ir.IRValue) (image.Image, error) {
	ref, ok := v.(ir.IRRef)
	if !ok || ref.Kind != RefImage {
		return nil, fmt.Errorf("img is %s, want %s handle", ir.TypeName(v), RefImage)
	}
	img, ok := ref.Value.(image.Image)
	if !ok || img == nil || img.Bounds().Empty() {
		return nil, fmt.Errorf("image handle %s holds no image", ref.ID)
	}
	return img, nil
}

type storedFrame struct {
	img    image.Image
	at     time.Time
	device string
}

// Camera captures frames from a Source and keeps the most recent ones
// addressable by handle.
type Camera struct {
	*concept.Table
	base

	open Opener

	mu     sync.Mutex
	source Source
	device string
	frames *fifoMap[storedFrame]
	latest string
}

// NewCamera creates the Camera provider. The source is opened on the first
// capture.
func NewCamera(open Opener, opts ...Option) *Camera {
	c := &Camera{base: newBase(opts), open: open}
	c.frames = newFIFOMap[storedFrame](c.retain)
	c.Table = concept.MustDefine("Camera", "Captures frames and keeps recent ones addressable by handle.",
		concept.Action("capture", c.capture,
			concept.Args(concept.Arg("device", "string")),
			concept.Arg("frame", "string")),
		concept.Query("_latest", c.latestFrame, nil,
			concept.Opt("frame", "string")),
		concept.Query("_getFrame", c.getFrame,
			concept.Args(concept.Arg("frame", "string")),
			concept.Opt("data", "ref"), concept.Opt("ts", "float"), concept.Opt("device", "string")),
	)
	return c
}

// capture reads one frame. A source that yields nothing produces a null
// frame handle; a device that cannot be opened is an error.
func (c *Camera) capture(ctx context.Context, in ir.IRObject) (ir.IRObject, error) {
	device, _ := in.GetString("device")

	c.mu.Lock()
	defer c.mu.Unlock()

	if err := c.ensureOpen(device); err != nil {
		return nil, err
	}

	img, err := c.source.Read(ctx)
	if err != nil || img == nil {
		if err != nil && !errors.Is(err, ErrNoFrame) {
			c.logger.Warn("camera read failed", "device", device, "error", err)
		}
		return ir.IRObject{"frame": ir.IRNull{}}, nil
	}

	id := c.newID()
	c.frames.put(id, storedFrame{img: img, at: c.now(), device: device})
	c.latest = id
	return ir.IRObject{"frame": ir.IRString(id)}, nil
}

func (c *Camera) ensureOpen(device string) error {
	if c.source != nil {
		return nil
	}
	src, err := c.open(device)
	if err != nil {
		return fmt.Errorf("open camera %q: %w", device, err)
	}
	c.source = src
	c.device = device
	c.logger.Info("camera opened", "device", device)
	return nil
}

func (c *Camera) latestFrame(context.Context, ir.IRObject) (ir.IRObject, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if _, ok := c.frames.get(c.latest); !ok {
		return ir.IRObject{}, nil
	}
	return ir.IRObject{"frame": ir.IRString(c.latest)}, nil
}

func (c *Camera) getFrame(_ context.Context, in ir.IRObject) (ir.IRObject, error) {
	id, _ := in.GetString("frame")

	c.mu.Lock()
	defer c.mu.Unlock()

	f, ok := c.frames.get(id)
	if !ok {
		return ir.IRObject{}, nil
	}
	return ir.IRObject{
		"data":   ImageRef(id, f.img),
		"ts":     ir.IRFloat(float64(f.at.UnixNano()) / 1e9),
		"device": ir.IRString(f.device),
	}, nil
}

// Close releases the source.
func (c *Camera) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.source == nil {
		return nil
	}
	err := c.source.Close()
	c.source = nil
	return err
}
