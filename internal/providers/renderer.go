package providers

import (
	"context"
	"fmt"
	"sync"

	"github.com/roach88/classwatch/internal/concept"
	"github.com/roach88/classwatch/internal/ir"
)

type render struct {
	id    string
	image []byte
}

// Renderer annotates frames and keeps the latest JPEG per frame.
type Renderer struct {
	*concept.Table
	base

	mu      sync.Mutex
	byFrame *fifoMap[render]
	byID    map[string]string // render id -> frame
}

// NewRenderer creates the Renderer provider.
func NewRenderer(opts ...Option) *Renderer {
	r := &Renderer{base: newBase(opts), byID: make(map[string]string)}
	r.byFrame = newFIFOMap[render](r.retain)

	drawArgs := []ir.NamedArg{
		concept.Arg("img", "ref"),
		concept.Arg("persons", "array"),
		concept.Arg("phones", "array"),
		concept.Arg("matches", "array"),
		concept.Opt("using", "array"),
	}
	r.Table = concept.MustDefine("Renderer", "Draws detections onto frames and encodes them as JPEG.",
		concept.Action("render", r.render,
			append(concept.Args(concept.Arg("frame", "string")), drawArgs...),
			concept.Arg("render", "string")),
		concept.Query("_latestByFrame", r.latestByFrame,
			concept.Args(concept.Arg("frame", "string")),
			concept.Opt("render", "string")),
		concept.Query("_getImage", r.getImage,
			concept.Args(concept.Arg("render", "string")),
			concept.Arg("image", "bytes")),
		concept.Query("_overlay", r.overlay, drawArgs,
			concept.Arg("image", "bytes")),
	)
	return r
}

func (r *Renderer) render(_ context.Context, in ir.IRObject) (ir.IRObject, error) {
	frame, _ := in.GetString("frame")
	data, err := annotateInput(in)
	if err != nil {
		return nil, err
	}

	id := r.newID()
	r.mu.Lock()
	if old, ok := r.byFrame.get(frame); ok {
		delete(r.byID, old.id)
	}
	r.byFrame.put(frame, render{id: id, image: data})
	r.byID[id] = frame
	for rid, f := range r.byID {
		if _, ok := r.byFrame.get(f); !ok {
			delete(r.byID, rid)
		}
	}
	r.mu.Unlock()

	return ir.IRObject{"render": ir.IRString(id)}, nil
}

func (r *Renderer) latestByFrame(_ context.Context, in ir.IRObject) (ir.IRObject, error) {
	frame, _ := in.GetString("frame")

	r.mu.Lock()
	defer r.mu.Unlock()

	rec, ok := r.byFrame.get(frame)
	if !ok {
		return ir.IRObject{}, nil
	}
	return ir.IRObject{"render": ir.IRString(rec.id)}, nil
}

func (r *Renderer) getImage(_ context.Context, in ir.IRObject) (ir.IRObject, error) {
	id, _ := in.GetString("render")

	r.mu.Lock()
	defer r.mu.Unlock()

	if frame, ok := r.byID[id]; ok {
		if rec, ok := r.byFrame.get(frame); ok && rec.id == id {
			return ir.IRObject{"image": ir.IRBytes(rec.image)}, nil
		}
	}
	return ir.IRObject{"image": ir.IRBytes{}}, nil
}

// overlay annotates an image without storing it.
func (r *Renderer) overlay(_ context.Context, in ir.IRObject) (ir.IRObject, error) {
	data, err := annotateInput(in)
	if err != nil {
		return nil, err
	}
	return ir.IRObject{"image": ir.IRBytes(data)}, nil
}

func annotateInput(in ir.IRObject) ([]byte, error) {
	img, err := ImageFromRef(in["img"])
	if err != nil {
		return nil, err
	}
	persons, err := BoxesFromIR(in["persons"])
	if err != nil {
		return nil, fmt.Errorf("persons: %w", err)
	}
	phones, err := BoxesFromIR(in["phones"])
	if err != nil {
		return nil, fmt.Errorf("phones: %w", err)
	}
	matches, err := MatchesFromIR(in["matches"])
	if err != nil {
		return nil, err
	}
	return EncodeJPEG(Annotate(img, persons, phones, matches), RenderQuality)
}
