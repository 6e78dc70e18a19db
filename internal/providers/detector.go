package providers

import (
	"cmp"
	"context"
	"fmt"
	"image"
	"os"
	"slices"
	"sync"

	"gopkg.in/yaml.v3"

	"github.com/roach88/classwatch/internal/concept"
	"github.com/roach88/classwatch/internal/ir"
)

// Detection defaults used when detect omits conf or iou.
const (
	DefaultConfidence = 0.2
	DefaultIoU        = 0.45
)

// Model proposes candidate boxes for an image.
type Model interface {
	Predict(ctx context.Context, img image.Image) ([]Box, error)
}

// ModelFunc adapts a function to Model.
type ModelFunc func(ctx context.Context, img image.Image) ([]Box, error)

func (f ModelFunc) Predict(ctx context.Context, img image.Image) ([]Box, error) {
	return f(ctx, img)
}

type detection struct {
	frame string
	boxes []Box
}

// Detector runs a Model over frames, keeps person and phone boxes above the
// confidence threshold and suppresses overlapping duplicates.
type Detector struct {
	*concept.Table
	base

	model Model

	mu      sync.Mutex
	results *fifoMap[detection]
}

// NewDetector creates the Detector provider.
func NewDetector(model Model, opts ...Option) *Detector {
	d := &Detector{base: newBase(opts), model: model}
	d.results = newFIFOMap[detection](d.retain)
	d.Table = concept.MustDefine("Detector", "Finds people and phones in frames.",
		concept.Action("detect", d.detect,
			concept.Args(
				concept.Arg("frame", "string"),
				concept.Arg("img", "ref"),
				concept.Opt("conf", "float"),
				concept.Opt("iou", "float"),
			),
			concept.Arg("detections", "string")),
		concept.Query("_get", d.get,
			concept.Args(concept.Arg("detections", "string")),
			concept.Arg("boxes", "array")),
		concept.Query("_frameOf", d.frameOf,
			concept.Args(concept.Arg("detections", "string")),
			concept.Opt("frame", "string")),
	)
	return d
}

func (d *Detector) detect(ctx context.Context, in ir.IRObject) (ir.IRObject, error) {
	frame, _ := in.GetString("frame")
	img, err := ImageFromRef(in["img"])
	if err != nil {
		return nil, err
	}
	conf := DefaultConfidence
	if v, ok := in.GetFloat("conf"); ok {
		conf = v
	}
	iouThreshold := DefaultIoU
	if v, ok := in.GetFloat("iou"); ok {
		iouThreshold = v
	}

	candidates, err := d.model.Predict(ctx, img)
	if err != nil {
		return nil, fmt.Errorf("predict: %w", err)
	}
	boxes := filterBoxes(candidates, conf, iouThreshold)

	id := d.newID()
	d.mu.Lock()
	d.results.put(id, detection{frame: frame, boxes: boxes})
	d.mu.Unlock()

	d.logger.Debug("detected", "frame", frame, "detections", id, "boxes", len(boxes))
	return ir.IRObject{"detections": ir.IRString(id)}, nil
}

func (d *Detector) get(_ context.Context, in ir.IRObject) (ir.IRObject, error) {
	id, _ := in.GetString("detections")

	d.mu.Lock()
	defer d.mu.Unlock()

	det, ok := d.results.get(id)
	if !ok {
		return ir.IRObject{"boxes": ir.IRArray{}}, nil
	}
	return ir.IRObject{"boxes": BoxesToIR(det.boxes)}, nil
}

func (d *Detector) frameOf(_ context.Context, in ir.IRObject) (ir.IRObject, error) {
	id, _ := in.GetString("detections")

	d.mu.Lock()
	defer d.mu.Unlock()

	det, ok := d.results.get(id)
	if !ok {
		return ir.IRObject{}, nil
	}
	return ir.IRObject{"frame": ir.IRString(det.frame)}, nil
}

// filterBoxes keeps person and phone boxes with conf >= minConf, then runs
// per-class greedy non-maximum suppression at the IoU threshold. The result
// is ordered by descending confidence.
func filterBoxes(candidates []Box, minConf, iouThreshold float64) []Box {
	var kept []Box
	for _, b := range candidates {
		if b.Conf < minConf {
			continue
		}
		if b.Class != ClassPerson && !IsPhone(b.Class) {
			continue
		}
		kept = append(kept, b)
	}
	slices.SortStableFunc(kept, func(a, b Box) int { return cmp.Compare(b.Conf, a.Conf) })

	out := make([]Box, 0, len(kept))
	for _, b := range kept {
		suppressed := false
		for _, o := range out {
			if o.Class == b.Class && iou(o, b) > iouThreshold {
				suppressed = true
				break
			}
		}
		if !suppressed {
			out = append(out, b)
		}
	}
	return out
}

// ScriptedModel replays box sets loaded from YAML, one set per Predict call,
// cycling when it reaches the end. The file format is a list of frames:
//
//	- boxes:
//	    - {xyxy: [100, 50, 300, 400], cls: person, conf: 0.9}
//	    - {xyxy: [180, 200, 220, 260], cls: cell phone, conf: 0.6}
//	- boxes: []
type ScriptedModel struct {
	mu     sync.Mutex
	frames [][]Box
	next   int
}

type scriptedFrame struct {
	Boxes []scriptedBox `yaml:"boxes"`
}

type scriptedBox struct {
	XYXY [4]int  `yaml:"xyxy"`
	Cls  string  `yaml:"cls"`
	Conf float64 `yaml:"conf"`
}

// NewScriptedModel replays frames in order.
func NewScriptedModel(frames ...[]Box) *ScriptedModel {
	return &ScriptedModel{frames: frames}
}

// LoadScriptedModel reads a ScriptedModel from a YAML file.
func LoadScriptedModel(path string) (*ScriptedModel, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read detections file: %w", err)
	}
	return ParseScriptedModel(data)
}

// ParseScriptedModel decodes the YAML form of a ScriptedModel.
func ParseScriptedModel(data []byte) (*ScriptedModel, error) {
	var raw []scriptedFrame
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("parse detections: %w", err)
	}

	frames := make([][]Box, len(raw))
	for i, f := range raw {
		for j, b := range f.Boxes {
			if b.XYXY[2] < b.XYXY[0] || b.XYXY[3] < b.XYXY[1] {
				return nil, fmt.Errorf("frame %d box %d: xyxy must be [x1, y1, x2, y2] with x1<=x2, y1<=y2", i, j)
			}
			frames[i] = append(frames[i], Box{
				X1: b.XYXY[0], Y1: b.XYXY[1], X2: b.XYXY[2], Y2: b.XYXY[3],
				Class: b.Cls,
				Conf:  b.Conf,
			})
		}
	}
	return NewScriptedModel(frames...), nil
}

// Predict returns the next scripted box set, or nothing if none are scripted.
func (m *ScriptedModel) Predict(context.Context, image.Image) ([]Box, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if len(m.frames) == 0 {
		return nil, nil
	}
	boxes := slices.Clone(m.frames[m.next])
	m.next = (m.next + 1) % len(m.frames)
	return boxes, nil
}
