package providers

import (
	"cmp"
	"context"
	"fmt"
	"math"
	"slices"
	"sync"

	"github.com/roach88/classwatch/internal/concept"
	"github.com/roach88/classwatch/internal/ir"
)

// Thresholds tune the phone-to-person heuristic.
type Thresholds struct {
	// TorsoLo and TorsoHi bound the torso band as fractions of person height.
	TorsoLo, TorsoHi float64
	// IoU is the minimum phone/person overlap accepted outside the band.
	IoU float64
	// Dist is the maximum distance from phone center to band, as a fraction
	// of the person box diagonal.
	Dist float64
}

// DefaultThresholds are used for any threshold the caller omits.
var DefaultThresholds = Thresholds{TorsoLo: 0.3, TorsoHi: 0.9, IoU: 0.05, Dist: 0.2}

// IR encodes thresholds as {torsoBand: [lo, hi], tIoU, tDist}.
func (t Thresholds) IR() ir.IRObject {
	return ir.IRObject{
		"torsoBand": ir.IRArray{ir.IRFloat(t.TorsoLo), ir.IRFloat(t.TorsoHi)},
		"tIoU":      ir.IRFloat(t.IoU),
		"tDist":     ir.IRFloat(t.Dist),
	}
}

// ThresholdsFromIR decodes thresholds, filling omitted fields from defaults.
func ThresholdsFromIR(obj ir.IRObject) (Thresholds, error) {
	t := DefaultThresholds
	if v, ok := obj.GetFloat("tIoU"); ok {
		t.IoU = v
	}
	if v, ok := obj.GetFloat("tDist"); ok {
		t.Dist = v
	}
	if band, ok := obj.GetArray("torsoBand"); ok {
		if len(band) != 2 {
			return t, fmt.Errorf("torsoBand must be [lo, hi]")
		}
		lo, ok1 := number(band[0])
		hi, ok2 := number(band[1])
		if !ok1 || !ok2 {
			return t, fmt.Errorf("torsoBand must hold numbers")
		}
		t.TorsoLo, t.TorsoHi = lo, hi
	}
	return t, nil
}

func number(v ir.IRValue) (float64, bool) {
	switch n := v.(type) {
	case ir.IRInt:
		return float64(n), true
	case ir.IRFloat:
		return float64(n), true
	}
	return 0, false
}

// Association is the outcome of one assign call.
type Association struct {
	ID      string
	Frame   string
	Persons []Box
	Phones  []Box
	Matches []Match
	Using   []Box
}

// IR encodes the association in the shape _get and _latest return.
func (a Association) IR() ir.IRObject {
	frame := ir.IRValue(ir.IRNull{})
	if a.Frame != "" {
		frame = ir.IRString(a.Frame)
	}
	return ir.IRObject{
		"frame":   frame,
		"using":   BoxesToIR(a.Using),
		"matches": MatchesToIR(a.Matches),
		"persons": BoxesToIR(a.Persons),
		"phones":  BoxesToIR(a.Phones),
	}
}

// Associate pairs phones with the people holding them.
//
// Each person gets a torso band: the person box horizontally, and
// [y1 + lo*h, y1 + hi*h] vertically. A phone is a candidate for a person if
// its center lies in the band, or it overlaps the person box by at least
// t.IoU, or its center is within t.Dist person-diagonals of the band.
// Candidates are ranked by (0 if inside else 1) + distance - 0.2*IoU and
// assigned greedily one-to-one.
func Associate(boxes []Box, t Thresholds) (persons, phones []Box, matches []Match) {
	for _, b := range boxes {
		switch {
		case b.Class == ClassPerson:
			persons = append(persons, b)
		case IsPhone(b.Class):
			phones = append(phones, b)
		}
	}

	type personMetrics struct {
		diag float64
		band Box
	}
	metrics := make([]personMetrics, len(persons))
	for i, p := range persons {
		h := max(1, p.Y2-p.Y1)
		metrics[i] = personMetrics{
			diag: max(math.Hypot(float64(p.X2-p.X1), float64(p.Y2-p.Y1)), 1),
			band: Box{
				X1: p.X1,
				Y1: int(float64(p.Y1) + t.TorsoLo*float64(h)),
				X2: p.X2,
				Y2: int(float64(p.Y1) + t.TorsoHi*float64(h)),
			},
		}
	}

	type candidate struct {
		cost          float64
		phone, person int
	}
	var candidates []candidate
	for hi, h := range phones {
		cx, cy := h.Center()
		for pi, m := range metrics {
			inside := float64(m.band.X1) <= cx && cx <= float64(m.band.X2) &&
				float64(m.band.Y1) <= cy && cy <= float64(m.band.Y2)
			overlap := 0.0
			if !inside {
				overlap = iou(h, persons[pi])
			}
			dist := pointToRectDist(cx, cy, m.band) / m.diag
			if !inside && overlap < t.IoU && dist > t.Dist {
				continue
			}
			cost := 1.0
			if inside {
				cost = 0
			}
			cost += dist - 0.2*overlap
			candidates = append(candidates, candidate{cost: cost, phone: hi, person: pi})
		}
	}

	slices.SortStableFunc(candidates, func(a, b candidate) int { return cmp.Compare(a.cost, b.cost) })

	usedPhones := make(map[int]bool)
	usedPersons := make(map[int]bool)
	for _, c := range candidates {
		if usedPhones[c.phone] || usedPersons[c.person] {
			continue
		}
		usedPhones[c.phone] = true
		usedPersons[c.person] = true
		matches = append(matches, Match{Phone: c.phone, Person: c.person})
	}
	return persons, phones, matches
}

func pointToRectDist(cx, cy float64, r Box) float64 {
	dx := max(float64(r.X1)-cx, 0, cx-float64(r.X2))
	dy := max(float64(r.Y1)-cy, 0, cy-float64(r.Y2))
	return math.Hypot(dx, dy)
}

// Associator keeps the association computed for each frame.
type Associator struct {
	*concept.Table
	base

	mu     sync.Mutex
	byID   *fifoMap[Association]
	latest *Association
}

// NewAssociator creates the Associator provider.
func NewAssociator(opts ...Option) *Associator {
	a := &Associator{base: newBase(opts)}
	a.byID = newFIFOMap[Association](a.retain)

	assocOutputs := []ir.NamedArg{
		concept.Arg("frame", "any"),
		concept.Arg("using", "array"),
		concept.Arg("matches", "array"),
		concept.Arg("persons", "array"),
		concept.Arg("phones", "array"),
	}
	a.Table = concept.MustDefine("Associator", "Decides which people are using a phone.",
		concept.Action("assign", a.assign,
			concept.Args(
				concept.Arg("frame", "string"),
				concept.Arg("boxes", "array"),
				concept.Opt("thresholds", "object"),
			),
			concept.Arg("associations", "string")),
		concept.Query("_get", a.get,
			concept.Args(concept.Arg("associations", "string")),
			assocOutputs...),
		concept.Query("_latest", a.latestAssociation, nil, assocOutputs...),
	)
	return a
}

func (a *Associator) assign(_ context.Context, in ir.IRObject) (ir.IRObject, error) {
	frame, _ := in.GetString("frame")
	boxes, err := BoxesFromIR(in["boxes"])
	if err != nil {
		return nil, err
	}
	thresholds := DefaultThresholds
	if obj, ok := in.GetObject("thresholds"); ok {
		if thresholds, err = ThresholdsFromIR(obj); err != nil {
			return nil, err
		}
	}

	persons, phones, matches := Associate(boxes, thresholds)
	using := make([]Box, len(matches))
	for i, m := range matches {
		using[i] = persons[m.Person]
	}

	assoc := Association{
		ID:      a.newID(),
		Frame:   frame,
		Persons: persons,
		Phones:  phones,
		Matches: matches,
		Using:   using,
	}

	a.mu.Lock()
	a.byID.put(assoc.ID, assoc)
	a.latest = &assoc
	a.mu.Unlock()

	a.logger.Debug("associated", "frame", frame, "associations", assoc.ID,
		"persons", len(persons), "phones", len(phones), "using", len(using))
	return ir.IRObject{"associations": ir.IRString(assoc.ID)}, nil
}

func (a *Associator) get(_ context.Context, in ir.IRObject) (ir.IRObject, error) {
	id, _ := in.GetString("associations")

	a.mu.Lock()
	defer a.mu.Unlock()

	assoc, ok := a.byID.get(id)
	if !ok {
		return Association{}.IR(), nil
	}
	return assoc.IR(), nil
}

func (a *Associator) latestAssociation(context.Context, ir.IRObject) (ir.IRObject, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.latest == nil {
		return Association{}.IR(), nil
	}
	return a.latest.IR(), nil
}

// Latest returns the most recent association, if any.
func (a *Associator) Latest() (Association, bool) {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.latest == nil {
		return Association{}, false
	}
	return *a.latest, true
}
