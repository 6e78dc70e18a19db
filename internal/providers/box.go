package providers

import (
	"fmt"
	"image"
	"math"

	"github.com/roach88/classwatch/internal/ir"
)

// Detection classes kept by the detector.
const (
	ClassPerson      = "person"
	ClassCellPhone   = "cell phone"
	ClassMobilePhone = "mobile phone"
)

// IsPhone reports whether cls names a phone class.
func IsPhone(cls string) bool {
	return cls == ClassCellPhone || cls == ClassMobilePhone
}

// Box is one detection in pixel coordinates of the source frame.
type Box struct {
	X1, Y1, X2, Y2 int
	Class          string
	Conf           float64
}

// Rect returns the box as an image rectangle.
func (b Box) Rect() image.Rectangle {
	return image.Rect(b.X1, b.Y1, b.X2, b.Y2)
}

// Center returns the box center.
func (b Box) Center() (float64, float64) {
	return float64(b.X1+b.X2) / 2, float64(b.Y1+b.Y2) / 2
}

// IR encodes the box as {xyxy: [x1, y1, x2, y2], cls, conf}.
func (b Box) IR() ir.IRObject {
	return ir.IRObject{
		"xyxy": ir.IRArray{ir.IRInt(b.X1), ir.IRInt(b.Y1), ir.IRInt(b.X2), ir.IRInt(b.Y2)},
		"cls":  ir.IRString(b.Class),
		"conf": ir.IRFloat(b.Conf),
	}
}

// BoxFromIR decodes a box object.
func BoxFromIR(v ir.IRValue) (Box, error) {
	obj, ok := v.(ir.IRObject)
	if !ok {
		return Box{}, fmt.Errorf("box is %s, want object", ir.TypeName(v))
	}
	xyxy, ok := obj.GetArray("xyxy")
	if !ok || len(xyxy) != 4 {
		return Box{}, fmt.Errorf("box xyxy must be a 4-element array")
	}
	var coords [4]int
	for i, c := range xyxy {
		switch n := c.(type) {
		case ir.IRInt:
			coords[i] = int(n)
		case ir.IRFloat:
			coords[i] = int(math.Round(float64(n)))
		default:
			return Box{}, fmt.Errorf("box xyxy[%d] is %s, want number", i, ir.TypeName(c))
		}
	}
	cls, _ := obj.GetString("cls")
	conf, _ := obj.GetFloat("conf")
	return Box{X1: coords[0], Y1: coords[1], X2: coords[2], Y2: coords[3], Class: cls, Conf: conf}, nil
}

// BoxesToIR encodes a box list.
func BoxesToIR(boxes []Box) ir.IRArray {
	out := make(ir.IRArray, len(boxes))
	for i, b := range boxes {
		out[i] = b.IR()
	}
	return out
}

// BoxesFromIR decodes a box list. Null decodes to an empty list.
func BoxesFromIR(v ir.IRValue) ([]Box, error) {
	switch arr := v.(type) {
	case nil, ir.IRNull:
		return nil, nil
	case ir.IRArray:
		out := make([]Box, len(arr))
		for i, elem := range arr {
			b, err := BoxFromIR(elem)
			if err != nil {
				return nil, fmt.Errorf("boxes[%d]: %w", i, err)
			}
			out[i] = b
		}
		return out, nil
	default:
		return nil, fmt.Errorf("boxes is %s, want array", ir.TypeName(v))
	}
}

// Match pairs a phone index with a person index.
type Match struct {
	Phone, Person int
}

// MatchesToIR encodes matches as [[phone, person], ...].
func MatchesToIR(matches []Match) ir.IRArray {
	out := make(ir.IRArray, len(matches))
	for i, m := range matches {
		out[i] = ir.IRArray{ir.IRInt(m.Phone), ir.IRInt(m.Person)}
	}
	return out
}

// MatchesFromIR decodes [[phone, person], ...]. Null decodes to none.
func MatchesFromIR(v ir.IRValue) ([]Match, error) {
	switch arr := v.(type) {
	case nil, ir.IRNull:
		return nil, nil
	case ir.IRArray:
		out := make([]Match, len(arr))
		for i, elem := range arr {
			pair, ok := elem.(ir.IRArray)
			if !ok || len(pair) != 2 {
				return nil, fmt.Errorf("matches[%d] must be a [phone, person] pair", i)
			}
			hi, ok1 := pair[0].(ir.IRInt)
			pi, ok2 := pair[1].(ir.IRInt)
			if !ok1 || !ok2 {
				return nil, fmt.Errorf("matches[%d] must hold integers", i)
			}
			out[i] = Match{Phone: int(hi), Person: int(pi)}
		}
		return out, nil
	default:
		return nil, fmt.Errorf("matches is %s, want array", ir.TypeName(v))
	}
}

// iou is the intersection over union of two boxes. The union is floored
// at 1 so degenerate boxes never divide by zero.
func iou(a, b Box) float64 {
	ix1, iy1 := max(a.X1, b.X1), max(a.Y1, b.Y1)
	ix2, iy2 := min(a.X2, b.X2), min(a.Y2, b.Y2)
	inter := max(0, ix2-ix1) * max(0, iy2-iy1)
	areaA := (a.X2 - a.X1) * (a.Y2 - a.Y1)
	areaB := (b.X2 - b.X1) * (b.Y2 - b.Y1)
	union := max(areaA+areaB-inter, 1)
	return float64(inter) / float64(union)
}
