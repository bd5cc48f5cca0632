// Package roi models regions of interest and converts them to and from the
// OME JSON representation served by the remote repository.
package roi

import (
	"encoding/json"
	"errors"
	"fmt"
	"image"
	"math"
	"strconv"
	"strings"
)

// OME schema type prefix used in "@type" fields.
const schemaPrefix = "http://www.openmicroscopy.org/Schemas/OME/2016-06#"

// ErrUnknownShape is returned when decoding a shape type that is not supported.
var ErrUnknownShape = errors.New("unknown shape type")

// Kind names a shape type.
type Kind string

const (
	Rectangle Kind = "Rectangle"
	Ellipse   Kind = "Ellipse"
	Polygon   Kind = "Polygon"
	Point     Kind = "Point"
	Line      Kind = "Line"
)

// Pt is a point in pixel coordinates.
type Pt struct {
	X, Y float64
}

// Shape is one geometric element of an ROI. Which fields are used depends
// on Kind:
//   - Rectangle: X, Y, Width, Height
//   - Ellipse: X, Y (centre), RadiusX, RadiusY
//   - Polygon: Points
//   - Point: X, Y
//   - Line: Points[0], Points[1]
//
// Z, T and C are 0-based plane indices; -1 means the shape applies to all
// planes along that axis.
type Shape struct {
	ID      int64
	Kind    Kind
	X, Y    float64
	Width   float64
	Height  float64
	RadiusX float64
	RadiusY float64
	Points  []Pt
	Z, T, C int
	Text    string
}

// NewRectangle returns a rectangle on all planes.
func NewRectangle(x, y, w, h float64) Shape {
	return Shape{Kind: Rectangle, X: x, Y: y, Width: w, Height: h, Z: -1, T: -1, C: -1}
}

// NewEllipse returns an ellipse centred on (cx, cy) on all planes.
func NewEllipse(cx, cy, rx, ry float64) Shape {
	return Shape{Kind: Ellipse, X: cx, Y: cy, RadiusX: rx, RadiusY: ry, Z: -1, T: -1, C: -1}
}

// NewPolygon returns a closed polygon on all planes.
func NewPolygon(points ...Pt) Shape {
	return Shape{Kind: Polygon, Points: points, Z: -1, T: -1, C: -1}
}

// NewPoint returns a point on all planes.
func NewPoint(x, y float64) Shape {
	return Shape{Kind: Point, X: x, Y: y, Z: -1, T: -1, C: -1}
}

// NewLine returns a line from (x1, y1) to (x2, y2) on all planes.
func NewLine(x1, y1, x2, y2 float64) Shape {
	return Shape{Kind: Line, Points: []Pt{{x1, y1}, {x2, y2}}, Z: -1, T: -1, C: -1}
}

// Bounds returns the smallest pixel rectangle containing the shape.
func (s Shape) Bounds() image.Rectangle {
	var x0, y0, x1, y1 float64
	switch s.Kind {
	case Rectangle:
		x0, y0, x1, y1 = s.X, s.Y, s.X+s.Width, s.Y+s.Height
	case Ellipse:
		x0, y0, x1, y1 = s.X-s.RadiusX, s.Y-s.RadiusY, s.X+s.RadiusX, s.Y+s.RadiusY
	case Point:
		x0, y0, x1, y1 = s.X, s.Y, s.X+1, s.Y+1
	case Polygon, Line:
		if len(s.Points) == 0 {
			return image.Rectangle{}
		}
		x0, y0 = math.Inf(1), math.Inf(1)
		x1, y1 = math.Inf(-1), math.Inf(-1)
		for _, p := range s.Points {
			x0, y0 = math.Min(x0, p.X), math.Min(y0, p.Y)
			x1, y1 = math.Max(x1, p.X), math.Max(y1, p.Y)
		}
		x1++
		y1++
	default:
		return image.Rectangle{}
	}
	return image.Rect(int(math.Floor(x0)), int(math.Floor(y0)), int(math.Ceil(x1)), int(math.Ceil(y1)))
}

// ROI groups shapes under one name.
type ROI struct {
	ID     int64
	Name   string
	Shapes []Shape
}

// Bounds returns the union of the bounds of all shapes.
func (r ROI) Bounds() image.Rectangle {
	var b image.Rectangle
	for _, s := range r.Shapes {
		b = b.Union(s.Bounds())
	}
	return b
}

type shapeJSON struct {
	ID      *int64   `json:"@id,omitempty"`
	Type    string   `json:"@type"`
	X       *float64 `json:"X,omitempty"`
	Y       *float64 `json:"Y,omitempty"`
	Width   *float64 `json:"Width,omitempty"`
	Height  *float64 `json:"Height,omitempty"`
	RadiusX *float64 `json:"RadiusX,omitempty"`
	RadiusY *float64 `json:"RadiusY,omitempty"`
	X1      *float64 `json:"X1,omitempty"`
	Y1      *float64 `json:"Y1,omitempty"`
	X2      *float64 `json:"X2,omitempty"`
	Y2      *float64 `json:"Y2,omitempty"`
	Points  string   `json:"Points,omitempty"`
	TheZ    *int     `json:"TheZ,omitempty"`
	TheT    *int     `json:"TheT,omitempty"`
	TheC    *int     `json:"TheC,omitempty"`
	Text    string   `json:"Text,omitempty"`
}

func f64(v float64) *float64 { return &v }

func plane(v int) *int {
	if v < 0 {
		return nil
	}
	return &v
}

// MarshalJSON encodes the shape in OME JSON form.
func (s Shape) MarshalJSON() ([]byte, error) {
	j := shapeJSON{
		Type: schemaPrefix + string(s.Kind),
		TheZ: plane(s.Z),
		TheT: plane(s.T),
		TheC: plane(s.C),
		Text: s.Text,
	}
	if s.ID != 0 {
		j.ID = &s.ID
	}
	switch s.Kind {
	case Rectangle:
		j.X, j.Y, j.Width, j.Height = f64(s.X), f64(s.Y), f64(s.Width), f64(s.Height)
	case Ellipse:
		j.X, j.Y, j.RadiusX, j.RadiusY = f64(s.X), f64(s.Y), f64(s.RadiusX), f64(s.RadiusY)
	case Point:
		j.X, j.Y = f64(s.X), f64(s.Y)
	case Line:
		if len(s.Points) != 2 {
			return nil, fmt.Errorf("line needs 2 points, got %d", len(s.Points))
		}
		j.X1, j.Y1 = f64(s.Points[0].X), f64(s.Points[0].Y)
		j.X2, j.Y2 = f64(s.Points[1].X), f64(s.Points[1].Y)
	case Polygon:
		j.Points = formatPoints(s.Points)
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownShape, s.Kind)
	}
	return json.Marshal(j)
}

// UnmarshalJSON decodes a shape from OME JSON form.
func (s *Shape) UnmarshalJSON(data []byte) error {
	var j shapeJSON
	if err := json.Unmarshal(data, &j); err != nil {
		return err
	}
	kind := Kind(j.Type[strings.LastIndex(j.Type, "#")+1:])

	out := Shape{Kind: kind, Z: -1, T: -1, C: -1, Text: j.Text}
	if j.ID != nil {
		out.ID = *j.ID
	}
	if j.TheZ != nil {
		out.Z = *j.TheZ
	}
	if j.TheT != nil {
		out.T = *j.TheT
	}
	if j.TheC != nil {
		out.C = *j.TheC
	}

	val := func(p *float64) float64 {
		if p == nil {
			return 0
		}
		return *p
	}
	switch kind {
	case Rectangle:
		out.X, out.Y, out.Width, out.Height = val(j.X), val(j.Y), val(j.Width), val(j.Height)
	case Ellipse:
		out.X, out.Y, out.RadiusX, out.RadiusY = val(j.X), val(j.Y), val(j.RadiusX), val(j.RadiusY)
	case Point:
		out.X, out.Y = val(j.X), val(j.Y)
	case Line:
		out.Points = []Pt{{val(j.X1), val(j.Y1)}, {val(j.X2), val(j.Y2)}}
	case Polygon:
		pts, err := parsePoints(j.Points)
		if err != nil {
			return err
		}
		out.Points = pts
	default:
		return fmt.Errorf("%w: %q", ErrUnknownShape, j.Type)
	}
	*s = out
	return nil
}

type roiJSON struct {
	ID     *int64  `json:"@id,omitempty"`
	Type   string  `json:"@type"`
	Name   string  `json:"Name,omitempty"`
	Shapes []Shape `json:"shapes"`
}

// MarshalJSON encodes the ROI in OME JSON form.
func (r ROI) MarshalJSON() ([]byte, error) {
	j := roiJSON{Type: schemaPrefix + "ROI", Name: r.Name, Shapes: r.Shapes}
	if r.ID != 0 {
		j.ID = &r.ID
	}
	if j.Shapes == nil {
		j.Shapes = []Shape{}
	}
	return json.Marshal(j)
}

// UnmarshalJSON decodes an ROI from OME JSON form.
func (r *ROI) UnmarshalJSON(data []byte) error {
	var j roiJSON
	if err := json.Unmarshal(data, &j); err != nil {
		return err
	}
	*r = ROI{Name: j.Name, Shapes: j.Shapes}
	if j.ID != nil {
		r.ID = *j.ID
	}
	return nil
}

// formatPoints renders points as "x1,y1 x2,y2 ...".
func formatPoints(pts []Pt) string {
	parts := make([]string, len(pts))
	for i, p := range pts {
		parts[i] = strconv.FormatFloat(p.X, 'f', -1, 64) + "," + strconv.FormatFloat(p.Y, 'f', -1, 64)
	}
	return strings.Join(parts, " ")
}

func parsePoints(s string) ([]Pt, error) {
	fields := strings.Fields(s)
	pts := make([]Pt, 0, len(fields))
	for _, f := range fields {
		xs, ys, ok := strings.Cut(f, ",")
		if !ok {
			return nil, fmt.Errorf("invalid point %q", f)
		}
		x, err := strconv.ParseFloat(xs, 64)
		if err != nil {
			return nil, fmt.Errorf("invalid point %q: %w", f, err)
		}
		y, err := strconv.ParseFloat(ys, 64)
		if err != nil {
			return nil, fmt.Errorf("invalid point %q: %w", f, err)
		}
		pts = append(pts, Pt{x, y})
	}
	return pts, nil
}
