// Package cnet models the control network consumed by bundle
// adjustment: an ordered set of world points, each classified as free
// or ground control, carrying the pixel measurements that observe it.
//
// Two on-disk formats are supported, selected by file extension:
// ".cnet" is a line-oriented tab/space separated text format, ".yaml"
// (or ".yml") is a YAML document. Both round-trip through Load/Save.
package cnet

import (
	"bufio"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/golang/geo/r2"
	"github.com/golang/geo/r3"
	"gopkg.in/yaml.v3"
)

// PointType classifies a control point.
type PointType int

const (
	// FreePoint positions are fully adjustable.
	FreePoint PointType = iota

	// GroundControlPoint positions are trusted and should move little
	// during fitting.
	GroundControlPoint
)

func (t PointType) String() string {
	if t == GroundControlPoint {
		return "gcp"
	}
	return "free"
}

func parsePointType(s string) (PointType, error) {
	switch s {
	case "free":
		return FreePoint, nil
	case "gcp":
		return GroundControlPoint, nil
	}
	return FreePoint, fmt.Errorf("unknown point type %q", s)
}

// Measure is a single pixel observation of a point by one camera.
type Measure struct {
	// ImageID indexes into the camera list supplied alongside the network.
	ImageID int

	// Pixel is the measured image location.
	Pixel r2.Point
}

// Point is one control point with its observing measures.
type Point struct {
	ID       string
	Type     PointType
	Position r3.Vector
	Measures []Measure
}

// Network is an ordered collection of control points.
type Network struct {
	Name   string
	Points []Point
}

// NumMeasures returns the total measure count across all points.
func (n *Network) NumMeasures() int {
	total := 0
	for i := range n.Points {
		total += len(n.Points[i].Measures)
	}
	return total
}

// Load reads a network from path, selecting the format by extension.
func Load(path string) (*Network, error) {
	switch ext := filepath.Ext(path); ext {
	case ".cnet":
		return loadText(path)
	case ".yaml", ".yml":
		return loadYAML(path)
	default:
		return nil, fmt.Errorf("unknown control network extension %q", ext)
	}
}

// Save writes the network to path, selecting the format by extension.
func (n *Network) Save(path string) error {
	switch ext := filepath.Ext(path); ext {
	case ".cnet":
		return n.saveText(path)
	case ".yaml", ".yml":
		return n.saveYAML(path)
	default:
		return fmt.Errorf("unknown control network extension %q", ext)
	}
}

// Text format. One "point" line per control point followed by one
// "measure" line per observation:
//
//	network <name>
//	point <id> <free|gcp> <x> <y> <z>
//	measure <imageID> <px> <py>

func loadText(path string) (*Network, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("reading control network: %w", err)
	}
	defer f.Close()

	n := &Network{}
	scanner := bufio.NewScanner(f)
	lineNo := 0
	for scanner.Scan() {
		lineNo++
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		fields := strings.Fields(line)
		switch fields[0] {
		case "network":
			if len(fields) > 1 {
				n.Name = strings.Join(fields[1:], " ")
			}
		case "point":
			if len(fields) != 6 {
				return nil, fmt.Errorf("%s:%d: point line wants 6 fields, got %d", path, lineNo, len(fields))
			}
			typ, err := parsePointType(fields[2])
			if err != nil {
				return nil, fmt.Errorf("%s:%d: %w", path, lineNo, err)
			}
			pos, err := parseVec3(fields[3:6])
			if err != nil {
				return nil, fmt.Errorf("%s:%d: %w", path, lineNo, err)
			}
			n.Points = append(n.Points, Point{ID: fields[1], Type: typ, Position: pos})
		case "measure":
			if len(n.Points) == 0 {
				return nil, fmt.Errorf("%s:%d: measure before any point", path, lineNo)
			}
			if len(fields) != 4 {
				return nil, fmt.Errorf("%s:%d: measure line wants 4 fields, got %d", path, lineNo, len(fields))
			}
			id, err := strconv.Atoi(fields[1])
			if err != nil {
				return nil, fmt.Errorf("%s:%d: bad image id %q", path, lineNo, fields[1])
			}
			px, err1 := strconv.ParseFloat(fields[2], 64)
			py, err2 := strconv.ParseFloat(fields[3], 64)
			if err1 != nil || err2 != nil {
				return nil, fmt.Errorf("%s:%d: bad pixel coordinates", path, lineNo)
			}
			last := &n.Points[len(n.Points)-1]
			last.Measures = append(last.Measures, Measure{ImageID: id, Pixel: r2.Point{X: px, Y: py}})
		default:
			return nil, fmt.Errorf("%s:%d: unknown record %q", path, lineNo, fields[0])
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("reading control network %s: %w", path, err)
	}
	return n, nil
}

func (n *Network) saveText(path string) error {
	var b strings.Builder
	fmt.Fprintf(&b, "network %s\n", n.Name)
	for i := range n.Points {
		p := &n.Points[i]
		fmt.Fprintf(&b, "point %s %s %.17g %.17g %.17g\n",
			p.ID, p.Type, p.Position.X, p.Position.Y, p.Position.Z)
		for _, m := range p.Measures {
			fmt.Fprintf(&b, "measure %d %.17g %.17g\n", m.ImageID, m.Pixel.X, m.Pixel.Y)
		}
	}
	if err := os.WriteFile(path, []byte(b.String()), 0644); err != nil {
		return fmt.Errorf("writing control network: %w", err)
	}
	return nil
}

func parseVec3(fields []string) (r3.Vector, error) {
	var v [3]float64
	for i, f := range fields {
		x, err := strconv.ParseFloat(f, 64)
		if err != nil {
			return r3.Vector{}, fmt.Errorf("bad coordinate %q", f)
		}
		v[i] = x
	}
	return r3.Vector{X: v[0], Y: v[1], Z: v[2]}, nil
}

// YAML format mirror types.

type yamlMeasure struct {
	ImageID int     `yaml:"imageId"`
	X       float64 `yaml:"x"`
	Y       float64 `yaml:"y"`
}

type yamlPoint struct {
	ID       string        `yaml:"id"`
	Type     string        `yaml:"type"`
	Position [3]float64    `yaml:"position"`
	Measures []yamlMeasure `yaml:"measures"`
}

type yamlNetwork struct {
	Name   string      `yaml:"name"`
	Points []yamlPoint `yaml:"points"`
}

func loadYAML(path string) (*Network, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading control network: %w", err)
	}
	var yn yamlNetwork
	if err := yaml.Unmarshal(data, &yn); err != nil {
		return nil, fmt.Errorf("parsing control network %s: %w", path, err)
	}
	n := &Network{Name: yn.Name, Points: make([]Point, 0, len(yn.Points))}
	for _, yp := range yn.Points {
		typ, err := parsePointType(yp.Type)
		if err != nil {
			return nil, fmt.Errorf("control network %s: point %q: %w", path, yp.ID, err)
		}
		p := Point{
			ID:       yp.ID,
			Type:     typ,
			Position: r3.Vector{X: yp.Position[0], Y: yp.Position[1], Z: yp.Position[2]},
		}
		for _, ym := range yp.Measures {
			p.Measures = append(p.Measures, Measure{ImageID: ym.ImageID, Pixel: r2.Point{X: ym.X, Y: ym.Y}})
		}
		n.Points = append(n.Points, p)
	}
	return n, nil
}

func (n *Network) saveYAML(path string) error {
	yn := yamlNetwork{Name: n.Name, Points: make([]yamlPoint, 0, len(n.Points))}
	for i := range n.Points {
		p := &n.Points[i]
		yp := yamlPoint{
			ID:       p.ID,
			Type:     p.Type.String(),
			Position: [3]float64{p.Position.X, p.Position.Y, p.Position.Z},
		}
		for _, m := range p.Measures {
			yp.Measures = append(yp.Measures, yamlMeasure{ImageID: m.ImageID, X: m.Pixel.X, Y: m.Pixel.Y})
		}
		yn.Points = append(yn.Points, yp)
	}
	data, err := yaml.Marshal(&yn)
	if err != nil {
		return fmt.Errorf("marshaling control network: %w", err)
	}
	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("writing control network: %w", err)
	}
	return nil
}
