package iface

import "gopkg.in/yaml.v3"

// ModelKind separates the object detectors from the whole-image classifiers.
type ModelKind string

const (
	KindPrimary   ModelKind = "PRIMARY"
	KindSecondary ModelKind = "SECONDARY"
)

type Runtime string

const (
	RuntimeONNX   Runtime = "onnx"
	RuntimeRemote Runtime = "remote"
	RuntimeMock   Runtime = "mock"
)

// ModelDescriptor describes one entry of the model catalog. Immutable once built.
type ModelDescriptor struct {
	ID           string    `json:"id" yaml:"id"`
	Name         string    `json:"name" yaml:"name"`
	Version      string    `json:"version" yaml:"version"`
	Kind         ModelKind `json:"type" yaml:"kind"`
	Runtime      Runtime   `json:"runtime" yaml:"runtime"`
	Path         string    `json:"path" yaml:"path"`
	Description  string    `json:"description" yaml:"description"`
	Enabled      bool      `json:"enabled" yaml:"enabled"`
	Labels       []string  `json:"labels,omitempty" yaml:"labels"`
	LabelsFile   string    `json:"-" yaml:"labelsFile"`
	InferenceURL string    `json:"-" yaml:"inferenceUrl"`
}

func (m ModelDescriptor) DescriptorID() string { return m.ID }

func (m ModelDescriptor) IsEnabled() bool { return m.Enabled }

// UnmarshalYAML treats an omitted enabled key as true.
func (m *ModelDescriptor) UnmarshalYAML(value *yaml.Node) error {
	type plain ModelDescriptor
	d := plain{Enabled: true}
	if err := value.Decode(&d); err != nil {
		return err
	}
	*m = ModelDescriptor(d)
	return nil
}

// Space tags the coordinate system a Box is expressed in.
type Space string

const (
	SpaceAuto  Space = ""
	SpacePixel Space = "pixel"
	SpaceUnit  Space = "unit"
)

// Box is a bounding box as it travels between backends, the normalizer and clients.
// Pixel corners (X1..Y2) and unit fields (X, Y, W, H) are optional; nil means absent.
type Box struct {
	Class   string   `json:"class"`
	Conf    float64  `json:"conf"`
	Space   Space    `json:"space,omitempty"`
	X1      *float64 `json:"x1,omitempty"`
	Y1      *float64 `json:"y1,omitempty"`
	X2      *float64 `json:"x2,omitempty"`
	Y2      *float64 `json:"y2,omitempty"`
	X       *float64 `json:"x,omitempty"`
	Y       *float64 `json:"y,omitempty"`
	W       *float64 `json:"w,omitempty"`
	H       *float64 `json:"h,omitempty"`
	Percent *float64 `json:"percent,omitempty"`
}

func PixelBox(x1, y1, x2, y2 int) Box {
	return Box{
		Space: SpacePixel,
		X1:    Float(float64(x1)),
		Y1:    Float(float64(y1)),
		X2:    Float(float64(x2)),
		Y2:    Float(float64(y2)),
	}
}

func UnitBox(x, y, w, h float64) Box {
	return Box{Space: SpaceUnit, X: Float(x), Y: Float(y), W: Float(w), H: Float(h)}
}

func Float(v float64) *float64 {
	return &v
}

// Detection is one result of a single inference call. Confidence is in [0,1].
type Detection struct {
	ClassName  string  `json:"class_name"`
	Confidence float64 `json:"confidence"`
	BBox       Box     `json:"bbox"`
}

// Frame is an encoded image plus its decoded dimensions.
type Frame struct {
	Name   string
	Data   []byte
	Width  int
	Height int
}
