package tactile

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/sbinet/npyio"
)

const (
	// GradientMapsFile holds an (N, H, W, 2) array of x/y gradients.
	GradientMapsFile = "gradient_maps.npy"
	// ContactMasksFile holds an (N, H, W) boolean array.
	ContactMasksFile = "contact_masks.npy"
	// TrueTransformsFile optionally holds (N, 4, 4) ground-truth poses.
	TrueTransformsFile = "true_transforms.npy"
)

// npyArray is a decoded C-ordered array widened to float64.
type npyArray struct {
	shape []int
	data  []float64
}

func readNPY(path string) (npyArray, error) {
	f, err := os.Open(path)
	if err != nil {
		return npyArray{}, err
	}
	defer f.Close()
	return decodeNPY(f)
}

func decodeNPY(rd io.Reader) (npyArray, error) {
	r, err := npyio.NewReader(rd)
	if err != nil {
		return npyArray{}, fmt.Errorf("read npy header: %w", err)
	}
	descr := r.Header.Descr
	if descr.Fortran {
		return npyArray{}, fmt.Errorf("fortran-ordered arrays are not supported")
	}
	n := 1
	for _, d := range descr.Shape {
		n *= d
	}
	out := npyArray{shape: descr.Shape, data: make([]float64, n)}

	// dtype strings look like "<f4", "|b1" or "<i8"
	code := strings.TrimLeft(descr.Type, "<>|=")
	switch code {
	case "f8":
		if err := r.Read(&out.data); err != nil {
			return npyArray{}, err
		}
	case "f4":
		raw := make([]float32, n)
		if err := r.Read(&raw); err != nil {
			return npyArray{}, err
		}
		for i, v := range raw {
			out.data[i] = float64(v)
		}
	case "b1":
		raw := make([]bool, n)
		if err := r.Read(&raw); err != nil {
			return npyArray{}, err
		}
		for i, v := range raw {
			if v {
				out.data[i] = 1
			}
		}
	case "u1":
		raw := make([]uint8, n)
		if err := r.Read(&raw); err != nil {
			return npyArray{}, err
		}
		for i, v := range raw {
			out.data[i] = float64(v)
		}
	default:
		return npyArray{}, fmt.Errorf("unsupported npy dtype %q", descr.Type)
	}
	return out, nil
}

// LoadDataset reads gradient maps and contact masks from dir.
func LoadDataset(dir string) ([]GradientFrame, error) {
	grads, err := readNPY(filepath.Join(dir, GradientMapsFile))
	if err != nil {
		return nil, fmt.Errorf("load gradient maps: %w", err)
	}
	masks, err := readNPY(filepath.Join(dir, ContactMasksFile))
	if err != nil {
		return nil, fmt.Errorf("load contact masks: %w", err)
	}
	return assembleFrames(grads, masks)
}

func assembleFrames(grads, masks npyArray) ([]GradientFrame, error) {
	if len(grads.shape) != 4 || grads.shape[3] != 2 {
		return nil, fmt.Errorf("%w: gradient maps must be (N, H, W, 2), got %v", ErrShapeMismatch, grads.shape)
	}
	if len(masks.shape) != 3 {
		return nil, fmt.Errorf("%w: contact masks must be (N, H, W), got %v", ErrShapeMismatch, masks.shape)
	}
	n, h, w := grads.shape[0], grads.shape[1], grads.shape[2]
	if masks.shape[0] != n || masks.shape[1] != h || masks.shape[2] != w {
		return nil, fmt.Errorf("%w: gradient maps %v do not match contact masks %v", ErrShapeMismatch, grads.shape, masks.shape)
	}

	frames := make([]GradientFrame, n)
	px := h * w
	for k := 0; k < n; k++ {
		g := GradientFrame{
			Width:   w,
			Height:  h,
			Gx:      make([]float64, px),
			Gy:      make([]float64, px),
			Contact: make([]bool, px),
		}
		gBase := k * px * 2
		mBase := k * px
		for i := 0; i < px; i++ {
			g.Gx[i] = grads.data[gBase+2*i]
			g.Gy[i] = grads.data[gBase+2*i+1]
			g.Contact[i] = masks.data[mBase+i] != 0
		}
		frames[k] = g
	}
	return frames, nil
}

// LoadTransformsNPY reads an (N, 4, 4) array of homogeneous transforms.
func LoadTransformsNPY(path string) (Trajectory, error) {
	arr, err := readNPY(path)
	if err != nil {
		return nil, fmt.Errorf("load transforms: %w", err)
	}
	if len(arr.shape) != 3 || arr.shape[1] != 4 || arr.shape[2] != 4 {
		return nil, fmt.Errorf("%w: transforms must be (N, 4, 4), got %v", ErrShapeMismatch, arr.shape)
	}
	out := make(Trajectory, arr.shape[0])
	for k := range out {
		var m [4][4]float64
		for i := 0; i < 4; i++ {
			for j := 0; j < 4; j++ {
				m[i][j] = arr.data[k*16+i*4+j]
			}
		}
		t, err := TransformFromMatrix(m)
		if err != nil {
			return nil, fmt.Errorf("transform %d: %w", k, err)
		}
		out[k] = t
	}
	return out, nil
}

// TrajectoryFile is the on-disk form of a tracking run.
type TrajectoryFile struct {
	Method      Kind       `json:"method"`
	PixelPitch  float64    `json:"pixelPitch"`
	LongHorizon bool       `json:"longHorizon"`
	Resets      []int      `json:"resets,omitempty"`
	CreatedAt   time.Time  `json:"createdAt"`
	Transforms  Trajectory `json:"transforms"`
}

// TrajectoryFileName returns the conventional output name for a method.
func TrajectoryFileName(method Kind) string {
	return fmt.Sprintf("%s_transforms.json", method)
}

// SaveTrajectory writes a run as indented JSON.
func SaveTrajectory(path string, tf TrajectoryFile) error {
	data, err := json.MarshalIndent(tf, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal trajectory: %w", err)
	}
	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("failed to write trajectory file: %w", err)
	}
	return nil
}

// LoadTrajectory reads a run written by SaveTrajectory.
func LoadTrajectory(path string) (TrajectoryFile, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return TrajectoryFile{}, fmt.Errorf("failed to read trajectory file: %w", err)
	}
	var tf TrajectoryFile
	if err := json.Unmarshal(data, &tf); err != nil {
		return TrajectoryFile{}, fmt.Errorf("failed to parse trajectory file: %w", err)
	}
	return tf, nil
}
