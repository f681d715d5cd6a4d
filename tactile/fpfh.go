package tactile

import (
	"math"

	"github.com/golang/geo/r3"
)

const (
	fpfhBins = 11
	// FPFHDims is the length of a fast point feature histogram.
	FPFHDims = 3 * fpfhBins
)

// FPFHConfig controls the neighbourhood used for descriptors.
type FPFHConfig struct {
	Radius       float64 // meters
	MaxNeighbors int
}

// DefaultFPFHConfig uses a 1 mm radius with at most 100 neighbours.
func DefaultFPFHConfig() FPFHConfig {
	return FPFHConfig{Radius: 0.001, MaxNeighbors: 100}
}

// pairFeatures returns the Darboux-frame angles (f0, f1, f2) between two
// oriented points, or ok=false when the pair is degenerate.
func pairFeatures(p1, n1, p2, n2 r3.Vector) (f [3]float64, ok bool) {
	d := p2.Sub(p1)
	dist := d.Norm()
	if dist == 0 {
		return f, false
	}
	a1 := n1.Dot(d) / dist
	a2 := n2.Dot(d) / dist
	if math.Acos(math.Abs(a1)) > math.Acos(math.Abs(a2)) {
		n1, n2 = n2, n1
		d = d.Mul(-1)
		f[2] = -a2
	} else {
		f[2] = a1
	}
	v := d.Cross(n1)
	vn := v.Norm()
	if vn == 0 {
		return [3]float64{}, false
	}
	v = v.Mul(1 / vn)
	w := n1.Cross(v)
	f[1] = v.Dot(n2)
	f[0] = math.Atan2(w.Dot(n2), n1.Dot(n2))
	return f, true
}

func histBin(x, lo, span float64) int {
	b := int(math.Floor(fpfhBins * (x - lo) / span))
	if b < 0 {
		return 0
	}
	if b >= fpfhBins {
		return fpfhBins - 1
	}
	return b
}

// spfh builds the simplified histogram of point i over its neighbours.
func spfh(set *MaskedPointSet, i int, nbs []neighbor) [FPFHDims]float64 {
	var h [FPFHDims]float64
	if len(nbs) == 0 {
		return h
	}
	incr := 100.0 / float64(len(nbs))
	p, n := set.Points[i], set.Normals[i]
	for _, nb := range nbs {
		f, ok := pairFeatures(p, n, set.Points[nb.Index], set.Normals[nb.Index])
		if !ok {
			// zero features land in the middle bins
			f = [3]float64{}
		}
		h[histBin(f[0], -math.Pi, 2*math.Pi)] += incr
		h[fpfhBins+histBin(f[1], -1, 2)] += incr
		h[2*fpfhBins+histBin(f[2], -1, 2)] += incr
	}
	return h
}

// ComputeFPFH returns one 33-bin descriptor per point. Each point's
// histogram is its own SPFH plus the inverse-squared-distance weighted sum of
// its neighbours' SPFH, with each of the three sub-histograms normalized to
// a total of 100.
func ComputeFPFH(set *MaskedPointSet, cfg FPFHConfig) [][FPFHDims]float64 {
	n := set.Len()
	index := newPointIndex3(set.Points)

	neighbors := make([][]neighbor, n)
	simple := make([][FPFHDims]float64, n)
	parallelFor(n, func(i int) {
		p := set.Points[i]
		hits := index.HybridRadius([]float64{p.X, p.Y, p.Z}, cfg.Radius, cfg.MaxNeighbors)
		own := hits[:0:0]
		for _, h := range hits {
			if h.Index != i {
				own = append(own, h)
			}
		}
		neighbors[i] = own
		simple[i] = spfh(set, i, own)
	})

	features := make([][FPFHDims]float64, n)
	parallelFor(n, func(i int) {
		var f [FPFHDims]float64
		var sum [3]float64
		for _, nb := range neighbors[i] {
			if nb.DistSq == 0 {
				continue
			}
			for j := 0; j < FPFHDims; j++ {
				v := simple[nb.Index][j] / nb.DistSq
				sum[j/fpfhBins] += v
				f[j] += v
			}
		}
		for k := range sum {
			if sum[k] != 0 {
				sum[k] = 100 / sum[k]
			}
		}
		for j := 0; j < FPFHDims; j++ {
			f[j] = f[j]*sum[j/fpfhBins] + simple[i][j]
		}
		features[i] = f
	})
	return features
}
