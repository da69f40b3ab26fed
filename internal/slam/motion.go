package slam

import (
	"math"
	"math/rand"

	"gonum.org/v1/gonum/mat"
)

// rigidTransform is the camera motion between two frames: p_cur = R*p_prev + t.
type rigidTransform struct {
	R [9]float64
	T [3]float64
}

func (rt rigidTransform) apply(p [3]float64) [3]float64 {
	return [3]float64{
		rt.R[0]*p[0] + rt.R[1]*p[1] + rt.R[2]*p[2] + rt.T[0],
		rt.R[3]*p[0] + rt.R[4]*p[1] + rt.R[5]*p[2] + rt.T[1],
		rt.R[6]*p[0] + rt.R[7]*p[1] + rt.R[8]*p[2] + rt.T[2],
	}
}

// fitRigid solves the least-squares rigid transform mapping src onto dst
// (Kabsch). Returns ok=false for degenerate inputs.
func fitRigid(src, dst [][3]float64) (rigidTransform, bool) {
	n := len(src)
	if n < 3 || len(dst) != n {
		return rigidTransform{}, false
	}

	var cs, cd [3]float64
	for i := 0; i < n; i++ {
		for k := 0; k < 3; k++ {
			cs[k] += src[i][k]
			cd[k] += dst[i][k]
		}
	}
	for k := 0; k < 3; k++ {
		cs[k] /= float64(n)
		cd[k] /= float64(n)
	}

	// Cross-covariance H = sum (src-cs)(dst-cd)^T.
	h := mat.NewDense(3, 3, nil)
	for i := 0; i < n; i++ {
		for r := 0; r < 3; r++ {
			for c := 0; c < 3; c++ {
				h.Set(r, c, h.At(r, c)+(src[i][r]-cs[r])*(dst[i][c]-cd[c]))
			}
		}
	}

	var svd mat.SVD
	if !svd.Factorize(h, mat.SVDFull) {
		return rigidTransform{}, false
	}
	var u, v mat.Dense
	svd.UTo(&u)
	svd.VTo(&v)

	// R = V * U^T, with a reflection fix when det < 0.
	var r mat.Dense
	r.Mul(&v, u.T())
	if mat.Det(&r) < 0 {
		for row := 0; row < 3; row++ {
			v.Set(row, 2, -v.At(row, 2))
		}
		r.Mul(&v, u.T())
	}

	var rt rigidTransform
	for row := 0; row < 3; row++ {
		for col := 0; col < 3; col++ {
			rt.R[row*3+col] = r.At(row, col)
		}
	}
	for k := 0; k < 3; k++ {
		rt.T[k] = cd[k] - (rt.R[k*3]*cs[0] + rt.R[k*3+1]*cs[1] + rt.R[k*3+2]*cs[2])
	}
	for _, x := range rt.R {
		if math.IsNaN(x) {
			return rigidTransform{}, false
		}
	}
	return rt, true
}

// ransacRigid estimates the rigid transform from src to dst with RANSAC over
// minimal 3-point samples. iterations caps the sampling loop; polish refits
// on the final inlier set. A fixed seed keeps the estimate reproducible for
// a given correspondence set.
func ransacRigid(src, dst [][3]float64, iterations int, inlierTol float64, polish bool) (rigidTransform, []int, bool) {
	n := len(src)
	if n < 3 || len(dst) != n {
		return rigidTransform{}, nil, false
	}
	if iterations < 1 {
		iterations = 1
	}

	rng := rand.New(rand.NewSource(42))
	tol2 := inlierTol * inlierTol

	var best rigidTransform
	var bestInliers []int

	for it := 0; it < iterations; it++ {
		i, j, k := rng.Intn(n), rng.Intn(n), rng.Intn(n)
		if i == j || j == k || i == k {
			continue
		}
		cand, ok := fitRigid(
			[][3]float64{src[i], src[j], src[k]},
			[][3]float64{dst[i], dst[j], dst[k]},
		)
		if !ok {
			continue
		}
		var inliers []int
		for m := 0; m < n; m++ {
			p := cand.apply(src[m])
			d := sq(p[0]-dst[m][0]) + sq(p[1]-dst[m][1]) + sq(p[2]-dst[m][2])
			if d <= tol2 {
				inliers = append(inliers, m)
			}
		}
		if len(inliers) > len(bestInliers) {
			best = cand
			bestInliers = inliers
		}
	}

	// Minimal samples can fail on tiny clean sets where the random draw
	// never picks three distinct indices; fall back to a full fit.
	if len(bestInliers) < 3 {
		full, ok := fitRigid(src, dst)
		if !ok {
			return rigidTransform{}, nil, false
		}
		var inliers []int
		for m := 0; m < n; m++ {
			p := full.apply(src[m])
			if sq(p[0]-dst[m][0])+sq(p[1]-dst[m][1])+sq(p[2]-dst[m][2]) <= tol2 {
				inliers = append(inliers, m)
			}
		}
		if len(inliers) < 3 {
			return rigidTransform{}, nil, false
		}
		best, bestInliers = full, inliers
	}

	if polish && len(bestInliers) >= 3 {
		ps, pd := make([][3]float64, len(bestInliers)), make([][3]float64, len(bestInliers))
		for idx, m := range bestInliers {
			ps[idx], pd[idx] = src[m], dst[m]
		}
		if refit, ok := fitRigid(ps, pd); ok {
			best = refit
		}
	}
	return best, bestInliers, true
}

func sq(v float64) float64 { return v * v }
