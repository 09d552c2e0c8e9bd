package model

import "sync"

// vectorPool recycles gradient scratch buffers so Update does not allocate
// on the hot path.
type vectorPool struct {
	p sync.Pool
}

var scratch vectorPool

// Get returns a zeroed vector of length n.
func (vp *vectorPool) Get(n int) []float32 {
	if v := vp.p.Get(); v != nil {
		s := v.([]float32)
		if cap(s) >= n {
			s = s[:n]
			for i := range s {
				s[i] = 0
			}
			return s
		}
	}
	return make([]float32, n)
}

// Put returns a vector to the pool.
func (vp *vectorPool) Put(v []float32) {
	if v != nil {
		vp.p.Put(v)
	}
}
