package reward

import "math"

// #region window

// window keeps a fixed-size trailing sample of one component's values and
// serves mean / standard deviation for outlier detection.
type window struct {
	samples []float64
	next    int
	full    bool
}

func newWindow(size int) *window {
	return &window{samples: make([]float64, size)}
}

// push records a value, overwriting the oldest once full.
func (w *window) push(v float64) {
	w.samples[w.next] = v
	w.next++
	if w.next == len(w.samples) {
		w.next = 0
		w.full = true
	}
}

// count returns the number of recorded samples.
func (w *window) count() int {
	if w.full {
		return len(w.samples)
	}
	return w.next
}

// stats returns mean and standard deviation over the recorded samples.
func (w *window) stats() (mean, std float64) {
	n := w.count()
	if n == 0 {
		return 0, 0
	}
	var sum float64
	for i := 0; i < n; i++ {
		sum += w.samples[i]
	}
	mean = sum / float64(n)
	var sq float64
	for i := 0; i < n; i++ {
		d := w.samples[i] - mean
		sq += d * d
	}
	return mean, math.Sqrt(sq / float64(n))
}

// #endregion window
