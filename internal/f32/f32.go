// Package f32 provides float32 vector kernels used by the nn package.
package f32

// Scal is
//  for i := range x {
//  	x[i] *= alpha
//  }
func Scal(alpha float32, x []float32) {
	for i := range x {
		x[i] *= alpha
	}
}

// Add is
//  for i, v := range s {
//  	dst[i] += v
//  }
func Add(dst, s []float32) {
	for i, v := range s {
		dst[i] += v
	}
}

// Axpy is
//  for i, v := range x {
//  	y[i] += alpha * v
//  }
func Axpy(alpha float32, x, y []float32) {
	for i, v := range x {
		y[i] += alpha * v
	}
}

// Dot is
//  for i, v := range x {
//  	sum += y[i] * v
//  }
//  return sum
func Dot(x, y []float32) (sum float32) {
	for i, v := range x {
		sum += y[i] * v
	}
	return sum
}

// Lerp is
//  for i, v := range s {
//  	dst[i] += t * (v - dst[i])
//  }
// i.e. an in-place exponential moving average step with rate t.
func Lerp(t float32, dst, s []float32) {
	for i, v := range s {
		dst[i] += t * (v - dst[i])
	}
}

// Clone returns a newly allocated copy of x.
func Clone(x []float32) []float32 {
	return append([]float32(nil), x...)
}
