package nn

import "github.com/yannbouteiller/rlrd/internal/f32"

// EMA moves every target parameter toward its source counterpart by rate
// tau: t += tau*(s-t). Target networks are updated only through this rule,
// never by backpropagation. The two parameter lists must have identical
// shapes.
func EMA(tau float32, target, source []Param) {
	for i := range target {
		f32.Lerp(tau, target[i].W, source[i].W)
	}
}

// CopyParams overwrites every target parameter with its source counterpart,
// used to initialize a target network as an exact copy.
func CopyParams(target, source []Param) {
	for i := range target {
		copy(target[i].W, source[i].W)
	}
}
