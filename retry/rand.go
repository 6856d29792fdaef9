package retry

import "math/rand/v2"

func defaultRandFloat() float64 { return rand.Float64() }
