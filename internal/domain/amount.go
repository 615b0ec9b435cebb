package domain

import "math/rand"

// NextAmount produces the step amount for one firing. Fixed policies
// return the increment; random policies draw uniformly from [Min, Max]
// inclusive (Min == Max degenerates to that constant).
func NextAmount(p AmountPolicy) int {
	p = p.Normalize()
	if !p.Random {
		return p.Increment
	}
	return p.Min + rand.Intn(p.Max-p.Min+1)
}
