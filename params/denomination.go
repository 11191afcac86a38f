package params

// These are the multipliers for stake denominations. Chain storage keeps
// balances in rao; one tao is 1e9 rao. Alpha shares the same planck scale.
// Example: to render a raw balance in tao, divide by params.Tao.
const (
	Rao = 1
	Tao = 1e9
)
