package gpucore

// SplitGroups spreads n work groups over two dimensions so that neither
// exceeds maxPerDim. The product x*y may exceed n by less than x; kernels
// linearize the group id as y*x_count + x and ignore ids past n.
func SplitGroups(n, maxPerDim uint32) (x, y uint32) {
	if n == 0 {
		return 0, 0
	}
	if maxPerDim == 0 || n <= maxPerDim {
		return n, 1
	}
	y = (n + maxPerDim - 1) / maxPerDim
	x = (n + y - 1) / y
	return x, y
}

// CeilDiv returns a/b rounded up.
func CeilDiv(a, b uint32) uint32 {
	return (a + b - 1) / b
}
