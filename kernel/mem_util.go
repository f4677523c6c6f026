package kernel

// Memset sets every byte of target to the supplied value. Instead of a byte
// loop it seeds the first element and then makes log2(len(target)) copy
// calls, each one doubling the initialized prefix.
func Memset(target []byte, value byte) {
	if len(target) == 0 {
		return
	}

	target[0] = value
	for filled := 1; filled < len(target); filled *= 2 {
		copy(target[filled:], target[:filled])
	}
}
