package audio

// DecodePCM16 converts raw little-endian 16-bit signed PCM bytes into
// normalized float32 samples in [-1, 1). A trailing odd byte is ignored.
func DecodePCM16(data []byte) []float32 {
	n := len(data) / BytesPerSample
	samples := make([]float32, n)
	for i := 0; i < n; i++ {
		s := int16(data[i*2]) | int16(data[i*2+1])<<8
		samples[i] = float32(s) / 32768.0
	}
	return samples
}

// SliceSeconds extracts the sub-range [start, end) seconds from raw PCM
// bytes, clamped to the available data and aligned to sample boundaries.
func SliceSeconds(data []byte, sampleRate int, start, end float64) []byte {
	bytesPerSecond := float64(sampleRate * BytesPerSample)
	lo := int(start*bytesPerSecond) &^ 1
	hi := int(end*bytesPerSecond) &^ 1
	if lo < 0 {
		lo = 0
	}
	if hi > len(data) {
		hi = len(data)
	}
	if lo >= hi {
		return nil
	}
	return data[lo:hi]
}
