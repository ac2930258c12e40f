package pcm

// ResampleMono resamples mono float samples from srcRate to dstRate using
// linear interpolation. If srcRate == dstRate (or either rate is invalid)
// the input is returned unchanged. Quality is adequate for speech; the wire
// format is 16 kHz mono, so capture devices running at 44.1/48 kHz pass
// through here before encoding.
func ResampleMono(samples []float32, srcRate, dstRate int) []float32 {
	if srcRate <= 0 || dstRate <= 0 {
		return samples
	}
	if srcRate == dstRate || len(samples) < 2 {
		return samples
	}
	dstLen := int(int64(len(samples)) * int64(dstRate) / int64(srcRate))
	if dstLen == 0 {
		return nil
	}

	out := make([]float32, dstLen)
	ratio := float64(srcRate) / float64(dstRate)

	for i := range dstLen {
		srcPos := float64(i) * ratio
		srcIdx := int(srcPos)
		frac := srcPos - float64(srcIdx)

		s0 := samples[srcIdx]
		s1 := s0
		if srcIdx+1 < len(samples) {
			s1 = samples[srcIdx+1]
		}
		out[i] = float32(float64(s0)*(1-frac) + float64(s1)*frac)
	}
	return out
}
