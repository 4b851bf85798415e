package bubble

// ExtractParams controls ink signal measurement.
type ExtractParams struct {
	// Adaptive threshold settings. The threshold for each pixel follows the
	// local neighborhood mean, which keeps fill scores stable under uneven
	// scanner illumination.
	BlurKernel int     // Gaussian pre-blur kernel size, odd
	BlockSize  int     // adaptive threshold neighborhood, odd
	C          float32 // constant subtracted from the local mean

	// RimWidth is how far inside the printed bubble outline the scoring disc
	// stops, in canonical pixels. Excluding the rim keeps blank bubbles from
	// scoring their own printed circle as ink.
	RimWidth float64

	// Annulus bounds for ring contrast, as offsets from the bubble radius.
	AnnulusInner float64
	AnnulusOuter float64
}

// DefaultExtractParams returns measurement parameters tuned for the built-in
// templates at canonical resolution.
//
// The threshold block is roughly twice the bubble diameter. A smaller block
// hollows out solidly filled bubbles: deep inside the mark the local mean is
// the mark itself, so interior pixels stop counting as ink.
func DefaultExtractParams() ExtractParams {
	return ExtractParams{
		BlurKernel:   3,
		BlockSize:    31,
		C:            5,
		RimWidth:     3,
		AnnulusInner: 1,
		AnnulusOuter: 4,
	}
}
