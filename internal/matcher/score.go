package matcher

import "math"

// Score turns two accepted leg distances into a strength in [0,100]. Both
// legs at zero give 100; the score reaches 0 when the legs sum to 4*maxRadius.
// The 4*maxRadius normalisation is relied on by ranking downstream; keep it.
func Score(startKm, endKm, maxRadiusKm float64) int {
	if maxRadiusKm <= 0 {
		return 0
	}
	s := 100 * (1 - (startKm+endKm)/(4*maxRadiusKm))
	s = math.Max(0, math.Min(100, s))
	return int(math.Round(s))
}
