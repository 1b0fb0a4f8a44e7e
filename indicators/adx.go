package indicators

import "math"

// ADX implements Wilder's Average Directional Index (trend strength).
//
// TR, +DM and -DM are summed over the first n moves, then Wilder-smoothed
// with sm = sm - sm/n + cur. The first DX appears at row n and ADX is seeded
// with the mean of the first n DX values, so the first ADX lands on row
// 2n-1. After that adx = (adx*(n-1) + dx) / n.
func ADX(highs, lows, closes []float64, n int) []Value {
	out := make([]Value, len(closes))
	if n <= 0 || len(closes) < 2*n {
		return out
	}

	var smTR, smPDM, smMDM float64
	var adx, dxSum float64
	dxCount := 0
	nf := float64(n)

	for i := 1; i < len(closes); i++ {
		up := highs[i] - highs[i-1]
		down := lows[i-1] - lows[i]

		var pdm, mdm float64
		if up > down && up > 0 {
			pdm = up
		}
		if down > up && down > 0 {
			mdm = down
		}
		tr := max3(highs[i]-lows[i], math.Abs(highs[i]-closes[i-1]), math.Abs(lows[i]-closes[i-1]))

		if i <= n {
			smTR += tr
			smPDM += pdm
			smMDM += mdm
			if i < n {
				continue
			}
		} else {
			smTR = smTR - smTR/nf + tr
			smPDM = smPDM - smPDM/nf + pdm
			smMDM = smMDM - smMDM/nf + mdm
		}

		d := dx(di(smPDM, smTR), di(smMDM, smTR))
		if dxCount < n {
			dxSum += d
			dxCount++
			if dxCount == n {
				adx = dxSum / nf
				out[i] = some(adx)
			}
			continue
		}
		adx = (adx*(nf-1) + d) / nf
		out[i] = some(adx)
	}
	return out
}

func di(smDM, smTR float64) float64 {
	if smTR <= 0 {
		return 0
	}
	return 100 * smDM / smTR
}

func dx(pdi, mdi float64) float64 {
	den := pdi + mdi
	if den <= 0 {
		return 0
	}
	return 100 * math.Abs(pdi-mdi) / den
}

func max3(a, b, c float64) float64 {
	return math.Max(a, math.Max(b, c))
}
