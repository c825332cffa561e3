/*
NAME
  snr.go

DESCRIPTION
  snr.go estimates link SNR from the normalised sync correlation peak. The
  estimate feeds the despreader's soft-combining gain.

AUTHOR
  Dan Kortschak <dan@ausocean.org>

LICENSE
  Copyright (C) 2024 the Australian Ocean Lab (AusOcean). All Rights Reserved.

  The Software and all intellectual property rights associated
  therewith, including but not limited to copyrights, trademarks,
  patents, and trade secrets, are and will remain the exclusive
  property of the Australian Ocean Lab (AusOcean).
*/

package dsss

// SNR mapping: correlation peaks in [snrMinCorr, snrMaxCorr] map linearly
// onto [0, snrRangeDb] dB.
const (
	snrMinCorr = 0.3
	snrMaxCorr = 1.0
	snrRangeDb = 20.0
)

// EstimateSNR maps a normalised correlation peak to an SNR estimate in dB.
func EstimateSNR(peakCorrelation float64) float64 {
	if peakCorrelation <= snrMinCorr {
		return 0
	}
	if peakCorrelation >= snrMaxCorr {
		return snrRangeDb
	}
	return (peakCorrelation - snrMinCorr) / (snrMaxCorr - snrMinCorr) * snrRangeDb
}
