// Package indicator computes a SuperTrend over a synthetic instrument built
// from two price sources.
//
// Per bar, the two source bars are combined by a formula (sum, ratio or
// percent spread) into a synthetic OHLC bar. Its true range feeds a simple
// moving-average ATR, and the ATR bands around the combined price feed the
// SuperTrend ratchet. SynthTrend runs this for one pair; Engine routes
// source bars to many pairs and handles snapshot, restore and reload.
//
// Only the newest bar is ever recomputed. Nothing here returns an error:
// every Ingest reports an Outcome instead, and numeric degeneracies (NaN,
// ±Inf) flow through to the output.
package indicator
