// Package admission gates session pool growth on network quality.
//
// The scheduler asks the gate before growing the pool past its soft cap.
// NetProbe answers from a cached speedtest measurement refreshed on its
// own schedule, so the answer is always cheap. The gate fails open: no
// measurement, a stale one, or a disabled probe all allow growth.
package admission
