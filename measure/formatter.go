// Copyright 2024 The Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package measure

// countFormatter formats event counts. Counts are never rescaled: a
// benchmark that retires 1.5 million instructions reports 1500000
// instructions, not 1.5 "M instructions".
type countFormatter struct {
	units      string
	perByte    string
	perElement string
}

func newCountFormatter(units string) countFormatter {
	return countFormatter{
		units:      units,
		perByte:    units + "/byte",
		perElement: units + "/element",
	}
}

func (f countFormatter) ScaleValues(_ float64, _ []float64) string {
	return f.units
}

func (f countFormatter) ScaleThroughputs(_ float64, t Throughput, values []float64) string {
	if t.N == 0 {
		return f.units
	}
	for i := range values {
		values[i] /= float64(t.N)
	}
	switch t.Kind {
	case Bytes, BytesDecimal:
		return f.perByte
	case Elements:
		return f.perElement
	}
	return f.units
}

func (f countFormatter) ScaleForMachines(_ []float64) string {
	return f.units
}

// durationFormatter formats nanosecond values.
type durationFormatter struct{}

func (durationFormatter) ScaleValues(ns float64, values []float64) string {
	factor, unit := 1.0, "ns"
	switch {
	case ns < 1:
		factor, unit = 1e3, "ps"
	case ns < 1e3:
	case ns < 1e6:
		factor, unit = 1e-3, "µs"
	case ns < 1e9:
		factor, unit = 1e-6, "ms"
	default:
		factor, unit = 1e-9, "s"
	}
	for i := range values {
		values[i] *= factor
	}
	return unit
}

func (durationFormatter) ScaleThroughputs(typical float64, t Throughput, values []float64) string {
	var base float64
	var units []string
	switch t.Kind {
	case Bytes:
		base, units = 1024, []string{"B/s", "KiB/s", "MiB/s", "GiB/s"}
	case BytesDecimal:
		base, units = 1000, []string{"B/s", "KB/s", "MB/s", "GB/s"}
	case Elements:
		base, units = 1000, []string{"elem/s", "Kelem/s", "Melem/s", "Gelem/s"}
	default:
		return durationFormatter{}.ScaleValues(typical, values)
	}
	// Pick the unit from the typical rate, then convert every value with it.
	perSec := func(ns float64) float64 { return float64(t.N) * 1e9 / ns }
	denom, i := 1.0, 0
	for rate := perSec(typical); rate >= base*denom && i < len(units)-1; i++ {
		denom *= base
	}
	for j := range values {
		values[j] = perSec(values[j]) / denom
	}
	return units[i]
}

func (durationFormatter) ScaleForMachines(_ []float64) string {
	return "ns"
}
