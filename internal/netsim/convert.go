package netsim

import (
	"fmt"
	"math"
	"math/rand"
)

// Duration is the outcome of converting a transfer size against a profile.
type Duration struct {
	DurationMs int64
	SizeKB     float64
}

// ComputeDuration converts a transfer size and a network profile into a
// simulated duration. A disabled profile yields an instant transfer.
//
// Every enabled transfer takes a perceptible moment: the duration is floored
// at min(1000, sizeKB) milliseconds, so tiny transfers finish quickly but
// are never truly instant. Latency is added on top, jitter contributes a
// uniform draw in [0, jitter), and packet loss stretches the whole duration
// proportionally.
func ComputeDuration(sizeKB float64, p Profile) Duration {
	if !p.Enabled {
		return Duration{DurationMs: 0, SizeKB: sizeKB}
	}

	bits := sizeKB * 8 * 1024
	bitsPerSec := p.SpeedMbps * 1_000_000
	ms := bits / bitsPerSec * 1000

	if floor := math.Min(1000, sizeKB); ms < floor {
		ms = floor
	}

	ms += p.LatencyMs
	if p.JitterMs > 0 {
		ms += rand.Float64() * p.JitterMs
	}
	if p.PacketLossPct > 0 {
		ms *= 1 + p.PacketLossPct/100
	}

	return Duration{DurationMs: int64(math.Round(ms)), SizeKB: sizeKB}
}

// FormatSize renders a size in KB below 1024 and in MB above.
func FormatSize(sizeKB float64) string {
	if sizeKB < 1024 {
		if sizeKB == math.Trunc(sizeKB) {
			return fmt.Sprintf("%d KB", int64(sizeKB))
		}
		return fmt.Sprintf("%.2f KB", sizeKB)
	}
	return fmt.Sprintf("%.2f MB", sizeKB/1024)
}

// FormatTime renders a duration in ms below one second and in seconds above.
func FormatTime(ms int64) string {
	if ms < 1000 {
		return fmt.Sprintf("%d ms", ms)
	}
	return fmt.Sprintf("%.2f s", float64(ms)/1000)
}
