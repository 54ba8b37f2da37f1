package netsim

import (
	"fmt"
	"math"
	"math/rand"
)

const (
	// stepCadenceMs is the nominal interval between progress updates.
	stepCadenceMs = 1500

	// instantThresholdMs is the duration below which a transfer collapses
	// into a single already-complete step.
	instantThresholdMs = 100

	// finalStepFloorMs is the minimum wait carried by the last step.
	finalStepFloorMs = 500

	// minFreshSteps guarantees a starting/progress/finishing feel on fresh
	// transfers. Recalculated tails relax this to 1 so a near-complete
	// transfer is not padded.
	minFreshSteps = 3

	// recalcFloorMs is the minimum remaining duration after a mid-flight
	// profile change.
	recalcFloorMs = 100
)

// TransferStep is one timed progress update. Immutable once produced.
type TransferStep struct {
	ProgressPct float64 `json:"progress_pct"`
	Message     string  `json:"message"`
	WaitMs      int64   `json:"wait_ms"`
	Complete    bool    `json:"complete"`
}

// Plan is an ordered step sequence. Its last step is always complete at
// 100% and progress never decreases.
type Plan []TransferStep

// CreateDownloadSteps synthesizes a fresh plan for a transfer of sizeKB
// taking durationMs, labeled for display.
func CreateDownloadSteps(sizeKB float64, durationMs int64, label string) Plan {
	return synthesize(sizeKB, durationMs, label, minFreshSteps, 0, sizeKB)
}

// RecalculatePlan splices a new tail onto an in-flight plan after a profile
// change. Steps up to and including currentStep are preserved untouched;
// the remainder of the transfer is re-planned against newProfile. The
// returned plan still ends complete at 100%. Finished or empty plans are
// returned unchanged.
func RecalculatePlan(plan Plan, currentStep int, newProfile Profile, sizeKB float64, label string) Plan {
	if len(plan) == 0 || currentStep >= len(plan) {
		return plan
	}

	basePct := plan[currentStep].ProgressPct
	remainingKB := sizeKB * (100 - basePct) / 100

	d := ComputeDuration(remainingKB, newProfile)
	remainingMs := d.DurationMs
	if remainingMs < recalcFloorMs {
		remainingMs = recalcFloorMs
	}

	tail := synthesize(remainingKB, remainingMs, label, 1, basePct, sizeKB)

	spliced := make(Plan, 0, currentStep+1+len(tail))
	spliced = append(spliced, plan[:currentStep+1]...)
	spliced = append(spliced, tail...)

	return spliced
}

// synthesize builds the step sequence for a transfer segment. basePct is
// the overall progress already consumed before this segment (0 for fresh
// transfers); totalKB is the full transfer size used for display, which for
// recalculated tails differs from the segment's own sizeKB.
func synthesize(sizeKB float64, durationMs int64, label string, minSteps int, basePct, totalKB float64) Plan {
	if durationMs < instantThresholdMs {
		return Plan{finalStep(totalKB, durationMs, 0)}
	}

	stepCount := int(math.Ceil(float64(durationMs) / stepCadenceMs))
	if stepCount < minSteps {
		stepCount = minSteps
	}

	plan := make(Plan, 0, stepCount)
	for i := 0; i < stepCount-1; i++ {
		elapsed := int64(i) * stepCadenceMs
		segmentPct := math.Min(100, float64(elapsed)/float64(durationMs)*100)
		overallPct := basePct + segmentPct*(100-basePct)/100

		downloadedKB := totalKB * overallPct / 100

		// ±10% pacing jitter keeps the cadence from feeling mechanical.
		wait := int64(math.Round(stepCadenceMs * (0.9 + 0.2*rand.Float64())))

		plan = append(plan, TransferStep{
			ProgressPct: overallPct,
			Message: fmt.Sprintf("Downloading %s... %.0f%% (%s/%s)",
				label, overallPct, FormatSize(downloadedKB), FormatSize(totalKB)),
			WaitMs: wait,
		})
	}

	lastWait := durationMs - int64(stepCount-1)*stepCadenceMs
	if lastWait < finalStepFloorMs {
		lastWait = finalStepFloorMs
	}
	plan = append(plan, finalStep(totalKB, durationMs, lastWait))

	return plan
}

// finalStep builds the always-complete last step.
func finalStep(totalKB float64, durationMs, waitMs int64) TransferStep {
	return TransferStep{
		ProgressPct: 100,
		Message:     fmt.Sprintf("Downloaded %s in %s", FormatSize(totalKB), FormatTime(durationMs)),
		WaitMs:      waitMs,
		Complete:    true,
	}
}
