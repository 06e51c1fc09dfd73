package uploader

import (
	"fmt"

	"github.com/you-humble/recuploader/internal/domain"

	"github.com/dustin/go-humanize"
)

const bytesPerMB = 1 << 20

// memoryLedger derives memory usage from the store on every call, so there
// is no separate counter that could drift from the tasks actually held.
type memoryLedger struct {
	store   *taskStore
	limitMB int64
}

func (l memoryLedger) totalBytes() int64 {
	var total int64
	l.store.each(func(e *entry) {
		total += e.task.PayloadSize
	})
	return total
}

func (l memoryLedger) totalMB() float64 {
	return toMB(l.totalBytes())
}

func (l memoryLedger) fits(incomingMB float64) bool {
	return l.totalMB()+incomingMB <= float64(l.limitMB)
}

func (l memoryLedger) summary() domain.MemorySummary {
	total := l.totalBytes()
	limit := l.limitMB * bytesPerMB

	var pct float64
	if limit > 0 {
		pct = float64(total) / float64(limit) * 100
	}

	return domain.MemorySummary{
		CurrentMB: toMB(total),
		LimitMB:   l.limitMB,
		Usage: fmt.Sprintf("%s / %s (%.1f%%)",
			humanize.IBytes(uint64(total)),
			humanize.IBytes(uint64(limit)),
			pct,
		),
	}
}

func toMB(b int64) float64 {
	return float64(b) / bytesPerMB
}
