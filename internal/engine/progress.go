// Package engine implements the Index Engine: incremental reconciliation
// between a repository's current files and its indexed state, and the
// worker pool that drives scanning, symbol extraction and index updates.
package engine

import (
	"sync"
	"time"
)

// Status represents the overall state of an indexing run.
type Status string

const (
	StatusIndexing Status = "indexing"
	StatusReady    Status = "ready"
	StatusError    Status = "error"
)

// Stage represents the current stage of an indexing run.
type Stage string

const (
	StageScanning  Stage = "scanning"
	StageExtracting Stage = "extracting"
	StageBM25      Stage = "bm25_indexing"
	StageFuzzy     Stage = "fuzzy_indexing"
)

// ProgressSnapshot is an immutable snapshot of a run's progress, suitable
// for JSON encoding or for rendering a sparkline/ETA in the CLI.
type ProgressSnapshot struct {
	Status         string  `json:"status"`
	Stage          string  `json:"stage"`
	FilesTotal     int     `json:"files_total"`
	FilesProcessed int     `json:"files_processed"`
	SymbolsTotal   int     `json:"symbols_total"`
	ProgressPct    float64 `json:"progress_pct"`
	ElapsedSeconds int     `json:"elapsed_seconds"`
	FilesPerSecond float64 `json:"files_per_second"`
	ErrorMessage   string  `json:"error_message,omitempty"`
}

// Progress provides thread-safe tracking of a single indexing run,
// including an EMA-smoothed throughput estimate for ETA reporting.
type Progress struct {
	mu sync.RWMutex

	status         Status
	stage          Stage
	filesTotal     int
	filesProcessed int
	symbolsTotal   int
	startTime      time.Time
	lastSampleTime time.Time
	lastSampleN    int
	emaRate        float64 // files/sec, decay 0.3
	errorMessage   string
}

// NewProgress creates a progress tracker starting in the scanning stage.
func NewProgress() *Progress {
	now := time.Now()
	return &Progress{
		status:         StatusIndexing,
		stage:          StageScanning,
		startTime:      now,
		lastSampleTime: now,
	}
}

// SetStage moves to a new stage and resets its processed/total counters.
func (p *Progress) SetStage(stage Stage, total int) {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.stage = stage
	p.filesTotal = total
	p.filesProcessed = 0
	p.lastSampleTime = time.Now()
	p.lastSampleN = 0
}

// UpdateFiles records how many files have been processed so far in the
// current stage, updating the smoothed throughput estimate.
func (p *Progress) UpdateFiles(processed int) {
	p.mu.Lock()
	defer p.mu.Unlock()

	now := time.Now()
	elapsed := now.Sub(p.lastSampleTime).Seconds()
	if elapsed > 0 {
		instRate := float64(processed-p.lastSampleN) / elapsed
		if p.emaRate == 0 {
			p.emaRate = instRate
		} else {
			p.emaRate = 0.3*instRate + 0.7*p.emaRate
		}
		p.lastSampleTime = now
		p.lastSampleN = processed
	}
	p.filesProcessed = processed
}

// AddSymbols adds to the running count of extracted symbols.
func (p *Progress) AddSymbols(n int) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.symbolsTotal += n
}

// SetError marks the run as failed.
func (p *Progress) SetError(message string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.status = StatusError
	p.errorMessage = message
}

// SetReady marks the run as complete.
func (p *Progress) SetReady() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.status = StatusReady
}

// IsIndexing reports whether the run is still in progress.
func (p *Progress) IsIndexing() bool {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.status == StatusIndexing
}

// Snapshot returns an immutable copy of the current state.
func (p *Progress) Snapshot() ProgressSnapshot {
	p.mu.RLock()
	defer p.mu.RUnlock()

	var pct float64
	if p.filesTotal > 0 {
		pct = float64(p.filesProcessed) / float64(p.filesTotal) * 100.0
	}

	return ProgressSnapshot{
		Status:         string(p.status),
		Stage:          string(p.stage),
		FilesTotal:     p.filesTotal,
		FilesProcessed: p.filesProcessed,
		SymbolsTotal:   p.symbolsTotal,
		ProgressPct:    pct,
		ElapsedSeconds: int(time.Since(p.startTime).Seconds()),
		FilesPerSecond: p.emaRate,
		ErrorMessage:   p.errorMessage,
	}
}

// ETA estimates remaining time for the current stage from the smoothed
// throughput rate. Returns 0 when the rate is not yet known.
func (p *Progress) ETA() time.Duration {
	p.mu.RLock()
	defer p.mu.RUnlock()

	if p.emaRate <= 0 || p.filesTotal <= p.filesProcessed {
		return 0
	}
	remaining := float64(p.filesTotal - p.filesProcessed)
	return time.Duration(remaining/p.emaRate) * time.Second
}
