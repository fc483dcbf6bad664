package importer

import (
	"context"
	"fmt"
	"io/fs"
	"log"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/cmdcenter/memorylane/internal/engine"
)

// ImportResult summarizes a finished transcript import.
type ImportResult struct {
	JobID           string        `json:"job_id"`
	FilesFound      int           `json:"files_found"`
	FilesProcessed  int           `json:"files_processed"`
	FilesSkipped    int           `json:"files_skipped"`
	FilesFailed     int           `json:"files_failed"`
	ChunksProcessed int           `json:"chunks_processed"`
	ChunksSkipped   int           `json:"chunks_skipped"`
	MemoriesCreated int           `json:"memories_created"`
	MemoriesMerged  int           `json:"memories_merged"`
	Errors          []string      `json:"errors,omitempty"`
	Duration        time.Duration `json:"duration_ms"`
}

// ImportProgress carries live progress data for a running job.
type ImportProgress struct {
	JobID          string `json:"job_id"`
	Status         string `json:"status"` // "running" | "complete" | "failed"
	FilesFound     int    `json:"files_found"`
	FilesProcessed int    `json:"files_processed"`
	CurrentFile    string `json:"current_file,omitempty"`
	Message        string `json:"message,omitempty"`
}

// ImportJob tracks the state of an async import operation.
type ImportJob struct {
	mu       sync.RWMutex
	Progress ImportProgress
	Result   *ImportResult
	Done     chan struct{}
}

func newImportJob(jobID string) *ImportJob {
	return &ImportJob{
		Progress: ImportProgress{
			JobID:  jobID,
			Status: "running",
		},
		Done: make(chan struct{}),
	}
}

// GetProgress returns a snapshot of the current import progress.
func (j *ImportJob) GetProgress() ImportProgress {
	j.mu.RLock()
	defer j.mu.RUnlock()
	return j.Progress
}

func (j *ImportJob) setProgress(update func(*ImportProgress)) {
	j.mu.Lock()
	update(&j.Progress)
	j.mu.Unlock()
}

// TranscriptImporter walks a directory of transcript files and runs memory
// extraction over each session.
type TranscriptImporter struct {
	extractor *engine.Extractor

	// mu protects jobs.
	mu   sync.RWMutex
	jobs map[string]*ImportJob
}

// NewTranscriptImporter creates an importer backed by the given extractor.
func NewTranscriptImporter(extractor *engine.Extractor) *TranscriptImporter {
	return &TranscriptImporter{
		extractor: extractor,
		jobs:      make(map[string]*ImportJob),
	}
}

// ImportFile parses and extracts a single transcript synchronously.
func (imp *TranscriptImporter) ImportFile(ctx context.Context, path string) (*engine.SessionSummary, error) {
	content, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("cannot read transcript %q: %w", path, err)
	}
	parsed, err := ParseTranscript(content, path, filepath.Base(path))
	if err != nil {
		return nil, err
	}
	return imp.extractor.ExtractSession(ctx, parsed.SessionKey(), parsed.Turns, nil)
}

// StartImport begins an asynchronous import of every transcript under
// dirPath. It returns a job ID for GetJobProgress / GetJobResult.
func (imp *TranscriptImporter) StartImport(ctx context.Context, dirPath string) (string, error) {
	info, err := os.Stat(dirPath)
	if err != nil {
		return "", fmt.Errorf("cannot access directory %q: %w", dirPath, err)
	}
	if !info.IsDir() {
		return "", fmt.Errorf("%q is not a directory", dirPath)
	}

	jobID := uuid.NewString()
	job := newImportJob(jobID)

	imp.mu.Lock()
	imp.jobs[jobID] = job
	imp.mu.Unlock()

	go func() {
		result := imp.runImport(ctx, job, dirPath)
		job.mu.Lock()
		job.Result = result
		if result.FilesProcessed == 0 && len(result.Errors) > 0 {
			job.Progress.Status = "failed"
			job.Progress.Message = "Import failed"
		} else {
			job.Progress.Status = "complete"
			job.Progress.Message = fmt.Sprintf("Extracted %d memories (%d merged) from %d transcripts",
				result.MemoriesCreated, result.MemoriesMerged, result.FilesProcessed)
		}
		job.mu.Unlock()
		close(job.Done)
	}()

	return jobID, nil
}

// GetJobProgress returns the live progress for a job, or false if unknown.
func (imp *TranscriptImporter) GetJobProgress(jobID string) (ImportProgress, bool) {
	imp.mu.RLock()
	job, ok := imp.jobs[jobID]
	imp.mu.RUnlock()
	if !ok {
		return ImportProgress{}, false
	}
	return job.GetProgress(), true
}

// JobDone returns a channel that closes when the job finishes, or nil for an
// unknown job id.
func (imp *TranscriptImporter) JobDone(jobID string) <-chan struct{} {
	imp.mu.RLock()
	defer imp.mu.RUnlock()
	if job, ok := imp.jobs[jobID]; ok {
		return job.Done
	}
	return nil
}

// GetJobResult returns the final result for a job, or nil while it is still
// running or when the job is unknown.
func (imp *TranscriptImporter) GetJobResult(jobID string) *ImportResult {
	imp.mu.RLock()
	job, ok := imp.jobs[jobID]
	imp.mu.RUnlock()
	if !ok {
		return nil
	}
	job.mu.RLock()
	defer job.mu.RUnlock()
	return job.Result
}

// runImport processes every transcript in order. File-local failures are
// recorded and the import continues; a cancelled context stops it.
func (imp *TranscriptImporter) runImport(ctx context.Context, job *ImportJob, dirPath string) *ImportResult {
	start := time.Now()
	result := &ImportResult{JobID: job.Progress.JobID}

	files, err := collectTranscriptFiles(dirPath)
	if err != nil {
		result.Errors = append(result.Errors, err.Error())
		return result
	}
	result.FilesFound = len(files)
	job.setProgress(func(p *ImportProgress) { p.FilesFound = len(files) })

	for _, path := range files {
		if ctx.Err() != nil {
			result.Errors = append(result.Errors, "import cancelled")
			break
		}

		relative, relErr := filepath.Rel(dirPath, path)
		if relErr != nil {
			relative = filepath.Base(path)
		}
		job.setProgress(func(p *ImportProgress) { p.CurrentFile = relative })

		summary, err := imp.importOne(ctx, path, relative)
		if err != nil {
			log.Printf("Importer: failed %s: %v", relative, err)
			result.FilesFailed++
			result.Errors = append(result.Errors, fmt.Sprintf("%s: %v", relative, err))
			continue
		}

		if summary.AlreadyProcessed {
			result.FilesSkipped++
		} else {
			result.FilesProcessed++
		}
		result.ChunksProcessed += summary.ChunksProcessed
		result.ChunksSkipped += summary.ChunksSkipped
		result.MemoriesCreated += summary.Created
		result.MemoriesMerged += summary.Merged

		job.setProgress(func(p *ImportProgress) { p.FilesProcessed++ })
	}

	result.Duration = time.Since(start)
	return result
}

func (imp *TranscriptImporter) importOne(ctx context.Context, path, relative string) (*engine.SessionSummary, error) {
	content, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	parsed, err := ParseTranscript(content, path, relative)
	if err != nil {
		return nil, err
	}
	return imp.extractor.ExtractSession(ctx, parsed.SessionKey(), parsed.Turns, nil)
}

// collectTranscriptFiles gathers .md and .txt files under dirPath, sorted for
// deterministic processing order. Hidden directories are skipped.
func collectTranscriptFiles(dirPath string) ([]string, error) {
	var files []string
	err := filepath.WalkDir(dirPath, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			if name := d.Name(); name != "." && strings.HasPrefix(name, ".") {
				return filepath.SkipDir
			}
			return nil
		}
		switch strings.ToLower(filepath.Ext(path)) {
		case ".md", ".txt":
			files = append(files, path)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to walk %q: %w", dirPath, err)
	}
	sort.Strings(files)
	return files, nil
}
