package resolve

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"
)

// TrainingSample is one labeled ambiguous row. Label is the option a human
// grader chose, or -1 when the row was judged unreadable.
type TrainingSample struct {
	ID        string    `json:"id"`
	Scores    []float64 `json:"scores"`
	Label     int       `json:"label"`
	Source    string    `json:"source"` // "manual", "review"
	Timestamp time.Time `json:"timestamp"`
}

// TrainingSet holds labeled rows for classifier training.
type TrainingSet struct {
	mu       sync.RWMutex
	Samples  []TrainingSample `json:"samples"`
	FilePath string           `json:"-"`

	nextID int
}

// NewTrainingSet creates an empty training set.
func NewTrainingSet() *TrainingSet {
	return &TrainingSet{
		Samples: make([]TrainingSample, 0),
		nextID:  1,
	}
}

// LoadTrainingSet loads a training set from a JSON file. A missing file
// yields an empty set.
func LoadTrainingSet(path string) (*TrainingSet, error) {
	ts := NewTrainingSet()
	ts.FilePath = path

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return ts, nil
		}
		return nil, fmt.Errorf("failed to read training set: %w", err)
	}

	if err := json.Unmarshal(data, ts); err != nil {
		return nil, fmt.Errorf("failed to parse training set: %w", err)
	}

	for _, s := range ts.Samples {
		var id int
		if _, err := fmt.Sscanf(s.ID, "ts-%d", &id); err == nil {
			if id >= ts.nextID {
				ts.nextID = id + 1
			}
		}
	}

	return ts, nil
}

// Save persists the training set to disk.
func (ts *TrainingSet) Save() error {
	ts.mu.RLock()
	defer ts.mu.RUnlock()

	if ts.FilePath == "" {
		return fmt.Errorf("no file path set")
	}

	if err := os.MkdirAll(filepath.Dir(ts.FilePath), 0755); err != nil {
		return fmt.Errorf("failed to create directory: %w", err)
	}

	data, err := json.MarshalIndent(ts, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to serialize training set: %w", err)
	}

	if err := os.WriteFile(ts.FilePath, data, 0644); err != nil {
		return fmt.Errorf("failed to write training set: %w", err)
	}

	return nil
}

// SetFilePath sets the file path for persistence.
func (ts *TrainingSet) SetFilePath(path string) {
	ts.mu.Lock()
	defer ts.mu.Unlock()
	ts.FilePath = path
}

// Add appends a labeled row. Label -1 marks the row unreadable.
func (ts *TrainingSet) Add(scores []float64, label int, source string) *TrainingSample {
	ts.mu.Lock()
	defer ts.mu.Unlock()

	sample := TrainingSample{
		ID:        fmt.Sprintf("ts-%04d", ts.nextID),
		Scores:    append([]float64(nil), scores...),
		Label:     label,
		Source:    source,
		Timestamp: time.Now(),
	}
	ts.nextID++
	ts.Samples = append(ts.Samples, sample)

	return &sample
}

// Remove removes a sample by ID.
func (ts *TrainingSet) Remove(id string) bool {
	ts.mu.Lock()
	defer ts.mu.Unlock()

	for i, s := range ts.Samples {
		if s.ID == id {
			ts.Samples = append(ts.Samples[:i], ts.Samples[i+1:]...)
			return true
		}
	}
	return false
}

// Count returns the total number of samples.
func (ts *TrainingSet) Count() int {
	ts.mu.RLock()
	defer ts.mu.RUnlock()
	return len(ts.Samples)
}

// LabeledCount returns how many samples carry a chosen option.
func (ts *TrainingSet) LabeledCount() int {
	ts.mu.RLock()
	defer ts.mu.RUnlock()

	count := 0
	for _, s := range ts.Samples {
		if s.Label >= 0 {
			count++
		}
	}
	return count
}

// GetSamples returns a snapshot of all samples.
func (ts *TrainingSet) GetSamples() []TrainingSample {
	ts.mu.RLock()
	defer ts.mu.RUnlock()

	samples := make([]TrainingSample, len(ts.Samples))
	copy(samples, ts.Samples)
	return samples
}

// Clear removes all samples.
func (ts *TrainingSet) Clear() {
	ts.mu.Lock()
	defer ts.mu.Unlock()
	ts.Samples = ts.Samples[:0]
}
