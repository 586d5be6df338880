package jobs

import (
	"encoding/json"
	"fmt"
	"os"
	"strings"
	"time"
)

type Source string

const (
	SourceScraped Source = "scraped"
	SourceAPI     Source = "api"
	SourceManual  Source = "manual"
)

// StatusSaved is the only application status this service assigns itself.
// Ephemeral (discovered but unsaved) jobs have an empty status.
const StatusSaved = "saved"

type Job struct {
	ID                string          `json:"id"`
	Title             string          `json:"title"`
	Company           string          `json:"company"`
	Location          string          `json:"location"`
	Salary            *string         `json:"salary,omitempty"`
	Description       string          `json:"description"`
	Requirements      []string        `json:"requirements"`
	URL               string          `json:"url"`
	Source            Source          `json:"source"`
	DiscoveredAt      time.Time       `json:"discoveredAt"`
	ApplicationStatus string          `json:"applicationStatus,omitempty"`
	StatusUpdatedAt   *time.Time      `json:"statusUpdatedAt,omitempty"`
	Score             *JobScore       `json:"score,omitempty"`
	TailoredResume    *TailoredResume `json:"tailoredResume,omitempty"`
}

// TailoredResume is a generated artifact attached to a saved job.
type TailoredResume struct {
	ID        string    `json:"id"`
	Content   string    `json:"content"`
	CreatedAt time.Time `json:"createdAt"`
}

// IsSaved reports whether the job was persisted on user request.
func (j *Job) IsSaved() bool {
	return j.ApplicationStatus == StatusSaved
}

// MarkSaved sets the saved status and its timestamp.
func (j *Job) MarkSaved(at time.Time) {
	j.ApplicationStatus = StatusSaved
	at = at.UTC()
	j.StatusUpdatedAt = &at
}

// MergeEnrichment keeps enrichment fields of a previously stored version when
// the incoming job carries none. Scores and resumes are appended once and are
// never dropped by a re-save.
func (j *Job) MergeEnrichment(existing *Job) {
	if existing == nil {
		return
	}
	if j.Score == nil {
		j.Score = existing.Score
	}
	if j.TailoredResume == nil {
		j.TailoredResume = existing.TailoredResume
	}
	if j.DiscoveredAt.IsZero() {
		j.DiscoveredAt = existing.DiscoveredAt
	}
}

// SalaryText returns the salary or an empty string.
func (j *Job) SalaryText() string {
	if j.Salary == nil {
		return ""
	}
	return *j.Salary
}

type List struct {
	Items []*Job
}

func NewList(items []Job) *List {
	l := &List{Items: make([]*Job, 0, len(items))}
	for i := range items {
		job := items[i]
		l.Items = append(l.Items, &job)
	}
	return l
}

func (l *List) Len() int {
	return len(l.Items)
}

func (l *List) IDs() []string {
	ids := make([]string, 0, len(l.Items))
	for _, job := range l.Items {
		ids = append(ids, job.ID)
	}
	return ids
}

// Retain keeps the jobs accepted by keep and returns the ids of the dropped ones.
func (l *List) Retain(keep func(*Job) bool) []string {
	var dropped []string
	kept := l.Items[:0]
	for _, job := range l.Items {
		if keep(job) {
			kept = append(kept, job)
			continue
		}
		dropped = append(dropped, job.ID)
	}
	l.Items = kept
	return dropped
}

// Values returns a copy of the jobs as values.
func (l *List) Values() []Job {
	out := make([]Job, 0, len(l.Items))
	for _, job := range l.Items {
		out = append(out, *job)
	}
	return out
}

// ReportByCompany groups a short summary of every job by company name.
func (l *List) ReportByCompany() map[string][]map[string]string {
	report := make(map[string][]map[string]string)
	for _, job := range l.Items {
		entry := map[string]string{
			"id":       job.ID,
			"title":    job.Title,
			"url":      job.URL,
			"location": job.Location,
			"salary":   job.SalaryText(),
			"status":   job.ApplicationStatus,
		}
		if job.Score != nil {
			entry["score"] = fmt.Sprintf("%.0f", job.Score.Overall)
			entry["priority"] = string(job.Score.Priority)
		}

		key := strings.TrimSpace(job.Company)
		if key == "" {
			key = "unknown company"
		}
		report[key] = append(report[key], entry)
	}
	return report
}

// DumpToTmpFile writes the list as indented JSON into a new temp file and returns its name.
func (l *List) DumpToTmpFile() (string, error) {
	file, err := os.CreateTemp("", "saved_jobs_*.json")
	if err != nil {
		return "", err
	}
	defer file.Close()

	enc := json.NewEncoder(file)
	enc.SetIndent("", "  ")
	if err := enc.Encode(l.Values()); err != nil {
		return "", err
	}
	return file.Name(), nil
}
