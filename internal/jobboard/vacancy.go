package jobboard

import (
	"fmt"
	"html"
	"regexp"
	"strings"

	"github.com/spigell/job-agents/internal/jobs"
)

type Vacancy struct {
	ID   string `json:"id,omitempty"`
	Name string `json:"name,omitempty"`
	Area struct {
		ID   string `json:"id,omitempty"`
		Name string `json:"name,omitempty"`
	} `json:"area,omitempty"`
	Salary *struct {
		From     int    `json:"from,omitempty"`
		To       int    `json:"to,omitempty"`
		Currency string `json:"currency,omitempty"`
	} `json:"salary,omitempty"`
	Schedule struct {
		ID   string `json:"id,omitempty"`
		Name string `json:"name,omitempty"`
	} `json:"schedule,omitempty"`
	Employer struct {
		ID   string `json:"id,omitempty"`
		Name string `json:"name,omitempty"`
	} `json:"employer,omitempty"`
	AlternateURL string `json:"alternate_url,omitempty"`
	Description  string `json:"description,omitempty"`
	KeySkills    []struct {
		Name string `json:"name,omitempty"`
	} `json:"key_skills,omitempty"`
	Archived bool `json:"archived,omitempty"`
	Snippet  struct {
		Requirement    string `json:"requirement,omitempty"`
		Responsibility string `json:"responsibility,omitempty"`
	} `json:"snippet,omitempty"`
	PublishedAt string `json:"published_at,omitempty"`
}

var tags = regexp.MustCompile(`<[^>]*>`)

func stripTags(s string) string {
	return strings.TrimSpace(html.UnescapeString(tags.ReplaceAllString(s, "")))
}

// SalaryText renders the salary fork, or an empty string when it is unknown.
func (v *Vacancy) SalaryText() string {
	if v.Salary == nil || (v.Salary.From == 0 && v.Salary.To == 0) {
		return ""
	}

	var s string
	switch {
	case v.Salary.From > 0 && v.Salary.To > 0:
		s = fmt.Sprintf("%d-%d", v.Salary.From, v.Salary.To)
	case v.Salary.From > 0:
		s = fmt.Sprintf("from %d", v.Salary.From)
	default:
		s = fmt.Sprintf("up to %d", v.Salary.To)
	}
	return strings.TrimSpace(s + " " + v.Salary.Currency)
}

// ToJob converts the vacancy into an ephemeral job.
func (v *Vacancy) ToJob() jobs.Job {
	job := jobs.Job{
		ID:       "hh-" + v.ID,
		Title:    v.Name,
		Company:  v.Employer.Name,
		Location: v.Area.Name,
		URL:      v.AlternateURL,
		Source:   jobs.SourceAPI,
	}

	if salary := v.SalaryText(); salary != "" {
		job.Salary = &salary
	}

	job.Description = stripTags(v.Description)
	if job.Description == "" {
		job.Description = stripTags(v.Snippet.Responsibility)
	}

	for _, skill := range v.KeySkills {
		if name := strings.TrimSpace(skill.Name); name != "" {
			job.Requirements = append(job.Requirements, name)
		}
	}
	if len(job.Requirements) == 0 {
		if req := stripTags(v.Snippet.Requirement); req != "" {
			job.Requirements = []string{req}
		}
	}

	return job
}
