package model

import (
	"fmt"
	"time"
)

// Company identifies the reporting entity under analysis.
type Company struct {
	Code     string `json:"code"`               // exchange listing code, e.g. "1101"
	Name     string `json:"name,omitempty"`     // filled in from the report registry during fetch
	Industry string `json:"industry,omitempty"` // registry industry label, keys the framework weights
	Domain   string `json:"domain,omitempty"`   // official website host, excluded from evidence repair
}

// JobKey uniquely identifies an analysis job: one company, one reporting period.
type JobKey struct {
	CompanyCode string `json:"company_code"`
	Period      string `json:"period"` // reporting year, e.g. "2024"
}

func (k JobKey) String() string {
	return fmt.Sprintf("%s-%s", k.Period, k.CompanyCode)
}

// AnalysisJob is the unit of work the pipeline advances. Stage and Artifacts
// are persisted together on every transition so an interrupted job resumes
// exactly where it left off.
type AnalysisJob struct {
	ID        string    `json:"id"`
	Company   Company   `json:"company"`
	Period    string    `json:"period"`
	Stage     Stage     `json:"stage"`
	Artifacts Artifacts `json:"artifacts"`
	LastError string    `json:"last_error,omitempty"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

func (j *AnalysisJob) Key() JobKey {
	return JobKey{CompanyCode: j.Company.Code, Period: j.Period}
}

// Artifacts accumulates the outputs of completed stages. Earlier fields are
// never rewritten by later stages, with one exception: evidence liveness is
// settled during source validation.
type Artifacts struct {
	// DocumentRef is the local path of the fetched sustainability report.
	DocumentRef string `json:"document_ref,omitempty"`
	// ReportURL is where the report was published.
	ReportURL string `json:"report_url,omitempty"`
	// WordCloudRef is the local path of the term-frequency sibling artifact.
	// Empty when generation failed; the final stage retries it once.
	WordCloudRef string `json:"wordcloud_ref,omitempty"`
	// Claims are the extracted claims, with evidence attached during
	// external verification.
	Claims []Claim `json:"claims,omitempty"`
	// Topics holds the per-topic news collection outcomes, keyed by claim ID.
	Topics map[string]TopicOutcome `json:"topics,omitempty"`
}

// Topic is a search subject derived from a single claim.
type Topic struct {
	ClaimID  string `json:"claim_id"`
	Company  string `json:"company"`
	Industry string `json:"industry"`
	Name     string `json:"name"`     // framework topic label
	Keywords string `json:"keywords"` // claim-specific search keywords
	Period   string `json:"period"`
}

// NewsItem is one article returned by the news provider.
type NewsItem struct {
	Title       string     `json:"title"`
	URL         string     `json:"url"`
	Snippet     string     `json:"snippet,omitempty"`
	PublishedAt *time.Time `json:"published_at,omitempty"`
}

// TopicOutcome records what the fetch coordinator found for one topic.
// Exactly one of Items, NoEvidence, or Error is meaningful.
type TopicOutcome struct {
	Topic      string     `json:"topic"`
	Tier       int        `json:"tier,omitempty"` // query tier that produced Items; 0 when none did
	Items      []NewsItem `json:"items,omitempty"`
	NoEvidence bool       `json:"no_evidence,omitempty"`
	Error      string     `json:"error,omitempty"`
}

// Bundle is the finished assessment handed to downstream storage. Committing
// a bundle is idempotent per (company, period).
type Bundle struct {
	Company      Company   `json:"company"`
	Period       string    `json:"period"`
	ReportURL    string    `json:"report_url,omitempty"`
	WordCloudRef string    `json:"wordcloud_ref,omitempty"`
	Claims       []Claim   `json:"claims"`
	CommittedAt  time.Time `json:"committed_at"`
}
