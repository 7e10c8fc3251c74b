package types

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/go-playground/validator/v10"
)

// BackoffPolicy defines the exponential backoff parameters for job retries.
type BackoffPolicy struct {
	BaseDelay     time.Duration `json:"base_delay"`
	MaxDelay      time.Duration `json:"max_delay"`
	BackoffFactor float64       `json:"backoff_factor"`
}

// NextDelay computes the delay before the next attempt using
// delay = min(BaseDelay * BackoffFactor^(attempt-1), MaxDelay).
// attempt is the number of attempts already made (1 after the first failure).
func (p BackoffPolicy) NextDelay(attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}

	delay := float64(p.BaseDelay)
	for i := 1; i < attempt; i++ {
		delay *= p.BackoffFactor
		if p.MaxDelay > 0 && delay > float64(p.MaxDelay) {
			break
		}
	}

	d := time.Duration(delay)
	if p.MaxDelay > 0 && (d > p.MaxDelay || d < 0) {
		d = p.MaxDelay
	}
	return d
}

// Job is a unit of background work owned by the job store. Processors only
// ever see a leased copy and must Ack or Fail it exactly once.
type Job struct {
	ID          string          `json:"id"`
	Kind        JobKind         `json:"kind"`
	Payload     json.RawMessage `json:"payload"`
	Attempts    int             `json:"attempts"`
	MaxAttempts int             `json:"max_attempts"`
	Backoff     BackoffPolicy   `json:"backoff"`
	State       JobState        `json:"state"`
	DedupeKey   string          `json:"dedupe_key,omitempty"`
	ScheduledAt time.Time       `json:"scheduled_at"`
	LeaseExpiry *time.Time      `json:"lease_expiry,omitempty"`
	LastError   string          `json:"last_error,omitempty"`
	CreatedAt   time.Time       `json:"created_at"`
	UpdatedAt   time.Time       `json:"updated_at"`
}

// DecodePayload decodes the job's raw payload into its kind-specific struct.
func (j *Job) DecodePayload() (JobPayload, error) {
	return DecodeJobPayload(j.Kind, j.Payload)
}

// EnqueueOptions controls how a job is enqueued.
type EnqueueOptions struct {
	Delay       time.Duration
	DedupeKey   string
	MaxAttempts int
	Backoff     *BackoffPolicy
}

// EnqueueResult reports the identity of the enqueued (or already pending) job.
type EnqueueResult struct {
	JobID        string `json:"job_id"`
	Deduplicated bool   `json:"deduplicated"`
}

// JobCounts is the per-queue depth introspection result.
type JobCounts struct {
	Waiting   int64 `json:"waiting"`
	Active    int64 `json:"active"`
	Completed int64 `json:"completed"`
	Failed    int64 `json:"failed"`
	Delayed   int64 `json:"delayed"`
}

// JobPayload is the closed union of kind-specific job payloads.
type JobPayload interface {
	Kind() JobKind
	Tenant() (siteID, organizationID string)
	isJobPayload()
}

// SearchSyncPayload requests a search-analytics sync for a date range.
// Zero dates mean the processor's default range.
type SearchSyncPayload struct {
	SiteID         string `json:"site_id" validate:"required"`
	OrganizationID string `json:"organization_id" validate:"required"`
	StartDate      string `json:"start_date,omitempty" validate:"omitempty,datetime=2006-01-02"`
	EndDate        string `json:"end_date,omitempty" validate:"omitempty,datetime=2006-01-02"`
}

// PageSpeedPayload requests one lab test for one device strategy.
type PageSpeedPayload struct {
	SiteID         string `json:"site_id" validate:"required"`
	OrganizationID string `json:"organization_id" validate:"required"`
	URL            string `json:"url,omitempty" validate:"omitempty,url"`
	Device         Device `json:"device" validate:"required,oneof=MOBILE DESKTOP"`
}

// CrawlPayload requests a bounded crawl from a seed URL.
type CrawlPayload struct {
	SiteID         string `json:"site_id" validate:"required"`
	OrganizationID string `json:"organization_id" validate:"required"`
	URL            string `json:"url,omitempty" validate:"omitempty,url"`
	MaxPages       int    `json:"max_pages,omitempty" validate:"omitempty,min=1,max=500"`
}

// ScorePayload requests a score recalculation.
type ScorePayload struct {
	SiteID         string `json:"site_id" validate:"required"`
	OrganizationID string `json:"organization_id" validate:"required"`
}

func (SearchSyncPayload) Kind() JobKind { return JobSearchSync }
func (PageSpeedPayload) Kind() JobKind  { return JobPageSpeed }
func (CrawlPayload) Kind() JobKind      { return JobSiteCrawl }
func (ScorePayload) Kind() JobKind      { return JobScoreRecalc }

func (p SearchSyncPayload) Tenant() (string, string) { return p.SiteID, p.OrganizationID }
func (p PageSpeedPayload) Tenant() (string, string)  { return p.SiteID, p.OrganizationID }
func (p CrawlPayload) Tenant() (string, string)      { return p.SiteID, p.OrganizationID }
func (p ScorePayload) Tenant() (string, string)      { return p.SiteID, p.OrganizationID }

func (SearchSyncPayload) isJobPayload() {}
func (PageSpeedPayload) isJobPayload()  {}
func (CrawlPayload) isJobPayload()      {}
func (ScorePayload) isJobPayload()      {}

var payloadValidator = validator.New()

// ValidateJobPayload checks that payload belongs to kind and satisfies its
// validate tags. Every Store backend runs it before persisting a job.
func ValidateJobPayload(kind JobKind, payload JobPayload) error {
	if payload == nil || payload.Kind() != kind {
		return NewAppError(ErrCodeValidationInvalidPayload, fmt.Sprintf("payload does not match job kind %q", kind), nil)
	}
	if err := payloadValidator.Struct(payload); err != nil {
		return NewAppError(ErrCodeValidationInvalidPayload, "job payload failed validation", err)
	}
	return nil
}

// DecodeJobPayload decodes raw into the payload struct registered for kind.
func DecodeJobPayload(kind JobKind, raw json.RawMessage) (JobPayload, error) {
	var (
		p   JobPayload
		err error
	)
	switch kind {
	case JobSearchSync:
		var v SearchSyncPayload
		err = json.Unmarshal(raw, &v)
		p = v
	case JobPageSpeed:
		var v PageSpeedPayload
		err = json.Unmarshal(raw, &v)
		p = v
	case JobSiteCrawl:
		var v CrawlPayload
		err = json.Unmarshal(raw, &v)
		p = v
	case JobScoreRecalc:
		var v ScorePayload
		err = json.Unmarshal(raw, &v)
		p = v
	default:
		return nil, NewAppError(ErrCodeValidationUnknownKind, fmt.Sprintf("unknown job kind %q", kind), nil)
	}
	if err != nil {
		return nil, NewAppError(ErrCodeValidationInvalidPayload, fmt.Sprintf("decoding %s payload", kind), err)
	}
	return p, nil
}
