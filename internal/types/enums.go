package types

// JobKind is the closed set of background job kinds. Each kind has exactly
// one payload struct (see jobs.go).
type JobKind string

const (
	JobSearchSync  JobKind = "search_sync"
	JobPageSpeed   JobKind = "page_speed"
	JobSiteCrawl   JobKind = "site_crawl"
	JobScoreRecalc JobKind = "score_recalc"
)

// AllJobKinds lists every JobKind in a stable order.
var AllJobKinds = []JobKind{JobSearchSync, JobPageSpeed, JobSiteCrawl, JobScoreRecalc}

// Valid reports whether k is a known job kind.
func (k JobKind) Valid() bool {
	switch k {
	case JobSearchSync, JobPageSpeed, JobSiteCrawl, JobScoreRecalc:
		return true
	}
	return false
}

// JobState is the lifecycle state of a Job inside the store.
type JobState string

const (
	JobWaiting   JobState = "waiting"
	JobActive    JobState = "active"
	JobDelayed   JobState = "delayed"
	JobCompleted JobState = "completed"
	JobFailed    JobState = "failed" // dead-letter
)

// Pending reports whether the state still counts for dedupe purposes.
func (s JobState) Pending() bool {
	return s == JobWaiting || s == JobActive || s == JobDelayed
}

// FailOutcome describes what the store did with a failed job.
type FailOutcome string

const (
	FailRetryScheduled FailOutcome = "retry_scheduled"
	FailDeadLettered   FailOutcome = "dead_lettered"
)

// Device is the page-speed strategy a metric refers to.
type Device string

const (
	DeviceAll     Device = "ALL"
	DeviceMobile  Device = "MOBILE"
	DeviceDesktop Device = "DESKTOP"
)

// Valid reports whether d is a known device.
func (d Device) Valid() bool {
	return d == DeviceAll || d == DeviceMobile || d == DeviceDesktop
}

// Strategy returns the lab-test strategy name understood by PageSpeed.
func (d Device) Strategy() string {
	if d == DeviceDesktop {
		return "desktop"
	}
	return "mobile"
}

// AlertMetric is the metric an AlertRule watches.
type AlertMetric string

const (
	MetricLCP       AlertMetric = "LCP"
	MetricINP       AlertMetric = "INP"
	MetricCLS       AlertMetric = "CLS"
	MetricScoreDrop AlertMetric = "SCORE_DROP"
)

// EventStatus is the lifecycle state of an AlertEvent.
type EventStatus string

const (
	EventOpen     EventStatus = "OPEN"
	EventResolved EventStatus = "RESOLVED"
)

// ChannelType identifies a notification channel implementation.
type ChannelType string

const (
	ChannelSlack   ChannelType = "SLACK"
	ChannelWebhook ChannelType = "WEBHOOK"
)

// NotificationEvent is the event class a channel subscribes to.
type NotificationEvent string

const (
	NotifyAlert  NotificationEvent = "alert"
	NotifyReport NotificationEvent = "report"
	NotifyUptime NotificationEvent = "uptime"
)

// Severity controls presentation of a notification.
type Severity string

const (
	SeverityInfo     Severity = "info"
	SeverityWarning  Severity = "warning"
	SeverityCritical Severity = "critical"
)

// IssueSeverity ranks crawl issues.
type IssueSeverity string

const (
	IssueCritical IssueSeverity = "critical"
	IssueWarning  IssueSeverity = "warning"
	IssueNotice   IssueSeverity = "notice"
)

// Rank orders severities for top-issue ranking. Higher is worse.
func (s IssueSeverity) Rank() int {
	switch s {
	case IssueCritical:
		return 3
	case IssueWarning:
		return 2
	case IssueNotice:
		return 1
	}
	return 0
}

// IssueCategory groups crawl issues.
type IssueCategory string

const (
	CategoryStatus   IssueCategory = "status"
	CategoryMeta     IssueCategory = "meta"
	CategoryContent  IssueCategory = "content"
	CategoryLinks    IssueCategory = "links"
	CategoryIndexing IssueCategory = "indexing"
)

// CrawlStatus is the lifecycle of a CrawlReport.
type CrawlStatus string

const (
	CrawlRunning   CrawlStatus = "running"
	CrawlCompleted CrawlStatus = "completed"
	CrawlFailed    CrawlStatus = "failed"
)
