package queue

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strconv"
	"sync"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/sqs"
	sqsTypes "github.com/aws/aws-sdk-go-v2/service/sqs/types"
	"github.com/google/uuid"

	"seopulse/internal/types"
)

// SQS limits.
const (
	sqsMaxDelay   = 15 * time.Minute
	dedupeLockTTL = 24 * time.Hour
)

// SQSAPI is the subset of *sqs.Client used by SQSStore.
type SQSAPI interface {
	SendMessage(ctx context.Context, params *sqs.SendMessageInput, optFns ...func(*sqs.Options)) (*sqs.SendMessageOutput, error)
	ReceiveMessage(ctx context.Context, params *sqs.ReceiveMessageInput, optFns ...func(*sqs.Options)) (*sqs.ReceiveMessageOutput, error)
	DeleteMessage(ctx context.Context, params *sqs.DeleteMessageInput, optFns ...func(*sqs.Options)) (*sqs.DeleteMessageOutput, error)
	GetQueueAttributes(ctx context.Context, params *sqs.GetQueueAttributesInput, optFns ...func(*sqs.Options)) (*sqs.GetQueueAttributesOutput, error)
}

// DedupeLocker holds dedupe keys for the SQS backend, which has no way to
// look up pending messages by key. db.JobLockRepository implements it.
type DedupeLocker interface {
	Acquire(ctx context.Context, lockID, holder string, ttl time.Duration) (bool, error)
	Holder(ctx context.Context, lockID string) (string, error)
	Release(ctx context.Context, lockID, holder string) error
}

// envelope is the SQS message body. Attempts counts only attempts recorded
// by Fail; deliveries lost to crashed workers are added from the
// ApproximateReceiveCount attribute at lease time. NotBefore is set when the
// job is due later than SQS can delay a message.
type envelope struct {
	Job       types.Job `json:"job"`
	NotBefore time.Time `json:"not_before,omitempty"`
}

type sqsLease struct {
	queueURL      string
	receiptHandle string
	job           *types.Job
	expiry        time.Time
}

// SQSStore implements Store with one SQS queue per job kind and a shared
// dead-letter queue. Leases are visibility timeouts; the receipt handles of
// jobs leased by this process are kept in memory, so Ack and Fail must be
// called by the process that leased the job.
type SQSStore struct {
	client    SQSAPI
	queueURLs map[types.JobKind]string
	dlqURL    string
	locks     DedupeLocker
	clock     types.Clock
	logger    *slog.Logger

	mu     sync.Mutex
	leases map[string]sqsLease
}

// NewSQSStore creates an SQSStore. locks may be nil, in which case dedupe
// keys are ignored.
func NewSQSStore(client SQSAPI, queueURLs map[types.JobKind]string, dlqURL string, locks DedupeLocker, clock types.Clock, logger *slog.Logger) *SQSStore {
	if clock == nil {
		clock = types.RealClock{}
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &SQSStore{
		client:    client,
		queueURLs: queueURLs,
		dlqURL:    dlqURL,
		locks:     locks,
		clock:     clock,
		logger:    logger,
		leases:    make(map[string]sqsLease),
	}
}

func (s *SQSStore) queueURL(kind types.JobKind) (string, error) {
	u, ok := s.queueURLs[kind]
	if !ok || u == "" {
		return "", types.NewAppError(types.ErrCodeValidationUnknownKind, fmt.Sprintf("no queue configured for job kind %q", kind), nil)
	}
	return u, nil
}

func (s *SQSStore) Enqueue(ctx context.Context, kind types.JobKind, payload types.JobPayload, opts types.EnqueueOptions) (types.EnqueueResult, error) {
	if err := types.ValidateJobPayload(kind, payload); err != nil {
		return types.EnqueueResult{}, err
	}
	queueURL, err := s.queueURL(kind)
	if err != nil {
		return types.EnqueueResult{}, err
	}
	raw, err := json.Marshal(payload)
	if err != nil {
		return types.EnqueueResult{}, types.NewAppError(types.ErrCodeValidationInvalidPayload, "failed to encode job payload", err)
	}

	now := s.clock.Now()
	backoff, maxAttempts := resolveOptions(opts)
	job := types.Job{
		ID:          "job_" + uuid.NewString(),
		Kind:        kind,
		Payload:     raw,
		MaxAttempts: maxAttempts,
		Backoff:     backoff,
		State:       types.JobWaiting,
		DedupeKey:   opts.DedupeKey,
		ScheduledAt: now.Add(opts.Delay),
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	if opts.Delay > 0 {
		job.State = types.JobDelayed
	}

	if opts.DedupeKey != "" && s.locks != nil {
		acquired, err := s.locks.Acquire(ctx, dedupeLockID(opts.DedupeKey), job.ID, dedupeLockTTL)
		if err != nil {
			return types.EnqueueResult{}, err
		}
		if !acquired {
			holder, err := s.locks.Holder(ctx, dedupeLockID(opts.DedupeKey))
			if err != nil {
				return types.EnqueueResult{}, err
			}
			if holder != "" {
				return types.EnqueueResult{JobID: holder, Deduplicated: true}, nil
			}
			// The lock expired between the two calls; enqueue without it.
		}
	}

	env := envelope{Job: job}
	if opts.Delay > sqsMaxDelay {
		env.NotBefore = job.ScheduledAt
	}
	if err := s.send(ctx, queueURL, env, opts.Delay); err != nil {
		if opts.DedupeKey != "" && s.locks != nil {
			_ = s.locks.Release(ctx, dedupeLockID(opts.DedupeKey), job.ID)
		}
		return types.EnqueueResult{}, err
	}
	return types.EnqueueResult{JobID: job.ID}, nil
}

// send publishes env after delay. Delays beyond the SQS maximum are capped
// and the remainder is enforced at lease time through NotBefore.
func (s *SQSStore) send(ctx context.Context, queueURL string, env envelope, delay time.Duration) error {
	if delay > sqsMaxDelay {
		if env.NotBefore.IsZero() {
			env.NotBefore = s.clock.Now().Add(delay)
		}
		delay = sqsMaxDelay
	}
	body, err := json.Marshal(env)
	if err != nil {
		return types.NewAppError(types.ErrCodeInternalQueue, "failed to encode job message", err)
	}
	_, err = s.client.SendMessage(ctx, &sqs.SendMessageInput{
		QueueUrl:     aws.String(queueURL),
		MessageBody:  aws.String(string(body)),
		DelaySeconds: int32(delay / time.Second),
		MessageAttributes: map[string]sqsTypes.MessageAttributeValue{
			"kind": {
				DataType:    aws.String("String"),
				StringValue: aws.String(string(env.Job.Kind)),
			},
		},
	})
	if err != nil {
		return types.NewAppError(types.ErrCodeInternalQueue, fmt.Sprintf("failed to send job to %s", queueURL), err)
	}
	return nil
}

func (s *SQSStore) Lease(ctx context.Context, kind types.JobKind, lease time.Duration) (*types.Job, bool, error) {
	queueURL, err := s.queueURL(kind)
	if err != nil {
		return nil, false, err
	}
	out, err := s.client.ReceiveMessage(ctx, &sqs.ReceiveMessageInput{
		QueueUrl:            aws.String(queueURL),
		MaxNumberOfMessages: 1,
		VisibilityTimeout:   int32(lease / time.Second),
		WaitTimeSeconds:     1,
		MessageSystemAttributeNames: []sqsTypes.MessageSystemAttributeName{
			sqsTypes.MessageSystemAttributeNameApproximateReceiveCount,
		},
	})
	if err != nil {
		return nil, false, types.NewAppError(types.ErrCodeInternalQueue, "failed to receive job", err)
	}
	if len(out.Messages) == 0 {
		return nil, false, nil
	}

	msg := out.Messages[0]
	var env envelope
	if err := json.Unmarshal([]byte(aws.ToString(msg.Body)), &env); err != nil {
		// A message that cannot be decoded can never succeed.
		s.logger.ErrorContext(ctx, "dropping undecodable job message", "queue_url", queueURL, "error", err)
		_, _ = s.client.DeleteMessage(ctx, &sqs.DeleteMessageInput{QueueUrl: aws.String(queueURL), ReceiptHandle: msg.ReceiptHandle})
		return nil, false, nil
	}

	now := s.clock.Now()
	if env.NotBefore.After(now) {
		return nil, false, s.postpone(ctx, queueURL, aws.ToString(msg.ReceiptHandle), env, env.NotBefore.Sub(now))
	}

	receives, _ := strconv.Atoi(msg.Attributes[string(sqsTypes.MessageSystemAttributeNameApproximateReceiveCount)])
	if receives < 1 {
		receives = 1
	}
	job := env.Job
	job.Attempts += receives
	expiry := now.Add(lease)
	job.State = types.JobActive
	job.LeaseExpiry = &expiry
	job.UpdatedAt = now

	if job.Attempts > job.MaxAttempts {
		// Every attempt was lost to an expired lease.
		job.Attempts = job.MaxAttempts
		job.LastError = "lease expired on final attempt"
		if err := s.deadLetter(ctx, queueURL, aws.ToString(msg.ReceiptHandle), &job); err != nil {
			return nil, false, err
		}
		return nil, false, nil
	}

	s.mu.Lock()
	s.leases[job.ID] = sqsLease{queueURL: queueURL, receiptHandle: aws.ToString(msg.ReceiptHandle), job: &job, expiry: expiry}
	s.mu.Unlock()
	return cloneJob(&job), true, nil
}

// postpone puts an early message back as a fresh copy. Extending the
// visibility of the received one would raise its ApproximateReceiveCount,
// which Lease counts as attempts.
func (s *SQSStore) postpone(ctx context.Context, queueURL, receiptHandle string, env envelope, wait time.Duration) error {
	if err := s.send(ctx, queueURL, env, wait); err != nil {
		return err
	}
	if _, err := s.client.DeleteMessage(ctx, &sqs.DeleteMessageInput{
		QueueUrl:      aws.String(queueURL),
		ReceiptHandle: aws.String(receiptHandle),
	}); err != nil {
		// The original becomes visible again and is deferred once more.
		s.logger.WarnContext(ctx, "failed to delete deferred job message", "job_id", env.Job.ID, "error", err)
	}
	return nil
}

// takeLease removes and returns this process's lease on jobID when attempt
// matches it.
func (s *SQSStore) takeLease(jobID string, attempt int) (sqsLease, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	l, ok := s.leases[jobID]
	if !ok || l.job.Attempts != attempt {
		return sqsLease{}, notLeased(jobID)
	}
	delete(s.leases, jobID)
	if !l.expiry.After(s.clock.Now()) {
		return sqsLease{}, notLeased(jobID)
	}
	return l, nil
}

func (s *SQSStore) Ack(ctx context.Context, jobID string, attempt int) error {
	l, err := s.takeLease(jobID, attempt)
	if err != nil {
		return err
	}
	if _, err := s.client.DeleteMessage(ctx, &sqs.DeleteMessageInput{
		QueueUrl:      aws.String(l.queueURL),
		ReceiptHandle: aws.String(l.receiptHandle),
	}); err != nil {
		return types.NewAppError(types.ErrCodeInternalQueue, "failed to delete acked job", err)
	}
	s.releaseDedupe(ctx, l.job)
	return nil
}

func (s *SQSStore) Fail(ctx context.Context, jobID string, attempt int, jobErr error) (types.FailOutcome, error) {
	l, err := s.takeLease(jobID, attempt)
	if err != nil {
		return "", err
	}
	job := l.job
	now := s.clock.Now()
	if jobErr != nil {
		job.LastError = jobErr.Error()
	}
	job.LeaseExpiry = nil
	job.UpdatedAt = now

	if deadLetter(job.Attempts, job.MaxAttempts, jobErr) {
		if err := s.deadLetter(ctx, l.queueURL, l.receiptHandle, job); err != nil {
			return "", err
		}
		return types.FailDeadLettered, nil
	}

	// Re-send with the recorded attempt count, then drop the old message.
	delay := job.Backoff.NextDelay(job.Attempts)
	job.State = types.JobDelayed
	job.ScheduledAt = now.Add(delay)
	env := envelope{Job: *job}
	if delay > sqsMaxDelay {
		env.NotBefore = job.ScheduledAt
	}
	if err := s.send(ctx, l.queueURL, env, delay); err != nil {
		return "", err
	}
	if _, err := s.client.DeleteMessage(ctx, &sqs.DeleteMessageInput{
		QueueUrl:      aws.String(l.queueURL),
		ReceiptHandle: aws.String(l.receiptHandle),
	}); err != nil {
		return "", types.NewAppError(types.ErrCodeInternalQueue, "failed to delete retried job", err)
	}
	return types.FailRetryScheduled, nil
}

func (s *SQSStore) deadLetter(ctx context.Context, queueURL, receiptHandle string, job *types.Job) error {
	job.State = types.JobFailed
	job.LeaseExpiry = nil
	if err := s.send(ctx, s.dlqURL, envelope{Job: *job}, 0); err != nil {
		return err
	}
	if _, err := s.client.DeleteMessage(ctx, &sqs.DeleteMessageInput{
		QueueUrl:      aws.String(queueURL),
		ReceiptHandle: aws.String(receiptHandle),
	}); err != nil {
		return types.NewAppError(types.ErrCodeInternalQueue, "failed to delete dead-lettered job", err)
	}
	s.logger.WarnContext(ctx, "job dead-lettered",
		"job_id", job.ID,
		"kind", string(job.Kind),
		"attempts", job.Attempts,
		"last_error", job.LastError,
	)
	s.releaseDedupe(ctx, job)
	return nil
}

func (s *SQSStore) releaseDedupe(ctx context.Context, job *types.Job) {
	if job.DedupeKey == "" || s.locks == nil {
		return
	}
	if err := s.locks.Release(ctx, dedupeLockID(job.DedupeKey), job.ID); err != nil {
		// The lock expires on its own; a stale one only delays the next
		// enqueue with the same key.
		s.logger.WarnContext(ctx, "failed to release dedupe lock", "job_id", job.ID, "error", err)
	}
}

// Counts reports approximate depths from queue attributes. Completed jobs
// are not tracked by SQS; Failed is the depth of the shared dead-letter
// queue.
func (s *SQSStore) Counts(ctx context.Context, kind types.JobKind) (types.JobCounts, error) {
	queueURL, err := s.queueURL(kind)
	if err != nil {
		return types.JobCounts{}, err
	}
	attrs, err := s.attributes(ctx, queueURL,
		sqsTypes.QueueAttributeNameApproximateNumberOfMessages,
		sqsTypes.QueueAttributeNameApproximateNumberOfMessagesNotVisible,
		sqsTypes.QueueAttributeNameApproximateNumberOfMessagesDelayed,
	)
	if err != nil {
		return types.JobCounts{}, err
	}
	counts := types.JobCounts{
		Waiting: attrs[string(sqsTypes.QueueAttributeNameApproximateNumberOfMessages)],
		Active:  attrs[string(sqsTypes.QueueAttributeNameApproximateNumberOfMessagesNotVisible)],
		Delayed: attrs[string(sqsTypes.QueueAttributeNameApproximateNumberOfMessagesDelayed)],
	}
	if s.dlqURL != "" {
		dlq, err := s.attributes(ctx, s.dlqURL, sqsTypes.QueueAttributeNameApproximateNumberOfMessages)
		if err != nil {
			return types.JobCounts{}, err
		}
		counts.Failed = dlq[string(sqsTypes.QueueAttributeNameApproximateNumberOfMessages)]
	}
	return counts, nil
}

func (s *SQSStore) attributes(ctx context.Context, queueURL string, names ...sqsTypes.QueueAttributeName) (map[string]int64, error) {
	out, err := s.client.GetQueueAttributes(ctx, &sqs.GetQueueAttributesInput{
		QueueUrl:       aws.String(queueURL),
		AttributeNames: names,
	})
	if err != nil {
		return nil, types.NewAppError(types.ErrCodeInternalQueue, "failed to read queue attributes", err)
	}
	res := make(map[string]int64, len(out.Attributes))
	for k, v := range out.Attributes {
		n, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			continue
		}
		res[k] = n
	}
	return res, nil
}

// DeadLetters peeks at the dead-letter queue with a zero visibility timeout,
// so the messages stay available to other readers. SQS returns at most 10
// messages per call and sampling is approximate.
func (s *SQSStore) DeadLetters(ctx context.Context, kind types.JobKind, limit int) ([]*types.Job, error) {
	if s.dlqURL == "" {
		return nil, nil
	}
	batch := int32(10)
	if limit > 0 && limit < 10 {
		batch = int32(limit)
	}
	out, err := s.client.ReceiveMessage(ctx, &sqs.ReceiveMessageInput{
		QueueUrl:              aws.String(s.dlqURL),
		MaxNumberOfMessages:   batch,
		VisibilityTimeout:     0,
		MessageAttributeNames: []string{"kind"},
	})
	if err != nil {
		return nil, types.NewAppError(types.ErrCodeInternalQueue, "failed to read dead-letter queue", err)
	}

	var jobs []*types.Job
	for _, msg := range out.Messages {
		var env envelope
		if err := json.Unmarshal([]byte(aws.ToString(msg.Body)), &env); err != nil {
			continue
		}
		if env.Job.Kind != kind {
			continue
		}
		j := env.Job
		jobs = append(jobs, &j)
	}
	return jobs, nil
}

func dedupeLockID(key string) string {
	return "dedupe:" + key
}
