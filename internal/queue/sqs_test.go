package queue

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"sync"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/sqs"
	sqsTypes "github.com/aws/aws-sdk-go-v2/service/sqs/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"seopulse/internal/types"
)

const (
	testPSIQueue = "https://sqs.us-east-1.amazonaws.com/123456789/page-speed"
	testDLQ      = "https://sqs.us-east-1.amazonaws.com/123456789/jobs-dlq"
)

type fakeMessage struct {
	body     string
	receipt  string
	receives int
}

// fakeSQS models visible and in-flight messages per queue. Visibility
// timeouts are not simulated.
type fakeSQS struct {
	mu       sync.Mutex
	visible  map[string][]*fakeMessage
	inflight map[string]*fakeMessage
	sent     []*sqs.SendMessageInput
	deleted  []string
	attrs    map[string]map[string]string
	nextID   int
}

func newFakeSQS() *fakeSQS {
	return &fakeSQS{
		visible:  map[string][]*fakeMessage{},
		inflight: map[string]*fakeMessage{},
		attrs:    map[string]map[string]string{},
	}
}

func (f *fakeSQS) SendMessage(_ context.Context, in *sqs.SendMessageInput, _ ...func(*sqs.Options)) (*sqs.SendMessageOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sent = append(f.sent, in)
	q := aws.ToString(in.QueueUrl)
	f.visible[q] = append(f.visible[q], &fakeMessage{body: aws.ToString(in.MessageBody)})
	return &sqs.SendMessageOutput{}, nil
}

func (f *fakeSQS) ReceiveMessage(_ context.Context, in *sqs.ReceiveMessageInput, _ ...func(*sqs.Options)) (*sqs.ReceiveMessageOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	q := aws.ToString(in.QueueUrl)
	if len(f.visible[q]) == 0 {
		return &sqs.ReceiveMessageOutput{}, nil
	}
	m := f.visible[q][0]
	f.visible[q] = f.visible[q][1:]
	m.receives++
	f.nextID++
	m.receipt = fmt.Sprintf("rh-%d", f.nextID)
	f.inflight[m.receipt] = m
	return &sqs.ReceiveMessageOutput{Messages: []sqsTypes.Message{{
		Body:          aws.String(m.body),
		ReceiptHandle: aws.String(m.receipt),
		Attributes: map[string]string{
			string(sqsTypes.MessageSystemAttributeNameApproximateReceiveCount): strconv.Itoa(m.receives),
		},
	}}}, nil
}

func (f *fakeSQS) DeleteMessage(_ context.Context, in *sqs.DeleteMessageInput, _ ...func(*sqs.Options)) (*sqs.DeleteMessageOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.inflight, aws.ToString(in.ReceiptHandle))
	f.deleted = append(f.deleted, aws.ToString(in.ReceiptHandle))
	return &sqs.DeleteMessageOutput{}, nil
}

func (f *fakeSQS) GetQueueAttributes(_ context.Context, in *sqs.GetQueueAttributesInput, _ ...func(*sqs.Options)) (*sqs.GetQueueAttributesOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return &sqs.GetQueueAttributesOutput{Attributes: f.attrs[aws.ToString(in.QueueUrl)]}, nil
}

// redeliver returns an in-flight message to the visible list, as SQS does
// when a visibility timeout lapses.
func (f *fakeSQS) redeliver(queue, receipt string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	m := f.inflight[receipt]
	delete(f.inflight, receipt)
	f.visible[queue] = append(f.visible[queue], m)
}

func (f *fakeSQS) envelopeAt(t *testing.T, i int) envelope {
	t.Helper()
	var env envelope
	require.NoError(t, json.Unmarshal([]byte(aws.ToString(f.sent[i].MessageBody)), &env))
	return env
}

type fakeLocker struct {
	mu    sync.Mutex
	locks map[string]string
}

func (l *fakeLocker) Acquire(_ context.Context, id, holder string, _ time.Duration) (bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if _, held := l.locks[id]; held {
		return false, nil
	}
	l.locks[id] = holder
	return true, nil
}

func (l *fakeLocker) Holder(_ context.Context, id string) (string, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.locks[id], nil
}

func (l *fakeLocker) Release(_ context.Context, id, holder string) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.locks[id] == holder {
		delete(l.locks, id)
	}
	return nil
}

func newTestSQSStore(client *fakeSQS, locks DedupeLocker, clock types.Clock) *SQSStore {
	return NewSQSStore(client, map[types.JobKind]string{types.JobPageSpeed: testPSIQueue}, testDLQ, locks, clock, nil)
}

func TestSQSStore_EnqueueSendsToKindQueue(t *testing.T) {
	client := newFakeSQS()
	store := newTestSQSStore(client, nil, newFakeClock())

	res, err := store.Enqueue(context.Background(), types.JobPageSpeed, psiPayload("site_1"), types.EnqueueOptions{Delay: 40 * time.Minute})
	require.NoError(t, err)
	require.Len(t, client.sent, 1)

	in := client.sent[0]
	assert.Equal(t, testPSIQueue, aws.ToString(in.QueueUrl))
	assert.Equal(t, int32(900), in.DelaySeconds, "SQS caps delays at 15 minutes")
	assert.Equal(t, "page_speed", aws.ToString(in.MessageAttributes["kind"].StringValue))
	env := client.envelopeAt(t, 0)
	assert.Equal(t, res.JobID, env.Job.ID)
	assert.Equal(t, DefaultMaxAttempts, env.Job.MaxAttempts)

	_, err = store.Enqueue(context.Background(), types.JobSiteCrawl, types.CrawlPayload{SiteID: "s", OrganizationID: "o"}, types.EnqueueOptions{})
	assert.Equal(t, types.ErrCodeValidationUnknownKind, types.CodeOf(err))
}

func TestSQSStore_RejectsInvalidPayload(t *testing.T) {
	client := newFakeSQS()
	store := newTestSQSStore(client, nil, newFakeClock())

	tests := []struct {
		name    string
		payload types.PageSpeedPayload
	}{
		{"missing organization", types.PageSpeedPayload{SiteID: "site_1", Device: types.DeviceMobile}},
		{"missing device", types.PageSpeedPayload{SiteID: "site_1", OrganizationID: "org_1"}},
		{"relative url", types.PageSpeedPayload{SiteID: "site_1", OrganizationID: "org_1", Device: types.DeviceDesktop, URL: "/pricing"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := store.Enqueue(context.Background(), types.JobPageSpeed, tt.payload, types.EnqueueOptions{})
			require.Error(t, err)
			assert.Equal(t, types.ErrCodeValidationInvalidPayload, types.CodeOf(err))
		})
	}
	assert.Empty(t, client.sent)
}

func TestSQSStore_DedupeThroughLocker(t *testing.T) {
	client := newFakeSQS()
	locks := &fakeLocker{locks: map[string]string{}}
	store := newTestSQSStore(client, locks, newFakeClock())
	ctx := context.Background()
	opts := types.EnqueueOptions{DedupeKey: "psi:site_1:MOBILE:2026-03-01"}

	first, err := store.Enqueue(ctx, types.JobPageSpeed, psiPayload("site_1"), opts)
	require.NoError(t, err)
	second, err := store.Enqueue(ctx, types.JobPageSpeed, psiPayload("site_1"), opts)
	require.NoError(t, err)

	assert.True(t, second.Deduplicated)
	assert.Equal(t, first.JobID, second.JobID)
	assert.Len(t, client.sent, 1)

	job, ok, err := store.Lease(ctx, types.JobPageSpeed, time.Minute)
	require.NoError(t, err)
	require.True(t, ok)
	require.NoError(t, store.Ack(ctx, job.ID, job.Attempts))
	assert.Empty(t, locks.locks, "ack releases the dedupe key")
}

func TestSQSStore_LeaseAckExactlyOnce(t *testing.T) {
	client := newFakeSQS()
	store := newTestSQSStore(client, nil, newFakeClock())
	ctx := context.Background()

	_, ok, err := store.Lease(ctx, types.JobPageSpeed, time.Minute)
	require.NoError(t, err)
	assert.False(t, ok)

	_, _ = store.Enqueue(ctx, types.JobPageSpeed, psiPayload("site_1"), types.EnqueueOptions{})
	job, ok, err := store.Lease(ctx, types.JobPageSpeed, time.Minute)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, 1, job.Attempts)
	assert.Equal(t, types.JobActive, job.State)

	require.NoError(t, store.Ack(ctx, job.ID, job.Attempts))
	assert.Len(t, client.deleted, 1)

	err = store.Ack(ctx, job.ID, job.Attempts)
	assert.Equal(t, types.ErrCodeConflictNotLeased, types.CodeOf(err))
}

func TestSQSStore_StaleLeaseTokenRejected(t *testing.T) {
	client := newFakeSQS()
	store := newTestSQSStore(client, nil, newFakeClock())
	ctx := context.Background()

	_, _ = store.Enqueue(ctx, types.JobPageSpeed, psiPayload("site_1"), types.EnqueueOptions{})
	job, ok, _ := store.Lease(ctx, types.JobPageSpeed, time.Minute)
	require.True(t, ok)

	err := store.Ack(ctx, job.ID, job.Attempts-1)
	assert.Equal(t, types.ErrCodeConflictNotLeased, types.CodeOf(err))
	assert.Empty(t, client.deleted)
}

func TestSQSStore_LongDelayHeldUntilDue(t *testing.T) {
	client := newFakeSQS()
	clock := newFakeClock()
	store := newTestSQSStore(client, nil, clock)
	ctx := context.Background()
	due := clock.Now().Add(time.Hour)

	_, err := store.Enqueue(ctx, types.JobPageSpeed, psiPayload("site_1"), types.EnqueueOptions{Delay: time.Hour})
	require.NoError(t, err)
	assert.Equal(t, int32(900), client.sent[0].DelaySeconds)
	assert.Equal(t, due, client.envelopeAt(t, 0).NotBefore)

	// Early receives put the message back without using up attempts.
	clock.Advance(16 * time.Minute)
	for i := 0; i < 3; i++ {
		_, ok, err := store.Lease(ctx, types.JobPageSpeed, time.Minute)
		require.NoError(t, err)
		assert.False(t, ok)
	}
	require.Len(t, client.sent, 4)
	assert.Len(t, client.deleted, 3)
	assert.Equal(t, due, client.envelopeAt(t, 3).NotBefore)
	assert.Equal(t, int32(900), client.sent[3].DelaySeconds)

	clock.Advance(34 * time.Minute)
	_, ok, _ := store.Lease(ctx, types.JobPageSpeed, time.Minute)
	assert.False(t, ok)
	assert.Equal(t, int32(600), client.sent[len(client.sent)-1].DelaySeconds)

	clock.Advance(10 * time.Minute)
	job, ok, err := store.Lease(ctx, types.JobPageSpeed, time.Minute)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, 1, job.Attempts)
	assert.Equal(t, due, job.ScheduledAt)
}

func TestSQSStore_AckAfterLeaseExpiry(t *testing.T) {
	client := newFakeSQS()
	clock := newFakeClock()
	store := newTestSQSStore(client, nil, clock)
	ctx := context.Background()

	_, _ = store.Enqueue(ctx, types.JobPageSpeed, psiPayload("site_1"), types.EnqueueOptions{})
	job, _, _ := store.Lease(ctx, types.JobPageSpeed, time.Minute)
	clock.Advance(2 * time.Minute)

	err := store.Ack(ctx, job.ID, job.Attempts)
	assert.Equal(t, types.ErrCodeConflictNotLeased, types.CodeOf(err))
	assert.Empty(t, client.deleted)
}

func TestSQSStore_FailRetriesThenDeadLetters(t *testing.T) {
	client := newFakeSQS()
	store := newTestSQSStore(client, nil, newFakeClock())
	ctx := context.Background()
	cause := types.NewAppError(types.ErrCodeUpstreamTimeout, "timeout", nil)

	_, _ = store.Enqueue(ctx, types.JobPageSpeed, psiPayload("site_1"), types.EnqueueOptions{})

	for attempt := 1; attempt <= 2; attempt++ {
		job, ok, err := store.Lease(ctx, types.JobPageSpeed, time.Minute)
		require.NoError(t, err)
		require.True(t, ok)
		assert.Equal(t, attempt, job.Attempts)

		outcome, err := store.Fail(ctx, job.ID, job.Attempts, cause)
		require.NoError(t, err)
		assert.Equal(t, types.FailRetryScheduled, outcome)

		resent := client.sent[len(client.sent)-1]
		assert.Equal(t, testPSIQueue, aws.ToString(resent.QueueUrl))
		wantDelay := int32(30 * attempt)
		assert.Equal(t, wantDelay, resent.DelaySeconds)
	}

	job, ok, _ := store.Lease(ctx, types.JobPageSpeed, time.Minute)
	require.True(t, ok)
	outcome, err := store.Fail(ctx, job.ID, job.Attempts, cause)
	require.NoError(t, err)
	assert.Equal(t, types.FailDeadLettered, outcome)

	last := client.sent[len(client.sent)-1]
	assert.Equal(t, testDLQ, aws.ToString(last.QueueUrl))
	env := client.envelopeAt(t, len(client.sent)-1)
	assert.Equal(t, types.JobFailed, env.Job.State)
	assert.Equal(t, "timeout", env.Job.LastError)

	_, ok, _ = store.Lease(ctx, types.JobPageSpeed, time.Minute)
	assert.False(t, ok)
}

func TestSQSStore_RedeliveredPastLimitIsDeadLettered(t *testing.T) {
	client := newFakeSQS()
	store := newTestSQSStore(client, nil, newFakeClock())
	ctx := context.Background()

	_, _ = store.Enqueue(ctx, types.JobPageSpeed, psiPayload("site_1"), types.EnqueueOptions{MaxAttempts: 2})

	// Two workers crash mid-job; SQS redelivers each time.
	for i := 0; i < 2; i++ {
		_, ok, err := store.Lease(ctx, types.JobPageSpeed, time.Minute)
		require.NoError(t, err)
		require.True(t, ok)
		client.redeliver(testPSIQueue, fmt.Sprintf("rh-%d", i+1))
	}

	_, ok, err := store.Lease(ctx, types.JobPageSpeed, time.Minute)
	require.NoError(t, err)
	assert.False(t, ok)
	assert.Equal(t, testDLQ, aws.ToString(client.sent[len(client.sent)-1].QueueUrl))
}

func TestSQSStore_Counts(t *testing.T) {
	client := newFakeSQS()
	client.attrs[testPSIQueue] = map[string]string{
		"ApproximateNumberOfMessages":           "12",
		"ApproximateNumberOfMessagesNotVisible": "3",
		"ApproximateNumberOfMessagesDelayed":    "2",
	}
	client.attrs[testDLQ] = map[string]string{"ApproximateNumberOfMessages": "1"}
	store := newTestSQSStore(client, nil, nil)

	counts, err := store.Counts(context.Background(), types.JobPageSpeed)
	require.NoError(t, err)
	assert.Equal(t, types.JobCounts{Waiting: 12, Active: 3, Delayed: 2, Failed: 1}, counts)
}
