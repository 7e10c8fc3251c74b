package types

import (
	"encoding/json"
	"testing"
	"time"
)

func TestBackoffPolicyNextDelay(t *testing.T) {
	p := BackoffPolicy{BaseDelay: 30 * time.Second, MaxDelay: 5 * time.Minute, BackoffFactor: 2}

	tests := []struct {
		attempt int
		want    time.Duration
	}{
		{0, 30 * time.Second},
		{1, 30 * time.Second},
		{2, 60 * time.Second},
		{3, 120 * time.Second},
		{4, 240 * time.Second},
		{5, 5 * time.Minute},
		{50, 5 * time.Minute},
	}

	for _, tt := range tests {
		if got := p.NextDelay(tt.attempt); got != tt.want {
			t.Errorf("NextDelay(%d) = %v, want %v", tt.attempt, got, tt.want)
		}
	}
}

func TestDecodeJobPayload(t *testing.T) {
	raw := json.RawMessage(`{"site_id":"site_1","organization_id":"org_1","device":"MOBILE"}`)

	p, err := DecodeJobPayload(JobPageSpeed, raw)
	if err != nil {
		t.Fatalf("DecodeJobPayload() error = %v", err)
	}

	ps, ok := p.(PageSpeedPayload)
	if !ok {
		t.Fatalf("payload type = %T, want PageSpeedPayload", p)
	}
	if ps.Device != DeviceMobile {
		t.Errorf("Device = %q, want MOBILE", ps.Device)
	}
	site, org := p.Tenant()
	if site != "site_1" || org != "org_1" {
		t.Errorf("Tenant() = (%q, %q)", site, org)
	}
}

func TestDecodeJobPayload_Errors(t *testing.T) {
	if _, err := DecodeJobPayload(JobKind("reindex"), json.RawMessage(`{}`)); CodeOf(err) != ErrCodeValidationUnknownKind {
		t.Errorf("unknown kind: code = %q", CodeOf(err))
	}
	if _, err := DecodeJobPayload(JobSiteCrawl, json.RawMessage(`{"max_pages":"many"}`)); CodeOf(err) != ErrCodeValidationInvalidPayload {
		t.Errorf("bad json: code = %q", CodeOf(err))
	}
}

func TestSameDay(t *testing.T) {
	d := time.Date(2026, 3, 10, 0, 0, 0, 0, time.UTC)
	if !SameDay(d, d.Add(23*time.Hour)) {
		t.Error("expected same day")
	}
	if SameDay(d, d.Add(24*time.Hour)) {
		t.Error("expected different days")
	}
	if !DayStart(d.Add(15 * time.Hour)).Equal(d) {
		t.Error("DayStart did not truncate to midnight")
	}
}
