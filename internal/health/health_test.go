// SPDX-License-Identifier: MIT

package health

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type stubPinger struct{ err error }

func (s stubPinger) Ping(context.Context) error { return s.err }

type stubQueue struct {
	length  int
	current *string
}

func (s stubQueue) Len() int           { return s.length }
func (s stubQueue) CurrentID() *string { return s.current }

type staticChecker struct {
	name   string
	result CheckResult
}

func (c staticChecker) Name() string                    { return c.name }
func (c staticChecker) Check(context.Context) CheckResult { return c.result }

func TestReportAggregatesStatus(t *testing.T) {
	ctx := context.Background()

	m := NewManager("1.2.3", nil)
	m.RegisterChecker(staticChecker{"a", CheckResult{Status: StatusHealthy}})
	resp := m.Report(ctx)
	assert.Equal(t, StatusHealthy, resp.Status)
	assert.Equal(t, "1.2.3", resp.Version)

	m.RegisterChecker(staticChecker{"b", CheckResult{Status: StatusDegraded, Message: "low"}})
	resp = m.Report(ctx)
	assert.Equal(t, StatusDegraded, resp.Status)

	m.RegisterChecker(staticChecker{"c", CheckResult{Status: StatusUnhealthy, Error: "down"}})
	resp = m.Report(ctx)
	assert.Equal(t, StatusUnhealthy, resp.Status)
	assert.Len(t, resp.Checks, 3)
}

func TestReportIncludesQueueSnapshot(t *testing.T) {
	id := "9f27a5c1-0000-0000-0000-000000000000"
	m := NewManager("dev", stubQueue{length: 4, current: &id})

	resp := m.Report(context.Background())
	require.NotNil(t, resp.Queue)
	assert.Equal(t, 4, resp.Queue.Length)
	require.NotNil(t, resp.Queue.CurrentFileID)
	assert.Equal(t, id, *resp.Queue.CurrentFileID)
}

func TestDatabaseChecker(t *testing.T) {
	ok := DatabaseChecker{DB: stubPinger{}}
	assert.Equal(t, StatusHealthy, ok.Check(context.Background()).Status)

	bad := DatabaseChecker{DB: stubPinger{err: errors.New("locked")}}
	res := bad.Check(context.Background())
	assert.Equal(t, StatusUnhealthy, res.Status)
	assert.Equal(t, "locked", res.Error)
}

func TestDiskChecker(t *testing.T) {
	c := DiskChecker{Path: t.TempDir(), MinBytes: 1}
	assert.Equal(t, StatusHealthy, c.Check(context.Background()).Status)

	missing := DiskChecker{Path: "/nonexistent-path-for-test", MinBytes: 1}
	assert.Equal(t, StatusUnhealthy, missing.Check(context.Background()).Status)
}

func TestCredentialChecker(t *testing.T) {
	unset := CredentialChecker{Component: "openai"}
	res := unset.Check(context.Background())
	assert.Equal(t, StatusDegraded, res.Status)
	assert.Equal(t, "openai", unset.Name())

	set := CredentialChecker{Component: "openai", Credential: "sk-x"}
	assert.Equal(t, StatusHealthy, set.Check(context.Background()).Status)
}

func TestEndpointChecker(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	up := EndpointChecker{Component: "transcription", URL: srv.URL}
	assert.Equal(t, StatusHealthy, up.Check(context.Background()).Status)
	assert.Equal(t, "transcription", up.Name())

	erroring := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer erroring.Close()
	res := EndpointChecker{Component: "transcription", URL: erroring.URL}.Check(context.Background())
	assert.Equal(t, StatusDegraded, res.Status)

	down := EndpointChecker{Component: "transcription", URL: "http://127.0.0.1:1"}
	assert.Equal(t, StatusDegraded, down.Check(context.Background()).Status)
}
