// Copyright 2026 ERPilot, Inc.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//	http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.
package workers

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/erpilot/erpilot/pkg/audit"
	"github.com/erpilot/erpilot/pkg/retrieval"
	"github.com/erpilot/erpilot/pkg/tools/builtin"
	"github.com/erpilot/erpilot/pkg/vernacular"
)

type memTracker struct {
	mu        sync.Mutex
	started   []string
	completed []string
	failed    map[string]string
}

func newMemTracker() *memTracker {
	return &memTracker{failed: make(map[string]string)}
}

func (t *memTracker) Start(ctx context.Context, name string) (string, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	id := fmt.Sprintf("job-%d", len(t.started)+1)
	t.started = append(t.started, name)
	return id, nil
}

func (t *memTracker) Complete(ctx context.Context, jobID string) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.completed = append(t.completed, jobID)
	return nil
}

func (t *memTracker) Fail(ctx context.Context, jobID, errMsg string) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.failed[jobID] = errMsg
	return nil
}

type memRecorder struct {
	mu     sync.Mutex
	events []audit.Event
}

func (r *memRecorder) Append(ctx context.Context, event audit.Event) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, event)
	return nil
}

func (r *memRecorder) actions() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	var actions []string
	for _, e := range r.events {
		actions = append(actions, e.Action)
	}
	return actions
}

type funcWorker struct {
	name string
	run  func(ctx context.Context) error
}

func (w *funcWorker) Name() string                  { return w.name }
func (w *funcWorker) Run(ctx context.Context) error { return w.run(ctx) }

func TestSchedulerRecordsJobLifecycle(t *testing.T) {
	tracker := newMemTracker()
	recorder := &memRecorder{}
	s := NewScheduler(tracker, recorder, nil)

	w := &funcWorker{name: "noop", run: func(ctx context.Context) error { return nil }}
	require.NoError(t, s.Register("@hourly", w))

	require.NoError(t, s.TriggerNow(context.Background(), "noop"))

	assert.Equal(t, []string{"noop"}, tracker.started)
	assert.Equal(t, []string{"job-1"}, tracker.completed)
	assert.Equal(t, []string{audit.ActionJobStart, audit.ActionJobComplete}, recorder.actions())
}

func TestSchedulerRecordsFailure(t *testing.T) {
	tracker := newMemTracker()
	recorder := &memRecorder{}
	s := NewScheduler(tracker, recorder, nil)

	w := &funcWorker{name: "broken", run: func(ctx context.Context) error {
		return errors.New("upstream down")
	}}
	require.NoError(t, s.Register("@hourly", w))

	require.NoError(t, s.TriggerNow(context.Background(), "broken"))

	assert.Empty(t, tracker.completed)
	assert.Equal(t, "upstream down", tracker.failed["job-1"])
	assert.Equal(t, []string{audit.ActionJobStart, audit.ActionJobFailed}, recorder.actions())

	last := recorder.events[len(recorder.events)-1]
	assert.Equal(t, audit.StatusError, last.Status)
	assert.Equal(t, "system", last.TenantID)
}

func TestSchedulerSkipsOverlappingRun(t *testing.T) {
	tracker := newMemTracker()
	s := NewScheduler(tracker, &memRecorder{}, nil)

	release := make(chan struct{})
	running := make(chan struct{})
	w := &funcWorker{name: "slow", run: func(ctx context.Context) error {
		close(running)
		<-release
		return nil
	}}
	require.NoError(t, s.Register("@hourly", w))

	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = s.TriggerNow(context.Background(), "slow")
	}()
	<-running

	// Second trigger while the first is in flight must be a no-op.
	require.NoError(t, s.TriggerNow(context.Background(), "slow"))
	close(release)
	<-done

	assert.Equal(t, []string{"slow"}, tracker.started)
}

func TestSchedulerRejectsBadCronAndDuplicates(t *testing.T) {
	s := NewScheduler(newMemTracker(), &memRecorder{}, nil)
	w := &funcWorker{name: "w", run: func(ctx context.Context) error { return nil }}

	assert.Error(t, s.Register("not a cron", w))
	require.NoError(t, s.Register("*/5 * * * *", w))
	assert.Error(t, s.Register("@daily", w))
	assert.Error(t, s.TriggerNow(context.Background(), "unknown"))
}

type fakeRetention struct {
	cutoff  time.Time
	batch   int
	deleted int64
}

func (f *fakeRetention) DeleteOlderThan(ctx context.Context, cutoff time.Time, batchSize int) (int64, error) {
	f.cutoff = cutoff
	f.batch = batchSize
	return f.deleted, nil
}

func TestAuditRetentionDefaultsWindow(t *testing.T) {
	store := &fakeRetention{deleted: 42}
	w := &AuditRetention{Store: store}

	require.NoError(t, w.Run(context.Background()))

	wantCutoff := time.Now().UTC().AddDate(0, 0, -DefaultRetentionDays)
	assert.WithinDuration(t, wantCutoff, store.cutoff, time.Minute)
	assert.Equal(t, retentionBatchSize, store.batch)
}

type fakeTenants struct{ ids []string }

func (f *fakeTenants) ListActive(ctx context.Context) ([]string, error) { return f.ids, nil }

type fakeMetadata struct {
	entities map[string][]vernacular.Mapping
	errFor   string
	current  string
}

func (f *fakeMetadata) ListEntities(ctx context.Context) ([]vernacular.Mapping, error) {
	if f.current == f.errFor {
		return nil, errors.New("connection refused")
	}
	return f.entities[f.current], nil
}

type memMappings struct {
	mu       sync.Mutex
	upserted []vernacular.Mapping
}

func (m *memMappings) UpsertMapping(ctx context.Context, mapping vernacular.Mapping) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.upserted = append(m.upserted, mapping)
	return nil
}

func TestMetadataDiscoverySkipsFailingTenant(t *testing.T) {
	source := &fakeMetadata{
		entities: map[string][]vernacular.Mapping{
			"t1": {{NaturalName: "Approvals", ScriptID: "customrecord_approvals", EntityType: "record"}},
			"t3": {{NaturalName: "Region", ScriptID: "custbody_region", EntityType: "field"}},
		},
		errFor: "t2",
	}
	mappings := &memMappings{}
	w := &MetadataDiscovery{
		Tenants:  &fakeTenants{ids: []string{"t1", "t2", "t3"}},
		Source:   source,
		Mappings: mappings,
		RunAs: func(ctx context.Context, tenantID string, fn func(ctx context.Context) error) error {
			source.current = tenantID
			return fn(ctx)
		},
	}

	require.NoError(t, w.Run(context.Background()))
	require.Len(t, mappings.upserted, 2)
	assert.Equal(t, "customrecord_approvals", mappings.upserted[0].ScriptID)
	assert.Equal(t, "custbody_region", mappings.upserted[1].ScriptID)
}

func TestMetadataDiscoveryFailsWhenAllTenantsFail(t *testing.T) {
	w := &MetadataDiscovery{
		Tenants:  &fakeTenants{ids: []string{"t1"}},
		Source:   &fakeMetadata{errFor: "t1"},
		Mappings: &memMappings{},
		RunAs: func(ctx context.Context, tenantID string, fn func(ctx context.Context) error) error {
			return fn(ctx)
		},
	}
	assert.Error(t, w.Run(context.Background()))
}

type fakeDocs struct{ files []builtin.WorkspaceFile }

func (f *fakeDocs) ListFiles(ctx context.Context, pathPrefix string) ([]builtin.WorkspaceFile, error) {
	return f.files, nil
}

func (f *fakeDocs) ReadFile(ctx context.Context, path string) (*builtin.WorkspaceFile, error) {
	for i := range f.files {
		if f.files[i].Path == path {
			return &f.files[i], nil
		}
	}
	return nil, errors.New("not found")
}

func (f *fakeDocs) SearchFiles(ctx context.Context, query string) ([]builtin.WorkspaceFile, error) {
	return nil, nil
}

type memChunks struct {
	replaced map[string][]retrieval.Chunk
}

func (m *memChunks) ReplaceSource(ctx context.Context, sourcePath string, chunks []retrieval.Chunk, embeddings [][]float32) error {
	if m.replaced == nil {
		m.replaced = make(map[string][]retrieval.Chunk)
	}
	m.replaced[sourcePath] = chunks
	return nil
}

func TestDocumentImportSkipsUnreadableFiles(t *testing.T) {
	docs := &fakeDocs{files: []builtin.WorkspaceFile{
		{Path: "docs/guide.md", Size: 30, Content: "How to approve purchase orders."},
		{Path: "docs/huge.bin", Size: builtin.MaxWorkspaceFileSize + 1, Content: "x"},
		{Path: "docs/binary.dat", Size: 4, Content: string([]byte{0xff, 0xfe, 0x00, 0x01})},
	}}
	chunks := &memChunks{}
	w := &DocumentImport{
		TenantID: "system",
		Source:   docs,
		Chunks:   chunks,
		RunAs: func(ctx context.Context, tenantID string, fn func(ctx context.Context) error) error {
			assert.Equal(t, "system", tenantID)
			return fn(ctx)
		},
	}

	require.NoError(t, w.Run(context.Background()))
	require.Len(t, chunks.replaced, 1)
	require.Len(t, chunks.replaced["docs/guide.md"], 1)
	assert.Equal(t, "guide.md", chunks.replaced["docs/guide.md"][0].Title)
}

func TestSplitDocumentRespectsParagraphs(t *testing.T) {
	var paragraphs []string
	for i := 0; i < 6; i++ {
		paragraphs = append(paragraphs, fmt.Sprintf("paragraph %d: %s", i, string(make([]byte, 600))))
	}
	content := ""
	for i, p := range paragraphs {
		if i > 0 {
			content += "\n\n"
		}
		content += p
	}

	chunks := splitDocument("docs/long.md", content)
	require.Greater(t, len(chunks), 1)
	for _, c := range chunks {
		assert.LessOrEqual(t, len(c.Content), chunkTargetSize+700)
		assert.Equal(t, "docs/long.md", c.SourcePath)
		assert.Equal(t, "long.md", c.Title)
	}
}
