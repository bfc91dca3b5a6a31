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
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/erpilot/erpilot/pkg/billing"
	"github.com/erpilot/erpilot/pkg/retrieval"
	"github.com/erpilot/erpilot/pkg/tools/builtin"
	"github.com/erpilot/erpilot/pkg/vernacular"
)

// DefaultRetentionDays is how long audit events are kept when config does
// not override it.
const DefaultRetentionDays = 90

// retentionBatchSize keeps individual delete transactions small.
const retentionBatchSize = 500

// chunkTargetSize is the per-chunk character budget for document import.
const chunkTargetSize = 2000

// TenantRunner executes fn with the context bound to tenantID, inside a
// tenant-scoped transaction. Wired from core.BindTenant + pgxdriver.WithTenant.
type TenantRunner func(ctx context.Context, tenantID string, fn func(ctx context.Context) error) error

// TenantLister enumerates active tenants for cross-tenant sweeps.
type TenantLister interface {
	ListActive(ctx context.Context) ([]string, error)
}

// BillingReconciliation pushes unreported metered usage to the external
// billing meter.
type BillingReconciliation struct {
	Reconciler *billing.Reconciler
}

func (w *BillingReconciliation) Name() string { return "billing_reconciliation" }

func (w *BillingReconciliation) Run(ctx context.Context) error {
	return w.Reconciler.Run(ctx)
}

// RetentionStore deletes expired audit events in batches.
type RetentionStore interface {
	DeleteOlderThan(ctx context.Context, cutoff time.Time, batchSize int) (int64, error)
}

// AuditRetention removes audit events older than the retention window.
type AuditRetention struct {
	Store  RetentionStore
	Days   int
	Logger *zap.Logger
}

func (w *AuditRetention) Name() string { return "audit_retention" }

func (w *AuditRetention) Run(ctx context.Context) error {
	days := w.Days
	if days <= 0 {
		days = DefaultRetentionDays
	}
	cutoff := time.Now().UTC().AddDate(0, 0, -days)

	deleted, err := w.Store.DeleteOlderThan(ctx, cutoff, retentionBatchSize)
	if err != nil {
		return err
	}
	if w.Logger != nil {
		w.Logger.Info("audit retention sweep complete",
			zap.Time("cutoff", cutoff),
			zap.Int64("deleted", deleted))
	}
	return nil
}

// MetadataSource lists entity metadata from a tenant's ERP connection. The
// returned mappings carry natural names, script IDs and entity types.
type MetadataSource interface {
	ListEntities(ctx context.Context) ([]vernacular.Mapping, error)
}

// MappingWriter persists discovered mappings for the tenant bound in ctx.
type MappingWriter interface {
	UpsertMapping(ctx context.Context, m vernacular.Mapping) error
}

// MetadataDiscovery re-populates each tenant's entity mapping table from
// live ERP metadata. Per-tenant failures are logged and skipped.
type MetadataDiscovery struct {
	Tenants  TenantLister
	Source   MetadataSource
	Mappings MappingWriter
	RunAs    TenantRunner
	Logger   *zap.Logger
}

func (w *MetadataDiscovery) Name() string { return "metadata_discovery" }

func (w *MetadataDiscovery) Run(ctx context.Context) error {
	tenantIDs, err := w.Tenants.ListActive(ctx)
	if err != nil {
		return fmt.Errorf("listing tenants: %w", err)
	}

	var failed int
	for _, tenantID := range tenantIDs {
		err := w.RunAs(ctx, tenantID, func(ctx context.Context) error {
			entities, err := w.Source.ListEntities(ctx)
			if err != nil {
				return fmt.Errorf("discovering metadata: %w", err)
			}
			for _, m := range entities {
				if err := w.Mappings.UpsertMapping(ctx, m); err != nil {
					return err
				}
			}
			if w.Logger != nil {
				w.Logger.Info("refreshed entity mappings",
					zap.String("tenant_id", tenantID),
					zap.Int("entities", len(entities)))
			}
			return nil
		})
		if err != nil {
			failed++
			if w.Logger != nil {
				w.Logger.Warn("metadata discovery failed for tenant",
					zap.String("tenant_id", tenantID),
					zap.Error(err))
			}
		}
	}

	if failed > 0 && failed == len(tenantIDs) {
		return fmt.Errorf("metadata discovery failed for all %d tenants", failed)
	}
	return nil
}

// ChunkWriter replaces the stored chunks of one source document.
type ChunkWriter interface {
	ReplaceSource(ctx context.Context, sourcePath string, chunks []retrieval.Chunk, embeddings [][]float32) error
}

// DocumentImport chunks workspace documents into the retrieval corpus for
// one tenant. Files over the workspace size cap or with non-UTF-8 content
// are skipped. Embed is optional; without it chunks are keyword-only.
type DocumentImport struct {
	TenantID   string
	PathPrefix string
	Source     builtin.Workspace
	Chunks     ChunkWriter
	Embed      func(ctx context.Context, text string) ([]float32, error)
	RunAs      TenantRunner
	Logger     *zap.Logger
}

func (w *DocumentImport) Name() string { return "document_import" }

func (w *DocumentImport) Run(ctx context.Context) error {
	return w.RunAs(ctx, w.TenantID, func(ctx context.Context) error {
		files, err := w.Source.ListFiles(ctx, w.PathPrefix)
		if err != nil {
			return fmt.Errorf("listing documents: %w", err)
		}

		imported, skipped := 0, 0
		for _, f := range files {
			doc, err := w.Source.ReadFile(ctx, f.Path)
			if err != nil {
				return fmt.Errorf("reading %s: %w", f.Path, err)
			}
			if !builtin.ReadableFile(doc) {
				skipped++
				continue
			}

			chunks := splitDocument(doc.Path, doc.Content)
			embeddings, err := w.embedAll(ctx, chunks)
			if err != nil {
				return fmt.Errorf("embedding %s: %w", f.Path, err)
			}
			if err := w.Chunks.ReplaceSource(ctx, doc.Path, chunks, embeddings); err != nil {
				return err
			}
			imported++
		}

		if w.Logger != nil {
			w.Logger.Info("document import complete",
				zap.String("tenant_id", w.TenantID),
				zap.Int("imported", imported),
				zap.Int("skipped", skipped))
		}
		return nil
	})
}

func (w *DocumentImport) embedAll(ctx context.Context, chunks []retrieval.Chunk) ([][]float32, error) {
	if w.Embed == nil {
		return nil, nil
	}
	embeddings := make([][]float32, len(chunks))
	for i, c := range chunks {
		vector, err := w.Embed(ctx, c.Content)
		if err != nil {
			return nil, err
		}
		embeddings[i] = vector
	}
	return embeddings, nil
}

// splitDocument breaks content into chunks of roughly chunkTargetSize
// characters along paragraph boundaries. A paragraph longer than the budget
// becomes its own chunk rather than being split mid-sentence.
func splitDocument(path, content string) []retrieval.Chunk {
	title := path
	if i := strings.LastIndexByte(path, '/'); i >= 0 {
		title = path[i+1:]
	}

	paragraphs := strings.Split(content, "\n\n")
	var chunks []retrieval.Chunk
	var buf strings.Builder
	flush := func() {
		text := strings.TrimSpace(buf.String())
		buf.Reset()
		if text == "" {
			return
		}
		chunks = append(chunks, retrieval.Chunk{
			SourcePath: path,
			Title:      title,
			Content:    text,
		})
	}

	for _, p := range paragraphs {
		if buf.Len() > 0 && buf.Len()+len(p) > chunkTargetSize {
			flush()
		}
		if buf.Len() > 0 {
			buf.WriteString("\n\n")
		}
		buf.WriteString(p)
	}
	flush()
	return chunks
}
