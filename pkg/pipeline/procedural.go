package pipeline

import (
	"context"
	"sync"

	"github.com/grinbot/grinbot/pkg/logger"
	"github.com/grinbot/grinbot/pkg/memory"
	"github.com/grinbot/grinbot/pkg/plugin"
)

type collectionResetter interface {
	DeleteCollection(ctx context.Context, class memory.Class) error
}

// ToolIndexer stores one procedural snippet per tool so recall can narrow
// the catalog. Register Listen with Manager.OnChange.
type ToolIndexer struct {
	writer   memory.Writer
	embedder memory.Embedder

	mu          sync.Mutex
	lastVersion uint64
	wg          sync.WaitGroup
}

func NewToolIndexer(writer memory.Writer, embedder memory.Embedder) *ToolIndexer {
	return &ToolIndexer{writer: writer, embedder: embedder}
}

// Listen indexes snap in the background; the manager lock is held while
// listeners run.
func (ix *ToolIndexer) Listen(ctx context.Context, snap *plugin.Snapshot) {
	ix.wg.Add(1)
	go func() {
		defer ix.wg.Done()
		if err := ix.Index(context.WithoutCancel(ctx), snap); err != nil {
			logger.WarnCF("pipeline", "Tool indexing failed",
				map[string]any{"version": snap.Version, "error": err.Error()})
		}
	}()
}

// Wait blocks until background indexing finished.
func (ix *ToolIndexer) Wait() { ix.wg.Wait() }

// Index replaces the procedural collection with snap's tools. Older
// snapshots than the last indexed one are ignored.
func (ix *ToolIndexer) Index(ctx context.Context, snap *plugin.Snapshot) error {
	if ix.writer == nil || ix.embedder == nil {
		return nil
	}
	ix.mu.Lock()
	defer ix.mu.Unlock()
	if snap.Version != 0 && snap.Version < ix.lastVersion {
		return nil
	}

	all := snap.Tools.All()
	texts := make([]string, len(all))
	for i, t := range all {
		texts[i] = t.Name + ": " + t.Description
	}
	vecs, err := ix.embedder.Embed(ctx, texts)
	if err != nil {
		return err
	}

	if r, ok := ix.writer.(collectionResetter); ok {
		if err := r.DeleteCollection(ctx, memory.Procedural); err != nil {
			return err
		}
	}
	for i, t := range all {
		err := ix.writer.Remember(ctx, memory.Procedural, memory.Snippet{
			ID:      "tool:" + t.Name,
			Content: texts[i],
			Metadata: memory.Metadata{
				Source: t.Plugin,
				Extra:  map[string]string{ToolKey: t.Name},
			},
		}, vecs[i])
		if err != nil {
			return err
		}
	}
	ix.lastVersion = snap.Version
	logger.InfoCF("pipeline", "Indexed tools for procedural recall",
		map[string]any{"tools": len(all), "version": snap.Version})
	return nil
}
