package s3blob

import (
	"bytes"
	"compress/gzip"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"sort"
	"strings"
	"time"

	"github.com/alanyoungcy/yieldmarket/internal/domain"
)

const (
	snapshotPrefix = "snapshots/"
	eventPrefix    = "archive/events/"
	eventPageSize  = 1000
	jsonlGzipType  = "application/x-ndjson+gzip"
)

// Archiver implements domain.Archiver. Snapshots are single gzipped JSON
// objects keyed by zero-padded block so that the lexically greatest key is
// the latest. Event archives are gzipped JSONL streamed through a multipart
// upload.
//
// Archived events are not deleted here; retention runs as its own step once
// the upload has succeeded.
type Archiver struct {
	writer domain.BlobWriter
	reader domain.BlobReader
	events domain.EventStore
	audit  domain.AuditStore
}

// NewArchiver wires an Archiver. audit may be nil.
func NewArchiver(writer domain.BlobWriter, reader domain.BlobReader, events domain.EventStore, audit domain.AuditStore) *Archiver {
	return &Archiver{writer: writer, reader: reader, events: events, audit: audit}
}

// ArchiveSnapshot uploads snap and returns its path. A block that is already
// archived is not uploaded again.
func (a *Archiver) ArchiveSnapshot(ctx context.Context, snap domain.StateSnapshot) (string, error) {
	path := snapshotPath(snap.Block)
	exists, err := a.reader.Exists(ctx, path)
	if err != nil {
		return "", fmt.Errorf("s3blob: archive snapshot: %w", err)
	}
	if exists {
		return path, nil
	}

	var buf bytes.Buffer
	zw := gzip.NewWriter(&buf)
	if err := json.NewEncoder(zw).Encode(snap); err != nil {
		return "", fmt.Errorf("s3blob: encode snapshot: %w", err)
	}
	if err := zw.Close(); err != nil {
		return "", fmt.Errorf("s3blob: compress snapshot: %w", err)
	}

	if err := a.writer.Put(ctx, path, &buf, "application/gzip"); err != nil {
		return "", fmt.Errorf("s3blob: archive snapshot: %w", err)
	}
	a.log(ctx, "archive.snapshot", map[string]any{
		"path":            path,
		"block":           snap.Block,
		"markets":         len(snap.Markets),
		"yield_contracts": len(snap.YieldContracts),
	})
	return path, nil
}

// LatestSnapshot downloads the newest snapshot. It returns domain.ErrNotFound
// when none has been archived.
func (a *Archiver) LatestSnapshot(ctx context.Context) (domain.StateSnapshot, error) {
	infos, err := a.reader.List(ctx, snapshotPrefix)
	if err != nil {
		return domain.StateSnapshot{}, err
	}
	var paths []string
	for _, info := range infos {
		if strings.HasSuffix(info.Path, ".json.gz") {
			paths = append(paths, info.Path)
		}
	}
	if len(paths) == 0 {
		return domain.StateSnapshot{}, fmt.Errorf("s3blob: latest snapshot: %w", domain.ErrNotFound)
	}
	sort.Strings(paths)
	latest := paths[len(paths)-1]

	body, err := a.reader.Get(ctx, latest)
	if err != nil {
		return domain.StateSnapshot{}, err
	}
	defer body.Close()
	zr, err := gzip.NewReader(body)
	if err != nil {
		return domain.StateSnapshot{}, fmt.Errorf("s3blob: open snapshot %s: %w", latest, err)
	}
	defer zr.Close()

	var snap domain.StateSnapshot
	if err := json.NewDecoder(zr).Decode(&snap); err != nil {
		return domain.StateSnapshot{}, fmt.Errorf("s3blob: decode snapshot %s: %w", latest, err)
	}
	return snap, nil
}

// ArchiveEvents uploads every stored event older than before and returns how
// many were written. Nothing is uploaded when there are none.
func (a *Archiver) ArchiveEvents(ctx context.Context, before time.Time) (int64, error) {
	cutoff := before.Add(-time.Nanosecond)
	first, err := a.events.List(ctx, "", domain.ListOpts{Until: &cutoff, Limit: 1})
	if err != nil {
		return 0, fmt.Errorf("s3blob: archive events query: %w", err)
	}
	if len(first) == 0 {
		return 0, nil
	}

	pr, pw := io.Pipe()
	counted := make(chan int64, 1)
	go func() {
		n, err := a.writeEvents(ctx, pw, cutoff)
		counted <- n
		pw.CloseWithError(err)
	}()

	path := eventArchivePath(before)
	if err := a.writer.PutMultipart(ctx, path, pr, 0); err != nil {
		_ = pr.CloseWithError(err)
		<-counted
		return 0, fmt.Errorf("s3blob: archive events upload: %w", err)
	}
	count := <-counted

	a.log(ctx, "archive.events", map[string]any{
		"path":   path,
		"count":  count,
		"before": before.Format(time.RFC3339),
	})
	return count, nil
}

// writeEvents pages through the store and writes gzipped JSONL to w.
func (a *Archiver) writeEvents(ctx context.Context, w io.Writer, cutoff time.Time) (int64, error) {
	zw := gzip.NewWriter(w)
	enc := json.NewEncoder(zw)
	enc.SetEscapeHTML(false)

	var count int64
	for offset := 0; ; offset += eventPageSize {
		page, err := a.events.List(ctx, "", domain.ListOpts{Until: &cutoff, Limit: eventPageSize, Offset: offset})
		if err != nil {
			return count, fmt.Errorf("s3blob: archive events page %d: %w", offset, err)
		}
		for _, ev := range page {
			if err := enc.Encode(ev); err != nil {
				return count, fmt.Errorf("s3blob: encode event %s: %w", ev.ID, err)
			}
			count++
		}
		if len(page) < eventPageSize {
			break
		}
	}
	return count, zw.Close()
}

func (a *Archiver) log(ctx context.Context, event string, detail map[string]any) {
	if a.audit != nil {
		_ = a.audit.Log(ctx, event, detail)
	}
}

// snapshotPath is snapshots/<block, 20 digits>.json.gz.
func snapshotPath(block uint64) string {
	return fmt.Sprintf("%s%020d.json.gz", snapshotPrefix, block)
}

// eventArchivePath partitions event archives by cutoff date:
//
//	archive/events/2025-01-31T000000Z.jsonl.gz
func eventArchivePath(before time.Time) string {
	return eventPrefix + before.UTC().Format("2006-01-02T150405Z") + ".jsonl.gz"
}

var _ domain.Archiver = (*Archiver)(nil)
