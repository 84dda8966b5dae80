package syncq

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/peterbourgon/diskv/v3"
)

// DiskOutbox keeps entries as JSON files under a base directory so that
// unsent changes survive a restart.
type DiskOutbox struct {
	d *diskv.Diskv

	mu  sync.Mutex
	seq int64
}

// NewDiskOutbox opens (or creates) an outbox rooted at basePath.
func NewDiskOutbox(basePath string) (*DiskOutbox, error) {
	o := &DiskOutbox{d: diskv.New(diskv.Options{
		BasePath:          basePath,
		AdvancedTransform: entryPath,
		InverseTransform:  entryKey,
		CacheSizeMax:      1024 * 1024,
	})}

	entries, err := o.List(context.Background(), "")
	if err != nil {
		return nil, err
	}
	for _, e := range entries {
		o.seq = max(o.seq, e.Seq)
	}
	return o, nil
}

// entryPath shards files by the first two characters of the id.
func entryPath(key string) *diskv.PathKey {
	shard := "00"
	if len(key) >= 2 {
		shard = key[:2]
	}
	return &diskv.PathKey{Path: []string{shard}, FileName: key}
}

func entryKey(pk *diskv.PathKey) string {
	return pk.FileName
}

func (o *DiskOutbox) write(e *Entry) error {
	data, err := json.Marshal(e)
	if err != nil {
		return fmt.Errorf("marshal outbox entry: %w", err)
	}
	return o.d.Write(e.ID, data)
}

func (o *DiskOutbox) read(id string) (*Entry, error) {
	data, err := o.d.Read(id)
	if err != nil {
		return nil, err
	}
	var e Entry
	if err := json.Unmarshal(data, &e); err != nil {
		return nil, fmt.Errorf("decode outbox entry %s: %w", id, err)
	}
	return &e, nil
}

func (o *DiskOutbox) Append(_ context.Context, e *Entry) error {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.seq++
	e.Seq = o.seq
	return o.write(e)
}

func (o *DiskOutbox) Get(_ context.Context, id string) (*Entry, error) {
	if !o.d.Has(id) {
		return nil, ErrNotFound
	}
	return o.read(id)
}

func (o *DiskOutbox) Update(_ context.Context, e *Entry) error {
	o.mu.Lock()
	defer o.mu.Unlock()
	if !o.d.Has(e.ID) {
		return ErrNotFound
	}
	return o.write(e)
}

func (o *DiskOutbox) Delete(_ context.Context, id string) error {
	o.mu.Lock()
	defer o.mu.Unlock()
	if !o.d.Has(id) {
		return ErrNotFound
	}
	return o.d.Erase(id)
}

func (o *DiskOutbox) List(ctx context.Context, status string) ([]*Entry, error) {
	var out []*Entry
	for key := range o.d.Keys(ctx.Done()) {
		e, err := o.read(key)
		if err != nil {
			return nil, err
		}
		if status == "" || e.Status == status {
			out = append(out, e)
		}
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	sortEntries(out)
	return out, nil
}
