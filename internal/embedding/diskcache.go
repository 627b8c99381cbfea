package embedding

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"os"
	"path/filepath"
)

// DiskCache memoizes a provider's vectors as one JSON file per text under
// dir/<model>/. The directory is created on first use; unreadable entries
// count as misses.
type DiskCache struct {
	inner Provider
	dir   string
}

func NewDiskCache(inner Provider, dir, model string) *DiskCache {
	sum := sha256.Sum256([]byte(model))
	return &DiskCache{inner: inner, dir: filepath.Join(dir, hex.EncodeToString(sum[:8]))}
}

func (d *DiskCache) Dimensions() int { return d.inner.Dimensions() }

func (d *DiskCache) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	var missing []int
	for i, t := range texts {
		if v, ok := d.load(t); ok {
			out[i] = v
			continue
		}
		missing = append(missing, i)
	}
	if len(missing) == 0 {
		return out, nil
	}

	batch := make([]string, len(missing))
	for j, i := range missing {
		batch[j] = texts[i]
	}
	vectors, err := d.inner.Embed(ctx, batch)
	if err != nil {
		return nil, err
	}
	if err := os.MkdirAll(d.dir, 0o755); err != nil {
		// cache is best effort
		for j, i := range missing {
			out[i] = vectors[j]
		}
		return out, nil
	}
	for j, i := range missing {
		out[i] = vectors[j]
		d.store(texts[i], vectors[j])
	}
	return out, nil
}

func (d *DiskCache) path(text string) string {
	sum := sha256.Sum256([]byte(text))
	return filepath.Join(d.dir, hex.EncodeToString(sum[:])+".json")
}

func (d *DiskCache) load(text string) ([]float32, bool) {
	data, err := os.ReadFile(d.path(text))
	if err != nil {
		return nil, false
	}
	var v []float32
	if err := json.Unmarshal(data, &v); err != nil {
		return nil, false
	}
	return v, true
}

func (d *DiskCache) store(text string, v []float32) {
	data, err := json.Marshal(v)
	if err != nil {
		return
	}
	tmp := d.path(text) + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return
	}
	_ = os.Rename(tmp, d.path(text))
}
