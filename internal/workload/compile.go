package workload

import (
	"context"
	"fmt"
	"hash/fnv"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"sync/atomic"
	"time"

	"framesched/internal/eventbus"
	"framesched/internal/task/engine"
	logx "framesched/pkg/logx"
)

// CompileResult is owned by the caller and filled by one task.
type CompileResult struct {
	Path string
	Size int64
	Hash uint64
	Err  error

	completed atomic.Int32
}

// Completed reports whether the task for this file has finished.
func (r *CompileResult) Completed() bool { return r.completed.Load() == 1 }

type CompileStats struct {
	Files  int           `json:"files"`
	Failed int           `json:"failed"`
	Bytes  int64         `json:"bytes"`
	Digest uint64        `json:"digest"`
	Took   time.Duration `json:"took"`
}

type compileJob struct {
	res       *CompileResult
	remaining *atomic.Int32
}

func compileFile(data any) {
	j := data.(*compileJob)
	j.res.Size, j.res.Hash, j.res.Err = hashFile(j.res.Path)
	j.res.completed.Store(1)
	j.remaining.Add(-1)
}

func hashFile(path string) (int64, uint64, error) {
	f, err := os.Open(path)
	if err != nil {
		return 0, 0, err
	}
	defer f.Close()
	h := fnv.New64a()
	n, err := io.Copy(h, f)
	if err != nil {
		return n, 0, err
	}
	return n, h.Sum64(), nil
}

// Compile hashes every regular file under dir whose base name matches
// pattern ("" matches everything), one task per file. Files are submitted in
// batches that fit the scheduler capacity; each batch is awaited before the
// next is queued. The results are sorted by path.
func Compile(ctx context.Context, r Runner, dir, pattern string, log logx.Logger, bus eventbus.Bus) ([]*CompileResult, CompileStats, error) {
	start := time.Now()
	if pattern == "" {
		pattern = "*"
	}

	var results []*CompileResult
	err := filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if !d.Type().IsRegular() {
			return nil
		}
		ok, err := filepath.Match(pattern, d.Name())
		if err != nil {
			return err
		}
		if ok {
			results = append(results, &CompileResult{Path: path})
		}
		return nil
	})
	if err != nil {
		return nil, CompileStats{}, fmt.Errorf("compile walk %s: %w", dir, err)
	}
	sort.Slice(results, func(i, j int) bool { return results[i].Path < results[j].Path })

	log.Info("compile started", logx.String("dir", dir), logx.String("pattern", pattern), logx.Int("files", len(results)))

	batch := max(1, r.Capacity()/2)
	jobs := make([]compileJob, len(results))
	items := make([]engine.Item, 0, min(batch, len(results)))
	var remaining atomic.Int32
	for lo := 0; lo < len(results); lo += batch {
		if err := ctx.Err(); err != nil {
			return results, CompileStats{}, err
		}
		hi := min(lo+batch, len(results))
		items = items[:0]
		remaining.Store(int32(hi - lo))
		for i := lo; i < hi; i++ {
			jobs[i] = compileJob{res: results[i], remaining: &remaining}
			items = append(items, engine.Item{Name: "compile.file", Work: compileFile, Data: &jobs[i]})
		}
		r.Submit(items...)
		waitZero(r, &remaining)
	}

	st := CompileStats{Files: len(results), Took: time.Since(start)}
	digest := fnv.New64a()
	var buf [8]byte
	for _, res := range results {
		if !res.Completed() {
			return results, st, fmt.Errorf("compile: %s never completed", res.Path)
		}
		if res.Err != nil {
			st.Failed++
			log.Warn("compile failed", logx.String("path", res.Path), logx.Err(res.Err))
			continue
		}
		st.Bytes += res.Size
		for k := 0; k < 8; k++ {
			buf[k] = byte(res.Hash >> (8 * k))
		}
		_, _ = digest.Write(buf[:])
	}
	st.Digest = digest.Sum64()

	log.Info("compile finished",
		logx.Int("files", st.Files),
		logx.Int("failed", st.Failed),
		logx.Int64("bytes", st.Bytes),
		logx.Duration("took", st.Took),
		logx.String("digest", fmt.Sprintf("%016x", st.Digest)),
	)
	if bus != nil {
		bus.Publish(eventbus.Event{Type: EventFinished, Data: st})
	}
	return results, st, nil
}
