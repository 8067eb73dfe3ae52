package main

import (
	"bufio"
	"context"
	"math/bits"
	"os"
	"slices"

	"github.com/bits-and-blooms/bloom/v3"
	"github.com/go-faster/errors"
	pgzip "github.com/klauspost/pgzip"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

const (
	bloomFPR      = 0.001
	progressEvery = 10_000_000
)

// finder selects the codes listed in at least minFiles of the given gzip
// files. Each file is streamed twice: first into its own bloom filter, then
// against the filters of the other files.
type finder struct {
	capacity uint
	minLen   int
	maxLen   int
	minFiles int
	lg       *zap.Logger
}

func (f *finder) accept(code string) bool {
	return len(code) >= f.minLen && len(code) <= f.maxLen
}

func (f *finder) find(ctx context.Context, files []string) ([]string, error) {
	if len(files) > bits.UintSize {
		return nil, errors.Errorf("too many files: %d", len(files))
	}
	if f.minFiles > len(files) {
		return nil, errors.Errorf("need %d files, got %d", f.minFiles, len(files))
	}

	f.lg.Info("Pass 1: building bloom filters", zap.Int("files", len(files)))
	filters := make([]*bloom.BloomFilter, len(files))
	g, gctx := errgroup.WithContext(ctx)
	for i, path := range files {
		g.Go(func() error {
			filter, err := f.buildFilter(gctx, i, path)
			if err != nil {
				return errors.Wrapf(err, "build filter for %s", path)
			}
			filters[i] = filter
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	f.lg.Info("Pass 2: finding candidate codes")
	results := make([]map[string]uint, len(files))
	g, gctx = errgroup.WithContext(ctx)
	for i, path := range files {
		g.Go(func() error {
			candidates, err := f.candidates(gctx, i, path, filters)
			if err != nil {
				return errors.Wrapf(err, "scan %s for candidates", path)
			}
			results[i] = candidates
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	merged := make(map[string]uint)
	for _, r := range results {
		for code, mask := range r {
			merged[code] |= mask
		}
	}
	var valid []string
	for code, mask := range merged {
		if bits.OnesCount(mask) >= f.minFiles {
			valid = append(valid, code)
		}
	}
	slices.Sort(valid)
	return valid, nil
}

func (f *finder) buildFilter(ctx context.Context, idx int, path string) (*bloom.BloomFilter, error) {
	filter := bloom.NewWithEstimates(f.capacity, bloomFPR)
	var count uint64
	err := streamGzFile(ctx, path, func(code string) {
		if !f.accept(code) {
			return
		}
		filter.AddString(code)
		count++
		if count%progressEvery == 0 {
			f.lg.Info("Pass 1 progress", zap.Int("file", idx+1), zap.Uint64("codes", count))
		}
	})
	if err != nil {
		return nil, err
	}
	f.lg.Info("Pass 1 complete", zap.Int("file", idx+1), zap.Uint64("total_codes", count))
	return filter, nil
}

// candidates marks the codes of one file that some other file's filter may
// contain with the bit of this file. Merging the masks of all files drops
// bloom false positives, since a code only counts for files that list it.
func (f *finder) candidates(ctx context.Context, idx int, path string, filters []*bloom.BloomFilter) (map[string]uint, error) {
	candidates := make(map[string]uint)
	fileBit := uint(1) << uint(idx)
	var count uint64

	err := streamGzFile(ctx, path, func(code string) {
		if !f.accept(code) {
			return
		}
		count++
		if count%progressEvery == 0 {
			f.lg.Info("Pass 2 progress", zap.Int("file", idx+1), zap.Uint64("codes", count))
		}
		for j, other := range filters {
			if j != idx && other.TestString(code) {
				candidates[code] |= fileBit
				return
			}
		}
	})
	if err != nil {
		return nil, err
	}
	f.lg.Info("Pass 2 complete",
		zap.Int("file", idx+1),
		zap.Uint64("total_codes", count),
		zap.Int("candidates", len(candidates)),
	)
	return candidates, nil
}

// streamGzFile opens a gzip-compressed file and calls fn for each line.
func streamGzFile(ctx context.Context, path string, fn func(code string)) error {
	file, err := os.Open(path)
	if err != nil {
		return errors.Wrapf(err, "open %s", path)
	}
	defer func() { _ = file.Close() }()

	gz, err := pgzip.NewReader(file)
	if err != nil {
		return errors.Wrapf(err, "create gzip reader for %s", path)
	}
	defer func() { _ = gz.Close() }()

	scanner := bufio.NewScanner(gz)
	for scanner.Scan() {
		if err := ctx.Err(); err != nil {
			return err
		}
		fn(scanner.Text())
	}
	if err := scanner.Err(); err != nil {
		return errors.Wrapf(err, "scan %s", path)
	}
	return nil
}
