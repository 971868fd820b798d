package service

import (
	"context"
	"fmt"
	"time"

	"github.com/raphaelgruber/batchsub/internal/listing"
	"github.com/raphaelgruber/batchsub/internal/metrics"
	"github.com/raphaelgruber/batchsub/internal/partition"
	"golang.org/x/sync/errgroup"
)

// CategoryFiles is the discovered input of one category.
type CategoryFiles struct {
	Category string
	Path     string
	Files    *listing.FileSet
}

// Discover walks every category's discovery root, at most Concurrency at a
// time. The result follows the order of Categories. The first failure
// cancels the remaining walks and is returned.
func (s *Submitter) Discover(ctx context.Context) ([]CategoryFiles, error) {
	out := make([]CategoryFiles, len(s.Categories))

	g, gctx := errgroup.WithContext(ctx)
	if s.Concurrency > 0 {
		g.SetLimit(s.Concurrency)
	}

	for i, category := range s.Categories {
		path := s.PathFor(category)
		g.Go(func() error {
			start := time.Now()
			files, err := listing.Walk(gctx, s.Source, path)
			if err != nil {
				s.Metrics.RecordFailure(metrics.OpListing, time.Since(start))
				return fmt.Errorf("discover %s: %w", category, err)
			}
			s.Metrics.RecordTiming(metrics.OpListing, time.Since(start))

			files = listing.QualifyAll(files, s.Source)
			s.logger().Debug("category discovered", "category", category, "path", path, "files", files.Len())
			out[i] = CategoryFiles{Category: category, Path: path, Files: files}
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return nil, err
	}
	return out, nil
}

// CategoryPlan summarizes how one category will be split.
type CategoryPlan struct {
	Category  string
	Path      string
	Files     int
	GroupSize int
	Jobs      int
}

// Plan is the dry-run view of a submission.
type Plan struct {
	Categories []CategoryPlan
}

// TotalFiles sums the discovered files across categories.
func (p *Plan) TotalFiles() int {
	n := 0
	for _, c := range p.Categories {
		n += c.Files
	}
	return n
}

// TotalJobs sums the job counts across categories.
func (p *Plan) TotalJobs() int {
	n := 0
	for _, c := range p.Categories {
		n += c.Jobs
	}
	return n
}

// Plan discovers and partitions without writing anything.
func (s *Submitter) Plan(ctx context.Context) (*Plan, error) {
	discovered, err := s.Discover(ctx)
	if err != nil {
		return nil, err
	}
	return planFor(discovered, s.Policy), nil
}

func planFor(discovered []CategoryFiles, policy partition.Policy) *Plan {
	p := &Plan{Categories: make([]CategoryPlan, 0, len(discovered))}
	for _, c := range discovered {
		size := policy.GroupSize(c.Category)
		p.Categories = append(p.Categories, CategoryPlan{
			Category:  c.Category,
			Path:      c.Path,
			Files:     c.Files.Len(),
			GroupSize: size,
			Jobs:      partition.Count(c.Files.Len(), size),
		})
	}
	return p
}
