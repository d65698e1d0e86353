package main

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/sells-group/signmatch/internal/model"
	"github.com/sells-group/signmatch/internal/pipeline"
)

func docJob(name string) batchJob {
	return batchJob{
		Name: name,
		Load: func(context.Context) ([]model.Document, error) {
			return []model.Document{{WorkspaceID: "ws", Filename: name, Content: []byte("%PDF-1.7")}}, nil
		},
	}
}

func outcomeFor(outcome model.Outcome) processFunc {
	return func(context.Context, model.Document) (*pipeline.Result, error) {
		return &pipeline.Result{Outcome: outcome}, nil
	}
}

func TestProcessBatch_Empty(t *testing.T) {
	defer goleak.VerifyNone(t)

	summary, err := processBatch(context.Background(), nil, 10, 2, outcomeFor(model.OutcomeAutoMatch))
	require.NoError(t, err)
	assert.Equal(t, 0, summary.Jobs)
	assert.Empty(t, summary.Outcomes)
}

func TestProcessBatch_CountsOutcomes(t *testing.T) {
	defer goleak.VerifyNone(t)

	jobs := []batchJob{docJob("a.pdf"), docJob("b.pdf"), docJob("c.pdf")}
	process := func(_ context.Context, doc model.Document) (*pipeline.Result, error) {
		if doc.Filename == "b.pdf" {
			return &pipeline.Result{Outcome: model.OutcomeManualReview}, nil
		}
		return &pipeline.Result{Outcome: model.OutcomeAutoMatch}, nil
	}

	summary, err := processBatch(context.Background(), jobs, 0, 2, process)
	require.NoError(t, err)
	assert.Equal(t, 3, summary.Jobs)
	assert.Equal(t, int64(3), summary.Succeeded)
	assert.Equal(t, int64(0), summary.Failed)
	assert.Equal(t, 2, summary.Outcomes[model.OutcomeAutoMatch])
	assert.Equal(t, 1, summary.Outcomes[model.OutcomeManualReview])
}

func TestProcessBatch_AppliesLimit(t *testing.T) {
	defer goleak.VerifyNone(t)

	var calls atomic.Int32
	process := func(context.Context, model.Document) (*pipeline.Result, error) {
		calls.Add(1)
		return &pipeline.Result{Outcome: model.OutcomeAutoMatch}, nil
	}

	jobs := []batchJob{docJob("a.pdf"), docJob("b.pdf"), docJob("c.pdf"), docJob("d.pdf")}
	summary, err := processBatch(context.Background(), jobs, 2, 4, process)
	require.NoError(t, err)
	assert.Equal(t, 2, summary.Jobs)
	assert.Equal(t, int32(2), calls.Load())
}

func TestProcessBatch_FailureDoesNotAbort(t *testing.T) {
	defer goleak.VerifyNone(t)

	process := func(_ context.Context, doc model.Document) (*pipeline.Result, error) {
		if doc.Filename == "bad.pdf" {
			return nil, &pipeline.CollaboratorError{Stage: pipeline.StageOCR, Err: errors.New("boom")}
		}
		return &pipeline.Result{Outcome: model.OutcomeAutoMatch}, nil
	}
	loadFails := batchJob{
		Name: "unreadable",
		Load: func(context.Context) ([]model.Document, error) { return nil, errors.New("read failed") },
	}

	jobs := []batchJob{docJob("a.pdf"), docJob("bad.pdf"), loadFails, docJob("c.pdf")}
	summary, err := processBatch(context.Background(), jobs, 0, 1, process)
	require.NoError(t, err)
	assert.Equal(t, int64(2), summary.Succeeded)
	assert.Equal(t, int64(2), summary.Failed)
}

func TestProcessBatch_FailureSkipsRestOfJob(t *testing.T) {
	defer goleak.VerifyNone(t)

	var seen []string
	process := func(_ context.Context, doc model.Document) (*pipeline.Result, error) {
		seen = append(seen, doc.Filename)
		if doc.Filename == "2.pdf" {
			return nil, errors.New("boom")
		}
		return &pipeline.Result{Outcome: model.OutcomeAutoMatch}, nil
	}
	job := batchJob{
		Name: "message:m1",
		Load: func(context.Context) ([]model.Document, error) {
			return []model.Document{{Filename: "1.pdf"}, {Filename: "2.pdf"}, {Filename: "3.pdf"}}, nil
		},
	}

	summary, err := processBatch(context.Background(), []batchJob{job}, 0, 1, process)
	require.NoError(t, err)
	assert.Equal(t, []string{"1.pdf", "2.pdf"}, seen)
	assert.Equal(t, int64(1), summary.Succeeded)
	assert.Equal(t, int64(1), summary.Failed)
}

func TestDirJobs(t *testing.T) {
	dir := t.TempDir()
	for _, name := range []string{"b.pdf", "a.PDF", "notes.txt"} {
		require.NoError(t, os.WriteFile(filepath.Join(dir, name), []byte("%PDF-1.7 "+name), 0o644))
	}
	require.NoError(t, os.Mkdir(filepath.Join(dir, "nested.pdf"), 0o755))

	jobs, err := dirJobs(dir, "ws-1", "fm-a")
	require.NoError(t, err)
	require.Len(t, jobs, 2)
	assert.Equal(t, filepath.Join(dir, "a.PDF"), jobs[0].Name)
	assert.Equal(t, filepath.Join(dir, "b.pdf"), jobs[1].Name)

	docs, err := jobs[1].Load(context.Background())
	require.NoError(t, err)
	require.Len(t, docs, 1)
	assert.Equal(t, model.Document{
		WorkspaceID: "ws-1",
		Filename:    "b.pdf",
		Content:     []byte("%PDF-1.7 b.pdf"),
		FmKey:       "fm-a",
	}, docs[0])
}

func TestDirJobs_MissingDir(t *testing.T) {
	_, err := dirJobs(filepath.Join(t.TempDir(), "missing"), "ws", "")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "read dir")
}
