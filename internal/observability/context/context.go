// Package context carries job-scoped identifiers used to enrich logs.
package context

import "context"

type jobKey struct{}

// Job identifies one scheduler run.
type Job struct {
	Name  string
	RunID string
}

func WithJob(ctx context.Context, name, runID string) context.Context {
	return context.WithValue(ctx, jobKey{}, Job{Name: name, RunID: runID})
}

func JobFromContext(ctx context.Context) (Job, bool) {
	if ctx == nil {
		return Job{}, false
	}
	job, ok := ctx.Value(jobKey{}).(Job)
	return job, ok
}
