package jailhouse

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"poudctl/internal/executor"
)

// ErrOperationFailed marks a failed operation in a Report.
var ErrOperationFailed = errors.New("operation failed")

// Status is the outcome of one operation.
type Status string

const (
	StatusChanged Status = "changed"
	StatusNoop    Status = "noop"
	StatusFailed  Status = "failed"
	StatusSkipped Status = "skipped"
)

// OpResult records what happened to one operation.
type OpResult struct {
	Key      string
	Kind     OpKind
	Status   Status
	Err      error
	Duration time.Duration
}

// Report is the outcome of applying a plan.
type Report struct {
	Subject string
	Results []OpResult
}

// Failed reports whether any operation failed.
func (r *Report) Failed() bool {
	for _, res := range r.Results {
		if res.Status == StatusFailed {
			return true
		}
	}
	return false
}

// Changed reports whether any operation changed the host.
func (r *Report) Changed() bool {
	for _, res := range r.Results {
		if res.Status == StatusChanged {
			return true
		}
	}
	return false
}

// Err joins the errors of every failed operation, or returns nil.
func (r *Report) Err() error {
	var errs []error
	for _, res := range r.Results {
		if res.Status == StatusFailed {
			errs = append(errs, fmt.Errorf("%s: %w", res.Key, res.Err))
		}
	}
	return errors.Join(errs...)
}

// Applier executes plans in order.
type Applier struct {
	exec   executor.Executor
	logger *slog.Logger
}

// NewApplier creates an applier that runs commands through exec.
func NewApplier(exec executor.Executor, logger *slog.Logger) *Applier {
	if logger == nil {
		logger = slog.Default()
	}
	return &Applier{exec: exec, logger: logger.With("component", "applier")}
}

// Apply runs every operation once, in plan order. An operation whose
// requirement did not succeed is skipped. Apply stops early only when
// ctx is cancelled; the remaining operations are then reported skipped.
func (a *Applier) Apply(ctx context.Context, plan *Plan) *Report {
	report := &Report{Subject: plan.Subject}
	succeeded := make(map[string]bool, len(plan.Operations))

	for _, op := range plan.Operations {
		res := OpResult{Key: op.Key, Kind: op.Kind}

		if blocker := unmetRequirement(op, succeeded); blocker != "" {
			res.Status = StatusSkipped
			a.logger.Warn("skipped", "op", op.Key, "requires", blocker)
			report.Results = append(report.Results, res)
			continue
		}
		if ctx.Err() != nil {
			res.Status = StatusSkipped
			report.Results = append(report.Results, res)
			continue
		}

		start := time.Now()
		changed, err := a.applyOne(ctx, op)
		res.Duration = time.Since(start)

		switch {
		case err != nil:
			res.Status = StatusFailed
			res.Err = fmt.Errorf("%w: %w", ErrOperationFailed, err)
			a.logger.Error("failed", "op", op.Key, "error", err)
		case changed:
			res.Status = StatusChanged
			succeeded[op.Key] = true
			a.logger.Info("changed", "op", op.Key, "duration", res.Duration)
		default:
			res.Status = StatusNoop
			succeeded[op.Key] = true
			a.logger.Debug("noop", "op", op.Key)
		}
		report.Results = append(report.Results, res)
	}
	return report
}

func unmetRequirement(op Operation, succeeded map[string]bool) string {
	for _, key := range op.Requires {
		if !succeeded[key] {
			return key
		}
	}
	return ""
}

func (a *Applier) applyOne(ctx context.Context, op Operation) (bool, error) {
	switch op.Kind {
	case OpExec:
		return a.applyExec(ctx, op)
	case OpFile, OpCron:
		return ensureFile(op)
	case OpDirectory:
		return ensureDirectory(op)
	default:
		return false, fmt.Errorf("unknown operation kind %q", op.Kind)
	}
}

func (a *Applier) applyExec(ctx context.Context, op Operation) (bool, error) {
	if op.Guard.Creates != "" {
		exists, err := a.exec.Exists(ctx, op.Guard.Creates)
		if err != nil {
			return false, fmt.Errorf("check %s: %w", op.Guard.Creates, err)
		}
		if exists {
			return false, nil
		}
	}
	if op.Guard.OnlyIf != nil {
		matched, err := a.query(ctx, *op.Guard.OnlyIf)
		if err != nil {
			return false, err
		}
		if !matched {
			return false, nil
		}
	}

	if op.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, op.Timeout)
		defer cancel()
	}
	if _, err := a.exec.Run(ctx, op.Command); err != nil {
		return false, err
	}
	return true, nil
}

// query runs q.Command and looks for a line whose first field is q.Match.
func (a *Applier) query(ctx context.Context, q Query) (bool, error) {
	res, err := a.exec.Run(ctx, q.Command)
	if err != nil {
		return false, fmt.Errorf("query %s: %w", q.Command.String(), err)
	}
	scanner := bufio.NewScanner(bytes.NewReader(res.Stdout))
	for scanner.Scan() {
		fields := strings.Fields(scanner.Text())
		if len(fields) > 0 && fields[0] == q.Match {
			return true, nil
		}
	}
	return false, scanner.Err()
}
