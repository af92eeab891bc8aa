// internal/common/camunda/worker.go
package camunda

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"action-engine/internal/common/config"
	"action-engine/internal/common/errors"
	"action-engine/internal/common/logger"
	"action-engine/internal/common/metrics"

	"github.com/camunda/zeebe/clients/go/v8/pkg/entities"
	"github.com/camunda/zeebe/clients/go/v8/pkg/worker"
	"github.com/camunda/zeebe/clients/go/v8/pkg/zbc"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

// JobRecorder receives per-job spans and OpenTelemetry measurements.
type JobRecorder interface {
	StartSpan(ctx context.Context, name string, attrs ...attribute.KeyValue) (context.Context, trace.Span)
	RecordJobProcessed(ctx context.Context, taskType, status string)
	RecordJobDuration(ctx context.Context, taskType string, duration time.Duration, status string)
}

var recorder JobRecorder

// SetJobRecorder installs r for every HandleJob call. Call it before workers start.
func SetJobRecorder(r JobRecorder) {
	recorder = r
}

// StartWorker opens a job worker for taskType. It returns nil when the worker
// is disabled in configuration.
func StartWorker(client zbc.Client, taskType string, wcfg config.WorkerConfig, handler worker.JobHandler, log logger.Logger) worker.JobWorker {
	if !wcfg.Enabled {
		log.Info("worker disabled", map[string]interface{}{"taskType": taskType})
		return nil
	}

	jw := client.NewJobWorker().
		JobType(taskType).
		Handler(handler).
		MaxJobsActive(wcfg.MaxJobsActive).
		Timeout(config.GetDuration(wcfg.Timeout)).
		Open()

	log.Info("worker started", map[string]interface{}{
		"taskType":      taskType,
		"maxJobsActive": wcfg.MaxJobsActive,
		"timeout_ms":    wcfg.Timeout,
	})
	return jw
}

// DecodeVariables unmarshals the job variables into v.
func DecodeVariables(job entities.Job, v interface{}) error {
	if err := json.Unmarshal([]byte(job.Variables), v); err != nil {
		return fmt.Errorf("parse job variables: %w", err)
	}
	return nil
}

// CompleteJob completes the job with output as process variables.
func CompleteJob(client worker.JobClient, job entities.Job, output interface{}, log logger.Logger) {
	cmd, err := client.NewCompleteJobCommand().
		JobKey(job.Key).
		VariablesFromObject(output)
	if err != nil {
		log.Error("failed to create complete job command", map[string]interface{}{
			"jobKey": job.Key,
			"error":  err.Error(),
		})
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if _, err := cmd.Send(ctx); err != nil {
		log.Error("failed to send complete job command", map[string]interface{}{
			"jobKey": job.Key,
			"error":  err.Error(),
		})
	}
}

// HandleJob runs fn under timeout, then completes the job with its output or
// hands the error to the BPMN error handler. Job metrics are recorded here.
func HandleJob(client worker.JobClient, job entities.Job, taskType string, timeout time.Duration, log logger.Logger, fn func(ctx context.Context) (interface{}, error)) {
	start := time.Now()
	log.Info("processing job", map[string]interface{}{
		"jobKey":             job.Key,
		"processInstanceKey": job.ProcessInstanceKey,
	})

	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	rec := recorder
	if rec != nil {
		var span trace.Span
		ctx, span = rec.StartSpan(ctx, "job."+taskType,
			attribute.Int64("job.key", job.Key),
			attribute.Int64("job.process_instance_key", job.ProcessInstanceKey),
		)
		defer span.End()
	}

	output, err := fn(ctx)
	elapsed := time.Since(start)
	metrics.WorkerJobDuration.WithLabelValues(taskType).Observe(elapsed.Seconds())

	status := "success"
	if err != nil {
		status = "failed"
	}
	if rec != nil {
		rec.RecordJobProcessed(ctx, taskType, status)
		rec.RecordJobDuration(ctx, taskType, elapsed, status)
	}

	if err != nil {
		metrics.WorkerJobsFailed.WithLabelValues(taskType, string(errors.CodeOf(err))).Inc()
		sendCtx, sendCancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer sendCancel()
		errors.NewErrorHandler(log).HandleJobError(sendCtx, client, job, err)
		return
	}

	metrics.WorkerJobsCompleted.WithLabelValues(taskType).Inc()
	CompleteJob(client, job, output, log)
}
