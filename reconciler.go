/*
Copyright 2024 Kreatum Authors.

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

	http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

package kreatum

import (
	"context"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel"

	"github.com/kreatum/kreatum/config"
	"github.com/kreatum/kreatum/internal/notification"
	"github.com/kreatum/kreatum/model"
	"github.com/kreatum/kreatum/provider"
	"github.com/kreatum/kreatum/storage"
)

// ProviderEvent is a normalized provider notification, fed by the webhook
// endpoint. The poller builds the same shape from status queries, so both
// drivers converge on one pair of apply operations.
type ProviderEvent struct {
	RequestID   string                 `json:"request_id"`
	Status      string                 `json:"status"`
	ResponseURL string                 `json:"response_url"`
	Payload     map[string]interface{} `json:"payload"`
}

// HandleProviderEvent is the webhook driver. Deliveries are at-least-once and
// may arrive after the poller already finished the job; every outcome here is
// a conditional write, so duplicates and late arrivals degrade to no-ops.
func (k *Kreatum) HandleProviderEvent(ctx context.Context, event ProviderEvent) error {
	ctx, span := otel.Tracer("kreatum.reconciler").Start(ctx, "HandleProviderEvent")
	defer span.End()

	job, err := k.datasource.GetJobByRequestID(ctx, event.RequestID)
	if err != nil {
		return err
	}
	if model.IsTerminalStatus(job.Status) {
		logrus.Infof("provider event for finished job %s ignored", job.JobID)
		return nil
	}

	switch provider.NormalizeState(event.Status) {
	case provider.StateCompleted:
		payload := event.Payload
		if payload == nil && event.ResponseURL != "" {
			payload, err = k.provider.FetchQueueJSON(ctx, event.ResponseURL)
			if err != nil {
				return err
			}
		}
		if payload == nil {
			payload, err = k.provider.Result(ctx, job.Handle())
			if err != nil {
				return err
			}
		}
		return k.applyCompletion(ctx, job, payload, false)
	case provider.StateFailed, provider.StateCancelled:
		return k.applyFailure(ctx, job)
	case provider.StateInProgress:
		return k.datasource.MarkJobProcessing(ctx, job.JobID)
	default:
		// Unknown provider statuses carry no transition. The poller keeps
		// watching the job.
		return nil
	}
}

// applyCompletion finishes a job from a COMPLETED provider payload: extract
// the media reference, pull the bytes, store them, and flip the job to done
// under the terminal guard. Whichever driver lands the conditional write
// first wins; the loser's call returns without side effects.
//
// A COMPLETED payload with no extractable media is a terminal failure. The
// provider already performed the compute, so by default the reservation is
// treated as consumed; the refund_on_media_failure flag reverses that policy.
//
// canRetry says whether the caller will try this job again. The poller will,
// so its storage errors bubble up and the next tick repeats the attempt. The
// webhook driver gets one delivery, so for it a storage error is as terminal
// as missing media; leaving the job open would strand the reservation.
func (k *Kreatum) applyCompletion(ctx context.Context, job *model.Job, payload map[string]interface{}, canRetry bool) error {
	ctx, span := otel.Tracer("kreatum.reconciler").Start(ctx, "applyCompletion")
	defer span.End()

	cnf, err := config.Fetch()
	if err != nil {
		return err
	}

	mediaURL := provider.ExtractMediaURL(payload)
	if mediaURL == "" {
		logrus.Warnf("no media reference in completed payload for job %s", job.JobID)
		return k.failWithoutMedia(ctx, job, cnf.Provider.RefundOnMediaFailure)
	}

	body, contentType, err := k.provider.FetchBytes(ctx, mediaURL)
	if err != nil {
		logrus.Errorf("media fetch for job %s: %v", job.JobID, err)
		return k.failWithoutMedia(ctx, job, cnf.Provider.RefundOnMediaFailure)
	}

	ownerID := job.UserID
	if job.AnonUserID != "" {
		ownerID = job.AnonUserID
	}
	key := storage.KeyForResult(ownerID, job.OrderID, 0, storage.ExtForContentType(contentType))
	if err := k.storage.Put(ctx, key, body, contentType); err != nil {
		logrus.Errorf("result store for job %s: %v", job.JobID, err)
		if canRetry {
			return err
		}
		return k.failWithoutMedia(ctx, job, cnf.Provider.RefundOnMediaFailure)
	}
	resultURL, _, err := k.storage.Presign(key)
	if err != nil {
		logrus.Errorf("result presign for job %s: %v", job.JobID, err)
		if canRetry {
			return err
		}
		return k.failWithoutMedia(ctx, job, cnf.Provider.RefundOnMediaFailure)
	}

	won, err := k.datasource.CompleteJob(ctx, job.JobID, resultURL)
	if err != nil {
		return err
	}
	if !won {
		logrus.Infof("job %s already terminal, completion discarded", job.JobID)
		return nil
	}

	k.SendJobEvent("job.completed", job, map[string]interface{}{"result_url": resultURL})
	return nil
}

func (k *Kreatum) failWithoutMedia(ctx context.Context, job *model.Job, refund bool) error {
	failed, err := k.datasource.FailJob(ctx, job.JobID)
	if err != nil {
		return err
	}
	if !failed {
		return nil
	}
	if refund {
		if _, err := k.RefundJob(ctx, job.JobID, "media retrieval failed"); err != nil {
			logrus.Errorf("refund after media failure of job %s: %v", job.JobID, err)
		}
	}
	k.SendJobEvent("job.failed", job, map[string]interface{}{"message": "media retrieval failed"})
	return nil
}

// applyFailure handles FAILED or CANCELLED from the provider: refund the
// reservation and flip the job to failed, both guarded.
func (k *Kreatum) applyFailure(ctx context.Context, job *model.Job) error {
	ctx, span := otel.Tracer("kreatum.reconciler").Start(ctx, "applyFailure")
	defer span.End()

	failed, err := k.datasource.FailJob(ctx, job.JobID)
	if err != nil {
		return err
	}
	if !failed {
		return nil
	}

	if _, err := k.RefundJob(ctx, job.JobID, "provider reported failure"); err != nil {
		logrus.Errorf("refund after provider failure of job %s: %v", job.JobID, err)
	}
	k.SendJobEvent("job.failed", job, map[string]interface{}{"message": "generation failed"})
	return nil
}

// Poller is the sweep driver: on a fixed interval it walks every paid,
// non-terminal job that has a request handle and reconciles it against the
// provider's reported state. It claims nothing exclusively; the terminal
// guards decide every race with the webhook driver.
type Poller struct {
	kreatum  *Kreatum
	interval time.Duration
	cancel   context.CancelFunc
	wg       sync.WaitGroup
}

func NewPoller(k *Kreatum) (*Poller, error) {
	cnf, err := config.Fetch()
	if err != nil {
		return nil, err
	}
	return &Poller{
		kreatum:  k,
		interval: time.Duration(cnf.Provider.PollIntervalSec) * time.Second,
	}, nil
}

// Start launches the poll loop. It runs until Stop is called.
func (p *Poller) Start(ctx context.Context) {
	ctx, p.cancel = context.WithCancel(ctx)
	p.wg.Add(1)
	go func() {
		defer p.wg.Done()
		ticker := time.NewTicker(p.interval)
		defer ticker.Stop()
		logrus.Infof("poller started, interval %s", p.interval)
		for {
			select {
			case <-ctx.Done():
				logrus.Info("poller stopped")
				return
			case <-ticker.C:
				p.tick(ctx)
			}
		}
	}()
}

// Stop cancels the loop and waits for the current tick to finish.
func (p *Poller) Stop() {
	if p.cancel != nil {
		p.cancel()
	}
	p.wg.Wait()
}

// tick sweeps pollable jobs. A panic while reconciling one job is contained
// to this tick; per-job errors are logged and retried on the next interval.
func (p *Poller) tick(ctx context.Context) {
	defer func() {
		if r := recover(); r != nil {
			logrus.Errorf("poller tick panic: %v", r)
		}
	}()

	jobs, err := p.kreatum.datasource.ListPollableJobs(ctx)
	if err != nil {
		notification.NotifyError(err)
		return
	}

	for _, job := range jobs {
		if err := p.kreatum.reconcileJob(ctx, job); err != nil {
			logrus.Errorf("poller reconcile job %s: %v", job.JobID, err)
		}
	}
}

// reconcileJob queries the provider for one job and applies the outcome.
func (k *Kreatum) reconcileJob(ctx context.Context, job *model.Job) error {
	handle := job.Handle()

	status, err := k.provider.Status(ctx, handle)
	if err != nil {
		return err
	}

	switch status.Status {
	case provider.StateInProgress:
		return k.datasource.MarkJobProcessing(ctx, job.JobID)
	case provider.StateCompleted:
		payload, err := k.provider.Result(ctx, handle)
		if err != nil {
			return err
		}
		return k.applyCompletion(ctx, job, payload, true)
	case provider.StateFailed, provider.StateCancelled:
		return k.applyFailure(ctx, job)
	default:
		return nil
	}
}
