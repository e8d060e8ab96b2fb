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

	"github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel"

	"github.com/kreatum/kreatum/config"
	"github.com/kreatum/kreatum/model"
)

// resolveEndpoint picks the provider model path for a job, in priority order:
// explicit per-job override, the catalog entry's declared endpoint, the
// catalog entry's name, then the configured default.
func resolveEndpoint(cnf *config.Configuration, job *model.Job, genModel *model.GenModel) string {
	if job.MetaData != nil {
		if override, ok := job.MetaData["endpoint_override"].(string); ok && override != "" {
			return override
		}
	}
	if genModel != nil {
		if genModel.Endpoint != "" {
			return genModel.Endpoint
		}
		if genModel.Name != "" {
			return genModel.Name
		}
	}
	return cnf.Provider.DefaultEndpoint
}

// buildArguments converts a job's typed input items into provider arguments.
func buildArguments(job *model.Job) map[string]interface{} {
	desc := model.Descriptor(job.Input)

	args := make(map[string]interface{})
	if desc.Prompt != "" {
		args["prompt"] = desc.Prompt
	}
	if desc.ImageURL != "" {
		args["image_url"] = desc.ImageURL
	}
	for k, v := range desc.Extras {
		args[k] = v
	}
	return args
}

// SubmitJob sends a paid, queued job to the provider and records the request
// handle. The handle is set once; if another caller already submitted this
// job the late write is discarded and the method returns without error.
//
// Submission failure is final for the job: there is no partially-submitted
// state, so the reservation is refunded and the job moves to failed.
func (k *Kreatum) SubmitJob(ctx context.Context, job *model.Job) error {
	ctx, span := otel.Tracer("kreatum.submission").Start(ctx, "SubmitJob")
	defer span.End()

	cnf, err := config.Fetch()
	if err != nil {
		return err
	}

	if !job.Handle().IsZero() {
		logrus.Infof("job %s already submitted as %s, skipping", job.JobID, job.RequestID)
		return nil
	}

	var genModel *model.GenModel
	if job.ModelID != "" {
		genModel, err = k.datasource.GetModelByID(ctx, job.ModelID)
		if err != nil {
			logrus.Warnf("catalog lookup failed for job %s model %s: %v", job.JobID, job.ModelID, err)
		}
	}

	endpoint := resolveEndpoint(cnf, job, genModel)
	args := buildArguments(job)

	handle, err := k.provider.Submit(ctx, endpoint, args)
	if err != nil {
		k.failSubmission(ctx, job, err)
		return err
	}

	set, err := k.datasource.SetRequestHandle(ctx, job.JobID, handle)
	if err != nil {
		return err
	}
	if !set {
		logrus.Infof("job %s raced on submission, handle already set", job.JobID)
		return nil
	}

	k.SendJobEvent("job.queued", job, map[string]interface{}{"request_id": handle.RequestID})
	return nil
}

func (k *Kreatum) failSubmission(ctx context.Context, job *model.Job, cause error) {
	if _, err := k.RefundJob(ctx, job.JobID, "submission failed"); err != nil {
		logrus.Errorf("refund after failed submission of job %s: %v", job.JobID, err)
	}
	failed, err := k.datasource.FailJob(ctx, job.JobID)
	if err != nil {
		logrus.Errorf("failed to mark job %s failed: %v", job.JobID, err)
		return
	}
	if failed {
		k.SendJobEvent("job.failed", job, map[string]interface{}{"message": cause.Error()})
	}
}
