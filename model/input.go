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

package model

import (
	"fmt"
)

// Input item kinds. Loosely-typed request payloads are converted into this
// tagged union at the ingestion boundary; downstream code never inspects raw maps.
const (
	InputKindImage  = "image"
	InputKindText   = "text"
	InputKindUpload = "upload"
)

// InputItem is one element of a job's ordered input list.
type InputItem struct {
	Kind  string `json:"kind"`
	Name  string `json:"name,omitempty"`
	Value string `json:"value,omitempty"`
	URL   string `json:"url,omitempty"`
}

// Validate checks a single input item for structural soundness.
func (item InputItem) Validate() error {
	switch item.Kind {
	case InputKindText:
		if item.Value == "" {
			return fmt.Errorf("text input requires a value")
		}
	case InputKindImage, InputKindUpload:
		if item.URL == "" {
			return fmt.Errorf("%s input requires a url", item.Kind)
		}
	default:
		return fmt.Errorf("unknown input kind %q", item.Kind)
	}
	return nil
}

// ValidateInput checks the full ordered input list for a job.
func ValidateInput(items []InputItem) error {
	if len(items) == 0 {
		return fmt.Errorf("input is required")
	}
	for i, item := range items {
		if err := item.Validate(); err != nil {
			return fmt.Errorf("input[%d]: %w", i, err)
		}
	}
	return nil
}

// SubmissionDescriptor is the internal shape the submission gateway works
// with: the prompt, the primary image reference and pass-through scalar extras.
type SubmissionDescriptor struct {
	Prompt   string
	ImageURL string
	Extras   map[string]interface{}
}

// reserved argument names never taken from extras
var reservedArgNames = map[string]struct{}{
	"prompt":    {},
	"image_url": {},
}

// Descriptor converts the ordered input list into a SubmissionDescriptor.
// The first text item becomes the prompt, the first image or upload item
// becomes the image reference, and named text items after the first are
// carried as scalar extras unless their name is reserved.
func Descriptor(items []InputItem) SubmissionDescriptor {
	desc := SubmissionDescriptor{Extras: map[string]interface{}{}}
	for _, item := range items {
		switch item.Kind {
		case InputKindText:
			if desc.Prompt == "" && (item.Name == "" || item.Name == "prompt") {
				desc.Prompt = item.Value
				continue
			}
			if item.Name == "" {
				continue
			}
			if _, reserved := reservedArgNames[item.Name]; reserved {
				continue
			}
			desc.Extras[item.Name] = item.Value
		case InputKindImage, InputKindUpload:
			if desc.ImageURL == "" {
				desc.ImageURL = item.URL
			}
		}
	}
	return desc
}
