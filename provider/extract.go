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

package provider

// Field priority for media extraction. Different models shape their output
// differently; the walk below covers the formats seen in production. Order
// matters and is part of the contract with downstream consumers.
var (
	directKeys = []string{"video_url", "url", "response_url"}
	nestedKeys = []string{"video", "output", "result", "data", "media"}
	arrayKeys  = []string{"videos", "outputs", "files", "images"}
)

// ExtractMediaURL walks a provider result payload and returns the first media
// URL it finds, or "" when the payload carries none. When the payload wraps
// everything in a "response" envelope, the envelope is searched first.
func ExtractMediaURL(payload map[string]interface{}) string {
	if payload == nil {
		return ""
	}
	if resp, ok := payload["response"].(map[string]interface{}); ok {
		if u := pickFromMap(resp); u != "" {
			return u
		}
	}
	return pickFromMap(payload)
}

func pickFromMap(data map[string]interface{}) string {
	for _, k := range directKeys {
		if v, ok := data[k].(string); ok && v != "" {
			return v
		}
	}
	for _, k := range nestedKeys {
		switch v := data[k].(type) {
		case map[string]interface{}:
			if u := pickFromMap(v); u != "" {
				return u
			}
		case []interface{}:
			if u := pickFromList(v); u != "" {
				return u
			}
		}
	}
	for _, k := range arrayKeys {
		if arr, ok := data[k].([]interface{}); ok {
			if u := pickFromList(arr); u != "" {
				return u
			}
		}
	}
	return ""
}

func pickFromList(items []interface{}) string {
	for _, it := range items {
		switch v := it.(type) {
		case map[string]interface{}:
			if u := pickFromMap(v); u != "" {
				return u
			}
		case string:
			if v != "" {
				return v
			}
		}
	}
	return ""
}
