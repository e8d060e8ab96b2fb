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

package storage

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestKeyForResult(t *testing.T) {
	assert.Equal(t, "results/usr_1/ord-1/0.mp4", KeyForResult("usr_1", "ord-1", 0, ".mp4"))
	assert.Equal(t, "results/anon-42/ord-9/2.png", KeyForResult("anon-42", "ord-9", 2, "png"))
	assert.Equal(t, "results/usr_1/ord-1/0.bin", KeyForResult("usr_1", "ord-1", 0, ""))
}

func TestExtForContentType(t *testing.T) {
	assert.Equal(t, ".mp4", ExtForContentType("video/mp4"))
	assert.Equal(t, ".webm", ExtForContentType("video/webm"))
	assert.Equal(t, ".png", ExtForContentType("image/png"))
	assert.Equal(t, ".jpg", ExtForContentType("image/jpeg"))
	assert.Equal(t, ".bin", ExtForContentType("application/octet-stream"))
}
