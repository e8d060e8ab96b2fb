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

	"github.com/kreatum/kreatum/model"
)

// CreateCatalogModel adds an entry to the generation model catalog.
func (k *Kreatum) CreateCatalogModel(ctx context.Context, genModel *model.GenModel) (*model.GenModel, error) {
	return k.datasource.CreateModel(ctx, genModel)
}

// GetCatalogModel returns a catalog entry by name.
func (k *Kreatum) GetCatalogModel(ctx context.Context, name string) (*model.GenModel, error) {
	return k.datasource.GetModelByName(ctx, name)
}
