package database

import (
	"context"
	"database/sql"
	"fmt"
	"log"
	"time"

	"github.com/kreatum/kreatum/internal/apierror"
	"github.com/kreatum/kreatum/model"
)

const modelSelectColumns = `model_id, name, title, COALESCE(endpoint, ''), cost_unit, cost_per_unit_tokens, currency, max_file_count, options, created_at`

func (d Datasource) CreateModel(ctx context.Context, genModel *model.GenModel) (*model.GenModel, error) {
	if genModel.ModelID == "" {
		genModel.ModelID = model.GenerateUUIDWithSuffix("mdl")
	}
	if genModel.CreatedAt.IsZero() {
		genModel.CreatedAt = time.Now()
	}
	optionsJSON, err := marshalMetaData(genModel.Options)
	if err != nil {
		return nil, apierror.NewAPIError(apierror.ErrInternalServer, "Failed to marshal model options", err)
	}

	_, err = d.Conn.ExecContext(ctx, `
		INSERT INTO models (model_id, name, title, endpoint, cost_unit, cost_per_unit_tokens, currency, max_file_count, options, created_at)
		VALUES ($1, $2, $3, NULLIF($4,''), $5, $6, $7, $8, $9, $10)
	`, genModel.ModelID, genModel.Name, genModel.Title, genModel.Endpoint, genModel.CostUnit,
		genModel.CostPerUnitTokens, genModel.Currency, genModel.MaxFileCount, optionsJSON, genModel.CreatedAt)
	if err != nil {
		return nil, apierror.NewAPIError(apierror.ErrConflict, "Model with this name already exists", err)
	}
	return genModel, nil
}

func scanModelRow(scanner interface {
	Scan(dest ...interface{}) error
}) (*model.GenModel, error) {
	genModel := &model.GenModel{}
	var optionsJSON []byte
	err := scanner.Scan(&genModel.ModelID, &genModel.Name, &genModel.Title, &genModel.Endpoint,
		&genModel.CostUnit, &genModel.CostPerUnitTokens, &genModel.Currency, &genModel.MaxFileCount,
		&optionsJSON, &genModel.CreatedAt)
	if err != nil {
		return nil, err
	}
	if err := unmarshalMetaData(optionsJSON, &genModel.Options); err != nil {
		return nil, err
	}
	return genModel, nil
}

func (d Datasource) getModelBy(ctx context.Context, column, value, cacheKey string) (*model.GenModel, error) {
	var genModel model.GenModel
	err := d.Cache.Get(ctx, cacheKey, &genModel)
	if err == nil && genModel.ModelID != "" {
		return &genModel, nil
	}

	row := d.Conn.QueryRowContext(ctx, fmt.Sprintf(`
		SELECT %s FROM models WHERE %s = $1
	`, modelSelectColumns, column), value)

	fetched, err := scanModelRow(row)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, apierror.NewAPIError(apierror.ErrNotFound, fmt.Sprintf("Model '%s' not found", value), err)
		}
		return nil, apierror.NewAPIError(apierror.ErrInternalServer, "Failed to retrieve model", err)
	}

	if err := d.Cache.Set(ctx, cacheKey, fetched, 5*time.Minute); err != nil {
		// Log the error, but don't return it as the main operation succeeded
		log.Printf("Failed to cache model: %v", err)
	}
	return fetched, nil
}

// The catalog is small and changes rarely, so lookups go through the cache.
func (d Datasource) GetModelByID(ctx context.Context, id string) (*model.GenModel, error) {
	return d.getModelBy(ctx, "model_id", id, fmt.Sprintf("model:id:%s", id))
}

func (d Datasource) GetModelByName(ctx context.Context, name string) (*model.GenModel, error) {
	return d.getModelBy(ctx, "name", name, fmt.Sprintf("model:name:%s", name))
}
