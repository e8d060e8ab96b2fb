package database

import (
	"encoding/json"
)

// marshalMetaData serializes a metadata map for a JSONB column. A nil map is
// stored as an empty object so scans never deal with SQL NULL.
func marshalMetaData(metaData map[string]interface{}) ([]byte, error) {
	if metaData == nil {
		metaData = map[string]interface{}{}
	}
	return json.Marshal(metaData)
}

func unmarshalMetaData(raw []byte, into *map[string]interface{}) error {
	if len(raw) == 0 {
		*into = map[string]interface{}{}
		return nil
	}
	return json.Unmarshal(raw, into)
}
