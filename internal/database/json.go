package database

import (
	"database/sql/driver"
	"encoding/json"
	"errors"
	"fmt"
)

// JsonColumn wraps a value which is stored as JSON(B) in the database. It
// implements both the sql.Scanner and driver.Valuer interfaces.
type JsonColumn[T any] struct {
	val T
}

func NewJsonColumn[T any](val T) JsonColumn[T] {
	return JsonColumn[T]{val: val}
}

func (j *JsonColumn[T]) Scan(src any) error {
	switch v := src.(type) {
	case nil:
		return nil
	case []byte:
		return json.Unmarshal(v, &j.val)
	case string:
		return json.Unmarshal([]byte(v), &j.val)
	default:
		return fmt.Errorf("cannot scan %T in to JsonColumn", src)
	}
}

func (j JsonColumn[T]) Value() (driver.Value, error) {
	b, err := json.Marshal(j.val)
	if err != nil {
		return nil, errors.Join(errors.New("failed to marshal JsonColumn"), err)
	}

	return b, nil
}

func (j *JsonColumn[T]) Get() *T {
	return &j.val
}
