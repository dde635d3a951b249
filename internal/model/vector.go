package model

import (
	"github.com/pgvector/pgvector-go"
	"gorm.io/gorm"
	"gorm.io/gorm/schema"
)

// Vector is an embedding column. Postgres stores it as a pgvector column so
// similarity ordering runs in the database; other drivers keep the pgvector
// text form ("[0.1,0.2]") and rank in process.
type Vector struct {
	pgvector.Vector
}

func NewVector(values []float32) Vector {
	return Vector{Vector: pgvector.NewVector(values)}
}

func (Vector) GormDataType() string {
	return "vector"
}

func (Vector) GormDBDataType(db *gorm.DB, _ *schema.Field) string {
	switch db.Dialector.Name() {
	case "postgres":
		return "vector"
	case "mysql":
		return "longtext"
	default:
		return "text"
	}
}
