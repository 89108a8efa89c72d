package sqlite

import (
	"time"

	"gorm.io/datatypes"
)

type CollectionModel struct {
	Name       string         `gorm:"primaryKey"`
	UniqueKeys datatypes.JSON `gorm:"not null"`
	CreatedAt  time.Time
	UpdatedAt  time.Time
}

func (CollectionModel) TableName() string { return "collections" }

type DocumentModel struct {
	Collection string         `gorm:"primaryKey"`
	ID         string         `gorm:"primaryKey"`
	Seq        int64          `gorm:"not null;index:idx_documents_collection_seq"`
	Data       datatypes.JSON `gorm:"not null"`
	CreatedAt  time.Time
	UpdatedAt  time.Time
}

func (DocumentModel) TableName() string { return "documents" }

type UniqueKeyModel struct {
	Collection string `gorm:"primaryKey"`
	KeyName    string `gorm:"primaryKey"`
	KeyValue   string `gorm:"primaryKey"`
	DocumentID string `gorm:"not null;index"`
}

func (UniqueKeyModel) TableName() string { return "document_unique_keys" }
