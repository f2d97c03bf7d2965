package model

import (
	"time"

	"gorm.io/gorm"
)

// Curriculum groups topics (IB, A-Level, ...). The engine only reads these
// to build the exam snapshot; CRUD lives in the external catalog service.
type Curriculum struct {
	ID          uint           `gorm:"primarykey" json:"id"`
	Name        string         `json:"name" gorm:"not null;uniqueIndex"`
	Slug        string         `json:"slug,omitempty"`
	Description string         `json:"description,omitempty"`
	Order       int            `json:"order" gorm:"default:0"`
	IsActive    bool           `json:"is_active" gorm:"default:true"`
	CreatedAt   time.Time      `json:"created_at"`
	UpdatedAt   time.Time      `json:"updated_at"`
	DeletedAt   gorm.DeletedAt `gorm:"index" json:"-"`
}

type Topic struct {
	ID           uint           `gorm:"primarykey" json:"id"`
	Name         string         `json:"name" gorm:"not null"`
	Description  string         `json:"description,omitempty"`
	Icon         string         `json:"icon,omitempty"`
	CurriculumID *uint          `json:"curriculum_id,omitempty" gorm:"index"`
	Curriculum   *Curriculum    `json:"curriculum,omitempty" gorm:"foreignKey:CurriculumID"`
	// Parent is id-indirection, never an in-memory back-reference.
	ParentID  *uint          `json:"parent_id,omitempty" gorm:"index"`
	Order     int            `json:"order" gorm:"default:0"`
	IsActive  bool           `json:"is_active" gorm:"default:true"`
	CreatedAt time.Time      `json:"created_at"`
	UpdatedAt time.Time      `json:"updated_at"`
	DeletedAt gorm.DeletedAt `gorm:"index" json:"-"`
}
