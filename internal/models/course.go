package models

import "time"

// ConePosition places a cone relative to the course center
type ConePosition struct {
	Number   int     `json:"number"`
	Distance float64 `json:"distance"` // meters
	Angle    float64 `json:"angle"`    // degrees from north
}

// Course is reference data cached read-only from the remote store
type Course struct {
	ID            string         `json:"id"`
	Name          string         `json:"name"`
	Description   *string        `json:"description"`
	ConeCount     int            `json:"cone_count"`
	ConePositions []ConePosition `json:"cone_positions"`
	IsOfficial    bool           `json:"is_official"`
	CreatedBy     *string        `json:"created_by"`
	CreatedAt     *time.Time     `json:"created_at"`
	UpdatedAt     *time.Time     `json:"updated_at"`
}
