package remote

import (
	"context"
	"net/http"
	"time"

	"agility-sync/internal/metrics"
	"agility-sync/internal/models"
)

// courseRow tolerates the nullable columns of agility_courses
type courseRow struct {
	ID            string                `json:"id"`
	Name          string                `json:"name"`
	Description   *string               `json:"description"`
	ConeCount     int                   `json:"cone_count"`
	ConePositions []models.ConePosition `json:"cone_positions"`
	IsOfficial    *bool                 `json:"is_official"`
	CreatedBy     *string               `json:"created_by"`
	CreatedAt     *time.Time            `json:"created_at"`
	UpdatedAt     *time.Time            `json:"updated_at"`
}

func (r courseRow) toCourse() models.Course {
	return models.Course{
		ID:            r.ID,
		Name:          r.Name,
		Description:   r.Description,
		ConeCount:     r.ConeCount,
		ConePositions: r.ConePositions,
		IsOfficial:    r.IsOfficial != nil && *r.IsOfficial,
		CreatedBy:     r.CreatedBy,
		CreatedAt:     r.CreatedAt,
		UpdatedAt:     r.UpdatedAt,
	}
}

// ListCourses fetches every course, official ones first
func (c *Client) ListCourses(ctx context.Context) ([]models.Course, error) {
	resp, err := c.do(ctx, metrics.OpListCourses, http.MethodGet,
		restPrefix+"/agility_courses?select=*&order=is_official.desc,name.asc", nil, nil)
	if err != nil {
		return nil, err
	}

	var rows []courseRow
	if err := decodeJSON(resp, metrics.OpListCourses, &rows); err != nil {
		return nil, err
	}

	courses := make([]models.Course, 0, len(rows))
	for _, row := range rows {
		courses = append(courses, row.toCourse())
	}
	return courses, nil
}
