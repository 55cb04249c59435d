package repository

import (
	"context"
	"time"

	"github.com/nijaru/yt-script/models"
)

type RunRepository interface {
	Save(ctx context.Context, run *models.Run) error
	Find(ctx context.Context, id string) (*models.Run, error)
	// FindByURL returns the most recent run for the URL.
	FindByURL(ctx context.Context, url string) (*models.Run, error)
	List(ctx context.Context, limit int) ([]*models.Run, error)
	// FindStale returns runs still processing that were last updated before the cutoff.
	FindStale(ctx context.Context, before time.Time) ([]*models.Run, error)
}
