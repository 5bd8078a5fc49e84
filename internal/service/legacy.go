package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/MKtraining-fr/OUIOUIMANUS8/internal/domain"
	"github.com/MKtraining-fr/OUIOUIMANUS8/internal/repository"
	apperrors "github.com/MKtraining-fr/OUIOUIMANUS8/pkg/errors"
)

// ImportReport summarizes a legacy import run.
type ImportReport struct {
	Imported []string            `json:"imported"`
	Existing []string            `json:"existing"`
	Rejected map[string]string   `json:"rejected"`
	Warnings map[string][]string `json:"warnings"`
}

// LegacyImporter moves promotions stored in the legacy shape into the
// canonical store, keeping their IDs and usage counts.
type LegacyImporter struct {
	repo   repository.PromotionRepository
	logger *slog.Logger
}

// NewLegacyImporter creates a new legacy importer.
func NewLegacyImporter(repo repository.PromotionRepository, logger *slog.Logger) *LegacyImporter {
	return &LegacyImporter{repo: repo, logger: logger}
}

// Import converts and stores every legacy promotion. A promotion that cannot
// be converted or fails validation is rejected without stopping the run;
// one already present is left untouched. With dryRun nothing is written.
// Only store failures abort the import.
func (im *LegacyImporter) Import(ctx context.Context, legacy []domain.LegacyPromotion, dryRun bool) (*ImportReport, error) {
	report := &ImportReport{
		Imported: []string{},
		Existing: []string{},
		Rejected: map[string]string{},
		Warnings: map[string][]string{},
	}

	for _, lp := range legacy {
		p, warnings, err := domain.ConvertLegacy(lp)
		if err != nil {
			report.Rejected[lp.ID] = err.Error()
			continue
		}
		if len(warnings) > 0 {
			report.Warnings[lp.ID] = warnings
		}
		if err := p.Validate(); err != nil {
			report.Rejected[lp.ID] = err.Error()
			continue
		}
		if dryRun {
			report.Imported = append(report.Imported, p.ID)
			continue
		}

		err = im.repo.Create(ctx, &p)
		switch {
		case err == nil:
			report.Imported = append(report.Imported, p.ID)
		case errors.Is(err, apperrors.ErrAlreadyExists):
			report.Existing = append(report.Existing, p.ID)
		case errors.Is(err, apperrors.ErrServiceUnavail):
			return report, fmt.Errorf("import legacy promotion %s: %w", p.ID, err)
		default:
			report.Rejected[p.ID] = err.Error()
		}
	}

	im.logger.InfoContext(ctx, "legacy import finished",
		slog.Bool("dry_run", dryRun),
		slog.Int("imported", len(report.Imported)),
		slog.Int("existing", len(report.Existing)),
		slog.Int("rejected", len(report.Rejected)),
	)

	return report, nil
}
