package erpsync

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/pdvjgm/pos-backend/internal/catalog"
	"github.com/pdvjgm/pos-backend/pkg/db/models"
	"github.com/pdvjgm/pos-backend/pkg/enums"
	pkgerrors "github.com/pdvjgm/pos-backend/pkg/errors"
	"github.com/pdvjgm/pos-backend/pkg/jobs"
)

// Processor applies queued feed records through the reconciler. One handler
// per job kind; registration is done once by the worker binary.
type Processor struct {
	reconciler catalog.Service
}

func NewProcessor(reconciler catalog.Service) (*Processor, error) {
	if reconciler == nil {
		return nil, fmt.Errorf("reconciler required")
	}
	return &Processor{reconciler: reconciler}, nil
}

// RegisterHandlers binds the catalog job kinds onto the worker.
func (p *Processor) RegisterHandlers(w *jobs.Worker) {
	w.Register(enums.JobNameProductUpdate, p.handleProductUpdate)
	w.Register(enums.JobNameStockUpdate, p.handleStockUpdate)
	w.Register(enums.JobNamePriceUpdate, p.handlePriceUpdate)
}

func (p *Processor) handleProductUpdate(ctx context.Context, job models.Job) error {
	var dto catalog.ProductUpdateDTO
	if err := json.Unmarshal(job.Payload, &dto); err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeValidation, err, "malformed product payload")
	}
	_, err := p.reconciler.UpsertProduct(ctx, dto)
	return err
}

func (p *Processor) handleStockUpdate(ctx context.Context, job models.Job) error {
	var dto catalog.StockUpdateDTO
	if err := json.Unmarshal(job.Payload, &dto); err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeValidation, err, "malformed stock payload")
	}
	_, err := p.reconciler.UpsertStock(ctx, dto)
	return err
}

func (p *Processor) handlePriceUpdate(ctx context.Context, job models.Job) error {
	var dto catalog.PriceUpdateDTO
	if err := json.Unmarshal(job.Payload, &dto); err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeValidation, err, "malformed price payload")
	}
	_, err := p.reconciler.UpsertPrice(ctx, dto)
	return err
}
