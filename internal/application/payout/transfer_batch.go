package payout

import (
	"context"
	"fmt"
	"strings"

	"github.com/marketplace/payouts/internal/domain/payout"
	"github.com/marketplace/payouts/internal/domain/shared"
	"github.com/marketplace/payouts/internal/infrastructure/logger"
	"github.com/marketplace/payouts/internal/infrastructure/telemetry"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

const (
	// MaxBatchSellers is the largest number of sellers one transfer batch pays
	MaxBatchSellers = 500
	// MaxBatchReferenceLength leaves room for the seller suffix within
	// payout.MaxReferenceLength
	MaxBatchReferenceLength = 50

	batchPlanConcurrency = 8
)

type batchLine struct {
	item   TransferBatchItemResponse
	amount decimal.Decimal
}

// SetLifecycle enables transfer batches, which record every transfer
// through lifecycle
func (s *ReconciliationService) SetLifecycle(lifecycle *PayoutLifecycleService) {
	s.lifecycle = lifecycle
}

// CreateTransferBatch plans a transfer of the owed net for each seller in
// the period and, unless req.DryRun is set, records each one through
// MarkTransferred. Every seller gets the reference
// "<batch reference>-<seller id>", so re-running a batch with the same
// reference replays instead of paying twice. Sellers with nothing owed or
// already transferred under another reference are skipped. A failed seller
// does not stop the batch.
func (s *ReconciliationService) CreateTransferBatch(ctx context.Context, req CreateTransferBatchRequest, actor string) (*TransferBatchResponse, error) {
	ctx, span := telemetry.StartServiceSpan(ctx, "ReconciliationService", "CreateTransferBatch",
		telemetry.WithAttribute("period", req.Period),
		telemetry.WithAttribute("sellers", len(req.SellerIDs)),
		telemetry.WithAttribute("dry_run", req.DryRun),
	)
	defer span.End()

	if !req.DryRun && s.lifecycle == nil {
		return nil, shared.NewDomainError("INVALID_STATE", "payout lifecycle is not configured")
	}
	sellers, err := batchSellers(req.SellerIDs)
	if err != nil {
		telemetry.RecordError(span, err)
		return nil, err
	}
	batchRef := strings.TrimSpace(req.BatchReference)
	if batchRef == "" {
		batchRef = fmt.Sprintf("BATCH-%d", s.now().UnixMilli())
	}
	if len(batchRef) > MaxBatchReferenceLength {
		err := shared.NewDomainError("INVALID_INPUT", fmt.Sprintf("batch reference exceeds %d characters", MaxBatchReferenceLength))
		telemetry.RecordError(span, err)
		return nil, err
	}
	period, err := s.ledger.ParsePeriod(req.Period)
	if err != nil {
		telemetry.RecordError(span, err)
		return nil, err
	}

	lines := make([]batchLine, len(sellers))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(batchPlanConcurrency)
	for i, sellerID := range sellers {
		g.Go(func() error {
			summary, err := s.ledger.FreshSellerLedger(gctx, sellerID, period)
			if err != nil {
				return err
			}
			record, err := retryRead(gctx, s.retry, func() (*payout.PayoutRecord, error) {
				return s.payouts.FindByKey(gctx, payout.LedgerKey{SellerID: sellerID, PeriodKey: period.Key})
			})
			if err != nil {
				return err
			}
			lines[i] = planBatchLine(batchTransferReference(batchRef, sellerID), summary, record)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		telemetry.RecordError(span, err)
		return nil, err
	}

	log := logger.Enrich(ctx, s.logger)
	resp := &TransferBatchResponse{
		BatchReference: batchRef,
		Period:         period.Key,
		DryRun:         req.DryRun,
		Items:          make([]TransferBatchItemResponse, 0, len(lines)),
	}
	batchTotal, transferred := decimal.Zero, decimal.Zero
	for i := range lines {
		line := &lines[i]
		if line.item.Outcome != BatchItemPlanned {
			resp.Items = append(resp.Items, line.item)
			continue
		}
		resp.TransfersCount++
		batchTotal = batchTotal.Add(payout.RoundMoney(line.amount))

		if !req.DryRun {
			s.executeBatchLine(ctx, log, period, line, actor)
			switch line.item.Outcome {
			case BatchItemTransferred:
				resp.TransferredCount++
				transferred = transferred.Add(payout.RoundMoney(line.amount))
			case BatchItemFailed:
				resp.FailedCount++
			}
		}
		resp.Items = append(resp.Items, line.item)
	}
	resp.BatchTotal = money(batchTotal)
	resp.TransferredTotal = money(transferred)

	log.Info("transfer batch completed",
		zap.String("batch_reference", batchRef),
		zap.String("period", period.Key),
		zap.Bool("dry_run", req.DryRun),
		zap.Int("sellers", len(sellers)),
		zap.Int("transfers", resp.TransfersCount),
		zap.Int("transferred", resp.TransferredCount),
		zap.Int("failed", resp.FailedCount),
		zap.String("batch_total", resp.BatchTotal),
	)
	return resp, nil
}

func (s *ReconciliationService) executeBatchLine(ctx context.Context, log *zap.Logger, period payout.Period, line *batchLine, actor string) {
	result, err := s.lifecycle.MarkTransferred(ctx, line.item.SellerID, period.Key, MarkTransferredRequest{
		Amount:            line.amount,
		TransferReference: line.item.TransferReference,
	}, actor)
	if err != nil {
		log.Warn("batch transfer failed",
			zap.String("seller_id", line.item.SellerID),
			zap.String("period", period.Key),
			zap.String("reference", line.item.TransferReference),
			zap.Error(err),
		)
		line.item.Outcome = BatchItemFailed
		line.item.Error = err.Error()
		return
	}
	line.item.Outcome = BatchItemTransferred
	line.item.Payout = result
}

func planBatchLine(reference string, summary *payout.SellerLedgerSummary, record *payout.PayoutRecord) batchLine {
	line := batchLine{
		amount: decimal.Zero,
		item: TransferBatchItemResponse{
			SellerID:   summary.SellerID,
			OrderCount: summary.OrderCount,
			TotalNet:   money(summary.TotalNet),
		},
	}
	switch {
	case record != nil && record.Status == payout.PayoutStatusTransferred && record.TransferReference == reference:
		// an earlier run of this batch
		line.amount = record.Amount
		line.item.TransferReference = reference
		line.item.Outcome = BatchItemPlanned
	case record != nil && record.Status == payout.PayoutStatusTransferred:
		line.item.TransferReference = record.TransferReference
		line.item.Outcome = BatchItemAlreadyTransferred
	case !summary.TotalNet.IsPositive():
		line.item.Outcome = BatchItemNothingOwed
	default:
		line.amount = summary.TotalNet
		line.item.TransferReference = reference
		line.item.Outcome = BatchItemPlanned
	}
	line.item.Amount = money(line.amount)
	return line
}

// batchSellers trims and de-duplicates seller ids, keeping their order
func batchSellers(ids []string) ([]string, error) {
	seen := make(map[string]struct{}, len(ids))
	sellers := make([]string, 0, len(ids))
	for _, id := range ids {
		id = strings.TrimSpace(id)
		if id == "" {
			continue
		}
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		sellers = append(sellers, id)
	}
	switch {
	case len(sellers) == 0:
		return nil, shared.NewDomainError("INVALID_INPUT", "at least one seller id is required")
	case len(sellers) > MaxBatchSellers:
		return nil, shared.NewDomainError("INVALID_INPUT", fmt.Sprintf("a batch pays at most %d sellers", MaxBatchSellers))
	}
	return sellers, nil
}

// batchTransferReference joins the batch reference and seller id, keeping
// the tail of long seller ids so the result fits payout.MaxReferenceLength
func batchTransferReference(batchRef, sellerID string) string {
	room := payout.MaxReferenceLength - len(batchRef) - 1
	if len(sellerID) > room {
		sellerID = sellerID[len(sellerID)-room:]
	}
	return batchRef + "-" + sellerID
}
