package payout

import (
	"bytes"
	"context"
	"encoding/csv"
	"fmt"
	"maps"
	"path"
	"slices"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/marketplace/payouts/internal/domain/payout"
	"github.com/marketplace/payouts/internal/domain/shared"
	"github.com/marketplace/payouts/internal/infrastructure/logger"
	"github.com/marketplace/payouts/internal/infrastructure/telemetry"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// ReportStorage stores exported reconciliation files.
// This interface is implemented by the infrastructure layer (S3 or in-memory).
type ReportStorage interface {
	// Upload stores data under key
	Upload(ctx context.Context, key string, data []byte, contentType string) error

	// GenerateDownloadURL returns a presigned URL for key and its expiration time
	GenerateDownloadURL(ctx context.Context, key string, expiresIn time.Duration) (string, time.Time, error)
}

// ReconciliationConfig holds export settings
type ReconciliationConfig struct {
	// ExportPrefix is prepended to every export object key
	ExportPrefix string
	// DownloadURLExpiry is how long export download links stay valid
	DownloadURLExpiry time.Duration
}

// ReconciliationService answers read-only reconciliation queries over the
// ledger and the payout store
type ReconciliationService struct {
	ledger     *LedgerService
	payouts    payout.PayoutRepository
	commission *CommissionService
	lifecycle  *PayoutLifecycleService
	storage    ReportStorage
	config     ReconciliationConfig
	retry      RetryPolicy
	logger     *zap.Logger
	now        func() time.Time
}

// NewReconciliationService creates a new ReconciliationService
func NewReconciliationService(
	ledger *LedgerService,
	payouts payout.PayoutRepository,
	commission *CommissionService,
	storage ReportStorage,
	config ReconciliationConfig,
	logger *zap.Logger,
) *ReconciliationService {
	if config.DownloadURLExpiry <= 0 {
		config.DownloadURLExpiry = 15 * time.Minute
	}
	return &ReconciliationService{
		ledger:     ledger,
		payouts:    payouts,
		commission: commission,
		storage:    storage,
		config:     config,
		retry:      DefaultRetryPolicy(),
		logger:     logger,
		now:        time.Now,
	}
}

// SetRetryPolicy overrides the backoff used for payout store reads
func (s *ReconciliationService) SetRetryPolicy(p RetryPolicy) {
	s.retry = p
}

// GlobalSummary totals every seller of the period and counts payouts per status
func (s *ReconciliationService) GlobalSummary(ctx context.Context, periodKey string) (*GlobalSummaryResponse, error) {
	ctx, span := telemetry.StartServiceSpan(ctx, "ReconciliationService", "GlobalSummary",
		telemetry.WithAttribute("period", periodKey),
	)
	defer span.End()

	period, err := s.ledger.ParsePeriod(periodKey)
	if err != nil {
		telemetry.RecordError(span, err)
		return nil, err
	}
	summaries, records, err := s.loadPeriod(ctx, period)
	if err != nil {
		telemetry.RecordError(span, err)
		return nil, err
	}

	totals := payout.Totals(summaries)
	resp := &GlobalSummaryResponse{
		Period:          period.Key,
		SellerCount:     totals.SellerCount,
		OrderCount:      totals.OrderCount,
		TotalGross:      money(totals.TotalGross),
		TotalCommission: money(totals.TotalCommission),
		TotalNet:        money(totals.TotalNet),
		PayoutCounts:    emptyPayoutCounts(),
		Sellers:         make([]SellerLedgerResponse, 0, len(summaries)),
	}

	for _, summary := range summaries {
		status, record := payoutStatus(summary, records[summary.SellerID])
		resp.PayoutCounts[string(status)]++
		line := SellerLedgerResponse{
			SellerID:        summary.SellerID,
			OrderCount:      summary.OrderCount,
			TotalGross:      money(summary.TotalGross),
			TotalCommission: money(summary.TotalCommission),
			TotalNet:        money(summary.TotalNet),
			PayoutStatus:    string(status),
		}
		if record != nil {
			line.PayoutAmount = money(record.Amount)
		}
		resp.Sellers = append(resp.Sellers, line)
		delete(records, summary.SellerID)
	}
	// payouts whose orders no longer fall in the period still count
	for _, record := range records {
		resp.PayoutCounts[string(record.Status)]++
	}
	return resp, nil
}

// SellerSummary returns the seller's ledger, payout state, audit history and
// order counts per fulfilment status
func (s *ReconciliationService) SellerSummary(ctx context.Context, sellerID, periodKey string) (*SellerSummaryResponse, error) {
	ctx, span := telemetry.StartServiceSpan(ctx, "ReconciliationService", "SellerSummary",
		telemetry.WithAttribute("seller_id", sellerID),
		telemetry.WithAttribute("period", periodKey),
	)
	defer span.End()

	sellerID = strings.TrimSpace(sellerID)
	if sellerID == "" {
		return nil, shared.NewDomainError("INVALID_INPUT", "seller id is required")
	}
	period, err := s.ledger.ParsePeriod(periodKey)
	if err != nil {
		telemetry.RecordError(span, err)
		return nil, err
	}

	var (
		summary *payout.SellerLedgerSummary
		entries []payout.LedgerEntry
		record  *payout.PayoutRecord
	)
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		summary, entries, err = s.ledger.SellerLedger(gctx, sellerID, period)
		return err
	})
	g.Go(func() error {
		var err error
		record, err = retryRead(gctx, s.retry, func() (*payout.PayoutRecord, error) {
			return s.payouts.FindByKey(gctx, payout.LedgerKey{SellerID: sellerID, PeriodKey: period.Key})
		})
		return err
	})
	if err := g.Wait(); err != nil {
		telemetry.RecordError(span, err)
		return nil, err
	}

	status, record := payoutStatus(summary, record)
	resp := &SellerSummaryResponse{
		SellerID:          sellerID,
		Period:            period.Key,
		OrderCount:        summary.OrderCount,
		TotalGross:        money(summary.TotalGross),
		TotalCommission:   money(summary.TotalCommission),
		TotalNet:          money(summary.TotalNet),
		PayoutStatus:      string(status),
		History:           []PayoutTransitionResponse{},
		OrderStatusCounts: make(map[string]int, len(payout.AllOrderStatuses())),
		Entries:           ToLedgerEntryResponses(entries),
	}
	if record != nil {
		resp.PayoutAmount = money(record.Amount)
		resp.TransferReference = record.TransferReference
		resp.History = ToPayoutTransitionResponses(record.History)
	}
	for _, st := range payout.AllOrderStatuses() {
		resp.OrderStatusCounts[string(st)] = 0
	}
	for _, entry := range entries {
		resp.OrderStatusCounts[string(entry.OrderStatus)]++
	}
	return resp, nil
}

// OrderBreakdown returns the ledger split of a single order
func (s *ReconciliationService) OrderBreakdown(ctx context.Context, orderID uuid.UUID) (*OrderResponse, error) {
	ctx, span := telemetry.StartServiceSpan(ctx, "ReconciliationService", "OrderBreakdown",
		telemetry.WithAttribute("order_id", orderID.String()),
	)
	defer span.End()

	order, entry, err := s.ledger.OrderEntry(ctx, orderID)
	if err != nil {
		telemetry.RecordError(span, err)
		return nil, err
	}
	resp := ToOrderResponse(order, entry)
	return &resp, nil
}

// ExportPeriod renders the period's seller summaries as CSV, uploads the
// file and returns a presigned download link
func (s *ReconciliationService) ExportPeriod(ctx context.Context, periodKey string) (*ExportResponse, error) {
	ctx, span := telemetry.StartServiceSpan(ctx, "ReconciliationService", "ExportPeriod",
		telemetry.WithAttribute("period", periodKey),
	)
	defer span.End()

	if s.storage == nil {
		return nil, shared.NewDomainError("INVALID_STATE", "report storage is not configured")
	}
	period, err := s.ledger.ParsePeriod(periodKey)
	if err != nil {
		telemetry.RecordError(span, err)
		return nil, err
	}
	summaries, records, err := s.loadPeriod(ctx, period)
	if err != nil {
		telemetry.RecordError(span, err)
		return nil, err
	}

	data, err := renderCSV(summaries, records)
	if err != nil {
		telemetry.RecordError(span, err)
		return nil, err
	}

	key := path.Join(s.config.ExportPrefix, "reconciliation", period.Key, s.now().UTC().Format("20060102T150405Z")+".csv")
	if err := s.storage.Upload(ctx, key, data, "text/csv"); err != nil {
		telemetry.RecordError(span, err)
		return nil, fmt.Errorf("upload reconciliation export: %w", err)
	}
	url, expiresAt, err := s.storage.GenerateDownloadURL(ctx, key, s.config.DownloadURLExpiry)
	if err != nil {
		telemetry.RecordError(span, err)
		return nil, fmt.Errorf("presign reconciliation export: %w", err)
	}

	logger.Enrich(ctx, s.logger).Info("reconciliation exported",
		zap.String("period", period.Key),
		zap.String("object_key", key),
		zap.Int("sellers", len(summaries)),
		zap.Int("bytes", len(data)),
	)
	return &ExportResponse{
		Period:      period.Key,
		ObjectKey:   key,
		DownloadURL: url,
		ExpiresAt:   expiresAt,
		SellerCount: len(summaries),
		SizeBytes:   len(data),
	}, nil
}

// CommissionStats reports commission taken in the current day, ISO week,
// month and all time
func (s *ReconciliationService) CommissionStats(ctx context.Context) (*CommissionStatsResponse, error) {
	ctx, span := telemetry.StartServiceSpan(ctx, "ReconciliationService", "CommissionStats")
	defer span.End()

	settings, err := s.commission.current(ctx)
	if err != nil {
		telemetry.RecordError(span, err)
		return nil, err
	}

	now := s.now()
	granularities := []payout.Granularity{
		payout.GranularityDay,
		payout.GranularityWeek,
		payout.GranularityMonth,
		payout.GranularityAll,
	}
	stats := make([]CommissionPeriodStats, len(granularities))

	g, gctx := errgroup.WithContext(ctx)
	for i, gran := range granularities {
		period := payout.PeriodOf(gran, now, s.ledger.Location())
		g.Go(func() error {
			summaries, err := s.ledger.PeriodLedgers(gctx, period)
			if err != nil {
				return err
			}
			totals := payout.Totals(summaries)
			average := decimal.Zero
			if totals.OrderCount > 0 {
				average = payout.RoundMoney(totals.TotalCommission.Div(decimal.NewFromInt(int64(totals.OrderCount))))
			}
			stats[i] = CommissionPeriodStats{
				Granularity:       string(gran),
				Period:            period.Key,
				OrderCount:        totals.OrderCount,
				TotalRevenue:      money(totals.TotalGross),
				TotalCommission:   money(totals.TotalCommission),
				TotalNet:          money(totals.TotalNet),
				AverageCommission: money(average),
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		telemetry.RecordError(span, err)
		return nil, err
	}

	return &CommissionStatsResponse{
		RatePercent: percent(settings.EffectiveRate()),
		Active:      settings.Active,
		Currency:    settings.Currency,
		Periods:     stats,
	}, nil
}

// SellerTransferHistory returns the seller's ledger and payout state month by
// month across all time, newest month first
func (s *ReconciliationService) SellerTransferHistory(ctx context.Context, sellerID string) (*SellerTransferHistoryResponse, error) {
	ctx, span := telemetry.StartServiceSpan(ctx, "ReconciliationService", "SellerTransferHistory",
		telemetry.WithAttribute("seller_id", sellerID),
	)
	defer span.End()

	sellerID = strings.TrimSpace(sellerID)
	if sellerID == "" {
		return nil, shared.NewDomainError("INVALID_INPUT", "seller id is required")
	}

	var (
		entries []payout.LedgerEntry
		records []*payout.PayoutRecord
	)
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		entries, err = s.ledger.Entries(gctx, sellerID, payout.AllTime())
		return err
	})
	g.Go(func() error {
		var err error
		records, err = retryRead(gctx, s.retry, func() ([]*payout.PayoutRecord, error) {
			return s.payouts.FindBySeller(gctx, sellerID)
		})
		return err
	})
	if err := g.Wait(); err != nil {
		telemetry.RecordError(span, err)
		return nil, err
	}

	total, err := summarize(ctx, s.logger, sellerID, payout.AllTime(), entries)
	if err != nil {
		telemetry.RecordError(span, err)
		return nil, err
	}

	loc := s.ledger.Location()
	months := make(map[string]*payout.SellerLedgerSummary)
	for _, entry := range entries {
		entry.Period = payout.PeriodOf(payout.GranularityMonth, entry.PlacedAt, loc)
		summary := months[entry.Period.Key]
		if summary == nil {
			summary = payout.NewSellerLedgerSummary(sellerID, entry.Period)
			months[entry.Period.Key] = summary
		}
		if _, err := payout.FoldEntry(summary, entry); err != nil {
			logInconsistency(ctx, s.logger, err)
			telemetry.RecordError(span, err)
			return nil, err
		}
	}

	resp := &SellerTransferHistoryResponse{
		SellerID:        sellerID,
		OrderCount:      total.OrderCount,
		TotalGross:      money(total.TotalGross),
		TotalCommission: money(total.TotalCommission),
		TotalNet:        money(total.TotalNet),
		Months:          []PeriodTransferResponse{},
		OtherPayouts:    []PayoutResponse{},
	}
	monthRecords := make(map[string]*payout.PayoutRecord)
	for _, record := range records {
		period, err := s.ledger.ParsePeriod(record.PeriodKey)
		if err != nil || period.Granularity != payout.GranularityMonth {
			resp.OtherPayouts = append(resp.OtherPayouts, ToPayoutResponse(record))
			continue
		}
		monthRecords[period.Key] = record
		if _, ok := months[period.Key]; !ok {
			months[period.Key] = payout.NewSellerLedgerSummary(sellerID, period)
		}
	}

	transferred := decimal.Zero
	for _, key := range slices.Sorted(maps.Keys(months)) {
		summary := months[key]
		status, record := payoutStatus(summary, monthRecords[key])
		row := PeriodTransferResponse{
			Period:          key,
			OrderCount:      summary.OrderCount,
			TotalGross:      money(summary.TotalGross),
			TotalCommission: money(summary.TotalCommission),
			TotalNet:        money(summary.TotalNet),
			PayoutStatus:    string(status),
		}
		if record != nil {
			row.PayoutAmount = money(record.Amount)
			row.TransferReference = record.TransferReference
			row.TransferredAt = record.TransferredAt
			if record.Status == payout.PayoutStatusTransferred {
				transferred = transferred.Add(record.Amount)
			}
		}
		resp.Months = append(resp.Months, row)
	}
	slices.Reverse(resp.Months)
	resp.TotalTransferred = money(transferred)
	return resp, nil
}

// loadPeriod reads the period's seller summaries and payout records in parallel
func (s *ReconciliationService) loadPeriod(ctx context.Context, period payout.Period) ([]*payout.SellerLedgerSummary, map[string]*payout.PayoutRecord, error) {
	var (
		summaries []*payout.SellerLedgerSummary
		stored    []*payout.PayoutRecord
	)
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		summaries, err = s.ledger.PeriodLedgers(gctx, period)
		return err
	})
	g.Go(func() error {
		var err error
		stored, err = retryRead(gctx, s.retry, func() ([]*payout.PayoutRecord, error) {
			return s.payouts.FindByPeriod(gctx, period.Key)
		})
		return err
	})
	if err := g.Wait(); err != nil {
		return nil, nil, err
	}

	records := make(map[string]*payout.PayoutRecord, len(stored))
	for _, r := range stored {
		records[r.SellerID] = r
	}
	return summaries, records, nil
}

func payoutStatus(summary *payout.SellerLedgerSummary, record *payout.PayoutRecord) (payout.PayoutStatus, *payout.PayoutRecord) {
	if record != nil {
		return record.Status, record
	}
	return payout.ImplicitPayoutStatus(summary.TotalNet), nil
}

func emptyPayoutCounts() map[string]int {
	return map[string]int{
		string(payout.PayoutStatusNone):        0,
		string(payout.PayoutStatusOwed):        0,
		string(payout.PayoutStatusProcessing):  0,
		string(payout.PayoutStatusTransferred): 0,
	}
}

var exportHeader = []string{
	"seller_id",
	"period",
	"order_count",
	"total_gross",
	"total_commission",
	"total_net",
	"payout_status",
	"payout_amount",
	"transfer_reference",
	"transferred_at",
}

func renderCSV(summaries []*payout.SellerLedgerSummary, records map[string]*payout.PayoutRecord) ([]byte, error) {
	var buf bytes.Buffer
	w := csv.NewWriter(&buf)
	if err := w.Write(exportHeader); err != nil {
		return nil, err
	}
	for _, summary := range summaries {
		status, record := payoutStatus(summary, records[summary.SellerID])
		row := []string{
			summary.SellerID,
			summary.Period.Key,
			strconv.Itoa(summary.OrderCount),
			money(summary.TotalGross),
			money(summary.TotalCommission),
			money(summary.TotalNet),
			string(status),
			"",
			"",
			"",
		}
		if record != nil {
			row[7] = money(record.Amount)
			row[8] = record.TransferReference
			if record.TransferredAt != nil {
				row[9] = record.TransferredAt.UTC().Format(time.RFC3339)
			}
		}
		if err := w.Write(row); err != nil {
			return nil, err
		}
	}
	w.Flush()
	if err := w.Error(); err != nil {
		return nil, fmt.Errorf("render reconciliation csv: %w", err)
	}
	return buf.Bytes(), nil
}
