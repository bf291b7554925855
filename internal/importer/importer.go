// Package importer reconciles an external POS transaction log against the
// customer directory, the product catalog and the sales ledger.
package importer

import (
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"time"

	"bitetrack/backend/internal/cache"
	"bitetrack/backend/internal/domain"
	"bitetrack/backend/internal/logging"
	"bitetrack/backend/internal/metrics"
	"bitetrack/backend/internal/store"
	"bitetrack/backend/internal/xid"
)

const (
	ReasonRequiredFieldMissing = "required_field_missing"
	ReasonInvalidDateFormat    = "invalid_date_format"
	ReasonCustomerNotFound     = "customer_not_found"
	ReasonAlreadyRegistered    = "already_registered"
	ReasonProductNotFound      = "product_not_found"
	ReasonInvalidQuantity      = "invalid_quantity"
	ReasonInvalidPayment       = "invalid_payment_amount"
	ReasonNegativePayment      = "negative_payment"
	ReasonInsufficientStock    = "insufficient_inventory"
	ReasonProcessingError      = "processing_error"
)

const (
	// SampleLimit bounds each list carried in a report.
	SampleLimit = 50
)

var ErrNoHeader = errors.New("csv file has no header row")

// SaleRecorder is the part of the sales service the importer drives.
type SaleRecorder interface {
	FindCustomerByContact(ctx context.Context, contact string) (domain.Customer, error)
	FindProductByName(ctx context.Context, name string) (domain.Product, error)
	SaleExistsForCustomerAt(ctx context.Context, customerID string, originalCreatedAt time.Time) (bool, error)
	CreateImportedSale(ctx context.Context, req domain.SaleCreateRequest, provenance domain.SaleProvenance) (domain.Sale, error)
}

type Importer struct {
	sales   SaleRecorder
	reports cache.ImportReportCache
	logger  *slog.Logger
	metrics *metrics.Metrics
	now     func() time.Time
}

type Option func(*Importer)

func WithReportCache(reports cache.ImportReportCache) Option {
	return func(i *Importer) {
		if reports != nil {
			i.reports = reports
		}
	}
}

func WithLogger(logger *slog.Logger) Option {
	return func(i *Importer) {
		if logger != nil {
			i.logger = logger
		}
	}
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(i *Importer) {
		i.metrics = m
	}
}

func WithClock(now func() time.Time) Option {
	return func(i *Importer) {
		if now != nil {
			i.now = now
		}
	}
}

func New(sales SaleRecorder, opts ...Option) *Importer {
	i := &Importer{
		sales:   sales,
		reports: cache.NewMemoryImportReportCache(cache.Policy{}),
		logger:  logging.Discard(),
		now:     time.Now,
	}
	for _, opt := range opts {
		opt(i)
	}
	return i
}

// rowOutcome is what one row contributes to the report: either a sale or a
// skip reason with its messages.
type rowOutcome struct {
	imported *domain.ImportedSale
	reason   string
	errors   []string
	warnings []string
}

func skip(reason string, messages ...string) rowOutcome {
	return rowOutcome{reason: reason, errors: messages}
}

// Import processes every data row of r independently. A bad row is recorded
// in the report and never stops the batch. Rows committed before a canceled
// context or a mid-file read failure stay committed, so the partial report is
// still cached and returned; only a missing or unreadable header yields no
// report at all.
func (i *Importer) Import(ctx context.Context, r io.Reader) (domain.ImportReport, error) {
	reader := csv.NewReader(r)
	reader.FieldsPerRecord = -1
	reader.LazyQuotes = true
	reader.TrimLeadingSpace = true

	header, err := reader.Read()
	if errors.Is(err, io.EOF) {
		return domain.ImportReport{}, ErrNoHeader
	}
	if err != nil {
		return domain.ImportReport{}, fmt.Errorf("read csv header: %w", err)
	}
	index := columnIndex(header)

	batchID := xid.New("batch")
	importedAt := i.now().UTC()
	acc := newAccumulator(batchID)
	logger := i.logger.With("importBatch", batchID)

	var readErr error
	for {
		if err := ctx.Err(); err != nil {
			acc.summary.Canceled = true
			logger.WarnContext(ctx, "import canceled", "error", err, "rowsProcessed", acc.summary.TotalRows)
			break
		}
		record, err := reader.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		var parseErr *csv.ParseError
		if errors.As(err, &parseErr) {
			acc.add(row{number: parseErr.Line, data: map[string]string{}}, skip(ReasonProcessingError, parseErr.Error()))
			i.metrics.ImportRow("skipped", ReasonProcessingError)
			continue
		}
		if err != nil {
			readErr = fmt.Errorf("read csv: %w", err)
			break
		}
		if blank(record) {
			continue
		}
		line, _ := reader.FieldPos(0)

		current := newRow(line, index, header, record)
		outcome := i.processRow(ctx, current, batchID, importedAt)
		acc.add(current, outcome)
		if outcome.imported != nil {
			i.metrics.ImportRow("imported", "")
		} else {
			i.metrics.ImportRow("skipped", outcome.reason)
			logger.DebugContext(ctx, "import row skipped", "row", current.number, "reason", outcome.reason)
		}
	}

	report := acc.report(i.now().UTC())
	i.metrics.ImportBatch()
	logger.InfoContext(ctx, "import finished",
		"totalRows", report.Summary.TotalRows,
		"imported", report.Summary.Imported,
		"skipped", report.Summary.Skipped,
		"canceled", report.Summary.Canceled,
	)

	// The request context may already be done; the manifest must still land.
	if err := i.reports.Put(context.WithoutCancel(ctx), &report); err != nil {
		logger.WarnContext(ctx, "import report not cached", "error", err)
	}
	return report, readErr
}

// Report returns a previously finished import by its batch id.
func (i *Importer) Report(ctx context.Context, batchID string) (domain.ImportReport, error) {
	batchID = strings.TrimSpace(batchID)
	if batchID == "" {
		return domain.ImportReport{}, fmt.Errorf("import batch: %w", store.ErrNotFound)
	}
	report, ok, err := i.reports.Get(ctx, batchID)
	if err != nil {
		return domain.ImportReport{}, fmt.Errorf("import batch %s: %w", batchID, err)
	}
	if !ok {
		return domain.ImportReport{}, fmt.Errorf("import batch %s: %w", batchID, store.ErrNotFound)
	}
	return *report, nil
}

// Forget drops a cached report before its retention runs out. The imported
// sales are untouched.
func (i *Importer) Forget(ctx context.Context, batchID string) error {
	batchID = strings.TrimSpace(batchID)
	if _, err := i.Report(ctx, batchID); err != nil {
		return err
	}
	if err := i.reports.Delete(ctx, batchID); err != nil {
		return fmt.Errorf("import batch %s: %w", batchID, err)
	}
	i.logger.InfoContext(ctx, "import report forgotten", "importBatch", batchID)
	return nil
}

// processRow never panics; anything unexpected becomes processing_error.
func (i *Importer) processRow(ctx context.Context, r row, batchID string, importedAt time.Time) (outcome rowOutcome) {
	defer func() {
		if rec := recover(); rec != nil {
			i.logger.ErrorContext(ctx, "import row panicked", "row", r.number, "panic", rec)
			outcome = skip(ReasonProcessingError, fmt.Sprintf("unexpected error: %v", rec))
		}
	}()

	var missing []string
	for _, required := range []struct{ field, label string }{
		{fieldCustomerName, "Contact Name"},
		{fieldProduct, "Product"},
		{fieldQuantity, "Quantity"},
		{fieldDate, "Date"},
	} {
		if r.get(required.field) == "" {
			missing = append(missing, required.label+" is required")
		}
	}
	contacts := r.contacts()
	if len(contacts) == 0 {
		missing = append(missing, "Contact Phone or Contact Email is required")
	}
	if len(missing) > 0 {
		return skip(ReasonRequiredFieldMissing, missing...)
	}

	originalCreatedAt, err := parseDate(r.get(fieldDate))
	if err != nil {
		return skip(ReasonInvalidDateFormat, fmt.Sprintf("Date %q: %v", r.get(fieldDate), err))
	}
	originalCreatedAt = store.DedupTime(originalCreatedAt)

	customer, found, err := i.resolveCustomer(ctx, contacts)
	if err != nil {
		return skip(ReasonProcessingError, err.Error())
	}
	if !found {
		return skip(ReasonCustomerNotFound, fmt.Sprintf("no customer matches %s", strings.Join(contacts, " or ")))
	}

	exists, err := i.sales.SaleExistsForCustomerAt(ctx, customer.ID, originalCreatedAt)
	if err != nil {
		return skip(ReasonProcessingError, err.Error())
	}
	if exists {
		return skip(ReasonAlreadyRegistered, fmt.Sprintf("a sale for %s at %s is already recorded", customer.Name, originalCreatedAt.Format(time.RFC3339)))
	}

	product, err := i.sales.FindProductByName(ctx, r.get(fieldProduct))
	switch {
	case errors.Is(err, store.ErrNotFound):
		return skip(ReasonProductNotFound, fmt.Sprintf("no product named %q", r.get(fieldProduct)))
	case err != nil:
		return skip(ReasonProcessingError, err.Error())
	}

	quantity, err := parseQuantity(r.get(fieldQuantity))
	if err != nil {
		return skip(ReasonInvalidQuantity, fmt.Sprintf("Quantity %q: %v", r.get(fieldQuantity), err))
	}
	amountPaid, err := parseAmount(r.get(fieldAmountPaid))
	if err != nil {
		return skip(ReasonInvalidPayment, fmt.Sprintf("Amount Paid %q is not a number", r.get(fieldAmountPaid)))
	}
	if amountPaid.IsNegative() {
		return skip(ReasonNegativePayment, fmt.Sprintf("Amount Paid %s is negative", amountPaid.String()))
	}
	if !domain.ValidMoney(amountPaid) {
		return skip(ReasonInvalidPayment, fmt.Sprintf("Amount Paid %s is not a valid amount", amountPaid.String()))
	}

	sale, err := i.sales.CreateImportedSale(ctx, domain.SaleCreateRequest{
		CustomerID:    customer.ID,
		Products:      []domain.SaleItemRequest{{ProductID: product.ID, Quantity: quantity}},
		AmountPaid:    &amountPaid,
		PaymentMethod: r.get(fieldPaymentMethod),
		ReceiptURL:    r.get(fieldReceiptURL),
	}, domain.SaleProvenance{
		OriginalCreatedAt: originalCreatedAt,
		ImportedAt:        importedAt,
		ImportBatch:       batchID,
	})
	if err != nil {
		return classifySaleError(err)
	}

	return rowOutcome{
		imported: &domain.ImportedSale{
			Row:               r.number,
			SaleID:            sale.ID,
			CustomerID:        sale.CustomerID,
			ProductID:         product.ID,
			Quantity:          quantity,
			TotalAmount:       sale.TotalAmount,
			AmountPaid:        sale.AmountPaid,
			Settled:           sale.Settled,
			OriginalCreatedAt: originalCreatedAt,
		},
		warnings: rowWarnings(r, product, quantity, sale),
	}
}

// resolveCustomer tries each contact in turn. A contact that cannot be
// normalized counts as no match.
func (i *Importer) resolveCustomer(ctx context.Context, contacts []string) (domain.Customer, bool, error) {
	for _, contact := range contacts {
		customer, err := i.sales.FindCustomerByContact(ctx, contact)
		switch {
		case err == nil:
			return customer, true, nil
		case errors.Is(err, store.ErrNotFound), errors.Is(err, store.ErrValidation):
			continue
		default:
			return domain.Customer{}, false, err
		}
	}
	return domain.Customer{}, false, nil
}

func classifySaleError(err error) rowOutcome {
	switch {
	case errors.Is(err, store.ErrInsufficientInventory):
		return skip(ReasonInsufficientStock, err.Error())
	case errors.Is(err, store.ErrDuplicateTransaction):
		return skip(ReasonAlreadyRegistered, err.Error())
	case errors.Is(err, store.ErrNotFound):
		return skip(ReasonProductNotFound, err.Error())
	default:
		return skip(ReasonProcessingError, err.Error())
	}
}

func rowWarnings(r row, product domain.Product, quantity int, sale domain.Sale) []string {
	var warnings []string
	prefix := fmt.Sprintf("Row %d", r.number)

	switch {
	case sale.AmountPaid.IsZero():
		warnings = append(warnings, fmt.Sprintf("%s: no payment recorded, sale of %s left unsettled", prefix, sale.TotalAmount.StringFixed(2)))
	case sale.AmountPaid.GreaterThan(sale.TotalAmount):
		warnings = append(warnings, fmt.Sprintf("%s: overpayment of %s", prefix, sale.AmountPaid.Sub(sale.TotalAmount).StringFixed(2)))
	}

	if raw := r.get(fieldUnitPrice); raw != "" {
		if csvPrice, err := parseAmount(raw); err == nil && !csvPrice.Equal(product.Price) {
			warnings = append(warnings, fmt.Sprintf("%s: unit price %s differs from current price %s of %s", prefix, csvPrice.String(), product.Price.String(), product.Name))
		}
	}
	if raw := r.get(fieldTotalAmount); raw != "" {
		if csvTotal, err := parseAmount(raw); err == nil && !csvTotal.Equal(sale.TotalAmount) {
			warnings = append(warnings, fmt.Sprintf("%s: total %s differs from computed total %s (%d x %s)", prefix, csvTotal.String(), sale.TotalAmount.String(), quantity, product.Price.String()))
		}
	}
	return warnings
}

func blank(record []string) bool {
	for _, cell := range record {
		if strings.TrimSpace(cell) != "" {
			return false
		}
	}
	return true
}

type accumulator struct {
	summary   domain.ImportSummary
	imported  []domain.ImportedSale
	skipped   []domain.SkippedRow
	warnings  []string
	truncated domain.ImportTruncation
}

func newAccumulator(batchID string) *accumulator {
	return &accumulator{
		summary: domain.ImportSummary{
			ImportBatchID:   batchID,
			SkippedByReason: make(map[string]int),
		},
		imported: []domain.ImportedSale{},
		skipped:  []domain.SkippedRow{},
		warnings: []string{},
	}
}

func (a *accumulator) add(r row, outcome rowOutcome) {
	a.summary.TotalRows++

	if outcome.imported != nil {
		a.summary.Imported++
		if len(a.imported) < SampleLimit {
			a.imported = append(a.imported, *outcome.imported)
		} else {
			a.truncated.ImportedSales = true
		}
	} else {
		a.summary.Skipped++
		a.summary.SkippedByReason[outcome.reason]++
		if len(a.skipped) < SampleLimit {
			a.skipped = append(a.skipped, domain.SkippedRow{
				Row:    r.number,
				Reason: outcome.reason,
				Errors: outcome.errors,
				Data:   r.data,
			})
		} else {
			a.truncated.SkippedRows = true
		}
	}

	for _, warning := range outcome.warnings {
		if len(a.warnings) < SampleLimit {
			a.warnings = append(a.warnings, warning)
		} else {
			a.truncated.Warnings = true
		}
	}
}

func (a *accumulator) report(completedAt time.Time) domain.ImportReport {
	return domain.ImportReport{
		Summary:       a.summary,
		ImportedSales: a.imported,
		SkippedRows:   a.skipped,
		Warnings:      a.warnings,
		Truncated:     a.truncated,
		CompletedAt:   completedAt,
	}
}
