package importer

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"testing"
	"testing/iotest"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"bitetrack/backend/internal/domain"
	"bitetrack/backend/internal/metrics"
	"bitetrack/backend/internal/service"
	"bitetrack/backend/internal/store"
	"bitetrack/backend/internal/store/memory"
)

const header = "Date,Contact Name,Contact Phone,Contact Email,Product,Quantity,Unit Price,Total Amount,Amount Paid\n"

type fixture struct {
	svc      *service.Service
	importer *Importer
	ctx      context.Context
	maria    domain.Customer
	james    domain.Customer
	cookie   domain.Product
	loaf     domain.Product
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	now := func() time.Time { return time.Date(2025, 1, 10, 12, 0, 0, 0, time.UTC) }
	m := metrics.New()
	svc := service.New(memory.New(), service.WithClock(now), service.WithMetrics(m))
	ctx := context.Background()

	maria, err := svc.CreateCustomer(ctx, domain.CustomerCreateRequest{Name: "Maria Lopez", Email: "maria.lopez@example.com", Phone: "5551234567"})
	require.NoError(t, err)
	james, err := svc.CreateCustomer(ctx, domain.CustomerCreateRequest{Name: "James Carter", Phone: "5559876543"})
	require.NoError(t, err)
	cookie, err := svc.CreateProduct(ctx, domain.ProductCreateRequest{Name: "Chocolate Chip Cookie", Price: decimal.RequireFromString("2.50"), Count: 100})
	require.NoError(t, err)
	loaf, err := svc.CreateProduct(ctx, domain.ProductCreateRequest{Name: "Sourdough Loaf", Price: decimal.RequireFromString("7.00"), Count: 1})
	require.NoError(t, err)

	return &fixture{
		svc:      svc,
		importer: New(svc, WithClock(now), WithMetrics(m)),
		ctx:      ctx,
		maria:    maria,
		james:    james,
		cookie:   cookie,
		loaf:     loaf,
	}
}

func (f *fixture) stock(t *testing.T, id string) int {
	t.Helper()
	product, err := f.svc.GetProduct(f.ctx, id)
	require.NoError(t, err)
	return product.Count
}

func TestImportClassifiesEveryRow(t *testing.T) {
	f := newFixture(t)

	csv := header +
		"2024-12-01T10:00:00Z,Maria Lopez,,MARIA.LOPEZ@example.com,chocolate chip cookie,4,2.50,10.00,$10.00\n" +
		"12/02/2024 09:30,James Carter,+1 555-987-6543,,Sourdough Loaf,1,7.00,7.00,0\n" +
		"2024-12-03,,5551234567,,Chocolate Chip Cookie,1,,,\n" +
		"yesterday,Maria Lopez,5551234567,,Chocolate Chip Cookie,1,,,\n" +
		"2024-12-04,Nobody,5550000000,,Chocolate Chip Cookie,1,,,\n" +
		"2024-12-05,Maria Lopez,5551234567,,Croissant,1,,,\n" +
		"2024-12-06,Maria Lopez,5551234567,,Chocolate Chip Cookie,two,,,\n" +
		"2024-12-07,Maria Lopez,5551234567,,Chocolate Chip Cookie,1,,,ten\n" +
		"2024-12-08,Maria Lopez,5551234567,,Chocolate Chip Cookie,1,,,-5\n" +
		"2024-12-09,James Carter,5559876543,,Sourdough Loaf,1,,,7\n"

	report, err := f.importer.Import(f.ctx, strings.NewReader(csv))
	require.NoError(t, err)

	assert.Equal(t, 10, report.Summary.TotalRows)
	assert.Equal(t, 2, report.Summary.Imported)
	assert.Equal(t, 8, report.Summary.Skipped)
	assert.NotEmpty(t, report.Summary.ImportBatchID)
	assert.Equal(t, map[string]int{
		ReasonRequiredFieldMissing: 1,
		ReasonInvalidDateFormat:    1,
		ReasonCustomerNotFound:     1,
		ReasonProductNotFound:      1,
		ReasonInvalidQuantity:      1,
		ReasonInvalidPayment:       1,
		ReasonNegativePayment:      1,
		ReasonInsufficientStock:    1,
	}, report.Summary.SkippedByReason)

	require.Len(t, report.ImportedSales, 2)
	first := report.ImportedSales[0]
	assert.Equal(t, 2, first.Row)
	assert.Equal(t, f.maria.ID, first.CustomerID)
	assert.True(t, first.TotalAmount.Equal(decimal.RequireFromString("10")))
	assert.True(t, first.Settled)
	assert.Equal(t, f.james.ID, report.ImportedSales[1].CustomerID)
	assert.False(t, report.ImportedSales[1].Settled)

	require.Len(t, report.SkippedRows, 8)
	missing := report.SkippedRows[0]
	assert.Equal(t, 4, missing.Row)
	assert.Equal(t, ReasonRequiredFieldMissing, missing.Reason)
	assert.Equal(t, "5551234567", missing.Data["Contact Phone"])
	assert.NotEmpty(t, missing.Errors)

	assert.Equal(t, 96, f.stock(t, f.cookie.ID))
	assert.Equal(t, 0, f.stock(t, f.loaf.ID))

	require.Len(t, report.Warnings, 1)
	assert.Contains(t, report.Warnings[0], "Row 3")
	assert.False(t, report.Truncated.ImportedSales)
	assert.False(t, report.Truncated.SkippedRows)

	sales, err := f.svc.ListSales(f.ctx, domain.SaleFilter{})
	require.NoError(t, err)
	require.Len(t, sales, 2)
	for _, sale := range sales {
		assert.True(t, sale.ExternalSale)
		assert.Equal(t, report.Summary.ImportBatchID, sale.ImportBatch)
		require.NotNil(t, sale.OriginalCreatedAt)
	}
}

func TestReimportIsIdempotent(t *testing.T) {
	f := newFixture(t)

	csv := header +
		"2024-12-01T10:00:00.123Z,Maria Lopez,5551234567,,Chocolate Chip Cookie,2,,,5\n" +
		"2024-12-01T11:00:00Z,Maria Lopez,5551234567,,Chocolate Chip Cookie,3,,,7.50\n"

	first, err := f.importer.Import(f.ctx, strings.NewReader(csv))
	require.NoError(t, err)
	assert.Equal(t, 2, first.Summary.Imported)
	assert.Equal(t, 95, f.stock(t, f.cookie.ID))

	second, err := f.importer.Import(f.ctx, strings.NewReader(csv))
	require.NoError(t, err)
	assert.Equal(t, 0, second.Summary.Imported)
	assert.Equal(t, 2, second.Summary.SkippedByReason[ReasonAlreadyRegistered])
	assert.NotEqual(t, first.Summary.ImportBatchID, second.Summary.ImportBatchID)
	assert.Equal(t, 95, f.stock(t, f.cookie.ID))

	sales, err := f.svc.ListSales(f.ctx, domain.SaleFilter{CustomerID: f.maria.ID})
	require.NoError(t, err)
	assert.Len(t, sales, 2)
}

func TestImportWarnings(t *testing.T) {
	f := newFixture(t)

	csv := header +
		"2024-12-01 08:00:00,Maria Lopez,5551234567,,Chocolate Chip Cookie,2,3.00,6.00,\"1,000.00\"\n"

	report, err := f.importer.Import(f.ctx, strings.NewReader(csv))
	require.NoError(t, err)
	require.Equal(t, 1, report.Summary.Imported)
	require.Len(t, report.Warnings, 3)
	assert.Contains(t, report.Warnings[0], "overpayment of 995.00")
	assert.Contains(t, report.Warnings[1], "unit price 3 differs")
	assert.Contains(t, report.Warnings[2], "total 6 differs")
}

func TestImportBoundsSamples(t *testing.T) {
	f := newFixture(t)

	var b strings.Builder
	b.WriteString(header)
	for i := 0; i < SampleLimit+5; i++ {
		fmt.Fprintf(&b, "2024-11-01,Nobody %d,555000%04d,,Chocolate Chip Cookie,1,,,\n", i, i)
	}

	report, err := f.importer.Import(f.ctx, strings.NewReader(b.String()))
	require.NoError(t, err)
	assert.Equal(t, SampleLimit+5, report.Summary.Skipped)
	assert.Len(t, report.SkippedRows, SampleLimit)
	assert.True(t, report.Truncated.SkippedRows)
	assert.False(t, report.Truncated.ImportedSales)
}

func TestImportRejectsEmptyFile(t *testing.T) {
	f := newFixture(t)

	_, err := f.importer.Import(f.ctx, strings.NewReader(""))
	require.ErrorIs(t, err, ErrNoHeader)
}

func TestImportReportIsCached(t *testing.T) {
	f := newFixture(t)

	report, err := f.importer.Import(f.ctx, strings.NewReader(header+"2024-12-01,Maria Lopez,5551234567,,Chocolate Chip Cookie,1,,,2.5\n"))
	require.NoError(t, err)

	cached, err := f.importer.Report(f.ctx, report.Summary.ImportBatchID)
	require.NoError(t, err)
	assert.Equal(t, report.Summary, cached.Summary)

	_, err = f.importer.Report(f.ctx, "batch-unknown")
	require.ErrorIs(t, err, store.ErrNotFound)
}

func TestForgetDropsReportButKeepsSales(t *testing.T) {
	f := newFixture(t)

	report, err := f.importer.Import(f.ctx, strings.NewReader(header+"2024-12-01,Maria Lopez,5551234567,,Chocolate Chip Cookie,4,,,\n"))
	require.NoError(t, err)
	batchID := report.Summary.ImportBatchID

	require.NoError(t, f.importer.Forget(f.ctx, batchID))
	_, err = f.importer.Report(f.ctx, batchID)
	require.ErrorIs(t, err, store.ErrNotFound)
	require.ErrorIs(t, f.importer.Forget(f.ctx, batchID), store.ErrNotFound)

	assert.Equal(t, 96, f.stock(t, f.cookie.ID))
	sale, err := f.svc.GetSale(f.ctx, report.ImportedSales[0].SaleID)
	require.NoError(t, err)
	assert.Equal(t, batchID, sale.ImportBatch)
}

type panickingRecorder struct {
	SaleRecorder
	calls int
}

func (p *panickingRecorder) FindProductByName(ctx context.Context, name string) (domain.Product, error) {
	p.calls++
	if p.calls == 1 {
		panic("boom")
	}
	return p.SaleRecorder.FindProductByName(ctx, name)
}

func TestImportRecoversFromRowPanic(t *testing.T) {
	f := newFixture(t)
	imp := New(&panickingRecorder{SaleRecorder: f.svc})

	csv := header +
		"2024-12-01,Maria Lopez,5551234567,,Chocolate Chip Cookie,1,,,\n" +
		"2024-12-02,Maria Lopez,5551234567,,Chocolate Chip Cookie,1,,,\n"

	report, err := imp.Import(f.ctx, strings.NewReader(csv))
	require.NoError(t, err)
	assert.Equal(t, 1, report.Summary.SkippedByReason[ReasonProcessingError])
	assert.Equal(t, 1, report.Summary.Imported)
}

type failingRecorder struct {
	SaleRecorder
}

func (failingRecorder) CreateImportedSale(context.Context, domain.SaleCreateRequest, domain.SaleProvenance) (domain.Sale, error) {
	return domain.Sale{}, fmt.Errorf("insert sale: %w", store.ErrDuplicateTransaction)
}

func TestImportMapsDedupRaceToAlreadyRegistered(t *testing.T) {
	f := newFixture(t)
	imp := New(failingRecorder{SaleRecorder: f.svc})

	report, err := imp.Import(f.ctx, strings.NewReader(header+"2024-12-01,Maria Lopez,5551234567,,Chocolate Chip Cookie,1,,,\n"))
	require.NoError(t, err)
	require.Len(t, report.SkippedRows, 1)
	assert.Equal(t, ReasonAlreadyRegistered, report.SkippedRows[0].Reason)
	assert.Equal(t, 100, f.stock(t, f.cookie.ID))
}

// cancelingRecorder ends the request right after the first sale commits.
type cancelingRecorder struct {
	SaleRecorder
	cancel context.CancelFunc
}

func (c cancelingRecorder) CreateImportedSale(ctx context.Context, req domain.SaleCreateRequest, prov domain.SaleProvenance) (domain.Sale, error) {
	sale, err := c.SaleRecorder.CreateImportedSale(ctx, req, prov)
	c.cancel()
	return sale, err
}

func TestImportReturnsPartialReportWhenCanceled(t *testing.T) {
	f := newFixture(t)
	ctx, cancel := context.WithCancel(f.ctx)
	defer cancel()
	imp := New(cancelingRecorder{SaleRecorder: f.svc, cancel: cancel})

	csv := header +
		"2024-12-01,Maria Lopez,5551234567,,Chocolate Chip Cookie,2,,,\n" +
		"2024-12-02,Maria Lopez,5551234567,,Chocolate Chip Cookie,3,,,\n" +
		"2024-12-03,James Carter,5559876543,,Chocolate Chip Cookie,4,,,\n"

	report, err := imp.Import(ctx, strings.NewReader(csv))
	require.NoError(t, err)
	assert.True(t, report.Summary.Canceled)
	assert.Equal(t, 1, report.Summary.TotalRows)
	assert.Equal(t, 1, report.Summary.Imported)
	assert.Equal(t, 98, f.stock(t, f.cookie.ID))

	cached, err := imp.Report(f.ctx, report.Summary.ImportBatchID)
	require.NoError(t, err)
	assert.True(t, cached.Summary.Canceled)
	assert.Equal(t, 1, cached.Summary.Imported)
}

func TestImportKeepsReportOnMidFileReadError(t *testing.T) {
	f := newFixture(t)
	broken := errors.New("connection reset")
	body := io.MultiReader(
		strings.NewReader(header+"2024-12-01,Maria Lopez,5551234567,,Chocolate Chip Cookie,2,,,\n"),
		iotest.ErrReader(broken),
	)

	report, err := f.importer.Import(f.ctx, body)
	require.ErrorIs(t, err, broken)
	require.NotEmpty(t, report.Summary.ImportBatchID)
	assert.False(t, report.Summary.Canceled)
	assert.Equal(t, 1, report.Summary.Imported)
	assert.Equal(t, 98, f.stock(t, f.cookie.ID))

	_, err = f.importer.Report(f.ctx, report.Summary.ImportBatchID)
	require.NoError(t, err)
}

func TestParseAmount(t *testing.T) {
	cases := map[string]string{
		"":          "0",
		"12":        "12",
		"$1,234.50": "1234.5",
		" € 3,00 ":  "300",
		"USD 15.99": "15.99",
		"(4.00)":    "-4",
		"-2.5":      "-2.5",
	}
	for raw, want := range cases {
		got, err := parseAmount(raw)
		require.NoError(t, err, raw)
		assert.True(t, got.Equal(decimal.RequireFromString(want)), "%q -> %s", raw, got)
	}

	for _, raw := range []string{"ten", "$", "1.2.3"} {
		_, err := parseAmount(raw)
		assert.Error(t, err, raw)
	}
}

func TestParseQuantity(t *testing.T) {
	for raw, want := range map[string]int{"1": 1, " 12 ": 12, "3.0": 3, "1,000": 1000} {
		got, err := parseQuantity(raw)
		require.NoError(t, err, raw)
		assert.Equal(t, want, got)
	}
	for _, raw := range []string{"0", "-1", "1.5", "two", ""} {
		_, err := parseQuantity(raw)
		assert.True(t, errors.Is(err, errNotPositiveInteger), raw)
	}
}

func TestParseDateLayouts(t *testing.T) {
	want := time.Date(2024, 12, 2, 9, 30, 0, 0, time.UTC)
	for _, raw := range []string{
		"2024-12-02T09:30:00Z",
		"2024-12-02T04:30:00-05:00",
		"2024-12-02 09:30:00",
		"2024-12-02 09:30",
		"12/02/2024 09:30",
		"12/2/2024 9:30 AM",
	} {
		got, err := parseDate(raw)
		require.NoError(t, err, raw)
		assert.True(t, got.Equal(want), "%q -> %s", raw, got)
	}

	_, err := parseDate("02.12.2024")
	assert.Error(t, err)
}
