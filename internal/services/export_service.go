package services

import (
	"context"
	"errors"
	"fmt"
	"io"

	"github.com/xuri/excelize/v2"
	"go.uber.org/zap"

	"finitefield.org/wholesale/internal/domain"
)

const (
	exportPageSize = 100
	exportMaxPages = 500
)

type exportColumn struct {
	title string
	width float64
}

// ExportServiceDeps wires the admin listings the exporter pages through.
type ExportServiceDeps struct {
	Admin  AdminService
	Logger *zap.Logger
}

type exportService struct {
	admin  AdminService
	logger *zap.Logger
}

// NewExportService constructs an ExportService.
func NewExportService(deps ExportServiceDeps) (ExportService, error) {
	if deps.Admin == nil {
		return nil, errors.New("export service: admin service is required")
	}
	logger := deps.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &exportService{admin: deps.Admin, logger: logger.Named("export")}, nil
}

// Export writes every page matching filters as an xlsx workbook. The page and page size of
// filters are ignored.
func (s *exportService) Export(ctx context.Context, resource AdminResource, filters domain.AdminFilters, w io.Writer) error {
	var (
		columns []exportColumn
		rows    [][]any
		err     error
	)
	switch resource {
	case AdminProducts:
		columns = []exportColumn{{"ID", 14}, {"Name", 32}, {"SKU", 16}, {"Category", 18}, {"Price", 12}, {"Stock", 10}, {"Status", 14}, {"Updated", 22}}
		rows, err = s.productRows(ctx, filters)
	case AdminOrders:
		columns = []exportColumn{{"Order", 14}, {"Customer", 24}, {"Email", 28}, {"Items", 8}, {"Total", 12}, {"Status", 14}, {"Payment", 14}, {"Date", 22}}
		rows, err = s.orderRows(ctx, filters)
	case AdminCustomers:
		columns = []exportColumn{{"ID", 14}, {"Name", 24}, {"Email", 28}, {"Phone", 18}, {"Orders", 10}, {"Total spent", 14}, {"Status", 12}, {"Joined", 22}}
		rows, err = s.customerRows(ctx, filters)
	default:
		return ErrInvalidInput
	}
	if err != nil {
		return err
	}
	s.logger.Info("admin export", zap.String("resource", string(resource)), zap.Int("rows", len(rows)))
	return writeWorkbook(w, sheetTitle(resource), columns, rows)
}

func (s *exportService) productRows(ctx context.Context, filters domain.AdminFilters) ([][]any, error) {
	var rows [][]any
	err := eachPage(filters, func(f domain.AdminFilters) (domain.PageMeta, error) {
		list, err := s.admin.Products(ctx, f)
		if err != nil {
			return domain.PageMeta{}, err
		}
		for _, p := range list.Data {
			rows = append(rows, []any{p.ID, p.Name, p.SKU, p.Category, p.Price.InexactFloat64(), p.Stock, p.Status, p.UpdatedAt})
		}
		return list.Meta, nil
	})
	return rows, err
}

func (s *exportService) orderRows(ctx context.Context, filters domain.AdminFilters) ([][]any, error) {
	var rows [][]any
	err := eachPage(filters, func(f domain.AdminFilters) (domain.PageMeta, error) {
		list, err := s.admin.Orders(ctx, f)
		if err != nil {
			return domain.PageMeta{}, err
		}
		for _, o := range list.Data {
			rows = append(rows, []any{o.ID, o.Customer, o.Email, o.Items, o.Total.InexactFloat64(), o.Status, o.PaymentStatus, o.Date})
		}
		return list.Meta, nil
	})
	return rows, err
}

func (s *exportService) customerRows(ctx context.Context, filters domain.AdminFilters) ([][]any, error) {
	var rows [][]any
	err := eachPage(filters, func(f domain.AdminFilters) (domain.PageMeta, error) {
		list, err := s.admin.Customers(ctx, f)
		if err != nil {
			return domain.PageMeta{}, err
		}
		for _, c := range list.Data {
			rows = append(rows, []any{c.ID, c.Name, c.Email, c.Phone, c.Orders, c.TotalSpent.InexactFloat64(), c.Status, c.JoinedAt})
		}
		return list.Meta, nil
	})
	return rows, err
}

// eachPage walks pages from the first until the listing reports its last page.
func eachPage(filters domain.AdminFilters, fetch func(domain.AdminFilters) (domain.PageMeta, error)) error {
	filters.PerPage = exportPageSize
	for page := 1; page <= exportMaxPages; page++ {
		filters.Page = page
		meta, err := fetch(filters)
		if err != nil {
			return err
		}
		if meta.LastPage <= page {
			return nil
		}
	}
	return fmt.Errorf("export service: more than %d pages", exportMaxPages)
}

func writeWorkbook(w io.Writer, sheet string, columns []exportColumn, rows [][]any) error {
	f := excelize.NewFile()
	defer f.Close()

	if err := f.SetSheetName("Sheet1", sheet); err != nil {
		return fmt.Errorf("export service: %w", err)
	}
	headerStyle, err := f.NewStyle(&excelize.Style{
		Font: &excelize.Font{Bold: true, Color: "FFFFFF"},
		Fill: excelize.Fill{Type: "pattern", Color: []string{"4472C4"}, Pattern: 1},
	})
	if err != nil {
		return fmt.Errorf("export service: %w", err)
	}

	for i, col := range columns {
		cell, _ := excelize.CoordinatesToCellName(i+1, 1)
		if err := f.SetCellValue(sheet, cell, col.title); err != nil {
			return fmt.Errorf("export service: %w", err)
		}
		colName, _ := excelize.ColumnNumberToName(i + 1)
		_ = f.SetColWidth(sheet, colName, colName, col.width)
	}
	lastHeader, _ := excelize.CoordinatesToCellName(len(columns), 1)
	_ = f.SetCellStyle(sheet, "A1", lastHeader, headerStyle)

	for r, row := range rows {
		cell, _ := excelize.CoordinatesToCellName(1, r+2)
		if err := f.SetSheetRow(sheet, cell, &row); err != nil {
			return fmt.Errorf("export service: %w", err)
		}
	}
	_ = f.SetPanes(sheet, &excelize.Panes{Freeze: true, YSplit: 1, TopLeftCell: "A2", ActivePane: "bottomLeft"})

	if _, err := f.WriteTo(w); err != nil {
		return fmt.Errorf("export service: write workbook: %w", err)
	}
	return nil
}

func sheetTitle(resource AdminResource) string {
	switch resource {
	case AdminOrders:
		return "Orders"
	case AdminCustomers:
		return "Customers"
	default:
		return "Products"
	}
}
