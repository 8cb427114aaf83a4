package db

import (
	"context"
	"database/sql"
	"strings"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/google/uuid"

	"github.com/orrn/kitchenprint/internal/core"
)

var ErrDuplicatePrinterName = errors.New("a printer with this name already exists")

// PrinterStore is the printer catalogue. It also resolves printers for the processor.
type PrinterStore struct {
	db  *sql.DB
	now func() time.Time
}

func NewPrinterStore(db *sql.DB) *PrinterStore {
	return &PrinterStore{db: db, now: time.Now}
}

func scanPrinter(row rowScanner) (*core.Printer, error) {
	var p core.Printer
	if err := row.Scan(&p.ID, &p.Name, &p.Type, &p.Address, &p.Enabled, &p.Mode, &p.CreatedAt, &p.UpdatedAt); err != nil {
		return nil, err
	}
	return &p, nil
}

func validatePrinter(p *core.Printer) error {
	if strings.TrimSpace(p.Name) == "" {
		return errors.New("printer name is required")
	}
	if strings.TrimSpace(p.Address) == "" {
		return errors.New("printer address is required")
	}
	switch p.Type {
	case core.PrinterTypeNetwork, core.PrinterTypeAgent:
	default:
		return errors.Wrapf(core.ErrUnknownPrinterType, "%q", p.Type)
	}
	switch p.Mode {
	case "":
		p.Mode = core.PrintModeImmediate
	case core.PrintModeImmediate, core.PrintModeOnDemand:
	default:
		return errors.Newf("invalid print mode %q", p.Mode)
	}
	return nil
}

func isUniqueViolation(err error) bool {
	return err != nil && strings.Contains(err.Error(), "UNIQUE constraint failed")
}

func (s *PrinterStore) CreatePrinter(ctx context.Context, p *core.Printer) error {
	if err := validatePrinter(p); err != nil {
		return err
	}
	if p.ID == "" {
		p.ID = uuid.NewString()
	}
	now := s.now().UTC()
	p.CreatedAt, p.UpdatedAt = now, now

	_, err := s.db.ExecContext(ctx, InsertPrinter,
		p.ID, p.Name, p.Type, p.Address, p.Enabled, p.Mode, formatTime(now), formatTime(now))
	if isUniqueViolation(err) {
		return errors.Wrapf(ErrDuplicatePrinterName, "%q", p.Name)
	}
	if err != nil {
		return core.MarkPersistence(errors.Wrap(err, "create printer"))
	}
	return nil
}

func (s *PrinterStore) GetPrinter(ctx context.Context, id string) (*core.Printer, error) {
	p, err := scanPrinter(s.db.QueryRowContext(ctx, GetPrinterByID, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, errors.Wrapf(core.ErrPrinterNotFound, "printer %s", id)
	}
	if err != nil {
		return nil, core.MarkPersistence(errors.Wrapf(err, "get printer %s", id))
	}
	return p, nil
}

func (s *PrinterStore) ListPrinters(ctx context.Context) ([]*core.Printer, error) {
	return s.queryPrinters(ctx, ListPrinters)
}

// PrintersForAgent lists the printers attached to one remote agent.
func (s *PrinterStore) PrintersForAgent(ctx context.Context, agentID string) ([]*core.Printer, error) {
	return s.queryPrinters(ctx, ListAgentPrinters, agentID)
}

func (s *PrinterStore) queryPrinters(ctx context.Context, query string, args ...any) ([]*core.Printer, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, core.MarkPersistence(errors.Wrap(err, "list printers"))
	}
	defer rows.Close()

	var printers []*core.Printer
	for rows.Next() {
		p, err := scanPrinter(rows)
		if err != nil {
			return nil, core.MarkPersistence(errors.Wrap(err, "scan printer"))
		}
		printers = append(printers, p)
	}
	if err := rows.Err(); err != nil {
		return nil, core.MarkPersistence(errors.Wrap(err, "list printers"))
	}
	return printers, nil
}

func (s *PrinterStore) UpdatePrinter(ctx context.Context, p *core.Printer) error {
	if err := validatePrinter(p); err != nil {
		return err
	}
	p.UpdatedAt = s.now().UTC()

	res, err := s.db.ExecContext(ctx, UpdatePrinter,
		p.Name, p.Type, p.Address, p.Enabled, p.Mode, formatTime(p.UpdatedAt), p.ID)
	if isUniqueViolation(err) {
		return errors.Wrapf(ErrDuplicatePrinterName, "%q", p.Name)
	}
	if err != nil {
		return core.MarkPersistence(errors.Wrapf(err, "update printer %s", p.ID))
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return errors.Wrapf(core.ErrPrinterNotFound, "printer %s", p.ID)
	}
	return nil
}

func (s *PrinterStore) DeletePrinter(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, DeletePrinter, id)
	if err != nil {
		return core.MarkPersistence(errors.Wrapf(err, "delete printer %s", id))
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return errors.Wrapf(core.ErrPrinterNotFound, "printer %s", id)
	}
	return nil
}
