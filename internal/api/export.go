package api

import (
	"encoding/csv"
	"fmt"
	"net/http"
	"reflect"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/invopop/jsonschema"
	"github.com/xuri/excelize/v2"
	"go.uber.org/zap"

	"github.com/lalithlochan/alerts/internal/alert"
	"github.com/lalithlochan/alerts/internal/db"
)

var exportHeader = []string{
	"id", "subject", "message", "jurisdictions", "methods", "receivers",
	"sms_sent", "sms_delivered", "sms_failed", "createdAt", "updatedAt",
}

// alertSchema describes the alert document. Enumerations are spelled out so
// clients can build forms from it.
func alertSchema() *jsonschema.Schema {
	r := &jsonschema.Reflector{
		ExpandedStruct: true,
		DoNotReference: true,
		Mapper: func(t reflect.Type) *jsonschema.Schema {
			switch t {
			case reflect.TypeOf(uuid.UUID{}):
				return &jsonschema.Schema{Type: "string", Format: "uuid"}
			case reflect.TypeOf(db.Method("")):
				return &jsonschema.Schema{Type: "string", Enum: enum(db.Methods)}
			case reflect.TypeOf(db.Receiver("")):
				return &jsonschema.Schema{Type: "string", Enum: enum(db.Receivers)}
			}
			return nil
		},
	}

	s := r.Reflect(&db.Alert{})
	s.Title = "Alert"
	s.Description = "Service disruption notice sent to the customers, employees and reporters of one or more jurisdictions"
	s.Required = []string{"jurisdictions", "subject", "message", "receivers"}
	return s
}

func enum[T ~string](vals []T) []any {
	out := make([]any, len(vals))
	for i, v := range vals {
		out[i] = string(v)
	}
	return out
}

// GetSchema handles GET /alerts/schema
func (h *Handler) GetSchema(w http.ResponseWriter, r *http.Request) {
	data, err := h.schema.MarshalJSON()
	if err != nil {
		h.logger.Error("failed to marshal schema", zap.Error(err))
		h.writeError(w, http.StatusInternalServerError, "internal_error", "Failed to render schema", "")
		return
	}
	w.Header().Set("Content-Type", "application/schema+json")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(data)
}

// ExportAlerts handles GET /alerts/export?format=csv|xlsx. It accepts the
// same filters as the listing and walks every page.
func (h *Handler) ExportAlerts(w http.ResponseWriter, r *http.Request) {
	format := strings.ToLower(r.URL.Query().Get("format"))
	if format == "" {
		format = "csv"
	}
	if format != "csv" && format != "xlsx" {
		h.writeError(w, http.StatusBadRequest, "invalid_request", "Unsupported export format", "format must be csv or xlsx")
		return
	}

	opts, err := parseListOptions(r)
	if err != nil {
		h.writeError(w, http.StatusBadRequest, "invalid_request", "Invalid query", err.Error())
		return
	}

	rows, err := h.exportRows(r, opts)
	if err != nil {
		h.writeServiceError(w, err, "export alerts")
		return
	}

	filename := fmt.Sprintf("alerts_exports_%d.%s", time.Now().UnixMilli(), format)
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", filename))

	if format == "xlsx" {
		h.writeXLSX(w, rows)
	} else {
		h.writeCSV(w, rows)
	}

	h.logger.Info("alerts exported", zap.String("format", format), zap.Int("rows", len(rows)))
}

func (h *Handler) exportRows(r *http.Request, opts db.ListOptions) ([][]string, error) {
	opts.Limit = alert.MaxLimit
	opts.Skip = 0

	var rows [][]string
	for {
		page, err := h.alerts.List(r.Context(), opts)
		if err != nil {
			return nil, err
		}
		for _, a := range page.Data {
			rows = append(rows, exportRow(a))
		}
		opts.Skip += len(page.Data)
		if len(page.Data) == 0 || opts.Skip >= page.Total {
			return rows, nil
		}
	}
}

func exportRow(a *db.Alert) []string {
	codes := make([]string, len(a.Jurisdictions))
	for i, j := range a.Jurisdictions {
		codes[i] = j.Code
		if codes[i] == "" {
			codes[i] = j.ID.String()
		}
	}
	methods := make([]string, len(a.Methods))
	for i, m := range a.Methods {
		methods[i] = string(m)
	}
	receivers := make([]string, len(a.Receivers))
	for i, rc := range a.Receivers {
		receivers[i] = string(rc)
	}
	sms := a.Statistics[db.MethodSMS]

	return []string{
		a.ID.String(),
		a.Subject,
		a.Message,
		strings.Join(codes, ";"),
		strings.Join(methods, ";"),
		strings.Join(receivers, ";"),
		strconv.Itoa(sms.Sent),
		strconv.Itoa(sms.Delivered),
		strconv.Itoa(sms.Failed),
		a.CreatedAt.UTC().Format(time.RFC3339),
		a.UpdatedAt.UTC().Format(time.RFC3339),
	}
}

func (h *Handler) writeCSV(w http.ResponseWriter, rows [][]string) {
	w.Header().Set("Content-Type", "text/csv")
	w.WriteHeader(http.StatusOK)

	cw := csv.NewWriter(w)
	_ = cw.Write(exportHeader)
	_ = cw.WriteAll(rows)
	if err := cw.Error(); err != nil {
		h.logger.Error("failed to write csv export", zap.Error(err))
	}
}

func (h *Handler) writeXLSX(w http.ResponseWriter, rows [][]string) {
	f := excelize.NewFile()
	defer func() { _ = f.Close() }()

	const sheet = "Sheet1"
	sw, err := f.NewStreamWriter(sheet)
	if err != nil {
		h.writeError(w, http.StatusInternalServerError, "internal_error", "Failed to export alerts", "")
		return
	}

	for i, row := range append([][]string{exportHeader}, rows...) {
		cell, _ := excelize.CoordinatesToCellName(1, i+1)
		values := make([]interface{}, len(row))
		for j, v := range row {
			values[j] = v
		}
		if err := sw.SetRow(cell, values); err != nil {
			h.logger.Error("failed to write xlsx row", zap.Error(err))
			h.writeError(w, http.StatusInternalServerError, "internal_error", "Failed to export alerts", "")
			return
		}
	}
	if err := sw.Flush(); err != nil {
		h.writeError(w, http.StatusInternalServerError, "internal_error", "Failed to export alerts", "")
		return
	}

	w.Header().Set("Content-Type", "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet")
	w.WriteHeader(http.StatusOK)
	if err := f.Write(w); err != nil {
		h.logger.Error("failed to write xlsx export", zap.Error(err))
	}
}
