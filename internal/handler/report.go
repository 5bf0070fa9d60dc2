package handler

import (
	"log/slog"
	"net/http"

	"github.com/dukerupert/larder/internal/report"
)

type ReportHandler struct {
	reports *report.Service
	logger  *slog.Logger
}

func NewReportHandler(reports *report.Service, logger *slog.Logger) *ReportHandler {
	return &ReportHandler{reports: reports, logger: logger}
}

func (h *ReportHandler) Get(w http.ResponseWriter, r *http.Request) {
	rep, err := h.reports.Report()
	if err != nil {
		writeError(w, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, rep)
}
