package procurement

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"freightdesk/pkg/fault"
)

const maxFormBytes = 64 * 1024

type procureResponse struct {
	Markdown     string `json:"markdown"`
	CSVAvailable bool   `json:"csv_available"`
}

type errorResponse struct {
	Error string `json:"error"`
}

// Mount registers POST /procure and GET /csv.
func (s *Service) Mount(mux *http.ServeMux) {
	mux.HandleFunc("POST /procure", s.handleProcure)
	mux.HandleFunc("GET /csv", s.handleCSV)
}

func (s *Service) handleProcure(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, maxFormBytes)
	if err := r.ParseMultipartForm(maxFormBytes); err != nil && !errors.Is(err, http.ErrNotMultipart) {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: "Invalid form"})
		return
	}

	report, err := s.Procure(r.Context(), r.FormValue("product_list"), r.FormValue("location"))
	if err != nil {
		s.log.Error("Procurement failed", "error", err)
		status := fault.HTTPStatus(err)
		message := "Procurement failed"
		if fault.Is(err, fault.Validation) {
			message = "product_list and location are required"
		}
		writeJSON(w, status, errorResponse{Error: message})
		return
	}

	writeJSON(w, http.StatusOK, procureResponse{
		Markdown:     report.Markdown,
		CSVAvailable: s.staging.Exists(s.csvPath),
	})
}

func (s *Service) handleCSV(w http.ResponseWriter, r *http.Request) {
	data, ok, err := s.CSV(r.Context())
	if err != nil {
		s.log.Error("Read CSV failed", "error", err)
		writeJSON(w, http.StatusInternalServerError, errorResponse{Error: "CSV unavailable"})
		return
	}
	if !ok {
		writeJSON(w, http.StatusNotFound, errorResponse{Error: "CSV not found"})
		return
	}

	w.Header().Set("Content-Type", "text/csv")
	w.Header().Set("Content-Disposition", `attachment; filename="data.csv"`)
	w.Header().Set("Content-Length", strconv.Itoa(len(data)))
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(data)
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}
