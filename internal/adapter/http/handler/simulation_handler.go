package handler

import (
	"context"
	"net/http"

	"github.com/iho/guardledger/internal/adapter/http/dto"
	"github.com/iho/guardledger/internal/usecase"
)

// SimulationService defines the behavior needed by SimulationHandler.
type SimulationService interface {
	Run(ctx context.Context, input usecase.SimulationInput) (*usecase.SimulationReport, error)
}

// SimulationHandler runs attack scenarios on throwaway ledgers.
type SimulationHandler struct {
	simulationUC SimulationService
}

// NewSimulationHandler creates a new SimulationHandler.
func NewSimulationHandler(simulationUC SimulationService) *SimulationHandler {
	return &SimulationHandler{simulationUC: simulationUC}
}

// Attack runs the re-entrancy scenario and returns its report.
func (h *SimulationHandler) Attack(w http.ResponseWriter, r *http.Request) {
	var req dto.SimulationRequest
	if r.ContentLength != 0 {
		if err := decodeJSON(w, r, &req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid request body", err.Error())
			return
		}
	}

	report, err := h.simulationUC.Run(r.Context(), req.ToUseCaseInput())
	if err != nil {
		writeDomainError(w, "simulation failed", err)
		return
	}

	writeJSON(w, http.StatusOK, dto.SimulationFromReport(report))
}
