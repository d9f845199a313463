package httpjson

import (
	"maps"
	"net/http"
	"slices"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/pkg/errors"

	web "github.com/GollyTicker/ethereum-bridge-when-cheap/http"
	"github.com/GollyTicker/ethereum-bridge-when-cheap/models"
)

func (h *handler) setupPredictionRoutes(rg *gin.RouterGroup) {
	predictions := rg.Group("/predictions")

	predictions.GET("", h.listPredictions)
	predictions.GET(":chainId", h.getPrediction)
}

func (h *handler) listPredictions(c *gin.Context) {
	response := make([]*models.PredictionResponse, 0, len(h.deps.Pipelines))

	for _, chainID := range slices.Sorted(maps.Keys(h.deps.Pipelines)) {
		if prediction, ok := h.deps.Predictions.Get(chainID); ok {
			response = append(response, prediction.ToResponse())
		}
	}

	c.JSON(http.StatusOK, response)
}

func (h *handler) getPrediction(c *gin.Context) {
	raw := c.Param("chainId")
	if raw == "" {
		web.ErrBadRequest(c, errors.Wrap(ErrParamRequired, "chain id"))
		return
	}

	chainID, err := strconv.ParseUint(raw, 10, 64)
	if err != nil {
		web.ErrBadRequest(c, errors.Errorf("invalid chain id %q", raw))
		return
	}

	if _, ok := h.deps.Pipelines[chainID]; !ok {
		web.ErrNotFound(c, errors.Wrapf(ErrNotFound, "chain %d is not configured", chainID))
		return
	}

	prediction, ok := h.deps.Predictions.Get(chainID)
	if !ok {
		web.ErrNotFound(c, errors.Wrapf(ErrNotFound, "no prediction for chain %d yet", chainID))
		return
	}

	c.JSON(http.StatusOK, prediction.ToResponse())
}
