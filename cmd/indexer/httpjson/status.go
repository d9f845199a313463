package httpjson

import (
	"maps"
	"net/http"
	"slices"

	"github.com/gin-gonic/gin"
	"github.com/pkg/errors"

	web "github.com/GollyTicker/ethereum-bridge-when-cheap/http"
	"github.com/GollyTicker/ethereum-bridge-when-cheap/logging"
	"github.com/GollyTicker/ethereum-bridge-when-cheap/models"
)

func (h *handler) getStatus(c *gin.Context) {
	ctx := c.Request.Context()

	response := models.StatusResponse{
		Chains: make([]models.ChainStatusResponse, 0, len(h.deps.Pipelines)),
	}

	for _, chainID := range slices.Sorted(maps.Keys(h.deps.Pipelines)) {
		pipeline := h.deps.Pipelines[chainID]

		status, err := h.deps.Database.Status(ctx, chainID)
		if err != nil {
			h.logger.Error().Err(err).Uint64(logging.FieldChain, chainID).Msg("Failed to read chain status")
			web.ErrInternalServerError(c, errors.Wrapf(err, "chain %d", chainID))
			return
		}

		metrics := pipeline.Metrics()

		response.Chains = append(response.Chains, models.ChainStatusResponse{
			ChainStatus:    *status,
			Name:           pipeline.Name(),
			Synced:         metrics.Synced,
			NextBlock:      metrics.NextBlock,
			PendingBlocks:  metrics.PendingBlocks,
			EventsReplayed: metrics.EventsReplayed,
		})
	}

	c.JSON(http.StatusOK, response)
}
