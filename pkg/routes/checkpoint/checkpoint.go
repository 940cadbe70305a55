package checkpoint

import (
	"net/http"
	"strconv"

	"github.com/Gobusters/ectoerror/httperror"
	"github.com/Gobusters/ectoinject"
	"github.com/labstack/echo/v4"

	checkpointrepo "github.com/Ramsey-B/fern/internal/repositories/checkpoint"
	"github.com/Ramsey-B/fern/pkg/models"
	"github.com/Ramsey-B/fern/pkg/state"
)

// Register registers checkpoint inspection routes
func Register(g *echo.Group) {
	g.GET("/:table", ListCheckpoints)
	g.GET("/:table/:rowID", GetCheckpoint)
}

// GetCheckpoint returns the checkpoint for one row stream. Works against
// whichever state store backend is active.
func GetCheckpoint(c echo.Context) error {
	ctx := c.Request().Context()

	table := c.Param("table")
	rowID := c.Param("rowID")
	if !models.SourceTable(table).IsValid() {
		return httperror.NewHTTPError(http.StatusBadRequest, "unknown source table "+table)
	}

	// The postgres backend serves the full record; other backends fall
	// back to the raw snapshot.
	if repoCtx, repo, err := ectoinject.GetContext[*checkpointrepo.Repository](ctx); err == nil && repo != nil {
		record, err := repo.Lookup(repoCtx, table, rowID)
		if err != nil {
			return err
		}
		return c.JSON(http.StatusOK, record)
	}

	ctx, store, err := ectoinject.GetContext[state.Store](ctx)
	if err != nil {
		return httperror.NewHTTPError(http.StatusInternalServerError, "state store unavailable")
	}

	key := models.EventKey{Table: models.SourceTable(table), RowID: rowID}
	snapshot, err := store.Get(ctx, key)
	if err != nil {
		return httperror.NewHTTPError(http.StatusInternalServerError, "failed to read checkpoint")
	}
	if snapshot == nil {
		return httperror.NewHTTPError(http.StatusNotFound, "no checkpoint for "+key.String())
	}

	return c.JSON(http.StatusOK, snapshot)
}

// ListCheckpoints returns the most recently advanced checkpoints for a
// table. Only available with the postgres state store backend.
func ListCheckpoints(c echo.Context) error {
	ctx := c.Request().Context()

	table := c.Param("table")
	if !models.SourceTable(table).IsValid() {
		return httperror.NewHTTPError(http.StatusBadRequest, "unknown source table "+table)
	}

	limit, _ := strconv.Atoi(c.QueryParam("limit"))

	ctx, repo, err := ectoinject.GetContext[*checkpointrepo.Repository](ctx)
	if err != nil || repo == nil {
		return httperror.NewHTTPError(http.StatusNotImplemented, "checkpoint listing requires the postgres state store")
	}

	records, err := repo.List(ctx, table, limit)
	if err != nil {
		return err
	}

	return c.JSON(http.StatusOK, records)
}
