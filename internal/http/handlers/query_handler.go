package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"
)

// DeviceLatest handles GET /api/v1/devices/:id/latest. Returns the record
// with the highest (timestamp, recordId) pair for the device, 404 when the
// device has no records.
func (h *Handlers) DeviceLatest(c *gin.Context) {
	record, err := h.reader.LatestByDevice(c.Request.Context(), c.Param("id"))
	if err != nil {
		fail(c, http.StatusInternalServerError, "internal server error")
		return
	}
	if record == nil {
		fail(c, http.StatusNotFound, "device not found")
		return
	}
	c.JSON(http.StatusOK, record)
}

// BatchTrace handles GET /api/v1/batches/:code/trace. Records come back in
// (timestamp ASC, recordId ASC) order; an unknown batch is an empty trace,
// not a 404.
func (h *Handlers) BatchTrace(c *gin.Context) {
	code := c.Param("code")
	records, err := h.reader.FindByBatch(c.Request.Context(), code)
	if err != nil {
		fail(c, http.StatusInternalServerError, "internal server error")
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"batchCode": code,
		"count":     len(records),
		"records":   records,
	})
}

// Transaction handles GET /api/v1/transactions/:txHash.
func (h *Handlers) Transaction(c *gin.Context) {
	record, err := h.reader.FindByTransaction(c.Request.Context(), c.Param("txHash"))
	if err != nil {
		fail(c, http.StatusInternalServerError, "internal server error")
		return
	}
	if record == nil {
		fail(c, http.StatusNotFound, "transaction not found")
		return
	}
	c.JSON(http.StatusOK, record)
}
