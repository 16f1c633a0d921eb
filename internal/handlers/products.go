package handlers

import (
	"errors"
	"net/http"
	"strings"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/yourusername/storefront-gateway/internal/database"
)

const CodeProductNotFound = "PRODUCT_NOT_FOUND"

func (h *APIHandler) listProducts(w http.ResponseWriter, r *http.Request) {
	limit, offset := parsePagination(r)

	products, total, err := h.catalog.ListProducts(r.Context(), database.ListOptions{
		Limit:  limit,
		Offset: offset,
		Search: strings.TrimSpace(r.URL.Query().Get("search")),
	})
	if err != nil {
		log.Error().Err(err).Msg("Failed to list products")
		InternalError(w)
		return
	}

	JSON(w, http.StatusOK, Envelope{
		Data: products,
		Meta: pageMeta(total, limit, offset),
	})
}

func (h *APIHandler) getProduct(w http.ResponseWriter, r *http.Request, rawID string) {
	// A malformed id cannot match any product.
	id, err := uuid.Parse(rawID)
	if err != nil {
		Error(w, http.StatusNotFound, CodeProductNotFound, "Product not found")
		return
	}

	product, err := h.catalog.GetActiveProduct(r.Context(), id)
	if errors.Is(err, database.ErrNotFound) {
		Error(w, http.StatusNotFound, CodeProductNotFound, "Product not found")
		return
	}
	if err != nil {
		log.Error().Err(err).Str("product_id", rawID).Msg("Failed to get product")
		InternalError(w)
		return
	}

	JSON(w, http.StatusOK, Envelope{Data: product})
}
