// Package artists is the execution engine behind the artist tool catalogue.
package artists

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
)

const (
	defaultListLimit   = 50
	maxListLimit       = 500
	defaultSearchLimit = 20
)

// ToolError carries an HTTP-style status code and message for tool failures.
type ToolError struct {
	statusCode int
	message    string
}

// Error implements error.
func (e *ToolError) Error() string {
	if e == nil {
		return ""
	}
	return strings.TrimSpace(e.message)
}

// StatusCode returns the attached status code.
func (e *ToolError) StatusCode() int {
	if e == nil || e.statusCode == 0 {
		return http.StatusInternalServerError
	}
	return e.statusCode
}

type artistStore interface {
	List(ctx context.Context, opts ListOptions) ([]Artist, int, error)
	Search(ctx context.Context, query string, limit int) ([]Artist, error)
	Get(ctx context.Context, id int64) (Artist, error)
	Create(ctx context.Context, a Artist) (Artist, error)
	Update(ctx context.Context, id int64, patch Patch) (Artist, error)
	Delete(ctx context.Context, id int64) error
}

// Runner executes artist tool calls.
type Runner struct {
	store artistStore
}

// NewRunner creates a runner over store.
func NewRunner(store *Store) *Runner {
	return &Runner{store: store}
}

// Call executes one tool by name and returns JSON-like map content.
func (r *Runner) Call(ctx context.Context, name string, args map[string]any) (map[string]any, error) {
	switch name {
	case "list_artists":
		return r.listArtists(ctx, args)
	case "get_artist":
		return r.getArtist(ctx, args)
	case "search_artists":
		return r.searchArtists(ctx, args)
	case "create_artist":
		return r.createArtist(ctx, args)
	case "update_artist":
		return r.updateArtist(ctx, args)
	case "delete_artist":
		return r.deleteArtist(ctx, args)
	default:
		return nil, notFoundErrorf("tool %s is not implemented by the artists engine", name)
	}
}

func (r *Runner) listArtists(ctx context.Context, args map[string]any) (map[string]any, error) {
	var req struct {
		Limit   *int   `json:"limit,omitempty"`
		Offset  int    `json:"offset,omitempty"`
		Genre   string `json:"genre,omitempty"`
		Country string `json:"country,omitempty"`
	}
	if err := decodeArgsStrict(args, &req); err != nil {
		return nil, err
	}

	limit := defaultListLimit
	if req.Limit != nil {
		limit = *req.Limit
	}
	if limit < 1 || limit > maxListLimit {
		return nil, validationErrorf("limit must be between 1 and %d", maxListLimit)
	}
	if req.Offset < 0 {
		return nil, validationErrorf("offset must not be negative")
	}

	items, total, err := r.store.List(ctx, ListOptions{
		Limit:   limit,
		Offset:  req.Offset,
		Genre:   req.Genre,
		Country: req.Country,
	})
	if err != nil {
		return nil, mapExecutionError(err, "listing artists")
	}
	return toMap(map[string]any{
		"items":  items,
		"total":  total,
		"limit":  limit,
		"offset": req.Offset,
	})
}

func (r *Runner) getArtist(ctx context.Context, args map[string]any) (map[string]any, error) {
	var req struct {
		ID int64 `json:"id"`
	}
	if err := decodeArgsStrict(args, &req); err != nil {
		return nil, err
	}
	if req.ID <= 0 {
		return nil, validationErrorf("id is required")
	}

	artist, err := r.store.Get(ctx, req.ID)
	if err != nil {
		return nil, mapExecutionError(err, "loading artist")
	}
	return toMap(artist)
}

func (r *Runner) searchArtists(ctx context.Context, args map[string]any) (map[string]any, error) {
	var req struct {
		Query string `json:"query"`
		Limit *int   `json:"limit,omitempty"`
	}
	if err := decodeArgsStrict(args, &req); err != nil {
		return nil, err
	}

	query := strings.TrimSpace(req.Query)
	if query == "" {
		return nil, validationErrorf("query is required")
	}
	limit := defaultSearchLimit
	if req.Limit != nil {
		limit = *req.Limit
	}
	if limit < 1 || limit > maxListLimit {
		return nil, validationErrorf("limit must be between 1 and %d", maxListLimit)
	}

	items, err := r.store.Search(ctx, query, limit)
	if err != nil {
		return nil, mapExecutionError(err, "searching artists")
	}
	return toMap(map[string]any{
		"query": query,
		"items": items,
		"total": len(items),
	})
}

func (r *Runner) createArtist(ctx context.Context, args map[string]any) (map[string]any, error) {
	var req struct {
		Name    string `json:"name"`
		Genre   string `json:"genre,omitempty"`
		Country string `json:"country,omitempty"`
	}
	if err := decodeArgsStrict(args, &req); err != nil {
		return nil, err
	}
	if strings.TrimSpace(req.Name) == "" {
		return nil, validationErrorf("name is required")
	}

	artist, err := r.store.Create(ctx, Artist{Name: req.Name, Genre: req.Genre, Country: req.Country})
	if err != nil {
		return nil, mapExecutionError(err, "creating artist")
	}
	return toMap(artist)
}

func (r *Runner) updateArtist(ctx context.Context, args map[string]any) (map[string]any, error) {
	var req struct {
		ID      int64   `json:"id"`
		Name    *string `json:"name,omitempty"`
		Genre   *string `json:"genre,omitempty"`
		Country *string `json:"country,omitempty"`
	}
	if err := decodeArgsStrict(args, &req); err != nil {
		return nil, err
	}
	if req.ID <= 0 {
		return nil, validationErrorf("id is required")
	}
	if req.Name == nil && req.Genre == nil && req.Country == nil {
		return nil, validationErrorf("at least one of name, genre or country must be set")
	}
	if req.Name != nil && strings.TrimSpace(*req.Name) == "" {
		return nil, validationErrorf("name must not be empty")
	}

	artist, err := r.store.Update(ctx, req.ID, Patch{Name: req.Name, Genre: req.Genre, Country: req.Country})
	if err != nil {
		return nil, mapExecutionError(err, "updating artist")
	}
	return toMap(artist)
}

func (r *Runner) deleteArtist(ctx context.Context, args map[string]any) (map[string]any, error) {
	var req struct {
		ID int64 `json:"id"`
	}
	if err := decodeArgsStrict(args, &req); err != nil {
		return nil, err
	}
	if req.ID <= 0 {
		return nil, validationErrorf("id is required")
	}

	if err := r.store.Delete(ctx, req.ID); err != nil {
		return nil, mapExecutionError(err, "deleting artist")
	}
	return map[string]any{
		"id":      req.ID,
		"deleted": true,
	}, nil
}

func validationErrorf(format string, args ...any) error {
	return &ToolError{
		statusCode: http.StatusBadRequest,
		message:    fmt.Sprintf(format, args...),
	}
}

func notFoundErrorf(format string, args ...any) error {
	return &ToolError{
		statusCode: http.StatusNotFound,
		message:    fmt.Sprintf(format, args...),
	}
}

func mapExecutionError(err error, fallback string) error {
	if err == nil {
		return nil
	}
	var toolErr *ToolError
	if errors.As(err, &toolErr) {
		return toolErr
	}
	switch {
	case errors.Is(err, ErrNotFound):
		return &ToolError{statusCode: http.StatusNotFound, message: err.Error()}
	case errors.Is(err, ErrConflict):
		return &ToolError{statusCode: http.StatusConflict, message: err.Error()}
	case errors.Is(err, context.DeadlineExceeded):
		return &ToolError{
			statusCode: http.StatusGatewayTimeout,
			message:    fallback + ": request timed out",
		}
	case errors.Is(err, context.Canceled):
		return &ToolError{
			statusCode: http.StatusRequestTimeout,
			message:    fallback + ": request canceled",
		}
	}
	return &ToolError{
		statusCode: http.StatusInternalServerError,
		message:    fmt.Sprintf("%s: %v", fallback, err),
	}
}

func decodeArgsStrict(args map[string]any, out any) error {
	if args == nil {
		args = map[string]any{}
	}
	encoded, err := json.Marshal(args)
	if err != nil {
		return validationErrorf("invalid tool arguments: %v", err)
	}
	decoder := json.NewDecoder(bytes.NewReader(encoded))
	decoder.DisallowUnknownFields()
	if err := decoder.Decode(out); err != nil {
		return validationErrorf("invalid tool arguments: %v", err)
	}
	if decoder.More() {
		return validationErrorf("tool arguments must be a single JSON object")
	}
	return nil
}

func toMap(v any) (map[string]any, error) {
	encoded, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("encoding tool response: %w", err)
	}
	var decoded map[string]any
	if err := json.Unmarshal(encoded, &decoded); err != nil {
		return nil, fmt.Errorf("decoding tool response: %w", err)
	}
	return decoded, nil
}
