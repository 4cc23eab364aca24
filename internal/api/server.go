// Package api exposes the snapshot store over HTTP for tooling that wants
// to browse or prune recordings without the CLI.
package api

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/danielgtaylor/huma/v2"
	"github.com/danielgtaylor/huma/v2/adapters/humachi"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/Eavina-s-org/webmock/internal/errs"
	"github.com/Eavina-s-org/webmock/internal/exchange"
	"github.com/Eavina-s-org/webmock/internal/store"
)

// Service is what the admin API needs from the snapshot layer.
type Service interface {
	ListSnapshots(ctx context.Context) ([]exchange.Metadata, error)
	GetSnapshot(ctx context.Context, name string) (exchange.Metadata, error)
	GetSnapshotExchanges(ctx context.Context, name string) ([]ExchangeSummary, error)
	DeleteSnapshot(ctx context.Context, name string) error
}

// ExchangeSummary is the browse view of one recorded exchange; bodies are
// reported by size, not content.
type ExchangeSummary struct {
	SequenceIndex int    `json:"sequence_index"`
	Method        string `json:"method"`
	URL           string `json:"url"`
	StatusCode    int    `json:"status_code"`
	RequestBytes  int    `json:"request_bytes"`
	ResponseBytes int    `json:"response_bytes"`
	CapturedAt    string `json:"captured_at"`
}

// StoreService adapts a store.Store to the Service interface.
type StoreService struct {
	Store *store.Store
}

func (s *StoreService) ListSnapshots(ctx context.Context) ([]exchange.Metadata, error) {
	return s.Store.List()
}

func (s *StoreService) GetSnapshot(ctx context.Context, name string) (exchange.Metadata, error) {
	return s.Store.Meta(name)
}

func (s *StoreService) GetSnapshotExchanges(ctx context.Context, name string) ([]ExchangeSummary, error) {
	snap, err := s.Store.Get(name)
	if err != nil {
		return nil, err
	}
	out := make([]ExchangeSummary, len(snap.Exchanges))
	for i, ex := range snap.Exchanges {
		out[i] = ExchangeSummary{
			SequenceIndex: ex.SequenceIndex,
			Method:        ex.Method,
			URL:           ex.URL,
			StatusCode:    ex.StatusCode,
			RequestBytes:  len(ex.RequestBody),
			ResponseBytes: len(ex.ResponseBody),
			CapturedAt:    ex.CapturedAt.Format("2006-01-02T15:04:05.000Z07:00"),
		}
	}
	return out, nil
}

func (s *StoreService) DeleteSnapshot(ctx context.Context, name string) error {
	return s.Store.Delete(name)
}

type nameInput struct {
	Name string `path:"name" doc:"Snapshot name"`
}

// NewServer builds the admin API handler.
func NewServer(svc Service) http.Handler {
	router := chi.NewMux()
	router.Use(middleware.RequestID)
	router.Use(requestLogger)
	router.Use(middleware.Recoverer)

	cfg := huma.DefaultConfig("Webmock Admin API", "1.0.0")
	cfg.DocsPath = ""
	api := humachi.New(router, cfg)

	router.Get("/docs", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/html")
		if _, err := w.Write([]byte(docsHTML)); err != nil {
			slog.Debug("docs response write failed", "error", err)
		}
	})

	registerSnapshotHandlers(api, svc)
	registerHealthHandlers(api)

	return router
}

func registerSnapshotHandlers(api huma.API, svc Service) {
	type listOutput struct {
		Body struct {
			Snapshots []exchange.Metadata `json:"snapshots"`
		}
	}
	huma.Register(api, huma.Operation{OperationID: "list-snapshots", Method: http.MethodGet, Path: "/api/v1/snapshots", Summary: "List all snapshots", Tags: []string{"Snapshots"}},
		func(ctx context.Context, input *struct{}) (*listOutput, error) {
			metas, err := svc.ListSnapshots(ctx)
			if err != nil {
				return nil, mapErr(err)
			}
			out := &listOutput{}
			out.Body.Snapshots = metas
			return out, nil
		})

	type metaOutput struct {
		Body exchange.Metadata
	}
	huma.Register(api, huma.Operation{OperationID: "get-snapshot", Method: http.MethodGet, Path: "/api/v1/snapshots/{name}", Summary: "Get snapshot metadata", Tags: []string{"Snapshots"}},
		func(ctx context.Context, input *nameInput) (*metaOutput, error) {
			meta, err := svc.GetSnapshot(ctx, input.Name)
			if err != nil {
				return nil, mapErr(err)
			}
			out := &metaOutput{}
			out.Body = meta
			return out, nil
		})

	type exchangesOutput struct {
		Body struct {
			Exchanges []ExchangeSummary `json:"exchanges"`
		}
	}
	huma.Register(api, huma.Operation{OperationID: "list-snapshot-exchanges", Method: http.MethodGet, Path: "/api/v1/snapshots/{name}/exchanges", Summary: "List recorded exchanges in a snapshot", Tags: []string{"Snapshots"}},
		func(ctx context.Context, input *nameInput) (*exchangesOutput, error) {
			summaries, err := svc.GetSnapshotExchanges(ctx, input.Name)
			if err != nil {
				return nil, mapErr(err)
			}
			out := &exchangesOutput{}
			out.Body.Exchanges = summaries
			return out, nil
		})

	type deleteOutput struct {
		Body struct {
			Status string `json:"status"`
		}
	}
	huma.Register(api, huma.Operation{OperationID: "delete-snapshot", Method: http.MethodDelete, Path: "/api/v1/snapshots/{name}", Summary: "Delete a snapshot", Tags: []string{"Snapshots"}},
		func(ctx context.Context, input *nameInput) (*deleteOutput, error) {
			if err := svc.DeleteSnapshot(ctx, input.Name); err != nil {
				return nil, mapErr(err)
			}
			out := &deleteOutput{}
			out.Body.Status = "deleted"
			return out, nil
		})
}

func registerHealthHandlers(api huma.API) {
	type healthOutput struct {
		Body struct {
			Status string `json:"status"`
		}
	}
	huma.Register(api, huma.Operation{OperationID: "health", Method: http.MethodGet, Path: "/health", Summary: "Health check", Tags: []string{"Health"}},
		func(ctx context.Context, input *struct{}) (*healthOutput, error) {
			out := &healthOutput{}
			out.Body.Status = "ok"
			return out, nil
		})
}

func mapErr(err error) error {
	if err == nil {
		return nil
	}
	var coded *errs.CodedError
	if errors.As(err, &coded) {
		switch coded.Code {
		case errs.CodeNotFound:
			return huma.Error404NotFound(coded.Message)
		case errs.CodeCorruptSnapshot:
			return huma.Error422UnprocessableEntity(coded.Message)
		case errs.CodeInvalidURL:
			return huma.Error400BadRequest(coded.Message)
		default:
			return huma.Error500InternalServerError(fmt.Sprintf("%s: %s", coded.Code, coded.Message))
		}
	}
	return huma.Error500InternalServerError(err.Error())
}
