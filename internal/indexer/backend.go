package indexer

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/opensearch-project/opensearch-go/v2"

	"github.com/odvcencio/indexq/internal/site"
)

var (
	ErrConnectionFailed  = errors.New("search backend connection failed")
	ErrHealthcheckFailed = errors.New("search backend healthcheck failed")
	ErrRequestFailed     = errors.New("search backend request failed")
)

// Backend receives documents for one site.
type Backend interface {
	Name() string
	Index(ctx context.Context, doc Document) error
	Delete(ctx context.Context, documentID string) error
}

// BackendFactory builds a Backend for one configured connection.
type BackendFactory func(conn site.BackendConnection) (Backend, error)

// OpenSearchBackend writes documents into one OpenSearch index.
type OpenSearchBackend struct {
	name   string
	index  string
	client *opensearch.Client
}

// NewOpenSearchBackend creates a client for conn. It does not contact the cluster.
func NewOpenSearchBackend(conn site.BackendConnection) (Backend, error) {
	if len(conn.Addresses) == 0 {
		return nil, fmt.Errorf("%w: backend %q has no addresses", ErrConnectionFailed, conn.Name)
	}
	index := strings.TrimSpace(conn.Index)
	if index == "" {
		return nil, fmt.Errorf("%w: backend %q has no index", ErrConnectionFailed, conn.Name)
	}
	client, err := opensearch.NewClient(opensearch.Config{
		Addresses:  conn.Addresses,
		Username:   conn.Username,
		Password:   conn.Password,
		MaxRetries: conn.MaxRetries,
	})
	if err != nil {
		return nil, errors.Join(ErrConnectionFailed, err)
	}
	return &OpenSearchBackend{name: conn.Name, index: index, client: client}, nil
}

func (b *OpenSearchBackend) Name() string { return b.name }

func (b *OpenSearchBackend) Healthcheck(ctx context.Context) error {
	res, err := b.client.Info(
		b.client.Info.WithContext(ctx),
		b.client.Info.WithErrorTrace(),
	)
	if err != nil {
		return errors.Join(ErrHealthcheckFailed, err)
	}
	defer res.Body.Close()
	if res.IsError() {
		return fmt.Errorf("%w: %s", ErrHealthcheckFailed, res.Status())
	}
	return nil
}

func (b *OpenSearchBackend) Index(ctx context.Context, doc Document) error {
	body, err := json.Marshal(doc)
	if err != nil {
		return fmt.Errorf("encode document %s: %w", doc.ID, err)
	}
	res, err := b.client.Index(
		b.index,
		bytes.NewReader(body),
		b.client.Index.WithContext(ctx),
		b.client.Index.WithDocumentID(doc.ID),
	)
	if err != nil {
		return errors.Join(ErrRequestFailed, err)
	}
	defer res.Body.Close()
	if res.IsError() {
		return responseError(res.StatusCode, res.Body)
	}
	return nil
}

// Delete removes a document. A document that does not exist is not an error.
func (b *OpenSearchBackend) Delete(ctx context.Context, documentID string) error {
	res, err := b.client.Delete(
		b.index,
		documentID,
		b.client.Delete.WithContext(ctx),
	)
	if err != nil {
		return errors.Join(ErrRequestFailed, err)
	}
	defer res.Body.Close()
	if res.StatusCode == http.StatusNotFound {
		return nil
	}
	if res.IsError() {
		return responseError(res.StatusCode, res.Body)
	}
	return nil
}

func responseError(status int, body io.Reader) error {
	raw, _ := io.ReadAll(io.LimitReader(body, 4096))
	msg := strings.TrimSpace(string(raw))
	if msg == "" {
		msg = http.StatusText(status)
	}
	return fmt.Errorf("%w: status %d: %s", ErrRequestFailed, status, msg)
}
