// internal/audit/indexer.go
package audit

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"time"

	"action-engine/internal/common/logger"
	"action-engine/internal/models"

	"github.com/elastic/go-elasticsearch/v8"
	"github.com/google/uuid"
)

const indexMapping = `{
	"mappings": {
		"properties": {
			"eventId":        {"type": "keyword"},
			"kind":           {"type": "keyword"},
			"event":          {"type": "keyword"},
			"owner":          {"type": "keyword"},
			"actionId":       {"type": "long"},
			"actionType":     {"type": "keyword"},
			"status":         {"type": "keyword"},
			"target":         {"type": "keyword"},
			"approver":       {"type": "keyword"},
			"result":         {"type": "text"},
			"subscriptionId": {"type": "long"},
			"tier":           {"type": "keyword"},
			"occurredAt":     {"type": "date"}
		}
	}
}`

// Document is one audit record.
type Document struct {
	EventID        string    `json:"eventId"`
	Kind           string    `json:"kind"`
	Event          string    `json:"event"`
	Owner          string    `json:"owner"`
	ActionID       uint64    `json:"actionId,omitempty"`
	ActionType     string    `json:"actionType,omitempty"`
	Status         string    `json:"status,omitempty"`
	Target         string    `json:"target,omitempty"`
	Approver       string    `json:"approver,omitempty"`
	Result         string    `json:"result,omitempty"`
	SubscriptionID uint64    `json:"subscriptionId,omitempty"`
	Tier           string    `json:"tier,omitempty"`
	OccurredAt     time.Time `json:"occurredAt"`
}

// Indexer writes one document per lifecycle event to Elasticsearch.
type Indexer struct {
	client *elasticsearch.Client
	index  string
	logger logger.Logger
}

func NewIndexer(client *elasticsearch.Client, index string, log logger.Logger) *Indexer {
	return &Indexer{
		client: client,
		index:  index,
		logger: log.WithFields(map[string]interface{}{"component": "audit", "index": index}),
	}
}

// EnsureIndex creates the index with its mapping when it does not exist.
func (i *Indexer) EnsureIndex(ctx context.Context) error {
	res, err := i.client.Indices.Exists([]string{i.index}, i.client.Indices.Exists.WithContext(ctx))
	if err != nil {
		return fmt.Errorf("check index %s: %w", i.index, err)
	}
	res.Body.Close()
	if res.StatusCode == 200 {
		return nil
	}

	res, err = i.client.Indices.Create(i.index,
		i.client.Indices.Create.WithBody(strings.NewReader(indexMapping)),
		i.client.Indices.Create.WithContext(ctx),
	)
	if err != nil {
		return fmt.Errorf("create index %s: %w", i.index, err)
	}
	defer res.Body.Close()
	if res.IsError() {
		body, _ := io.ReadAll(res.Body)
		if strings.Contains(string(body), "resource_already_exists_exception") {
			return nil
		}
		return fmt.Errorf("create index %s: %s", i.index, res.Status())
	}
	i.logger.Info("audit index created", nil)
	return nil
}

func (i *Indexer) ActionChanged(ctx context.Context, event string, a *models.Action) {
	i.write(ctx, &Document{
		EventID:    uuid.NewString(),
		Kind:       "action",
		Event:      event,
		Owner:      a.Owner,
		ActionID:   a.ID,
		ActionType: string(a.Type),
		Status:     string(a.Status),
		Target:     a.TargetAddress,
		Approver:   a.Approver,
		Result:     a.Result,
		OccurredAt: a.UpdatedAt,
	})
}

func (i *Indexer) SubscriptionChanged(ctx context.Context, event string, sub *models.Subscription) {
	i.write(ctx, &Document{
		EventID:        uuid.NewString(),
		Kind:           "subscription",
		Event:          event,
		Owner:          sub.Owner,
		SubscriptionID: sub.ID,
		Tier:           sub.Terms.Name,
		OccurredAt:     time.Now().UTC(),
	})
}

// Index stores doc and reports failures to the caller.
func (i *Indexer) Index(ctx context.Context, doc *Document) error {
	body, err := json.Marshal(doc)
	if err != nil {
		return fmt.Errorf("encode audit document: %w", err)
	}

	res, err := i.client.Index(i.index, bytes.NewReader(body),
		i.client.Index.WithDocumentID(doc.EventID),
		i.client.Index.WithContext(ctx),
	)
	if err != nil {
		return fmt.Errorf("index audit document: %w", err)
	}
	defer res.Body.Close()
	if res.IsError() {
		return fmt.Errorf("index audit document: %s", res.Status())
	}
	return nil
}

func (i *Indexer) write(ctx context.Context, doc *Document) {
	if doc.OccurredAt.IsZero() {
		doc.OccurredAt = time.Now().UTC()
	}
	if err := i.Index(ctx, doc); err != nil {
		i.logger.Warn("audit write failed", map[string]interface{}{
			"kind": doc.Kind, "event": doc.Event, "owner": doc.Owner, "error": err.Error(),
		})
	}
}
