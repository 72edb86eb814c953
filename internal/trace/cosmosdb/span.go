// Package cosmosdb persists trace spans as Cosmos DB documents, moving span
// event payloads out to blob storage.
package cosmosdb

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"maps"

	"github.com/ahrav/go-flowevals/internal/trace"
)

// eventPathFormat is the blob path of one span event:
// collection id, trace id, span id, event index.
const eventPathFormat = ".promptflow/.trace/%s/%s/%s/%d"

// ErrItemExists is returned by an ItemCreator when the document already exists.
var ErrItemExists = errors.New("cosmosdb: item already exists")

// ItemCreator creates one JSON document under a partition key.
type ItemCreator interface {
	CreateItem(ctx context.Context, partitionKey string, item []byte) error
}

// BlobUploader uploads data to a named blob.
type BlobUploader interface {
	Upload(ctx context.Context, name string, data []byte) error
}

// Span is the stored form of a trace.Span.
type Span struct {
	Name                  string           `json:"name,omitempty"`
	Context               map[string]any   `json:"context,omitempty"`
	Kind                  string           `json:"kind,omitempty"`
	ParentID              string           `json:"parent_id,omitempty"`
	StartTime             string           `json:"start_time,omitempty"`
	EndTime               string           `json:"end_time,omitempty"`
	Status                map[string]any   `json:"status,omitempty"`
	Attributes            map[string]any   `json:"attributes,omitempty"`
	Events                []map[string]any `json:"events,omitempty"`
	Links                 []map[string]any `json:"links,omitempty"`
	Resource              map[string]any   `json:"resource,omitempty"`
	ID                    string           `json:"id,omitempty"`
	PartitionKey          string           `json:"partition_key,omitempty"`
	CollectionID          string           `json:"collection_id,omitempty"`
	CreatedBy             map[string]any   `json:"created_by,omitempty"`
	ExternalEventDataURIs []string         `json:"external_event_data_uris,omitempty"`
}

// NewSpan mirrors src. Events are copied one level deep so persisting never
// touches the source span.
func NewSpan(src trace.Span, collectionID string, createdBy map[string]any) *Span {
	var events []map[string]any
	if len(src.Events) > 0 {
		events = make([]map[string]any, len(src.Events))
		for i, e := range src.Events {
			events[i] = maps.Clone(e)
		}
	}
	return &Span{
		Name:         src.Name,
		Context:      src.Context,
		Kind:         src.Kind,
		ParentID:     src.ParentSpanID,
		StartTime:    src.StartTime,
		EndTime:      src.EndTime,
		Status:       src.Status,
		Attributes:   src.Attributes,
		Events:       events,
		Links:        src.Links,
		Resource:     src.Resource,
		ID:           src.SpanID,
		PartitionKey: src.SessionID,
		CollectionID: collectionID,
		CreatedBy:    createdBy,
	}
}

// Persist uploads the span's events to blobs and creates its document.
// Spans without an id, partition key or resource are skipped, as are spans
// whose resource carries no attributes. An existing document is not an error.
func (s *Span) Persist(ctx context.Context, items ItemCreator, blobs BlobUploader, blobBaseURI string) error {
	if s.ID == "" || s.PartitionKey == "" || s.Resource == nil {
		return nil
	}

	if len(s.Events) > 0 {
		if err := s.persistEvents(ctx, blobs, blobBaseURI); err != nil {
			return err
		}
	}

	if s.Resource[trace.FieldAttributes] == nil {
		return nil
	}

	body, err := json.Marshal(s)
	if err != nil {
		return fmt.Errorf("encode span %s: %w", s.ID, err)
	}
	if err := items.CreateItem(ctx, s.PartitionKey, body); err != nil {
		if errors.Is(err, ErrItemExists) {
			return nil
		}
		return fmt.Errorf("create span %s: %w", s.ID, err)
	}
	return nil
}

func (s *Span) persistEvents(ctx context.Context, blobs BlobUploader, blobBaseURI string) error {
	traceID, _ := s.Context[trace.ContextTraceID].(string)

	for idx, event := range s.Events {
		data, err := json.Marshal(event)
		if err != nil {
			return fmt.Errorf("encode span %s event %d: %w", s.ID, idx, err)
		}
		path := fmt.Sprintf(eventPathFormat, s.CollectionID, traceID, s.ID, idx)
		if err := blobs.Upload(ctx, path, data); err != nil {
			return fmt.Errorf("upload span %s event %d: %w", s.ID, idx, err)
		}
		event[trace.EventAttributes] = map[string]any{}
		s.ExternalEventDataURIs = append(s.ExternalEventDataURIs, blobBaseURI+path)
	}
	return nil
}

// ToMap returns the non-empty fields of the span.
func (s *Span) ToMap() (map[string]any, error) {
	raw, err := json.Marshal(s)
	if err != nil {
		return nil, fmt.Errorf("encode span %s: %w", s.ID, err)
	}
	out := map[string]any{}
	if err := json.Unmarshal(raw, &out); err != nil {
		return nil, fmt.Errorf("decode span %s: %w", s.ID, err)
	}
	return out, nil
}
