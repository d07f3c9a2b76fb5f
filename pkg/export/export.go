// Package export writes graph snapshots as Parquet files so the stored
// graph can be loaded into analytical tooling.
package export

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/parquet-go/parquet-go"

	"github.com/soundprediction/memoria/pkg/driver"
	"github.com/soundprediction/memoria/pkg/types"
)

// snapshotPageSize bounds how many records one backend query fetches while
// draining the graph.
const snapshotPageSize = 500

// EntityRow is the flat Parquet schema for one entity. Aliases and
// properties are JSON strings; open-ended valid time leaves ValidTo unset.
type EntityRow struct {
	ID              string     `parquet:"id"`
	Name            string     `parquet:"name"`
	EntityType      string     `parquet:"entity_type"`
	Aliases         string     `parquet:"aliases"`
	Organization    string     `parquet:"organization"`
	Project         string     `parquet:"project"`
	Repository      string     `parquet:"repository"`
	Confidence      float64    `parquet:"confidence"`
	ValidFrom       *time.Time `parquet:"valid_from"`
	ValidTo         *time.Time `parquet:"valid_to"`
	TransactionTime *time.Time `parquet:"transaction_time"`
	Properties      string     `parquet:"properties"`
	MentionCount    int64      `parquet:"mention_count"`
}

// RelationshipRow is the flat Parquet schema for one relationship.
type RelationshipRow struct {
	FromEntityID     string     `parquet:"from_entity_id"`
	ToEntityID       string     `parquet:"to_entity_id"`
	RelationshipType string     `parquet:"relationship_type"`
	Confidence       float64    `parquet:"confidence"`
	ValidFrom        *time.Time `parquet:"valid_from"`
	ValidTo          *time.Time `parquet:"valid_to"`
	TransactionTime  *time.Time `parquet:"transaction_time"`
	Properties       string     `parquet:"properties"`
}

// SnapshotStats reports what one snapshot wrote.
type SnapshotStats struct {
	Dir               string `json:"dir"`
	EntityCount       int    `json:"entity_count"`
	RelationshipCount int    `json:"relationship_count"`
}

// WriteEntities writes entities as one Parquet row group to w.
func WriteEntities(w io.Writer, entities []*types.Entity) error {
	rows, err := entityRows(entities)
	if err != nil {
		return err
	}
	if err := parquet.Write(w, rows); err != nil {
		return fmt.Errorf("failed to write entity rows: %w", err)
	}
	return nil
}

// WriteRelationships writes relationships as one Parquet row group to w.
func WriteRelationships(w io.Writer, rels []*types.Relationship) error {
	rows, err := relationshipRows(rels)
	if err != nil {
		return err
	}
	if err := parquet.Write(w, rows); err != nil {
		return fmt.Errorf("failed to write relationship rows: %w", err)
	}
	return nil
}

// Snapshot drains the backend and writes entities.parquet and
// relationships.parquet into dir, creating it if necessary.
func Snapshot(ctx context.Context, backend driver.GraphBackend, dir string) (*SnapshotStats, error) {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create export directory: %w", err)
	}

	entities, err := fetchAllEntities(ctx, backend)
	if err != nil {
		return nil, err
	}
	eRows, err := entityRows(entities)
	if err != nil {
		return nil, err
	}
	if err := parquet.WriteFile(filepath.Join(dir, "entities.parquet"), eRows); err != nil {
		return nil, fmt.Errorf("failed to write entities.parquet: %w", err)
	}

	rels, err := fetchAllRelationships(ctx, backend)
	if err != nil {
		return nil, err
	}
	rRows, err := relationshipRows(rels)
	if err != nil {
		return nil, err
	}
	if err := parquet.WriteFile(filepath.Join(dir, "relationships.parquet"), rRows); err != nil {
		return nil, fmt.Errorf("failed to write relationships.parquet: %w", err)
	}

	return &SnapshotStats{
		Dir:               dir,
		EntityCount:       len(entities),
		RelationshipCount: len(rels),
	}, nil
}

func fetchAllEntities(ctx context.Context, backend driver.GraphBackend) ([]*types.Entity, error) {
	var all []*types.Entity
	for offset := 0; ; offset += snapshotPageSize {
		page, err := backend.QueryEntities(ctx, types.EntityQuery{Limit: snapshotPageSize, Offset: offset})
		if err != nil {
			return nil, fmt.Errorf("failed to fetch entities: %w", err)
		}
		all = append(all, page...)
		if len(page) < snapshotPageSize {
			return all, nil
		}
	}
}

func fetchAllRelationships(ctx context.Context, backend driver.GraphBackend) ([]*types.Relationship, error) {
	var all []*types.Relationship
	for offset := 0; ; offset += snapshotPageSize {
		page, err := backend.QueryRelationships(ctx, types.RelationshipQuery{Limit: snapshotPageSize, Offset: offset})
		if err != nil {
			return nil, fmt.Errorf("failed to fetch relationships: %w", err)
		}
		all = append(all, page...)
		if len(page) < snapshotPageSize {
			return all, nil
		}
	}
}

func entityRows(entities []*types.Entity) ([]EntityRow, error) {
	rows := make([]EntityRow, 0, len(entities))
	for _, e := range entities {
		aliases, err := marshalJSONColumn(e.Aliases)
		if err != nil {
			return nil, fmt.Errorf("failed to marshal aliases for entity %s: %w", e.ID, err)
		}
		properties, err := marshalJSONColumn(e.Properties)
		if err != nil {
			return nil, fmt.Errorf("failed to marshal properties for entity %s: %w", e.ID, err)
		}

		row := EntityRow{
			ID:           string(e.ID),
			Name:         e.Name,
			EntityType:   string(e.Type),
			Aliases:      aliases,
			Organization: e.Domain.Organization,
			Project:      e.Domain.Project,
			Repository:   e.Domain.Repository,
			Confidence:   e.Confidence,
			ValidFrom:    e.ValidTime.Start,
			ValidTo:      e.ValidTime.End,
			Properties:   properties,
			MentionCount: int64(e.MentionCount),
		}
		if !e.TransactionTime.IsZero() {
			row.TransactionTime = &e.TransactionTime
		}

		rows = append(rows, row)
	}
	return rows, nil
}

func relationshipRows(rels []*types.Relationship) ([]RelationshipRow, error) {
	rows := make([]RelationshipRow, 0, len(rels))
	for _, r := range rels {
		properties, err := marshalJSONColumn(r.Properties)
		if err != nil {
			return nil, fmt.Errorf("failed to marshal properties for relationship %s -> %s: %w", r.From, r.To, err)
		}

		row := RelationshipRow{
			FromEntityID:     string(r.From),
			ToEntityID:       string(r.To),
			RelationshipType: string(r.Type),
			Confidence:       r.Confidence,
			ValidFrom:        r.ValidTime.Start,
			ValidTo:          r.ValidTime.End,
			Properties:       properties,
		}
		if !r.TransactionTime.IsZero() {
			row.TransactionTime = &r.TransactionTime
		}

		rows = append(rows, row)
	}
	return rows, nil
}

// marshalJSONColumn renders a slice or map as a JSON column value, with ""
// standing in for empty so the column never reads "null".
func marshalJSONColumn(v any) (string, error) {
	switch val := v.(type) {
	case []string:
		if len(val) == 0 {
			return "", nil
		}
	case map[string]string:
		if len(val) == 0 {
			return "", nil
		}
	}
	raw, err := json.Marshal(v)
	if err != nil {
		return "", err
	}
	return string(raw), nil
}
