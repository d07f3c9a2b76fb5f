package driver_test

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/soundprediction/memoria/pkg/driver"
	"github.com/soundprediction/memoria/pkg/types"
)

var (
	visT0  = time.Date(2024, time.January, 1, 0, 0, 0, 0, time.UTC)
	visT1  = time.Date(2024, time.February, 1, 0, 0, 0, 0, time.UTC)
	visMid = time.Date(2024, time.February, 15, 0, 0, 0, 0, time.UTC)
	visT2  = time.Date(2024, time.March, 1, 0, 0, 0, 0, time.UTC)
	visT3  = time.Date(2024, time.April, 1, 0, 0, 0, 0, time.UTC)

	// When each grid record was written.
	visRecorded = time.Date(2024, time.February, 10, 12, 0, 0, 0, time.UTC)
)

type visRange struct {
	name  string
	valid types.ValidTimeRange
}

func visRanges() []visRange {
	return []visRange{
		{"open", types.ValidTimeRange{}},
		{"from_t1", types.ValidFrom(visT1)},
		{"until_t2", types.ValidTimeRange{End: &visT2}},
		{"t1_to_t2", types.ValidBetween(visT1, visT2)},
		{"empty", types.ValidBetween(visT1, visT1)},
	}
}

type visMoment struct {
	name string
	at   time.Time
}

func visValidAts() []visMoment {
	return []visMoment{
		{"before_start", visT0},
		{"at_start", visT1},
		{"inside", visMid},
		{"at_end", visT2},
		{"after_end", visT3},
	}
}

func visAsOfs() []visMoment {
	return []visMoment{
		{"before_recorded", visRecorded.Add(-time.Hour)},
		{"at_recorded", visRecorded},
		{"after_recorded", visRecorded.Add(24 * time.Hour)},
	}
}

// wantVisible applies the visibility definition directly: the valid range
// must contain the valid-at instant (start inclusive, end exclusive) and the
// record must have been written by the as-of instant.
func wantVisible(valid types.ValidTimeRange, recorded time.Time, p types.BitemporalPoint) bool {
	if valid.Start != nil && p.ValidAt.Before(*valid.Start) {
		return false
	}
	if valid.End != nil && !p.ValidAt.Before(*valid.End) {
		return false
	}
	return !recorded.After(p.AsOf)
}

func TestEntityVisibilityGrid(t *testing.T) {
	forEachBackend(t, func(t *testing.T, b driver.GraphBackend) {
		ctx := context.Background()

		for i, vr := range visRanges() {
			marker := fmt.Sprintf("visrange%d", i)
			e := types.NewEntity("entity "+marker, types.EntityTypeConcept, testDomain)
			e.ID = types.EntityID("vis-" + marker)
			e.ValidTime = vr.valid
			e.TransactionTime = visRecorded
			require.NoError(t, b.StoreEntity(ctx, e))
		}

		for i, vr := range visRanges() {
			marker := fmt.Sprintf("visrange%d", i)
			for _, va := range visValidAts() {
				for _, ao := range visAsOfs() {
					point := types.BitemporalPoint{ValidAt: va.at, AsOf: ao.at}
					name := fmt.Sprintf("%s/%s/%s", vr.name, va.name, ao.name)
					t.Run(name, func(t *testing.T) {
						got, err := b.QueryEntitiesAt(ctx, types.EntityQuery{NameContains: marker}, point)
						require.NoError(t, err)
						if wantVisible(vr.valid, visRecorded, point) {
							assert.Len(t, got, 1)
						} else {
							assert.Empty(t, got)
						}
					})
				}
			}
		}
	})
}

func TestRelationshipVisibilityGrid(t *testing.T) {
	forEachBackend(t, func(t *testing.T, b driver.GraphBackend) {
		ctx := context.Background()

		storeEntity(t, b, "vis-hub", "Hub", types.EntityTypeConcept)
		for i, vr := range visRanges() {
			target := fmt.Sprintf("vis-target%d", i)
			storeEntity(t, b, target, "Target "+target, types.EntityTypeConcept)
			rel := types.NewRelationship("vis-hub", types.EntityID(target), types.RelationUses)
			rel.ValidTime = vr.valid
			rel.TransactionTime = visRecorded
			require.NoError(t, b.StoreRelationship(ctx, rel))
		}

		hub := types.EntityID("vis-hub")
		for i, vr := range visRanges() {
			target := types.EntityID(fmt.Sprintf("vis-target%d", i))
			for _, va := range visValidAts() {
				for _, ao := range visAsOfs() {
					point := types.BitemporalPoint{ValidAt: va.at, AsOf: ao.at}
					name := fmt.Sprintf("%s/%s/%s", vr.name, va.name, ao.name)
					t.Run(name, func(t *testing.T) {
						got, err := b.QueryRelationshipsAt(ctx,
							types.RelationshipQuery{From: &hub, To: &target}, point)
						require.NoError(t, err)
						if wantVisible(vr.valid, visRecorded, point) {
							assert.Len(t, got, 1)
						} else {
							assert.Empty(t, got)
						}
					})
				}
			}
		}
	})
}

func TestQueryAtMatchesInlineFilter(t *testing.T) {
	forEachBackend(t, func(t *testing.T, b driver.GraphBackend) {
		ctx := context.Background()

		e := types.NewEntity("inline filter check", types.EntityTypeConcept, testDomain)
		e.ID = "vis-inline"
		e.ValidTime = types.ValidBetween(visT1, visT2)
		e.TransactionTime = visRecorded
		require.NoError(t, b.StoreEntity(ctx, e))

		point := types.BitemporalPoint{ValidAt: visMid, AsOf: visT3}

		viaAt, err := b.QueryEntitiesAt(ctx, types.EntityQuery{NameContains: "inline filter"}, point)
		require.NoError(t, err)
		viaField, err := b.QueryEntities(ctx, types.EntityQuery{NameContains: "inline filter", At: &point})
		require.NoError(t, err)
		assert.Equal(t, viaAt, viaField)
		assert.Len(t, viaAt, 1)
	})
}

func TestCloseEntityValidTime(t *testing.T) {
	forEachBackend(t, func(t *testing.T, b driver.GraphBackend) {
		ctx := context.Background()

		e := types.NewEntity("retiring system", types.EntityTypeTechnology, testDomain)
		e.ID = "close-ent"
		e.ValidTime = types.ValidFrom(visT1)
		e.TransactionTime = visRecorded
		require.NoError(t, b.StoreEntity(ctx, e))

		require.NoError(t, b.CloseEntityValidTime(ctx, "close-ent", visT2))

		got, err := b.GetEntity(ctx, "close-ent")
		require.NoError(t, err)
		require.NotNil(t, got)
		require.NotNil(t, got.ValidTime.End)
		assert.True(t, got.ValidTime.End.Equal(visT2))
		assert.True(t, got.ValidTime.Closed())

		// Still visible inside the range, gone from the end on.
		inside, err := b.QueryEntitiesAt(ctx,
			types.EntityQuery{NameContains: "retiring"},
			types.BitemporalPoint{ValidAt: visMid, AsOf: visT3})
		require.NoError(t, err)
		assert.Len(t, inside, 1)

		after, err := b.QueryEntitiesAt(ctx,
			types.EntityQuery{NameContains: "retiring"},
			types.BitemporalPoint{ValidAt: visT2, AsOf: visT3})
		require.NoError(t, err)
		assert.Empty(t, after)

		t.Run("missing entity", func(t *testing.T) {
			err := b.CloseEntityValidTime(ctx, "close-ghost", visT2)
			assert.Error(t, err)
		})
	})
}

func TestCloseRelationshipValidTime(t *testing.T) {
	forEachBackend(t, func(t *testing.T, b driver.GraphBackend) {
		ctx := context.Background()

		storeEntity(t, b, "close-a", "Worker", types.EntityTypePerson)
		storeEntity(t, b, "close-b", "Employer", types.EntityTypeOrganization)
		rel := types.NewRelationship("close-a", "close-b", types.RelationWorksAt)
		rel.ValidTime = types.ValidFrom(visT1)
		rel.TransactionTime = visRecorded
		require.NoError(t, b.StoreRelationship(ctx, rel))

		require.NoError(t, b.CloseRelationshipValidTime(ctx, "close-a", "close-b", types.RelationWorksAt, visT2))

		from := types.EntityID("close-a")
		all, err := b.QueryRelationships(ctx, types.RelationshipQuery{From: &from})
		require.NoError(t, err)
		require.Len(t, all, 1)
		require.NotNil(t, all[0].ValidTime.End)
		assert.True(t, all[0].ValidTime.End.Equal(visT2))

		inside, err := b.QueryRelationshipsAt(ctx,
			types.RelationshipQuery{From: &from},
			types.BitemporalPoint{ValidAt: visMid, AsOf: visT3})
		require.NoError(t, err)
		assert.Len(t, inside, 1)

		after, err := b.QueryRelationshipsAt(ctx,
			types.RelationshipQuery{From: &from},
			types.BitemporalPoint{ValidAt: visT2, AsOf: visT3})
		require.NoError(t, err)
		assert.Empty(t, after)

		t.Run("missing relationship", func(t *testing.T) {
			err := b.CloseRelationshipValidTime(ctx, "close-a", "close-ghost", types.RelationWorksAt, visT2)
			assert.Error(t, err)
		})
	})
}
