package repository

import (
	"context"
	"testing"

	"github.com/bwmarrin/snowflake"
	"github.com/glebarez/sqlite"
	pricegroupdomain "github.com/quentel/ratecore/internal/pricegroup/domain"
	ratemapdomain "github.com/quentel/ratecore/internal/ratemap/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

func setupMapRepo(t *testing.T, rows []pricegroupdomain.PriceGroupMap) *MapRepository {
	t.Helper()

	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	require.NoError(t, err)
	require.NoError(t, db.AutoMigrate(&pricegroupdomain.PriceGroupMap{}))

	node, err := snowflake.NewNode(1)
	require.NoError(t, err)
	for i := range rows {
		rows[i].ID = node.Generate()
	}
	if len(rows) > 0 {
		require.NoError(t, db.Create(&rows).Error)
	}

	return NewMapRepository(db)
}

func TestLookupOrdersByStep(t *testing.T) {
	rows := []pricegroupdomain.PriceGroupMap{
		{PriceGroup: "pg-data", Step: 2, Resource: "sessions", Metric: "sessions", PriceModel: "data-session", RatingType: ratemapdomain.ModeEvent},
		{PriceGroup: "pg-data", Step: 1, Resource: "bytes", Metric: "bytes", PriceModel: "data-volume", RatingType: ratemapdomain.ModeTiered, ConsumeMetric: true},
		{PriceGroup: "pg-voice", Step: 1, Resource: "minutes", Metric: "seconds", PriceModel: "voice-standard", RatingType: ratemapdomain.ModeTiered},
	}
	repo := setupMapRepo(t, rows)

	mappings, err := repo.Lookup(context.Background(), "pg-data")
	require.NoError(t, err)

	require.Len(t, mappings, 2)
	assert.Equal(t, "data-volume", mappings[0].PriceModel)
	assert.True(t, mappings[0].ConsumeMetric)
	assert.Equal(t, "data-session", mappings[1].PriceModel)
}

func TestLookupUnknownGroupIsEmpty(t *testing.T) {
	repo := setupMapRepo(t, nil)

	mappings, err := repo.Lookup(context.Background(), "pg-missing")
	require.NoError(t, err)
	assert.Empty(t, mappings)
}

func TestLookupCachesMappingSet(t *testing.T) {
	rows := []pricegroupdomain.PriceGroupMap{
		{PriceGroup: "pg-voice", Step: 1, Resource: "minutes", Metric: "seconds", PriceModel: "voice-standard", RatingType: ratemapdomain.ModeTiered},
	}
	repo := setupMapRepo(t, rows)

	_, err := repo.Lookup(context.Background(), "pg-voice")
	require.NoError(t, err)

	require.NoError(t, repo.db.Migrator().DropTable(&pricegroupdomain.PriceGroupMap{}))
	mappings, err := repo.Lookup(context.Background(), "pg-voice")
	require.NoError(t, err)
	assert.Len(t, mappings, 1)
}
