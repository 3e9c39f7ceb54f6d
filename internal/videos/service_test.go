package videos_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/farmsight/farmsight-backend/internal/db"
	"github.com/farmsight/farmsight-backend/internal/db/dbtest"
	"github.com/farmsight/farmsight-backend/internal/db/entities"
	"github.com/farmsight/farmsight-backend/internal/videos"
)

func newService(t *testing.T) *videos.Service {
	t.Helper()
	svc := videos.NewService(dbtest.NewStore(t), zap.NewNop().Sugar())
	require.NoError(t, svc.AddVideos(context.Background(), db.VideoFixtures))
	return svc
}

func ids(list []entities.Video) []string {
	out := make([]string, len(list))
	for i, v := range list {
		out[i] = v.ID
	}
	return out
}

func TestGetVideosNewestFirst(t *testing.T) {
	svc := newService(t)

	list, err := svc.GetVideos(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []string{"vid-6", "vid-5", "vid-4", "vid-3", "vid-2", "vid-1"}, ids(list))

	first := list[5]
	assert.Equal(t, db.VideoFixtures[0], first)
	assert.Nil(t, list[0].RelevantFor)
}

func TestSearchVideos(t *testing.T) {
	ctx := context.Background()
	svc := newService(t)

	tests := []struct {
		query string
		want  []string
	}{
		{"", []string{"vid-6", "vid-5", "vid-4", "vid-3", "vid-2", "vid-1"}},
		{"   ", []string{"vid-6", "vid-5", "vid-4", "vid-3", "vid-2", "vid-1"}},
		{"PEST", []string{"vid-5", "vid-2"}},
		{"irrigation", []string{"vid-4"}},
		{"soil health", []string{"vid-6", "vid-3"}},
		{"100%", []string{}},
		{"nothing like this", []string{}},
	}
	for _, tt := range tests {
		t.Run(tt.query, func(t *testing.T) {
			list, err := svc.SearchVideos(ctx, tt.query)
			require.NoError(t, err)
			assert.Equal(t, tt.want, ids(list))
		})
	}
}

func TestGetVideosByCategory(t *testing.T) {
	ctx := context.Background()
	svc := newService(t)

	list, err := svc.GetVideosByCategory(ctx, "Pest Control")
	require.NoError(t, err)
	assert.Equal(t, []string{"vid-5", "vid-2"}, ids(list))

	for _, all := range []string{"all", ""} {
		list, err = svc.GetVideosByCategory(ctx, all)
		require.NoError(t, err)
		assert.Len(t, list, 6)
	}

	list, err = svc.GetVideosByCategory(ctx, "pest control")
	require.NoError(t, err)
	assert.Empty(t, list)
}

func TestGetRelevantVideos(t *testing.T) {
	ctx := context.Background()
	svc := newService(t)

	list, err := svc.GetRelevantVideos(ctx, entities.StressDrought)
	require.NoError(t, err)
	assert.Equal(t, []string{"vid-4", "vid-1"}, ids(list))

	list, err = svc.GetRelevantVideos(ctx, entities.StressHealthy)
	require.NoError(t, err)
	assert.Empty(t, list)
}

func TestGetRelevantVideosCapped(t *testing.T) {
	ctx := context.Background()
	svc := videos.NewService(dbtest.NewStore(t), zap.NewNop().Sugar())

	var catalog []entities.Video
	for i := 0; i < 12; i++ {
		v := db.VideoFixtures[1]
		v.ID = "pest-" + string(rune('a'+i))
		v.Views = int64(i)
		v.RelevantFor = []entities.StressType{entities.StressDrought, entities.StressPest}
		catalog = append(catalog, v)
	}
	require.NoError(t, svc.AddVideos(ctx, catalog))

	list, err := svc.GetRelevantVideos(ctx, entities.StressPest)
	require.NoError(t, err)
	require.Len(t, list, 10)
	assert.Equal(t, int64(11), list[0].Views)
	assert.Equal(t, int64(2), list[9].Views)
	assert.Equal(t, []entities.StressType{entities.StressDrought, entities.StressPest}, list[0].RelevantFor)
}

func TestGetVideoCategories(t *testing.T) {
	svc := newService(t)

	categories, err := svc.GetVideoCategories(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []string{
		"Crop Management",
		"Drought Management",
		"Irrigation Techniques",
		"Pest Control",
		"Soil Health",
	}, categories)
}

func TestIncrementVideoViews(t *testing.T) {
	ctx := context.Background()
	svc := newService(t)

	require.NoError(t, svc.IncrementVideoViews(ctx, "vid-3"))
	require.NoError(t, svc.IncrementVideoViews(ctx, "vid-3"))

	list, err := svc.GetVideosByCategory(ctx, "Soil Health")
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Equal(t, int64(989), list[0].Views)

	assert.ErrorIs(t, svc.IncrementVideoViews(ctx, "vid-404"), db.ErrNotFound)
}

func TestAddVideosDuplicateRollsBack(t *testing.T) {
	ctx := context.Background()
	svc := newService(t)

	extra := db.VideoFixtures[0]
	extra.ID = "vid-7"
	err := svc.AddVideos(ctx, []entities.Video{extra, db.VideoFixtures[0]})
	require.Error(t, err)
	assert.True(t, db.IsUniqueViolation(err))

	list, err := svc.GetVideos(ctx)
	require.NoError(t, err)
	assert.Len(t, list, 6)
}
