package db

import (
	"math"
	"math/rand/v2"
	"time"

	"github.com/farmsight/farmsight-backend/internal/db/entities"
)

// Demo account seeded into an empty database.
const (
	DemoName   = "Li Ming"
	DemoEmail  = "liming@farmsight.cn"
	DemoPhone  = "+86 138-0013-8000"
	DemoAvatar = "https://api.dicebear.com/7.x/avataaars/svg?seed=LiMing"
)

// ndviSeed fixes the pseudo-random NDVI noise so seeding is reproducible.
const ndviSeed uint64 = 20240115

// FarmFixture is a seed farm keyed by a fixture id. The database assigns
// the real id when the farm is created.
type FarmFixture struct {
	FixtureID string
	Input     entities.FarmInput
	BaseNDVI  float64
	Trend     entities.Trend
}

// AlertFixture is a seed alert attached to a fixture farm, detected Age
// before the time of seeding.
type AlertFixture struct {
	FarmFixtureID  string
	Type           entities.StressType
	Severity       entities.Severity
	Confidence     float64
	Age            time.Duration
	Message        string
	Recommendation string
	IsRead         bool
}

func diamond(lat, lng float64) []entities.LatLng {
	return []entities.LatLng{
		{Lat: lat, Lng: lng},
		{Lat: lat + 0.002, Lng: lng + 0.002},
		{Lat: lat, Lng: lng + 0.004},
		{Lat: lat - 0.002, Lng: lng + 0.002},
	}
}

// FarmFixtures are the demo user's farms.
var FarmFixtures = []FarmFixture{
	{
		FixtureID: "farm-1",
		Input: entities.FarmInput{
			Name:     "Northeast Rice Base",
			Location: entities.Location{Lat: 45.7565, Lng: 126.6426, Address: "黑龙江省哈尔滨市五常市, Heilongjiang Province, China"},
			Area:     125.5,
			CropType: "Rice",
			Boundary: diamond(45.7565, 126.6426),
		},
		BaseNDVI: 0.65,
		Trend:    entities.TrendDeclining,
	},
	{
		FixtureID: "farm-2",
		Input: entities.FarmInput{
			Name:     "Henan Wheat Farm",
			Location: entities.Location{Lat: 34.7466, Lng: 113.6253, Address: "河南省郑州市中牟县, Henan Province, China"},
			Area:     88.3,
			CropType: "Wheat",
			Boundary: diamond(34.7466, 113.6253),
		},
		BaseNDVI: 0.75,
		Trend:    entities.TrendStable,
	},
	{
		FixtureID: "farm-3",
		Input: entities.FarmInput{
			Name:     "Xinjiang Cotton Plantation",
			Location: entities.Location{Lat: 44.3061, Lng: 86.0571, Address: "新疆维吾尔自治区乌鲁木齐市, Xinjiang Uyghur Autonomous Region, China"},
			Area:     156.8,
			CropType: "Cotton",
			Boundary: diamond(44.3061, 86.0571),
		},
		BaseNDVI: 0.82,
		Trend:    entities.TrendImproving,
	},
}

// AlertFixtures are replayed in order against the seeded farms.
var AlertFixtures = []AlertFixture{
	{
		FarmFixtureID:  "farm-1",
		Type:           entities.StressDrought,
		Severity:       entities.SeverityHigh,
		Confidence:     87,
		Age:            2 * time.Hour,
		Message:        "Drought stress detected in Northeast Rice Base",
		Recommendation: "Increase irrigation frequency. Deep watering recommended in morning hours.",
	},
	{
		FarmFixtureID:  "farm-2",
		Type:           entities.StressNutrient,
		Severity:       entities.SeverityMedium,
		Confidence:     72,
		Age:            24 * time.Hour,
		Message:        "Nutrient deficiency detected in Henan Wheat Farm",
		Recommendation: "Apply nitrogen-rich fertilizer (Urea/NPK). Test soil pH levels.",
	},
	{
		FarmFixtureID:  "farm-1",
		Type:           entities.StressPest,
		Severity:       entities.SeverityCritical,
		Confidence:     92,
		Age:            6 * time.Hour,
		Message:        "Pest infestation detected in Northeast Rice Base",
		Recommendation: "Immediate action required. Consider organic pesticide application.",
		IsRead:         true,
	},
	{
		FarmFixtureID:  "farm-3",
		Type:           entities.StressHealthy,
		Severity:       entities.SeverityLow,
		Confidence:     95,
		Age:            12 * time.Hour,
		Message:        "Xinjiang Cotton Plantation showing healthy growth",
		Recommendation: "Continue current irrigation and fertilization schedule.",
		IsRead:         true,
	},
}

func uploadDate(s string) time.Time {
	t, err := time.Parse(time.DateOnly, s)
	if err != nil {
		panic(err)
	}
	return t
}

// VideoFixtures is the educational catalog. Ids are fixed.
var VideoFixtures = []entities.Video{
	{
		ID:          "vid-1",
		Title:       "Drought-Resistant Farming Techniques",
		Description: "Learn how to maintain healthy crops during drought conditions using modern techniques and traditional wisdom.",
		Thumbnail:   "https://picsum.photos/seed/farm1/400/225",
		Duration:    "12:34",
		Category:    "Drought Management",
		Views:       1234,
		UploadDate:  uploadDate("2024-10-15"),
		URL:         "#",
		RelevantFor: []entities.StressType{entities.StressDrought},
	},
	{
		ID:          "vid-2",
		Title:       "Identifying Common Crop Pests",
		Description: "A comprehensive guide to identifying and managing the most common pests affecting your crops.",
		Thumbnail:   "https://picsum.photos/seed/farm2/400/225",
		Duration:    "18:45",
		Category:    "Pest Control",
		Views:       2156,
		UploadDate:  uploadDate("2024-10-20"),
		URL:         "#",
		RelevantFor: []entities.StressType{entities.StressPest},
	},
	{
		ID:          "vid-3",
		Title:       "Soil Testing and Nutrient Management",
		Description: "Understanding soil composition and how to correct nutrient deficiencies for optimal crop growth.",
		Thumbnail:   "https://picsum.photos/seed/farm3/400/225",
		Duration:    "15:20",
		Category:    "Soil Health",
		Views:       987,
		UploadDate:  uploadDate("2024-10-25"),
		URL:         "#",
		RelevantFor: []entities.StressType{entities.StressNutrient},
	},
	{
		ID:          "vid-4",
		Title:       "Modern Drip Irrigation Setup",
		Description: "Step-by-step guide to setting up an efficient drip irrigation system for your farm.",
		Thumbnail:   "https://picsum.photos/seed/farm4/400/225",
		Duration:    "22:10",
		Category:    "Irrigation Techniques",
		Views:       3421,
		UploadDate:  uploadDate("2024-11-01"),
		URL:         "#",
		RelevantFor: []entities.StressType{entities.StressDrought},
	},
	{
		ID:          "vid-5",
		Title:       "Organic Pest Control Methods",
		Description: "Eco-friendly approaches to managing pests without harmful chemicals.",
		Thumbnail:   "https://picsum.photos/seed/farm5/400/225",
		Duration:    "14:55",
		Category:    "Pest Control",
		Views:       1876,
		UploadDate:  uploadDate("2024-11-05"),
		URL:         "#",
		RelevantFor: []entities.StressType{entities.StressPest},
	},
	{
		ID:          "vid-6",
		Title:       "Crop Rotation Best Practices",
		Description: "Maximize soil health and crop yields through effective rotation strategies.",
		Thumbnail:   "https://picsum.photos/seed/farm6/400/225",
		Duration:    "16:30",
		Category:    "Crop Management",
		Views:       2543,
		UploadDate:  uploadDate("2024-11-08"),
		URL:         "#",
	},
}

// NewFixtureRand returns the generator used for seed NDVI noise.
func NewFixtureRand() *rand.Rand {
	return rand.New(rand.NewPCG(ndviSeed, ndviSeed>>1))
}

func round3(v float64) float64 {
	return math.Round(v*1000) / 1000
}

func clamp01(v float64) float64 {
	return math.Max(0, math.Min(1, v))
}

// GenerateNDVIHistory produces days+1 daily observations ending today. The
// value drifts from base according to trend with +-0.025 of noise.
func GenerateNDVIHistory(rng *rand.Rand, now time.Time, days int, base float64, trend entities.Trend) []entities.NDVIObservation {
	today := now.UTC().Truncate(24 * time.Hour)
	series := make([]entities.NDVIObservation, 0, days+1)

	for i := days; i >= 0; i-- {
		value := base
		switch trend {
		case entities.TrendImproving:
			value += float64(days-i) * 0.005
		case entities.TrendDeclining:
			value -= float64(days-i) * 0.008
		}
		value += (rng.Float64() - 0.5) * 0.05

		series = append(series, entities.NDVIObservation{
			Date:       today.AddDate(0, 0, -i),
			Value:      round3(clamp01(value)),
			Confidence: 85 + rng.Float64()*10,
		})
	}
	return series
}

// GenerateForecast extends last by days predicted observations with
// confidence falling 2 points per day.
func GenerateForecast(rng *rand.Rand, now time.Time, last float64, days int) []entities.NDVIObservation {
	today := now.UTC().Truncate(24 * time.Hour)
	series := make([]entities.NDVIObservation, 0, days)

	for i := 1; i <= days; i++ {
		value := last - float64(i)*0.01 + (rng.Float64()-0.5)*0.03
		series = append(series, entities.NDVIObservation{
			Date:       today.AddDate(0, 0, i),
			Value:      clamp01(round3(value)),
			Confidence: float64(75 - i*2),
			IsForecast: true,
		})
	}
	return series
}
