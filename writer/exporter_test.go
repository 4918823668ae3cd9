package writer

import (
	"context"
	"os"
	"testing"

	appconfig "bookflow/config"
	"bookflow/models"
)

func testView() *models.BookView {
	return &models.BookView{
		Coin: "BTC",
		Depth: models.DepthView{
			Bids: []models.AggregatedLevel{
				{Price: 100, Size: 3, Cumulative: 3},
				{Price: 99, Size: 1, Cumulative: 4},
			},
			Asks: []models.AggregatedLevel{
				{Price: 101, Size: 2, Cumulative: 2},
			},
		},
		Heatmap: models.HeatmapView{
			Orders: []models.HeatmapOrder{
				{Order: models.Order{ID: 1, Side: models.Bid, Price: 100, Size: 3, Timestamp: 10}, YOffset: 0, Brightness: 0},
				{Order: models.Order{ID: 2, Side: models.Bid, Price: 99, Size: 1, Timestamp: 20}, YOffset: 0, Brightness: 0.5},
				{Order: models.Order{ID: 3, Side: models.Ask, Price: 101, Size: 2, Timestamp: 30}, YOffset: 0, Brightness: 1},
			},
			TickSize: 1,
		},
	}
}

func TestExportWritesParquetFile(t *testing.T) {
	cfg := &appconfig.Config{}
	cfg.Export.Dir = t.TempDir()
	cfg.Export.Compression = "snappy"

	e, err := NewViewExporter(cfg)
	if err != nil {
		t.Fatalf("NewViewExporter returned error: %v", err)
	}

	path, err := e.Export(context.Background(), testView())
	if err != nil {
		t.Fatalf("Export returned error: %v", err)
	}

	info, err := os.Stat(path)
	if err != nil {
		t.Fatalf("exported file missing: %v", err)
	}
	if info.Size() == 0 {
		t.Error("exported file is empty")
	}
}

func TestEncodeProducesData(t *testing.T) {
	cfg := &appconfig.Config{}
	e, err := NewViewExporter(cfg)
	if err != nil {
		t.Fatalf("NewViewExporter returned error: %v", err)
	}

	data, err := e.encode(testView())
	if err != nil {
		t.Fatalf("encode returned error: %v", err)
	}
	if len(data) == 0 {
		t.Error("expected non-empty parquet payload")
	}
}

func TestExportDefaultsDirectory(t *testing.T) {
	cfg := &appconfig.Config{}
	cfg.Export.Dir = t.TempDir()

	e, err := NewViewExporter(cfg)
	if err != nil {
		t.Fatalf("NewViewExporter returned error: %v", err)
	}

	v := testView()
	v.Heatmap.Orders = nil

	path, err := e.Export(context.Background(), v)
	if err != nil {
		t.Fatalf("Export returned error: %v", err)
	}
	if path == "" {
		t.Error("expected a file path for depth-only view")
	}
}
