package writer

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/xitongsys/parquet-go/parquet"
	"github.com/xitongsys/parquet-go/source"
	parquetwriter "github.com/xitongsys/parquet-go/writer"

	appconfig "bookflow/config"
	"bookflow/logger"
	"bookflow/models"
)

// RowKind values stored in the row_kind column of exported files.
const (
	rowKindOrder = "order"
	rowKindLevel = "level"
)

// ViewRecord represents the structure of our parquet file. Heatmap
// orders and aggregated depth levels share one schema; depth rows leave
// the order-specific columns zeroed.
type ViewRecord struct {
	Coin       string  `parquet:"name=coin, type=BYTE_ARRAY, convertedtype=UTF8"`
	RowKind    string  `parquet:"name=row_kind, type=BYTE_ARRAY, convertedtype=UTF8"`
	Side       string  `parquet:"name=side, type=BYTE_ARRAY, convertedtype=UTF8"`
	Price      float64 `parquet:"name=price, type=DOUBLE"`
	Size       float64 `parquet:"name=size, type=DOUBLE"`
	Cumulative float64 `parquet:"name=cumulative, type=DOUBLE"`
	OrderID    int64   `parquet:"name=order_id, type=INT64"`
	Timestamp  int64   `parquet:"name=timestamp, type=INT64"`
	YOffset    float64 `parquet:"name=y_offset, type=DOUBLE"`
	Brightness float64 `parquet:"name=brightness, type=DOUBLE"`
	Owner      string  `parquet:"name=owner, type=BYTE_ARRAY, convertedtype=UTF8"`
}

// memoryFile implements the ParquetFile interface for in-memory writing.
type memoryFile struct {
	buffer *bytes.Buffer
}

func newMemoryFile() *memoryFile {
	return &memoryFile{buffer: &bytes.Buffer{}}
}

func (mf *memoryFile) Create(name string) (source.ParquetFile, error) {
	return mf, nil
}

func (mf *memoryFile) Open(name string) (source.ParquetFile, error) {
	return mf, nil
}

func (mf *memoryFile) Seek(offset int64, whence int) (int64, error) {
	// Write-only usage; the parquet writer never seeks backwards here.
	return int64(mf.buffer.Len()), nil
}

func (mf *memoryFile) Read(b []byte) (int, error) {
	return mf.buffer.Read(b)
}

func (mf *memoryFile) Write(b []byte) (int, error) {
	return mf.buffer.Write(b)
}

func (mf *memoryFile) Close() error {
	return nil
}

func (mf *memoryFile) Bytes() []byte {
	return mf.buffer.Bytes()
}

// ViewExporter persists built order book views as parquet files on the
// local export directory and, when configured, uploads them to S3.
type ViewExporter struct {
	config   *appconfig.Config
	s3Client *s3.Client
	log      *logger.Log
}

// NewViewExporter creates a ViewExporter. When S3 storage is enabled it
// configures the AWS SDK and validates the credentials up front so a
// misconfigured bucket fails at startup rather than on first export.
func NewViewExporter(cfg *appconfig.Config) (*ViewExporter, error) {
	log := logger.GetLogger()

	e := &ViewExporter{
		config: cfg,
		log:    log,
	}

	if cfg.Storage.S3.Enabled {
		ctx := context.Background()

		loadOpts := []func(*config.LoadOptions) error{config.WithRegion(cfg.Storage.S3.Region)}
		if cfg.Storage.S3.AccessKeyID != "" && cfg.Storage.S3.SecretAccessKey != "" {
			loadOpts = append(loadOpts, config.WithCredentialsProvider(
				credentials.NewStaticCredentialsProvider(
					cfg.Storage.S3.AccessKeyID,
					cfg.Storage.S3.SecretAccessKey,
					"",
				),
			))
		}

		awsConfig, err := config.LoadDefaultConfig(ctx, loadOpts...)
		if err != nil {
			log.WithComponent("exporter").WithError(err).Warn("failed to load AWS configuration")
			return nil, fmt.Errorf("failed to load AWS configuration: %w", err)
		}

		creds, err := awsConfig.Credentials.Retrieve(ctx)
		if err != nil {
			return nil, fmt.Errorf("failed to retrieve AWS credentials: %w", err)
		}
		if creds.AccessKeyID == "" || creds.SecretAccessKey == "" {
			return nil, fmt.Errorf("AWS credentials are incomplete")
		}

		e.s3Client = s3.NewFromConfig(awsConfig)

		log.WithComponent("exporter").WithFields(logger.Fields{
			"bucket": cfg.Storage.S3.Bucket,
			"region": cfg.Storage.S3.Region,
		}).Info("S3 upload enabled for view exports")
	}

	return e, nil
}

// Export writes the view to a parquet file under the configured export
// directory and returns the local path. The upload to S3, when enabled,
// reuses the same encoded bytes.
func (e *ViewExporter) Export(ctx context.Context, v *models.BookView) (string, error) {
	log := e.log.WithComponent("exporter").WithFields(logger.Fields{
		"coin":        v.Coin,
		"order_count": len(v.Heatmap.Orders),
	})

	data, err := e.encode(v)
	if err != nil {
		return "", err
	}

	dir := e.config.Export.Dir
	if dir == "" {
		dir = "exports"
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("failed to create export directory: %w", err)
	}

	ts := time.Now().UTC().Format("20060102150405")
	filename := fmt.Sprintf("bookview_%s_%s.parquet", v.Coin, ts)
	path := filepath.Join(dir, filename)

	if err := os.WriteFile(path, data, 0o644); err != nil {
		return "", fmt.Errorf("failed to write export file: %w", err)
	}

	logger.IncrementExport(int64(len(data)))
	log.WithFields(logger.Fields{
		"path":      path,
		"file_size": len(data),
	}).Info("view exported")

	if e.s3Client != nil {
		if err := e.upload(ctx, filename, data); err != nil {
			log.WithError(err).WithFields(logger.Fields{
				"bucket": e.config.Storage.S3.Bucket,
			}).Error("failed to upload export to S3")
			return path, err
		}
	}

	return path, nil
}

func (e *ViewExporter) encode(v *models.BookView) ([]byte, error) {
	fw := newMemoryFile()

	pw, err := parquetwriter.NewParquetWriter(fw, new(ViewRecord), 4)
	if err != nil {
		return nil, fmt.Errorf("failed to create parquet writer: %w", err)
	}

	switch e.config.Export.Compression {
	case "snappy":
		pw.CompressionType = parquet.CompressionCodec_SNAPPY
	case "gzip":
		pw.CompressionType = parquet.CompressionCodec_GZIP
	default:
		pw.CompressionType = parquet.CompressionCodec_UNCOMPRESSED
	}

	for _, ho := range v.Heatmap.Orders {
		record := ViewRecord{
			Coin:       v.Coin,
			RowKind:    rowKindOrder,
			Side:       sideLabel(ho.Side),
			Price:      ho.Price,
			Size:       ho.Size,
			OrderID:    int64(ho.ID),
			Timestamp:  ho.Timestamp,
			YOffset:    ho.YOffset,
			Brightness: ho.Brightness,
			Owner:      ho.Owner,
		}
		if err := pw.Write(record); err != nil {
			pw.WriteStop()
			return nil, fmt.Errorf("failed to write parquet record: %w", err)
		}
	}

	for _, lv := range v.Depth.Bids {
		if err := pw.Write(levelRecord(v.Coin, "bid", lv)); err != nil {
			pw.WriteStop()
			return nil, fmt.Errorf("failed to write parquet record: %w", err)
		}
	}
	for _, lv := range v.Depth.Asks {
		if err := pw.Write(levelRecord(v.Coin, "ask", lv)); err != nil {
			pw.WriteStop()
			return nil, fmt.Errorf("failed to write parquet record: %w", err)
		}
	}

	if err := pw.WriteStop(); err != nil {
		return nil, fmt.Errorf("failed to finalize parquet writing: %w", err)
	}

	return fw.Bytes(), nil
}

func levelRecord(coin, side string, lv models.AggregatedLevel) ViewRecord {
	return ViewRecord{
		Coin:       coin,
		RowKind:    rowKindLevel,
		Side:       side,
		Price:      lv.Price,
		Size:       lv.Size,
		Cumulative: lv.Cumulative,
	}
}

func sideLabel(s models.Side) string {
	if s == models.Bid {
		return "bid"
	}
	return "ask"
}

func (e *ViewExporter) upload(ctx context.Context, filename string, data []byte) error {
	key := filename
	if prefix := e.config.Storage.S3.Prefix; prefix != "" {
		key = filepath.ToSlash(filepath.Join(prefix, filename))
	}

	input := &s3.PutObjectInput{
		Bucket:      aws.String(e.config.Storage.S3.Bucket),
		Key:         aws.String(key),
		Body:        bytes.NewReader(data),
		ContentType: aws.String("application/octet-stream"),
		Metadata: map[string]string{
			"content-type": "parquet",
			"compression":  e.config.Export.Compression,
		},
	}

	uploadCtx := context.WithoutCancel(ctx)
	_, err := e.s3Client.PutObject(uploadCtx, input)
	if err != nil {
		return fmt.Errorf("failed to upload to S3 bucket %s: %w", e.config.Storage.S3.Bucket, err)
	}

	e.log.WithComponent("exporter").WithFields(logger.Fields{
		"bucket": e.config.Storage.S3.Bucket,
		"s3_key": key,
	}).Info("export uploaded to S3")
	return nil
}
