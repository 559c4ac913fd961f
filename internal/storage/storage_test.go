package storage

import (
	"bytes"
	"comicstrip/internal/config"
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"
)

func withFixedNow(t *testing.T, now time.Time) {
	t.Helper()
	prev := nowFunc
	nowFunc = func() time.Time { return now }
	t.Cleanup(func() { nowFunc = prev })
}

func TestBuildObjectPath(t *testing.T) {
	withFixedNow(t, time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC))

	tests := []struct {
		name     string
		category string
		base     string
		ext      string
		want     string
	}{
		{name: "screenshot", category: CategoryScreenshots, base: ScreenshotBaseName("3F2A-11"), ext: "png", want: "screenshots/2024/05/01/3f2a-11.png"},
		{name: "panel", category: CategoryPanels, base: PanelBaseName("abc", 0), ext: ".JPG", want: "panels/2024/05/01/abc-panel-1.jpg"},
		{name: "empty category", category: "../..", base: "x", ext: "png", want: "misc/2024/05/01/x.png"},
		{name: "traversal in base", category: "panels", base: "../../etc/passwd", ext: "", want: "panels/2024/05/01/etcpasswd.bin"},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			if got := buildObjectPath(tc.category, tc.base, tc.ext); got != tc.want {
				t.Fatalf("expected %q, got %q", tc.want, got)
			}
		})
	}
}

func TestObjectKeyPrefix(t *testing.T) {
	withFixedNow(t, time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC))
	got := objectKey("/comics/", SaveOptions{Category: CategoryScreenshots, BaseName: "g1", Extension: "png"})
	if got != "comics/screenshots/2024/05/01/g1.png" {
		t.Fatalf("unexpected key %q", got)
	}
}

func TestLocalStorageSave(t *testing.T) {
	withFixedNow(t, time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC))
	dir := t.TempDir()
	store, err := NewLocalStorage(dir)
	if err != nil {
		t.Fatalf("new local storage: %v", err)
	}

	rel, err := store.Save(context.Background(), []byte("first"), SaveOptions{
		Category:  CategoryScreenshots,
		BaseName:  "g1",
		Extension: "png",
	})
	if err != nil {
		t.Fatalf("save: %v", err)
	}
	if rel != "screenshots/2024/05/01/g1.png" {
		t.Fatalf("unexpected relative path %q", rel)
	}
	data, err := os.ReadFile(filepath.Join(dir, filepath.FromSlash(rel)))
	if err != nil {
		t.Fatalf("read saved file: %v", err)
	}
	if !bytes.Equal(data, []byte("first")) {
		t.Fatalf("unexpected content %q", data)
	}

	// 同名对象：SkipIfExists 不覆盖，否则覆盖
	if _, err := store.Save(context.Background(), []byte("second"), SaveOptions{
		Category: CategoryScreenshots, BaseName: "g1", Extension: "png", SkipIfExists: true,
	}); err != nil {
		t.Fatalf("save skip: %v", err)
	}
	data, _ = os.ReadFile(filepath.Join(dir, filepath.FromSlash(rel)))
	if string(data) != "first" {
		t.Fatalf("expected existing file kept, got %q", data)
	}

	if _, err := store.Save(context.Background(), []byte("third"), SaveOptions{
		Category: CategoryScreenshots, BaseName: "g1", Extension: "png",
	}); err != nil {
		t.Fatalf("save overwrite: %v", err)
	}
	data, _ = os.ReadFile(filepath.Join(dir, filepath.FromSlash(rel)))
	if string(data) != "third" {
		t.Fatalf("expected overwrite, got %q", data)
	}
}

func TestLocalStorageRejectsEmptyAndCancelled(t *testing.T) {
	store, err := NewLocalStorage(t.TempDir())
	if err != nil {
		t.Fatalf("new local storage: %v", err)
	}
	if _, err := store.Save(context.Background(), nil, SaveOptions{}); err == nil {
		t.Fatal("expected error for empty payload")
	}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := store.Save(ctx, []byte("x"), SaveOptions{}); err == nil {
		t.Fatal("expected error for cancelled context")
	}
}

func TestNewStorageValidatesConfig(t *testing.T) {
	tests := []struct {
		name string
		cfg  config.Config
	}{
		{name: "unknown", cfg: config.Config{StorageType: "ftp"}},
		{name: "s3 without bucket", cfg: config.Config{StorageType: TypeS3, StorageS3Region: "us-east-1"}},
		{name: "s3 without credentials", cfg: config.Config{StorageType: TypeS3, StorageS3Bucket: "b", StorageS3Region: "us-east-1"}},
		{name: "oss without endpoint", cfg: config.Config{StorageType: TypeOSS}},
		{name: "cos without url", cfg: config.Config{StorageType: TypeCOS}},
		{name: "r2 without endpoint", cfg: config.Config{StorageType: TypeR2, StorageR2Bucket: "b", StorageR2AccessKeyID: "k", StorageR2SecretAccessKey: "s"}},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			if _, err := NewStorage(tc.cfg); err == nil {
				t.Fatal("expected configuration error")
			}
		})
	}
}

func TestNewStorageBuildsRemoteClients(t *testing.T) {
	s3Store, err := NewStorage(config.Config{
		StorageType:              TypeS3,
		StorageS3Bucket:          "comics",
		StorageS3Region:          "us-east-1",
		StorageS3AccessKeyID:     "key",
		StorageS3SecretAccessKey: "secret",
		StorageS3Endpoint:        "minio.local:9000",
		StorageS3ForcePathStyle:  true,
	})
	if err != nil {
		t.Fatalf("s3: %v", err)
	}
	if _, ok := s3Store.(*remoteS3Storage); !ok {
		t.Fatalf("expected remoteS3Storage, got %T", s3Store)
	}

	r2Store, err := NewStorage(config.Config{
		StorageType:              TypeR2,
		StorageR2AccountID:       "acc",
		StorageR2Bucket:          "comics",
		StorageR2AccessKeyID:     "key",
		StorageR2SecretAccessKey: "secret",
		StorageR2Prefix:          "/prod/",
	})
	if err != nil {
		t.Fatalf("r2: %v", err)
	}
	if got := r2Store.(*remoteS3Storage).prefix; got != "prod" {
		t.Fatalf("expected trimmed prefix, got %q", got)
	}

	cosStore, err := NewStorage(config.Config{
		StorageType:         TypeCOS,
		StorageCOSBucketURL: "https://comics-1250000000.cos.ap-guangzhou.myqcloud.com",
		StorageCOSSecretID:  "id",
		StorageCOSSecretKey: "key",
	})
	if err != nil {
		t.Fatalf("cos: %v", err)
	}
	if _, ok := cosStore.(*cosStorage); !ok {
		t.Fatalf("expected cosStorage, got %T", cosStore)
	}
}
