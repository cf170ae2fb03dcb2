package storage

import (
	"testing"
	"time"

	"github.com/johnwmail/nshare/models"
)

func TestMongoStoreInterfaceCompliance(t *testing.T) {
	var _ PasteStore = (*MongoStore)(nil)
	var _ UploadStore = (*MongoStore)(nil)
}

func TestPasteDocConversion(t *testing.T) {
	expiresAt := time.Now().Add(time.Hour).UnixMilli()
	doc := pasteDoc{
		Code:          "0007",
		Content:       "hi",
		ExpiresAt:     expiresAt,
		ExpireAt:      time.UnixMilli(expiresAt),
		IsFile:        true,
		FileName:      "a.txt",
		DownloadCount: 3,
		Files:         []models.File{{Name: "x"}},
	}
	p := doc.toPaste()
	if p.Code != "0007" || p.ExpiresAt != expiresAt || !p.IsFile || p.DownloadCount != 3 || len(p.Files) != 1 {
		t.Errorf("toPaste() = %+v", p)
	}
}
