package page

import (
	"os"
	"path/filepath"
	"testing"
)

func tempPageFile(t *testing.T) (*PageFile, string) {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "test.dom")
	pf, err := Open(path)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { pf.Close() })
	return pf, path
}

func TestOpenCreatesEmptyHeader(t *testing.T) {
	pf, _ := tempPageFile(t)
	if pf.Header.PageSize != DefaultPageSize {
		t.Errorf("PageSize = %d, want %d", pf.Header.PageSize, DefaultPageSize)
	}
	if pf.Header.FreeListHead != -1 {
		t.Errorf("FreeListHead = %d, want -1", pf.Header.FreeListHead)
	}
	if pf.Header.BTreeRoot != -1 {
		t.Errorf("BTreeRoot = %d, want -1", pf.Header.BTreeRoot)
	}
}

func TestReopenPreservesHeader(t *testing.T) {
	pf, path := tempPageFile(t)
	pf.Header.BTreeRoot = 7
	if err := pf.flushHeader(); err != nil {
		t.Fatalf("flushHeader: %v", err)
	}
	if err := pf.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	pf2, err := Open(path)
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	defer pf2.Close()
	if pf2.Header.BTreeRoot != 7 {
		t.Errorf("BTreeRoot after reopen = %d, want 7", pf2.Header.BTreeRoot)
	}
}

func TestGetFreePageThenUnlinkRecycles(t *testing.T) {
	pf, _ := tempPageFile(t)

	p1, err := pf.GetFreePage()
	if err != nil {
		t.Fatalf("GetFreePage: %v", err)
	}
	p1.InitData()
	if err := pf.Write(p1); err != nil {
		t.Fatalf("Write: %v", err)
	}

	firstNum := p1.Num
	if err := pf.UnlinkPage(p1); err != nil {
		t.Fatalf("UnlinkPage: %v", err)
	}
	if pf.Header.FreeListHead != int64(firstNum) {
		t.Errorf("FreeListHead = %d, want %d", pf.Header.FreeListHead, firstNum)
	}

	p2, err := pf.GetFreePage()
	if err != nil {
		t.Fatalf("GetFreePage (reuse): %v", err)
	}
	if p2.Num != firstNum {
		t.Errorf("expected recycled page number %d, got %d", firstNum, p2.Num)
	}
	if pf.Header.FreeListHead != -1 {
		t.Errorf("FreeListHead after reuse = %d, want -1", pf.Header.FreeListHead)
	}
}

func TestWriteReadRoundTrip(t *testing.T) {
	pf, _ := tempPageFile(t)
	p, err := pf.GetFreePage()
	if err != nil {
		t.Fatalf("GetFreePage: %v", err)
	}
	p.InitData()
	copy(p.DataPayload()[:5], []byte("hello"))
	if err := pf.Write(p); err != nil {
		t.Fatalf("Write: %v", err)
	}

	got, err := pf.Read(p.Num)
	if err != nil {
		t.Fatalf("Read: %v", err)
	}
	if string(got.DataPayload()[:5]) != "hello" {
		t.Errorf("payload round trip failed: got %q", got.DataPayload()[:5])
	}
	if got.Status() != StatusData {
		t.Errorf("Status = %d, want %d", got.Status(), StatusData)
	}
}

func TestNonexistentFileIsCreated(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "new.dom")
	if _, err := os.Stat(path); err == nil {
		t.Fatalf("file should not exist yet")
	}
	pf, err := Open(path)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer pf.Close()
	if _, err := os.Stat(path); err != nil {
		t.Fatalf("file should have been created: %v", err)
	}
}
