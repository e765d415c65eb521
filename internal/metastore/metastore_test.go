package metastore

import (
	"path/filepath"
	"testing"
	"time"
)

func openTest(t *testing.T) *Store {
	t.Helper()
	path := filepath.Join(t.TempDir(), "drift.db")
	s, err := Open(path)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func TestInsertAndGetChunk(t *testing.T) {
	s := openTest(t)

	c := Chunk{
		ID:         1,
		Path:       "main.go",
		LineNum:    10,
		StartByte:  0,
		EndByte:    100,
		ChunkIndex: 0,
		Text:       "package main",
		Mtime:      time.Unix(1700000000, 0),
		BuildID:    "build-a",
	}
	if err := s.InsertChunk(c); err != nil {
		t.Fatalf("InsertChunk: %v", err)
	}

	got, ok, err := s.GetChunk(1)
	if err != nil {
		t.Fatalf("GetChunk: %v", err)
	}
	if !ok {
		t.Fatal("GetChunk: not found")
	}
	if got.Path != c.Path || got.Text != c.Text || got.BuildID != c.BuildID {
		t.Errorf("GetChunk = %+v, want %+v", got, c)
	}
}

func TestDeleteChunksForPath(t *testing.T) {
	s := openTest(t)

	for i := uint32(0); i < 3; i++ {
		s.InsertChunk(Chunk{ID: i, Path: "a.go", Text: "x", Mtime: time.Now(), BuildID: "b1"})
	}
	s.InsertChunk(Chunk{ID: 3, Path: "b.go", Text: "y", Mtime: time.Now(), BuildID: "b1"})

	ids, err := s.DeleteChunksForPath("a.go")
	if err != nil {
		t.Fatalf("DeleteChunksForPath: %v", err)
	}
	if len(ids) != 3 {
		t.Errorf("deleted %d ids, want 3", len(ids))
	}

	all, err := s.AllChunks()
	if err != nil {
		t.Fatalf("AllChunks: %v", err)
	}
	if len(all) != 1 || all[0].Path != "b.go" {
		t.Errorf("AllChunks after delete = %+v, want only b.go", all)
	}
}

func TestFileMtimeRoundTrip(t *testing.T) {
	s := openTest(t)

	mtime := time.Unix(1700000123, 0)
	if err := s.SetFileMtime("x.go", mtime); err != nil {
		t.Fatalf("SetFileMtime: %v", err)
	}
	got, ok, err := s.FileMtime("x.go")
	if err != nil || !ok {
		t.Fatalf("FileMtime: got=%v ok=%v err=%v", got, ok, err)
	}
	if !got.Equal(mtime) {
		t.Errorf("FileMtime = %v, want %v", got, mtime)
	}

	updated := mtime.Add(time.Hour)
	if err := s.SetFileMtime("x.go", updated); err != nil {
		t.Fatalf("SetFileMtime (update): %v", err)
	}
	got, _, _ = s.FileMtime("x.go")
	if !got.Equal(updated) {
		t.Errorf("FileMtime after update = %v, want %v", got, updated)
	}
}

func TestBuildLifecycle(t *testing.T) {
	s := openTest(t)

	id, err := s.NewBuildID(0)
	if err != nil {
		t.Fatalf("NewBuildID: %v", err)
	}
	if id == "" {
		t.Fatal("NewBuildID returned empty id")
	}

	s.InsertChunk(Chunk{ID: 1, Path: "a.go", Text: "x", Mtime: time.Now(), BuildID: id})
	s.InsertChunk(Chunk{ID: 2, Path: "b.go", Text: "y", Mtime: time.Now(), BuildID: "other-build"})

	touched, err := s.BuildsTouching(id)
	if err != nil {
		t.Fatalf("BuildsTouching: %v", err)
	}
	if len(touched) != 1 || touched[0].Path != "a.go" {
		t.Errorf("BuildsTouching(%s) = %+v, want only a.go", id, touched)
	}

	latest, ok, err := s.LatestBuild()
	if err != nil || !ok {
		t.Fatalf("LatestBuild: ok=%v err=%v", ok, err)
	}
	if latest.ID != id {
		t.Errorf("LatestBuild.ID = %s, want %s", latest.ID, id)
	}
}

func TestQueryLog(t *testing.T) {
	s := openTest(t)

	for _, q := range []string{"first", "second", "third"} {
		if err := s.LogQuery(q, 5); err != nil {
			t.Fatalf("LogQuery(%s): %v", q, err)
		}
	}

	recent, err := s.RecentQueries(2)
	if err != nil {
		t.Fatalf("RecentQueries: %v", err)
	}
	if len(recent) != 2 || recent[0] != "third" || recent[1] != "second" {
		t.Errorf("RecentQueries(2) = %v, want [third second]", recent)
	}
}

func TestClearAllPreservesQueryLog(t *testing.T) {
	s := openTest(t)

	s.InsertChunk(Chunk{ID: 1, Path: "a.go", Text: "x", Mtime: time.Now(), BuildID: "b1"})
	s.SetFileMtime("a.go", time.Now())
	s.NewBuildID(0)
	s.LogQuery("q", 5)

	if err := s.ClearAll(); err != nil {
		t.Fatalf("ClearAll: %v", err)
	}

	all, _ := s.AllChunks()
	if len(all) != 0 {
		t.Errorf("AllChunks after ClearAll = %v, want empty", all)
	}
	if _, ok, _ := s.FileMtime("a.go"); ok {
		t.Error("FileMtime after ClearAll should be absent")
	}
	recent, err := s.RecentQueries(10)
	if err != nil {
		t.Fatalf("RecentQueries: %v", err)
	}
	if len(recent) != 1 {
		t.Errorf("query log should survive ClearAll: got %d entries", len(recent))
	}
}
