package main

import (
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/sirupsen/logrus"
)

func newTestServer() *server {
	return newServer(logrus.NewEntry(logrus.New()))
}

func callMethod(t *testing.T, s *server, method string, params any) (json.RawMessage, *rpcError) {
	t.Helper()
	data, err := json.Marshal(params)
	if err != nil {
		t.Fatalf("marshal params: %v", err)
	}
	h, ok := s.methods[method]
	if !ok {
		t.Fatalf("no such method %q", method)
	}
	result, rpcErr := h(data)
	if rpcErr != nil {
		return nil, rpcErr
	}
	out, err := json.Marshal(result)
	if err != nil {
		t.Fatalf("marshal result: %v", err)
	}
	return out, nil
}

func TestFSWriteThenReadRoundTrip(t *testing.T) {
	s := newTestServer()
	dir := t.TempDir()
	path := filepath.Join(dir, "greeting.txt")
	payload := []byte("hello, agent")

	_, rpcErr := callMethod(t, s, "fs/writeFile", writeFileParams{
		Path:       path,
		Base64Data: base64.StdEncoding.EncodeToString(payload),
	})
	if rpcErr != nil {
		t.Fatalf("writeFile failed: %+v", rpcErr)
	}

	raw, rpcErr := callMethod(t, s, "fs/readFile", readFileParams{Path: path})
	if rpcErr != nil {
		t.Fatalf("readFile failed: %+v", rpcErr)
	}
	var res readFileResult
	if err := json.Unmarshal(raw, &res); err != nil {
		t.Fatalf("unmarshal readFileResult: %v", err)
	}
	data, err := base64.StdEncoding.DecodeString(res.Base64Data)
	if err != nil {
		t.Fatalf("decode base64: %v", err)
	}
	if string(data) != string(payload) {
		t.Fatalf("expected payload %q, got %q", payload, data)
	}
	sum := sha256.Sum256(payload)
	if res.Hash != hex.EncodeToString(sum[:]) {
		t.Fatalf("hash mismatch: got %s", res.Hash)
	}
}

func TestFSWriteRejectsStaleExpectHash(t *testing.T) {
	s := newTestServer()
	dir := t.TempDir()
	path := filepath.Join(dir, "doc.txt")

	if err := os.WriteFile(path, []byte("version one"), 0o644); err != nil {
		t.Fatalf("seed file: %v", err)
	}

	_, rpcErr := callMethod(t, s, "fs/writeFile", writeFileParams{
		Path:       path,
		Base64Data: base64.StdEncoding.EncodeToString([]byte("version two")),
		ExpectHash: "0000000000000000000000000000000000000000000000000000000000000000",
	})
	if rpcErr == nil {
		t.Fatal("expected hash mismatch error")
	}
	if rpcErr.Code != -4 {
		t.Fatalf("expected hash-mismatch code -4, got %d", rpcErr.Code)
	}

	got, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read back file: %v", err)
	}
	if string(got) != "version one" {
		t.Fatalf("expected file left untouched, got %q", got)
	}
}

func TestFSWriteAcceptsMatchingExpectHash(t *testing.T) {
	s := newTestServer()
	dir := t.TempDir()
	path := filepath.Join(dir, "doc.txt")
	original := []byte("version one")
	if err := os.WriteFile(path, original, 0o644); err != nil {
		t.Fatalf("seed file: %v", err)
	}
	sum := sha256.Sum256(original)

	_, rpcErr := callMethod(t, s, "fs/writeFile", writeFileParams{
		Path:       path,
		Base64Data: base64.StdEncoding.EncodeToString([]byte("version two")),
		ExpectHash: hex.EncodeToString(sum[:]),
	})
	if rpcErr != nil {
		t.Fatalf("expected matching hash to be accepted, got %+v", rpcErr)
	}
	got, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read back file: %v", err)
	}
	if string(got) != "version two" {
		t.Fatalf("expected file updated, got %q", got)
	}
}

func TestFSStatNotFound(t *testing.T) {
	s := newTestServer()
	_, rpcErr := callMethod(t, s, "fs/stat", statParams{Path: filepath.Join(t.TempDir(), "missing")})
	if rpcErr == nil || rpcErr.Code != -2 {
		t.Fatalf("expected not-found error, got %+v", rpcErr)
	}
}

func TestFSListDir(t *testing.T) {
	s := newTestServer()
	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, "a.txt"), []byte("x"), 0o644); err != nil {
		t.Fatalf("seed file: %v", err)
	}
	if err := os.Mkdir(filepath.Join(dir, "sub"), 0o755); err != nil {
		t.Fatalf("seed dir: %v", err)
	}

	raw, rpcErr := callMethod(t, s, "fs/listDir", listDirParams{Path: dir})
	if rpcErr != nil {
		t.Fatalf("listDir failed: %+v", rpcErr)
	}
	var entries []dirEntry
	if err := json.Unmarshal(raw, &entries); err != nil {
		t.Fatalf("unmarshal entries: %v", err)
	}
	if len(entries) != 2 {
		t.Fatalf("expected 2 entries, got %d", len(entries))
	}
}
