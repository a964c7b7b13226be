package sftpsvc

import (
	"context"
	"errors"
	"io"
	"strings"
	"testing"
	"time"
)

var errPermissionDeniedForTest = errors.New("permission denied")

func TestClampConcurrencyBounds(t *testing.T) {
	cases := map[int]int{-1: 1, 0: 1, 1: 1, 5: 5, 10: 10, 50: 10}
	for in, want := range cases {
		if got := clampConcurrency(in); got != want {
			t.Fatalf("clampConcurrency(%d) = %d, want %d", in, got, want)
		}
	}
}

type nopWriteCloser struct{ *strings.Builder }

func (nopWriteCloser) Close() error { return nil }

func TestManagerEnqueueCompletesTransfer(t *testing.T) {
	m := NewTransferManager(2, 0, nil)
	var out strings.Builder
	payload := "the quick brown fox"

	tr := m.Enqueue(DirectionUpload, "/local/a", "/remote/a", int64(len(payload)),
		func(ctx context.Context) (io.Reader, io.WriteCloser, error) {
			return strings.NewReader(payload), nopWriteCloser{&out}, nil
		})

	deadline := time.Now().Add(2 * time.Second)
	for tr.Status() != TransferDone && tr.Status() != TransferFailed {
		if time.Now().After(deadline) {
			t.Fatalf("transfer did not complete in time, status=%s", tr.Status())
		}
		time.Sleep(5 * time.Millisecond)
	}
	if tr.Status() != TransferDone {
		t.Fatalf("expected TransferDone, got %s", tr.Status())
	}
	if out.String() != payload {
		t.Fatalf("expected written payload %q, got %q", payload, out.String())
	}
	done, total := tr.Progress()
	if done != int64(len(payload)) || total != int64(len(payload)) {
		t.Fatalf("expected progress %d/%d, got %d/%d", len(payload), len(payload), done, total)
	}
}

func TestManagerEnqueueFailsOnNonRetryableError(t *testing.T) {
	m := NewTransferManager(1, 0, nil)
	tr := m.Enqueue(DirectionDownload, "/local/b", "/remote/b", 10,
		func(ctx context.Context) (io.Reader, io.WriteCloser, error) {
			return nil, nil, errPermissionDeniedForTest
		})

	deadline := time.Now().Add(2 * time.Second)
	for tr.Status() != TransferFailed && tr.Status() != TransferDone {
		if time.Now().After(deadline) {
			t.Fatalf("transfer did not reach a terminal state, status=%s", tr.Status())
		}
		time.Sleep(5 * time.Millisecond)
	}
	if tr.Status() != TransferFailed {
		t.Fatalf("expected TransferFailed for a non-retryable open error, got %s", tr.Status())
	}
}

func TestManagerGetAndList(t *testing.T) {
	m := NewTransferManager(1, 0, nil)
	tr := m.Enqueue(DirectionUpload, "/a", "/b", 0,
		func(ctx context.Context) (io.Reader, io.WriteCloser, error) {
			return strings.NewReader(""), nopWriteCloser{&strings.Builder{}}, nil
		})
	if m.Get(tr.ID) != tr {
		t.Fatal("Get did not return the enqueued transfer")
	}
	if len(m.List()) != 1 {
		t.Fatalf("expected one transfer listed, got %d", len(m.List()))
	}
}
